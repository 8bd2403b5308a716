package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Env  string

	PostgresConnStr string

	RedisAddr    string
	RedisChannel string

	KafkaBrokers            []string
	KafkaTopicNotifications string
	KafkaTopicPosts         string
	KafkaTopicComments      string
	KafkaTopicReactions     string
	KafkaConsumerGroup      string
	KafkaStartMaxRetries    int

	ContentServiceURL string
	LookupTimeout     time.Duration

	JWTSecret string

	FirebaseCredentialsPath string
}

func Load() *Config {
	// Load environment variables from .env file before any of them are read.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, assuming environment variables are set.")
	}

	return &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		PostgresConnStr:         getEnv("POSTGRES_CONN_STR", ""),
		RedisAddr:               getEnv("REDIS_ADDR", "redis:6379"),
		RedisChannel:            getEnv("REDIS_CHANNEL", "notifications"),
		KafkaBrokers:            strings.Split(getEnv("KAFKA_BROKERS", "kafka:9092"), ","),
		KafkaTopicNotifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "user.notifications"),
		KafkaTopicPosts:         getEnv("KAFKA_TOPIC_POSTS", "social.posts"),
		KafkaTopicComments:      getEnv("KAFKA_TOPIC_COMMENTS", "social.comments"),
		KafkaTopicReactions:     getEnv("KAFKA_TOPIC_REACTIONS", "social.reactions"),
		KafkaConsumerGroup:      getEnv("KAFKA_CONSUMER_GROUP", "notification-service-group"),
		KafkaStartMaxRetries:    getEnvInt("KAFKA_START_MAX_RETRIES", 5),
		ContentServiceURL:       getEnv("CONTENT_SERVICE_URL", "http://user-service:8000/api/v1"),
		LookupTimeout:           getEnvDuration("LOOKUP_TIMEOUT", 10*time.Second),
		JWTSecret:               getEnv("JWT_SECRET", "supersecretjwtkey"),
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("Invalid integer for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Printf("Invalid duration for %s, using default %s", key, defaultValue)
	}
	return defaultValue
}

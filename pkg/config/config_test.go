package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port: got %q", cfg.Port)
	}
	if cfg.RedisChannel != "notifications" {
		t.Errorf("RedisChannel: got %q", cfg.RedisChannel)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "kafka:9092" {
		t.Errorf("KafkaBrokers: got %v", cfg.KafkaBrokers)
	}
	if cfg.KafkaTopicNotifications != "user.notifications" {
		t.Errorf("KafkaTopicNotifications: got %q", cfg.KafkaTopicNotifications)
	}
	if cfg.KafkaStartMaxRetries != 5 {
		t.Errorf("KafkaStartMaxRetries: got %d", cfg.KafkaStartMaxRetries)
	}
	if cfg.LookupTimeout != 10*time.Second {
		t.Errorf("LookupTimeout: got %s", cfg.LookupTimeout)
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if value, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { os.Setenv(key, value) })
		os.Unsetenv(key)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	env := "POSTGRES_CONN_STR=postgres://env-file-user@db/notifications\n" +
		"KAFKA_START_MAX_RETRIES=-1\n" +
		"LOOKUP_TIMEOUT=2s\n"
	if err := os.WriteFile(dir+"/.env", []byte(env), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Chdir(dir)
	// godotenv never overrides variables already present in the environment,
	// so they must be absent for the .env values to win.
	unsetEnv(t, "POSTGRES_CONN_STR")
	unsetEnv(t, "KAFKA_START_MAX_RETRIES")
	unsetEnv(t, "LOOKUP_TIMEOUT")

	// Everything set in .env must be visible on the returned config; the file
	// has to be loaded before the first env read, not somewhere downstream.
	cfg := Load()

	if cfg.PostgresConnStr != "postgres://env-file-user@db/notifications" {
		t.Fatalf("PostgresConnStr should come from .env, got %q", cfg.PostgresConnStr)
	}
	if cfg.KafkaStartMaxRetries != -1 {
		t.Errorf("KafkaStartMaxRetries from .env: got %d", cfg.KafkaStartMaxRetries)
	}
	if cfg.LookupTimeout != 2*time.Second {
		t.Errorf("LookupTimeout from .env: got %s", cfg.LookupTimeout)
	}
}

func TestLoadInvalidNumericEnvFallsBack(t *testing.T) {
	t.Setenv("KAFKA_START_MAX_RETRIES", "lots")
	t.Setenv("LOOKUP_TIMEOUT", "soon")

	cfg := Load()

	if cfg.KafkaStartMaxRetries != 5 {
		t.Errorf("unparseable retries should fall back to 5, got %d", cfg.KafkaStartMaxRetries)
	}
	if cfg.LookupTimeout != 10*time.Second {
		t.Errorf("unparseable timeout should fall back to 10s, got %s", cfg.LookupTimeout)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092,broker-2:9092")
	t.Setenv("REDIS_CHANNEL", "notif-relay")

	cfg := Load()

	if cfg.Port != "9000" {
		t.Errorf("Port: got %q", cfg.Port)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker-2:9092" {
		t.Errorf("brokers should split on commas, got %v", cfg.KafkaBrokers)
	}
	if cfg.RedisChannel != "notif-relay" {
		t.Errorf("RedisChannel: got %q", cfg.RedisChannel)
	}
}

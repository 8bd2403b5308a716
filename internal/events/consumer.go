package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// State is the consumer lifecycle state.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateReconnecting State = "reconnecting"
)

const (
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 60 * time.Second
)

// HandlerFunc handles one decoded message from a topic.
type HandlerFunc func(ctx context.Context, value []byte) error

// Message is one record pulled off the bus.
type Message struct {
	Topic string
	Value []byte
}

// MessageReader is the consumer's view of the bus subscription. Backed by a
// kafka-go Reader in production and by fakes in tests.
type MessageReader interface {
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}

// Config holds the bus settings for a consumer.
type Config struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// Consumer subscribes to a fixed set of topics, each bound to exactly one
// handler, and recovers from transport loss with capped exponential backoff.
//
// Messages are handled sequentially, so per-topic arrival order is preserved.
// The consumer group commits offsets on read (auto-commit), which makes
// ingestion at-most-once with respect to handler failures: a message whose
// handler errors is logged and not redelivered.
type Consumer struct {
	handlers map[string]HandlerFunc
	connect  func(ctx context.Context) (MessageReader, error)
	sleep    func(ctx context.Context, d time.Duration) bool

	mu       sync.Mutex
	state    State
	reader   MessageReader
	stopping bool
	delay    time.Duration
}

// NewConsumer builds a consumer for the given bus config and topic→handler
// map. Topics with no handler entry are never subscribed.
func NewConsumer(cfg Config, handlers map[string]HandlerFunc) *Consumer {
	return &Consumer{
		handlers: handlers,
		connect: func(ctx context.Context) (MessageReader, error) {
			return dialReader(ctx, cfg)
		},
		sleep: sleepCtx,
		state: StateStopped,
		delay: baseReconnectDelay,
	}
}

// dialReader probes the first broker so connect failures surface immediately
// (kafka-go otherwise defers dialing until the first read), then builds the
// group reader over all topics.
func dialReader(ctx context.Context, cfg Config) (MessageReader, error) {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return nil, err
	}
	conn.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		StartOffset: kafka.LastOffset,
	})
	return &kafkaReader{reader: reader}, nil
}

// kafkaReader adapts *kafka.Reader to MessageReader.
type kafkaReader struct {
	reader *kafka.Reader
}

func (r *kafkaReader) ReadMessage(ctx context.Context) (Message, error) {
	m, err := r.reader.ReadMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: m.Topic, Value: m.Value}, nil
}

func (r *kafkaReader) Close() error {
	return r.reader.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Start establishes the subscription, retrying transport-connect failures
// with exponential backoff (base 5s doubling to a 60s cap). A negative
// maxRetries retries indefinitely. Exhausting the retries logs and leaves the
// consumer stopped so the host process keeps running without ingestion.
// On success the consume loop runs until Stop or ctx cancellation.
func (c *Consumer) Start(ctx context.Context, maxRetries int) {
	retries := 0
	for {
		if c.isStopping() || ctx.Err() != nil {
			c.setState(StateStopped)
			return
		}
		c.setState(StateStarting)

		reader, err := c.connect(ctx)
		if err == nil {
			c.mu.Lock()
			c.reader = reader
			c.state = StateRunning
			c.delay = baseReconnectDelay
			c.mu.Unlock()
			log.Println("Event consumer started")
			c.consumeLoop(ctx)
			return
		}

		retries++
		if maxRetries >= 0 && retries > maxRetries {
			log.Printf("Could not connect to the event bus after %d retries: %v", maxRetries, err)
			c.setState(StateStopped)
			return
		}

		delay := c.nextDelay()
		log.Printf("Event bus connect failed (attempt %d): %v; retrying in %s", retries, err, delay)
		if !c.sleep(ctx, delay) {
			c.setState(StateStopped)
			return
		}
	}
}

// consumeLoop pulls messages and dispatches them until stopped. A read error
// while running means the transport connection was lost: tear down, back off,
// and reconnect with unlimited retries.
func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		reader := c.reader
		c.mu.Unlock()
		if reader == nil || c.isStopping() || ctx.Err() != nil {
			c.setState(StateStopped)
			return
		}

		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if c.isStopping() || ctx.Err() != nil {
				c.setState(StateStopped)
				return
			}
			log.Printf("Event bus connection lost: %v", err)
			c.teardownReader()
			c.setState(StateReconnecting)
			if !c.reconnect(ctx) {
				c.setState(StateStopped)
				return
			}
			continue
		}

		c.dispatch(ctx, msg)
	}
}

// reconnect retries the connection forever with the current backoff schedule.
// Returns false only when stopped or the context ends.
func (c *Consumer) reconnect(ctx context.Context) bool {
	for {
		delay := c.nextDelay()
		log.Printf("Reconnecting to the event bus in %s", delay)
		if !c.sleep(ctx, delay) || c.isStopping() {
			return false
		}

		reader, err := c.connect(ctx)
		if err != nil {
			log.Printf("Event bus reconnect failed: %v", err)
			continue
		}

		c.mu.Lock()
		c.reader = reader
		c.state = StateRunning
		c.delay = baseReconnectDelay
		c.mu.Unlock()
		log.Println("Event consumer reconnected")
		return true
	}
}

// dispatch routes one message to its topic handler. A message for an unbound
// topic is dropped with a log; a handler failure or panic is contained so one
// poisoned message cannot halt ingestion.
func (c *Consumer) dispatch(ctx context.Context, msg Message) {
	handler, ok := c.handlers[msg.Topic]
	if !ok {
		log.Printf("No handler bound for topic %q, dropping message", msg.Topic)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Handler for topic %q panicked: %v", msg.Topic, r)
		}
	}()

	if err := handler(ctx, msg.Value); err != nil {
		log.Printf("Handler for topic %q failed: %v", msg.Topic, err)
	}
}

// Stop tears down the subscription. In-flight handling finishes; no new
// messages are pulled.
func (c *Consumer) Stop() {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	c.teardownReader()
	c.setState(StateStopped)
	log.Println("Event consumer stopped")
}

// Running reports whether the consume loop is live, for the health endpoint.
func (c *Consumer) Running() bool {
	return c.State() == StateRunning
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Consumer) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// nextDelay returns the current backoff delay and doubles it up to the cap.
func (c *Consumer) nextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	delay := c.delay
	c.delay *= 2
	if c.delay > maxReconnectDelay {
		c.delay = maxReconnectDelay
	}
	return delay
}

func (c *Consumer) teardownReader() {
	c.mu.Lock()
	reader := c.reader
	c.reader = nil
	c.mu.Unlock()
	if reader != nil {
		if err := reader.Close(); err != nil {
			log.Printf("Failed to close bus reader: %v", err)
		}
	}
}

package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/soclab/notification-service/internal/realtime"
)

// Envelope is the wire format on the relay channel. For type "notification"
// the data must carry a "user_id" field so the receiving instance can route it.
type Envelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

const (
	EnvelopeNotification = "notification"
	EnvelopeBroadcast    = "broadcast"
)

// LocalDeliverer is the local fan-out side the relay hands received envelopes
// to. Satisfied by *realtime.Registry.
type LocalDeliverer interface {
	SendToUser(userID uint, msg realtime.Message) bool
	Broadcast(msg realtime.Message)
}

// Relay bridges notification delivery across service instances over Redis
// pub/sub. Relay unavailability is never fatal: Publish reports false and the
// caller relies on the persisted row for later polling.
type Relay struct {
	addr  string
	local LocalDeliverer

	mu     sync.Mutex
	client *redis.Client
}

func New(addr string, local LocalDeliverer) *Relay {
	return &Relay{addr: addr, local: local}
}

// connect lazily builds the Redis client. Serialized so concurrent publishers
// do not race to construct it; the client's own pool handles reconnects
// opportunistically on next use.
func (r *Relay) connect() *redis.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		r.client = redis.NewClient(&redis.Options{Addr: r.addr})
		log.Printf("Relay client created for %s", r.addr)
	}
	return r.client
}

// Publish serializes the envelope and publishes it on the channel. Returns
// false when the transport is unavailable; the caller treats that as a
// degraded fan-out, not an error.
func (r *Relay) Publish(ctx context.Context, channel string, env Envelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("Failed to serialize relay envelope: %v", err)
		return false
	}

	if err := r.connect().Publish(ctx, channel, payload).Err(); err != nil {
		log.Printf("Relay publish failed: %v", err)
		return false
	}
	return true
}

// Subscribe starts a background listen loop on the channel, routing received
// envelopes to the local deliverer. The loop exits when ctx is cancelled or
// Close is called; go-redis re-subscribes internally across connection drops.
func (r *Relay) Subscribe(ctx context.Context, channel string) {
	pubsub := r.connect().Subscribe(ctx, channel)
	log.Printf("Subscribed to relay channel %q", channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				log.Println("Relay subscription stopped")
				return
			case msg, ok := <-ch:
				if !ok {
					log.Println("Relay subscription channel closed")
					return
				}
				r.route([]byte(msg.Payload))
			}
		}
	}()
}

// route decodes one received envelope and dispatches it locally. Malformed
// envelopes are dropped with a log, never propagated.
func (r *Relay) route(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("Dropping malformed relay message: %v", err)
		return
	}
	if env.Data == nil {
		log.Printf("Dropping relay message with no data (type %q)", env.Type)
		return
	}

	switch env.Type {
	case EnvelopeNotification:
		userID, ok := userIDFromData(env.Data)
		if !ok {
			log.Println("Dropping relay notification without user_id")
			return
		}
		r.local.SendToUser(userID, realtime.Message{Type: "notification", Data: env.Data})
	case EnvelopeBroadcast:
		r.local.Broadcast(realtime.Message{Type: "broadcast", Data: env.Data})
	default:
		log.Printf("Dropping relay message with unknown type %q", env.Type)
	}
}

// userIDFromData extracts the routing user id from a decoded JSON object.
func userIDFromData(data map[string]any) (uint, bool) {
	switch v := data["user_id"].(type) {
	case float64:
		if v <= 0 {
			return 0, false
		}
		return uint(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil || n <= 0 {
			return 0, false
		}
		return uint(n), true
	default:
		return 0, false
	}
}

// Close releases the Redis client.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

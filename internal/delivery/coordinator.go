package delivery

import (
	"context"
	"log"
	"time"

	"github.com/soclab/notification-service/internal/models"
	"github.com/soclab/notification-service/internal/realtime"
	"github.com/soclab/notification-service/internal/relay"
)

// LocalSender is the local connection fan-out, satisfied by *realtime.Registry.
type LocalSender interface {
	SendToUser(userID uint, msg realtime.Message) bool
}

// Publisher is the cross-instance relay, satisfied by *relay.Relay.
type Publisher interface {
	Publish(ctx context.Context, channel string, env relay.Envelope) bool
}

// PushSender delivers a mobile push as a best-effort side channel.
type PushSender interface {
	SendToUser(ctx context.Context, userID uint, title, body string) error
}

// Coordinator is the single chokepoint deciding where a freshly persisted
// notification goes: local connections first, the relay when the recipient is
// not connected to this instance. Deliver never fails its caller; it runs
// only after the store commit succeeded, so an offline client still finds the
// row via the read API.
type Coordinator struct {
	registry LocalSender
	relay    Publisher
	channel  string
	push     PushSender // optional
}

func NewCoordinator(registry LocalSender, rel Publisher, channel string, push PushSender) *Coordinator {
	return &Coordinator{
		registry: registry,
		relay:    rel,
		channel:  channel,
		push:     push,
	}
}

// Deliver attempts local delivery and falls back to the relay.
func (c *Coordinator) Deliver(ctx context.Context, notification *models.Notification) {
	msg := realtime.Message{Type: "notification", Data: notificationData(notification)}

	if c.registry.SendToUser(notification.RecipientID, msg) {
		return
	}

	// Not connected here; hand the envelope to whichever instance holds the
	// user, and nudge their devices. The recipient id rides inside the data
	// so the subscriber can route it.
	if !c.relay.Publish(ctx, c.channel, relay.Envelope{Type: relay.EnvelopeNotification, Data: msg.Data}) {
		log.Printf("Relay unavailable; notification %d for user %d will surface on next poll",
			notification.ID, notification.RecipientID)
	}

	if c.push != nil {
		bestEffort("push notification", func() error {
			return c.push.SendToUser(ctx, notification.RecipientID, notification.Title, notification.Body)
		})
	}
}

// bestEffort runs a non-critical side effect whose failure is logged and
// swallowed, so the main delivery path's outcome never depends on it.
func bestEffort(op string, fn func() error) {
	if err := fn(); err != nil {
		log.Printf("Best-effort %s failed: %v", op, err)
	}
}

// notificationData flattens a notification into the wire payload shared by
// the socket push and the relay envelope.
func notificationData(n *models.Notification) map[string]any {
	data := map[string]any{
		"id":         n.ID,
		"user_id":    n.RecipientID,
		"type":       string(n.Type),
		"title":      n.Title,
		"is_read":    n.IsRead,
		"created_at": n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if n.Body != "" {
		data["body"] = n.Body
	}
	if n.SenderID != nil {
		data["sender_id"] = *n.SenderID
	}
	if n.SenderName != "" {
		data["sender_name"] = n.SenderName
	}
	if n.SenderAvatar != "" {
		data["sender_avatar"] = n.SenderAvatar
	}
	if n.ResourceType != "" {
		data["resource_type"] = n.ResourceType
	}
	if n.ResourceID != nil {
		data["resource_id"] = *n.ResourceID
	}
	if n.Metadata != nil {
		data["metadata"] = map[string]any(n.Metadata)
	}
	return data
}

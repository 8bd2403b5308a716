package delivery

import (
	"context"
	"fmt"
	"log"

	"firebase.google.com/go/v4/messaging"
	"github.com/soclab/notification-service/internal/repositories"
)

// fcmClient is the slice of the Firebase messaging API the push sender uses.
type fcmClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMPush sends mobile pushes to a user's registered devices. It is wired in
// as a best-effort side channel; callers must not treat its errors as fatal.
type FCMPush struct {
	client fcmClient
	tokens repositories.DeviceTokenRepository
}

func NewFCMPush(client *messaging.Client, tokens repositories.DeviceTokenRepository) *FCMPush {
	return &FCMPush{client: client, tokens: tokens}
}

// SendToUser pushes to every device token the user has registered. Tokens FCM
// reports as dead are pruned so they are not retried forever.
func (p *FCMPush) SendToUser(ctx context.Context, userID uint, title, body string) error {
	tokens, err := p.tokens.GetTokensByUserID(userID)
	if err != nil {
		return fmt.Errorf("failed to load device tokens for user %d: %w", userID, err)
	}
	if len(tokens) == 0 {
		return nil
	}

	var failures int
	for _, token := range tokens {
		_, err := p.client.Send(ctx, &messaging.Message{
			Token: token,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
		})
		if err == nil {
			continue
		}
		if messaging.IsUnregistered(err) {
			log.Printf("Pruning dead device token for user %d", userID)
			if pruneErr := p.tokens.PruneToken(token); pruneErr != nil {
				log.Printf("Failed to prune device token: %v", pruneErr)
			}
			continue
		}
		failures++
		log.Printf("FCM send to user %d failed: %v", userID, err)
	}

	if failures == len(tokens) && failures > 0 {
		return fmt.Errorf("all %d pushes to user %d failed", failures, userID)
	}
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"

	"github.com/soclab/notification-service/internal/models"
	"github.com/soclab/notification-service/internal/repositories"
	"github.com/soclab/notification-service/pkg/httpclient"
)

// maxQuotedLength bounds quoted content embedded in a notification body.
const maxQuotedLength = 100

// Deliverer pushes a persisted notification to the recipient. Satisfied by
// *delivery.Coordinator.
type Deliverer interface {
	Deliver(ctx context.Context, notification *models.Notification)
}

// Handlers transforms bus events into notification records. Every created
// notification is persisted first and then handed to the deliverer; a
// delivery failure never rolls the record back.
type Handlers struct {
	store     repositories.NotificationRepository
	deliverer Deliverer
	content   *httpclient.Client
}

func NewHandlers(store repositories.NotificationRepository, deliverer Deliverer, content *httpclient.Client) *Handlers {
	return &Handlers{
		store:     store,
		deliverer: deliverer,
		content:   content,
	}
}

// Map binds each subscribed topic to its handler.
func (h *Handlers) Map(notificationsTopic, postsTopic, commentsTopic, reactionsTopic string) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		notificationsTopic: h.HandleNotification,
		postsTopic:         h.HandlePostEvent,
		commentsTopic:      h.HandleCommentEvent,
		reactionsTopic:     h.HandleReactionEvent,
	}
}

// userInfo is the denormalized author snapshot event producers attach.
type userInfo struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// notificationEvent is a message on the notifications topic: either a fully
// formed notification or a bare follow event, which is expanded here.
type notificationEvent struct {
	UserID       *uint          `json:"user_id"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	SenderID     *uint          `json:"sender_id"`
	SenderName   string         `json:"sender_name"`
	SenderAvatar string         `json:"sender_avatar"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *uint          `json:"resource_id"`
	Metadata     map[string]any `json:"data"`
	FollowerID   *uint          `json:"follower_id"`
	FolloweeID   *uint          `json:"followee_id"`
}

// HandleNotification persists a message from the notifications topic and
// delivers it.
func (h *Handlers) HandleNotification(ctx context.Context, value []byte) error {
	var event notificationEvent
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("Dropping malformed notification event: %v", err)
		return nil
	}

	// Bare follow events carry only follower/followee ids.
	if event.Type == "follow" && event.UserID == nil {
		if event.FollowerID == nil || event.FolloweeID == nil {
			log.Println("Dropping follow event without follower/followee ids")
			return nil
		}
		event.UserID = event.FolloweeID
		event.SenderID = event.FollowerID
		event.Title = "You have a new follower"
		event.Body = fmt.Sprintf("User %d started following you", *event.FollowerID)
		event.ResourceType = "user"
		event.ResourceID = event.FollowerID
	}

	if event.UserID == nil {
		log.Println("Dropping notification event without user_id")
		return nil
	}

	notificationType := normalizeType(event.Type)
	if !notificationType.IsValid() {
		log.Printf("Dropping notification event with unknown type %q", event.Type)
		return nil
	}

	notification := &models.Notification{
		RecipientID:  *event.UserID,
		Type:         notificationType,
		Title:        event.Title,
		Body:         event.Body,
		SenderID:     event.SenderID,
		SenderName:   event.SenderName,
		SenderAvatar: event.SenderAvatar,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Metadata:     event.Metadata,
	}

	if err := h.store.CreateNotification(notification); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	h.deliverer.Deliver(ctx, notification)
	return nil
}

// postEvent is a message on the posts topic.
type postEvent struct {
	EventType string `json:"event_type"`
	Post      struct {
		ID      *uint    `json:"id"`
		UserID  *uint    `json:"user_id"`
		Content string   `json:"content"`
		User    userInfo `json:"user"`
	} `json:"post"`
}

// HandlePostEvent creates MENTION notifications for users mentioned in a new
// post. Best-effort: a failure on one mention does not block the others.
func (h *Handlers) HandlePostEvent(ctx context.Context, value []byte) error {
	var event postEvent
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("Dropping malformed post event: %v", err)
		return nil
	}
	if event.EventType != "created" {
		return nil
	}
	if event.Post.UserID == nil || event.Post.ID == nil {
		log.Println("Dropping post event without post id or author id")
		return nil
	}

	authorID := *event.Post.UserID
	senderName := orSomeone(event.Post.User.Username)

	for _, mentionedID := range ExtractMentions(event.Post.Content) {
		if mentionedID == authorID {
			continue
		}
		notification := &models.Notification{
			RecipientID:  mentionedID,
			Type:         models.NotificationMention,
			Title:        "You were mentioned in a post",
			Body:         fmt.Sprintf("%s mentioned you in a post", senderName),
			SenderID:     &authorID,
			SenderName:   event.Post.User.Username,
			SenderAvatar: event.Post.User.AvatarURL,
			ResourceType: "post",
			ResourceID:   event.Post.ID,
		}
		if err := h.store.CreateNotification(notification); err != nil {
			log.Printf("Failed to create mention notification for user %d: %v", mentionedID, err)
			continue
		}
		h.deliverer.Deliver(ctx, notification)
	}
	return nil
}

// commentEvent is a message on the comments topic.
type commentEvent struct {
	EventType string `json:"event_type"`
	Comment   struct {
		ID       *uint    `json:"id"`
		UserID   *uint    `json:"user_id"`
		PostID   *uint    `json:"post_id"`
		ParentID *uint    `json:"parent_id"`
		Content  string   `json:"content"`
		User     userInfo `json:"user"`
	} `json:"comment"`
}

// contentAuthor is the slice of the content service's post/comment payloads
// the handlers need.
type contentAuthor struct {
	UserID *uint `json:"user_id"`
	PostID *uint `json:"post_id"`
}

// HandleCommentEvent produces up to three notification classes from one
// comment: a reply notification to the parent comment's author, a comment
// notification to the post author, and mention notifications. When the reply
// parent's author is the post author only POST_COMMENT fires, so the same
// person is not notified twice for one comment.
func (h *Handlers) HandleCommentEvent(ctx context.Context, value []byte) error {
	var event commentEvent
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("Dropping malformed comment event: %v", err)
		return nil
	}
	if event.EventType != "created" {
		return nil
	}
	comment := event.Comment
	if comment.UserID == nil || comment.PostID == nil || comment.ID == nil {
		log.Println("Dropping comment event without required ids")
		return nil
	}
	commenterID := *comment.UserID

	// The post author determines the POST_COMMENT recipient; without it no
	// notification from this event can be routed.
	var post contentAuthor
	if err := h.content.GetJSON(ctx, fmt.Sprintf("/posts/%d", *comment.PostID), &post); err != nil {
		log.Printf("Failed to look up post %d, abandoning comment event: %v", *comment.PostID, err)
		return nil
	}
	if post.UserID == nil {
		log.Printf("Post %d lookup returned no author, abandoning comment event", *comment.PostID)
		return nil
	}
	postAuthorID := *post.UserID

	quoted := Truncate(comment.Content, maxQuotedLength)

	// Reply to someone else's comment. Skipped when the parent author is the
	// post author, who gets the POST_COMMENT notification below instead.
	var parentAuthorID *uint
	if comment.ParentID != nil {
		var parent contentAuthor
		if err := h.content.GetJSON(ctx, fmt.Sprintf("/comments/%d", *comment.ParentID), &parent); err != nil {
			log.Printf("Failed to look up parent comment %d, skipping reply notification: %v", *comment.ParentID, err)
		} else if parent.UserID != nil {
			parentAuthorID = parent.UserID
			if *parentAuthorID != commenterID && *parentAuthorID != postAuthorID {
				h.createAndDeliver(ctx, &models.Notification{
					RecipientID:  *parentAuthorID,
					Type:         models.NotificationCommentReply,
					Title:        "Someone replied to your comment",
					Body:         quoted,
					SenderID:     &commenterID,
					SenderName:   comment.User.Username,
					SenderAvatar: comment.User.AvatarURL,
					ResourceType: "comment",
					ResourceID:   comment.ID,
					Metadata: models.JSONMap{
						"post_id":   *comment.PostID,
						"parent_id": *comment.ParentID,
					},
				})
			}
		}
	}

	if postAuthorID != commenterID {
		h.createAndDeliver(ctx, &models.Notification{
			RecipientID:  postAuthorID,
			Type:         models.NotificationPostComment,
			Title:        "Someone commented on your post",
			Body:         quoted,
			SenderID:     &commenterID,
			SenderName:   comment.User.Username,
			SenderAvatar: comment.User.AvatarURL,
			ResourceType: "post",
			ResourceID:   comment.PostID,
			Metadata: models.JSONMap{
				"comment_id": *comment.ID,
			},
		})
	}

	for _, mentionedID := range ExtractMentions(comment.Content) {
		if mentionedID == commenterID || mentionedID == postAuthorID {
			continue
		}
		if parentAuthorID != nil && mentionedID == *parentAuthorID {
			continue
		}
		h.createAndDeliver(ctx, &models.Notification{
			RecipientID:  mentionedID,
			Type:         models.NotificationMention,
			Title:        "You were mentioned in a comment",
			Body:         quoted,
			SenderID:     &commenterID,
			SenderName:   comment.User.Username,
			SenderAvatar: comment.User.AvatarURL,
			ResourceType: "comment",
			ResourceID:   comment.ID,
			Metadata: models.JSONMap{
				"post_id": *comment.PostID,
			},
		})
	}
	return nil
}

// reactionEvent is a message on the reactions topic.
type reactionEvent struct {
	EventType string `json:"event_type"`
	Reaction  struct {
		UserID    *uint    `json:"user_id"`
		PostID    *uint    `json:"post_id"`
		CommentID *uint    `json:"comment_id"`
		Type      string   `json:"type"`
		User      userInfo `json:"user"`
	} `json:"reaction"`
}

// HandleReactionEvent notifies a post or comment author that someone reacted
// to their content. Reacting to one's own content produces nothing.
func (h *Handlers) HandleReactionEvent(ctx context.Context, value []byte) error {
	var event reactionEvent
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("Dropping malformed reaction event: %v", err)
		return nil
	}
	if event.EventType != "created" {
		return nil
	}
	reaction := event.Reaction
	if reaction.UserID == nil || (reaction.PostID == nil && reaction.CommentID == nil) {
		log.Println("Dropping reaction event without required ids")
		return nil
	}
	reactorID := *reaction.UserID
	phrase := ReactionPhrase(reaction.Type)
	senderName := orSomeone(reaction.User.Username)

	if reaction.PostID != nil {
		var post contentAuthor
		if err := h.content.GetJSON(ctx, fmt.Sprintf("/posts/%d", *reaction.PostID), &post); err != nil {
			log.Printf("Failed to look up post %d, abandoning reaction event: %v", *reaction.PostID, err)
			return nil
		}
		if post.UserID == nil || *post.UserID == reactorID {
			return nil
		}
		h.createAndDeliver(ctx, &models.Notification{
			RecipientID:  *post.UserID,
			Type:         models.NotificationPostLike,
			Title:        "Someone liked your post",
			Body:         fmt.Sprintf("%s %s your post", senderName, phrase),
			SenderID:     &reactorID,
			SenderName:   reaction.User.Username,
			SenderAvatar: reaction.User.AvatarURL,
			ResourceType: "post",
			ResourceID:   reaction.PostID,
		})
		return nil
	}

	var comment contentAuthor
	if err := h.content.GetJSON(ctx, fmt.Sprintf("/comments/%d", *reaction.CommentID), &comment); err != nil {
		log.Printf("Failed to look up comment %d, abandoning reaction event: %v", *reaction.CommentID, err)
		return nil
	}
	if comment.UserID == nil || *comment.UserID == reactorID {
		return nil
	}
	metadata := models.JSONMap{}
	if comment.PostID != nil {
		metadata["post_id"] = *comment.PostID
	}
	h.createAndDeliver(ctx, &models.Notification{
		RecipientID:  *comment.UserID,
		Type:         models.NotificationCommentLike,
		Title:        "Someone liked your comment",
		Body:         fmt.Sprintf("%s %s your comment", senderName, phrase),
		SenderID:     &reactorID,
		SenderName:   reaction.User.Username,
		SenderAvatar: reaction.User.AvatarURL,
		ResourceType: "comment",
		ResourceID:   reaction.CommentID,
		Metadata:     metadata,
	})
	return nil
}

// createAndDeliver persists one notification and hands it to the deliverer.
// A persistence failure affects only this notification and is logged.
func (h *Handlers) createAndDeliver(ctx context.Context, notification *models.Notification) {
	if err := h.store.CreateNotification(notification); err != nil {
		log.Printf("Failed to create %s notification for user %d: %v",
			notification.Type, notification.RecipientID, err)
		return
	}
	h.deliverer.Deliver(ctx, notification)
}

// mentionPattern matches mention markers of the form @<id>:<name>.
var mentionPattern = regexp.MustCompile(`@(\d+):[A-Za-z0-9_]+`)

// ExtractMentions returns the distinct user ids mentioned in text, in order
// of first occurrence.
func ExtractMentions(text string) []uint {
	var ids []uint
	seen := make(map[uint]struct{})
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.ParseUint(match[1], 10, 32)
		if err != nil || id == 0 {
			continue
		}
		if _, ok := seen[uint(id)]; ok {
			continue
		}
		seen[uint(id)] = struct{}{}
		ids = append(ids, uint(id))
	}
	return ids
}

// Truncate caps text at maxLen runes, appending an ellipsis when truncated.
func Truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

// reactionPhrases maps reaction sub-types to body text.
var reactionPhrases = map[string]string{
	"like":  "liked",
	"love":  "loved",
	"haha":  "laughed at",
	"wow":   "was wowed by",
	"sad":   "felt sad about",
	"angry": "felt angry about",
}

// ReactionPhrase returns the rendering for a reaction sub-type, falling back
// to a generic "liked" for unknown sub-types.
func ReactionPhrase(reactionType string) string {
	if phrase, ok := reactionPhrases[reactionType]; ok {
		return phrase
	}
	return "liked"
}

// typeAliases maps producer-side lowercase type names to notification types.
var typeAliases = map[string]models.NotificationType{
	"follow":        models.NotificationFollow,
	"post_like":     models.NotificationPostLike,
	"post_comment":  models.NotificationPostComment,
	"comment_like":  models.NotificationCommentLike,
	"comment_reply": models.NotificationCommentReply,
	"mention":       models.NotificationMention,
	"system":        models.NotificationSystem,
}

func normalizeType(raw string) models.NotificationType {
	if t, ok := typeAliases[raw]; ok {
		return t
	}
	return models.NotificationType(raw)
}

func orSomeone(username string) string {
	if username == "" {
		return "Someone"
	}
	return username
}

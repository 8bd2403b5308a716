package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType identifies what kind of event produced a notification.
type NotificationType string

const (
	NotificationFollow       NotificationType = "FOLLOW"
	NotificationPostLike     NotificationType = "POST_LIKE"
	NotificationPostComment  NotificationType = "POST_COMMENT"
	NotificationCommentLike  NotificationType = "COMMENT_LIKE"
	NotificationCommentReply NotificationType = "COMMENT_REPLY"
	NotificationMention      NotificationType = "MENTION"
	NotificationSystem       NotificationType = "SYSTEM"
)

// IsValid reports whether t is one of the known notification types.
func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationFollow, NotificationPostLike, NotificationPostComment,
		NotificationCommentLike, NotificationCommentReply, NotificationMention,
		NotificationSystem:
		return true
	}
	return false
}

// JSONMap stores free-form notification metadata as a JSON column.
type JSONMap map[string]any

// Value implements driver.Valuer for GORM.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for GORM.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type for JSONMap: %T", value)
	}
}

// Notification represents a user notification (PostgreSQL).
// RecipientID and Type are immutable after creation; IsRead is the only
// field mutated by the normal API flow.
type Notification struct {
	ID          uint             `json:"id" gorm:"primaryKey"`
	RecipientID uint             `json:"user_id" gorm:"not null;index"`
	Type        NotificationType `json:"type" gorm:"size:30;not null;index"`
	Title       string           `json:"title" gorm:"not null"`
	Body        string           `json:"body,omitempty" gorm:"type:text"`

	// Sender snapshot, absent for SYSTEM notifications.
	SenderID     *uint  `json:"sender_id,omitempty" gorm:"index"`
	SenderName   string `json:"sender_name,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`

	// The post/comment/user this notification is about.
	ResourceType string `json:"resource_type,omitempty" gorm:"size:20"`
	ResourceID   *uint  `json:"resource_id,omitempty"`

	Metadata JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`

	IsRead    bool      `json:"is_read" gorm:"default:false;index"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

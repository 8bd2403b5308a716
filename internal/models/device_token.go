package models

import "time"

// DeviceToken maps a user to an FCM registration token for mobile push.
type DeviceToken struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	Token     string    `json:"token" gorm:"not null;uniqueIndex"`
	Platform  string    `json:"platform" gorm:"size:20"` // ios, android, web
	CreatedAt time.Time `json:"created_at"`
}

package models

import "time"

// User is a chat-platform account that has completed phone login at least once.
// Rows are created or updated on login and never deleted.
type User struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	PlatformID  int64      `gorm:"uniqueIndex;not null" json:"platform_id"`
	Phone       string     `gorm:"size:20" json:"phone,omitempty"`
	DisplayName string     `gorm:"size:255" json:"display_name"`
	Username    string     `gorm:"size:255" json:"username,omitempty"`
	LoginCount  int        `gorm:"not null;default:0" json:"login_count"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

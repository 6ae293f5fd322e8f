package models

import "time"

// Activity actions written by the services.
const (
	ActionLogin             = "login"
	ActionLogout            = "logout"
	ActionReportSubmitted   = "report_submitted"
	ActionAdminAdded        = "admin_added"
	ActionOwnerBootstrap    = "owner_bootstrap"
	ActionAdminNotification = "admin_notification"
)

// ActivityLogEntry is an append-only audit row. ActorID 0 means the system.
type ActivityLogEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ActorID   int64     `gorm:"index;not null;default:0" json:"actor_id"`
	Action    string    `gorm:"size:64;not null" json:"action"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (ActivityLogEntry) TableName() string { return "activity_logs" }

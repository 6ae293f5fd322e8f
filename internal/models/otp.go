package models

import "time"

type OTPStatus string

const (
	OTPPending  OTPStatus = "pending"
	OTPVerified OTPStatus = "verified"
)

// OTPRecord is one issued passcode. Only the newest record for a phone can
// verify, and only once.
type OTPRecord struct {
	ID         uint       `gorm:"primaryKey"`
	Phone      string     `gorm:"size:20;not null;uniqueIndex:idx_otp_phone_code;index:idx_otp_phone_created,priority:1"`
	Code       string     `gorm:"size:6;not null;uniqueIndex:idx_otp_phone_code"`
	PlatformID *int64     // identity that asked for the code, if known
	CreatedAt  time.Time  `gorm:"not null;index:idx_otp_phone_created,priority:2"`
	ExpiresAt  time.Time  `gorm:"not null;index"`
	Status     OTPStatus  `gorm:"size:10;not null;default:pending"`
	VerifiedAt *time.Time
}

func (OTPRecord) TableName() string { return "otp_records" }

// Usable reports whether the record is still pending and unexpired at now.
func (o *OTPRecord) Usable(now time.Time) bool {
	return o.Status == OTPPending && now.Before(o.ExpiresAt)
}

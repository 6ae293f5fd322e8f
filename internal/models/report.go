package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReportType is what kind of entity is being reported.
type ReportType string

const (
	TypeAccount ReportType = "account"
	TypeChannel ReportType = "channel"
	TypeGroup   ReportType = "group"
)

// ReportTypes lists the types in display order.
var ReportTypes = []ReportType{TypeAccount, TypeChannel, TypeGroup}

func (t ReportType) Valid() bool {
	for _, v := range ReportTypes {
		if v == t {
			return true
		}
	}
	return false
}

func ParseReportType(s string) (ReportType, error) {
	t := ReportType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown report type %q", s)
	}
	return t, nil
}

// Category is the violation being reported.
type Category string

const (
	CategorySpam      Category = "spam"
	CategoryViolence  Category = "violence"
	CategoryIllegal   Category = "illegal"
	CategoryScam      Category = "scam"
	CategoryCopyright Category = "copyright"
	CategoryAdult     Category = "adult"
	CategoryHate      Category = "hate"
	CategoryFake      Category = "fake"
	CategoryPrivacy   Category = "privacy"
	CategoryOther     Category = "other"
)

// Categories lists the categories in display order.
var Categories = []Category{
	CategorySpam, CategoryViolence, CategoryIllegal, CategoryScam, CategoryCopyright,
	CategoryAdult, CategoryHate, CategoryFake, CategoryPrivacy, CategoryOther,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportCompleted ReportStatus = "completed"
)

// Report is a user's submission. It is written pending before the simulated
// submission runs and flips to completed exactly once.
type Report struct {
	ID             uint         `gorm:"primaryKey" json:"-"`
	ReportID       string       `gorm:"size:64;uniqueIndex;not null" json:"report_id"`
	UserID         int64        `gorm:"index;not null" json:"user_id"`
	Target         string       `gorm:"type:text;not null" json:"target"`
	ReportType     ReportType   `gorm:"size:20;not null" json:"report_type"`
	Category       Category     `gorm:"size:20;not null" json:"category"`
	Description    string       `gorm:"type:text" json:"description"`
	RequestedCount int          `gorm:"not null" json:"requested_count"`
	Status         ReportStatus `gorm:"size:20;not null;default:pending" json:"status"`
	Successful     int          `gorm:"not null;default:0" json:"successful"`
	Failed         int          `gorm:"not null;default:0" json:"failed"`
	CreatedAt      time.Time    `gorm:"index" json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// NewReportID builds REP<yyyymmddHHMMSS><user>-<6 hex>. The suffix keeps two
// reports from the same user in the same second distinct.
func NewReportID(userID int64, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("REP%s%d-%s", at.Format("20060102150405"), userID, suffix)
}

// BeforeCreate fills ReportID and Status when the caller left them empty.
func (r *Report) BeforeCreate(tx *gorm.DB) (err error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.ReportID == "" {
		r.ReportID = NewReportID(r.UserID, r.CreatedAt)
	}
	if r.Status == "" {
		r.Status = ReportPending
	}
	return
}

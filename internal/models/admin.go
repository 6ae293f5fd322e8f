package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// AdminLevel ranks admin privileges. Owner is unique and comes from config.
type AdminLevel string

const (
	LevelOwner      AdminLevel = "owner"
	LevelSuperAdmin AdminLevel = "superadmin"
	LevelAdmin      AdminLevel = "admin"
	LevelModerator  AdminLevel = "moderator"
)

// SystemActor marks records created by the process itself rather than a person.
const SystemActor = "system"

func (l AdminLevel) Valid() bool {
	switch l {
	case LevelOwner, LevelSuperAdmin, LevelAdmin, LevelModerator:
		return true
	}
	return false
}

// CanManageAdmins reports whether this level may grant admin rights.
func (l AdminLevel) CanManageAdmins() bool {
	return l == LevelOwner || l == LevelSuperAdmin
}

// ParseAdminLevel accepts level names in any case.
func ParseAdminLevel(s string) (AdminLevel, error) {
	l := AdminLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown admin level %q", s)
	}
	return l, nil
}

// Admin grants elevated rights to a platform identity. Admins are hidden:
// their existence is never listed to regular users.
type Admin struct {
	ID          uint           `gorm:"primaryKey" json:"-"`
	PlatformID  int64          `gorm:"uniqueIndex;not null" json:"platform_id"`
	Level       AdminLevel     `gorm:"size:20;not null" json:"level"`
	AddedBy     string         `gorm:"size:64;not null" json:"added_by"`
	AddedAt     time.Time      `json:"added_at"`
	Hidden      bool           `gorm:"not null;default:true" json:"hidden"`
	Permissions datatypes.JSON `gorm:"type:json" json:"permissions"`
}

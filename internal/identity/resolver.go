// Package identity maps platform identities to users and admin rights.
package identity

import (
	"context"
	"errors"
	"fmt"
	"reportbot/backend/internal/models"
	"reportbot/backend/internal/storage"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrAlreadyAdmin = errors.New("identity: already an admin")
	ErrInvalidLevel = errors.New("identity: level cannot be granted")
)

// Store is the part of the record store the resolver uses.
type Store interface {
	UpsertLogin(ctx context.Context, phone string, platformID int64, displayName, username string, at time.Time) (*models.User, error)
	GetUserByPlatformID(ctx context.Context, platformID int64) (*models.User, error)
	CreateAdmin(ctx context.Context, admin *models.Admin) error
	GetAdmin(ctx context.Context, platformID int64) (*models.Admin, error)
	ListAdmins(ctx context.Context) ([]models.Admin, error)
	EnsureOwner(ctx context.Context, platformID int64, at time.Time) (bool, error)
	AppendActivity(ctx context.Context, entry *models.ActivityLogEntry) error
}

// Announcer receives admin-facing events. It must not block for long.
type Announcer interface {
	Announce(ctx context.Context, event string, detail string)
}

type Resolver struct {
	store     Store
	announcer Announcer
	now       func() time.Time
}

func NewResolver(store Store, announcer Announcer) *Resolver {
	return &Resolver{store: store, announcer: announcer, now: time.Now}
}

// RegisterOrUpdate records a successful login. Every call counts as one login.
func (r *Resolver) RegisterOrUpdate(ctx context.Context, phone string, platformID int64, displayName, username string) (*models.User, error) {
	user, err := r.store.UpsertLogin(ctx, phone, platformID, displayName, username, r.now())
	if err != nil {
		return nil, fmt.Errorf("identity: register %d: %w", platformID, err)
	}
	if err := r.store.AppendActivity(ctx, &models.ActivityLogEntry{
		ActorID: platformID,
		Action:  models.ActionLogin,
		Detail:  fmt.Sprintf("login #%d", user.LoginCount),
	}); err != nil {
		log.WithError(err).WithField("user", platformID).Warn("failed to log login activity")
	}
	return user, nil
}

// User returns the stored user or storage.ErrNotFound.
func (r *Resolver) User(ctx context.Context, platformID int64) (*models.User, error) {
	return r.store.GetUserByPlatformID(ctx, platformID)
}

// IsAdmin returns the admin row for platformID, or nil if it has none.
func (r *Resolver) IsAdmin(ctx context.Context, platformID int64) (*models.Admin, error) {
	admin, err := r.store.GetAdmin(ctx, platformID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: admin lookup %d: %w", platformID, err)
	}
	return admin, nil
}

// BootstrapOwner makes ownerID the single owner. Safe to call on every start.
func (r *Resolver) BootstrapOwner(ctx context.Context, ownerID int64) error {
	if ownerID == 0 {
		log.Warn("owner id is not configured, skipping owner bootstrap")
		return nil
	}
	created, err := r.store.EnsureOwner(ctx, ownerID, r.now())
	if err != nil {
		return fmt.Errorf("identity: bootstrap owner: %w", err)
	}
	if created {
		log.WithField("owner", ownerID).Info("owner admin created")
		if err := r.store.AppendActivity(ctx, &models.ActivityLogEntry{
			Action: models.ActionOwnerBootstrap,
			Detail: strconv.FormatInt(ownerID, 10),
		}); err != nil {
			log.WithError(err).Warn("failed to log owner bootstrap")
		}
	}
	return nil
}

// AddAdmin grants level to platformID. The owner level is reserved for
// BootstrapOwner.
func (r *Resolver) AddAdmin(ctx context.Context, platformID int64, level models.AdminLevel, addedBy string) (*models.Admin, error) {
	if !level.Valid() || level == models.LevelOwner {
		return nil, ErrInvalidLevel
	}
	admin := &models.Admin{
		PlatformID: platformID,
		Level:      level,
		AddedBy:    addedBy,
		AddedAt:    r.now(),
	}
	err := r.store.CreateAdmin(ctx, admin)
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, ErrAlreadyAdmin
	}
	if err != nil {
		return nil, fmt.Errorf("identity: add admin %d: %w", platformID, err)
	}

	detail := fmt.Sprintf("%d added as %s by %s", platformID, level, addedBy)
	actor, _ := strconv.ParseInt(addedBy, 10, 64)
	if err := r.store.AppendActivity(ctx, &models.ActivityLogEntry{
		ActorID: actor,
		Action:  models.ActionAdminAdded,
		Detail:  detail,
	}); err != nil {
		log.WithError(err).Warn("failed to log admin grant")
	}
	if r.announcer != nil {
		r.announcer.Announce(ctx, models.ActionAdminAdded, detail)
	}
	return admin, nil
}

// ListAdmins is for operators only. Admins are never listed to users.
func (r *Resolver) ListAdmins(ctx context.Context) ([]models.Admin, error) {
	return r.store.ListAdmins(ctx)
}

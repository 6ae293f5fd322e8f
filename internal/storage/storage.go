package storage

import (
	"context"
	"encoding/json"
	"errors"
	"reportbot/backend/internal/models"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("storage: record not found")
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrConflict means a compare-and-set lost: the row was not in the expected state.
	ErrConflict = errors.New("storage: state conflict")
)

// Storage is the durable record set used by the bot services.
type Storage interface {
	UpsertLogin(ctx context.Context, phone string, platformID int64, displayName, username string, at time.Time) (*models.User, error)
	GetUserByPlatformID(ctx context.Context, platformID int64) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	CreateAdmin(ctx context.Context, admin *models.Admin) error
	GetAdmin(ctx context.Context, platformID int64) (*models.Admin, error)
	ListAdmins(ctx context.Context) ([]models.Admin, error)
	CountAdmins(ctx context.Context) (int64, error)
	EnsureOwner(ctx context.Context, platformID int64, at time.Time) (bool, error)

	CreateOTP(ctx context.Context, rec *models.OTPRecord) error
	LatestOTP(ctx context.Context, phone string) (*models.OTPRecord, error)
	MarkOTPVerified(ctx context.Context, id uint, at time.Time) (bool, error)
	DeleteExpiredOTPs(ctx context.Context, before time.Time) (int64, error)

	CreateReport(ctx context.Context, report *models.Report) error
	CompleteReport(ctx context.Context, reportID string, successful, failed int, at time.Time) error
	GetReport(ctx context.Context, reportID string) (*models.Report, error)
	ListReportsByUser(ctx context.Context, userID int64, limit int) ([]models.Report, error)
	CountReports(ctx context.Context) (int64, error)
	CountReportsSince(ctx context.Context, userID int64, since time.Time) (int64, error)

	AppendActivity(ctx context.Context, entry *models.ActivityLogEntry) error
	ListActivity(ctx context.Context, limit int) ([]models.ActivityLogEntry, error)

	PublishAnnouncement(ctx context.Context, channel string, payload any) error
}

// Service implements Storage on gorm, with optional Redis for pub/sub.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

var _ Storage = (*Service)(nil)

// NewStorageService Constructor. rdb may be nil.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// PublishAnnouncement публікує подію в Redis Pub/Sub. Без Redis нічого не робить.
func (s *Service) PublishAnnouncement(ctx context.Context, channel string, payload any) error {
	if s.Redis == nil {
		return nil
	}
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, channel, string(msgBytes)).Err()
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	// SQLite reports constraint violations only through the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

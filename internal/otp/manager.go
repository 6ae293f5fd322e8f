// Package otp issues and verifies one-time passcodes bound to phone numbers.
//
// The record store is the only source of truth: a phone's newest record is
// the only one that can verify, so issuing a new code silently retires the
// previous one. Verification is a compare-and-set in the store, so a code is
// consumed at most once even under concurrent attempts.
package otp

import (
	"context"
	"errors"
	"fmt"
	"reportbot/backend/internal/config"
	"reportbot/backend/internal/models"
	"reportbot/backend/internal/storage"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrRateLimited is returned by Issue when the phone asked for too many codes.
var ErrRateLimited = errors.New("otp: too many codes requested")

// Store is the slice of the record store the manager needs.
type Store interface {
	CreateOTP(ctx context.Context, rec *models.OTPRecord) error
	LatestOTP(ctx context.Context, phone string) (*models.OTPRecord, error)
	MarkOTPVerified(ctx context.Context, id uint, at time.Time) (bool, error)
	DeleteExpiredOTPs(ctx context.Context, before time.Time) (int64, error)
}

// Manager owns the OTP lifecycle.
type Manager struct {
	store     Store
	generator Generator
	limiter   Limiter
	ttl       time.Duration
	now       func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithGenerator replaces the default crypto/rand generator.
func WithGenerator(g Generator) Option {
	return func(m *Manager) { m.generator = g }
}

// WithLimiter throttles Issue per phone. Without it issuance is unlimited.
func WithLimiter(l Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// NewManager builds a manager whose codes live for ttl.
func NewManager(store Store, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultOTPTTL
	}
	m := &Manager{
		store:     store,
		generator: RandomGenerator{},
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL reports how long issued codes stay valid.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue creates a fresh code for phone. requester is the platform identity
// asking for it, if known.
func (m *Manager) Issue(ctx context.Context, phone string, requester *int64) (string, error) {
	if m.limiter != nil {
		ok, err := m.limiter.Allow(ctx, phone)
		if err != nil {
			return "", fmt.Errorf("otp: rate limiter: %w", err)
		}
		if !ok {
			return "", ErrRateLimited
		}
	}

	for attempt := 0; attempt < config.OTPCollisionRetries; attempt++ {
		code, err := m.generator.Generate()
		if err != nil {
			return "", fmt.Errorf("otp: generate: %w", err)
		}
		now := m.now()
		rec := &models.OTPRecord{
			Phone:      phone,
			Code:       code,
			PlatformID: requester,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.ttl),
			Status:     models.OTPPending,
		}
		err = m.store.CreateOTP(ctx, rec)
		if errors.Is(err, storage.ErrDuplicate) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("otp: store: %w", err)
		}
		return code, nil
	}
	return "", fmt.Errorf("otp: could not find a free code for %s after %d attempts", phone, config.OTPCollisionRetries)
}

// Verify consumes code if it is the newest pending, unexpired code for phone.
// Any mismatch returns (false, nil, nil) without saying which check failed;
// err is reserved for store failures.
func (m *Manager) Verify(ctx context.Context, phone, code string) (bool, *int64, error) {
	rec, err := m.store.LatestOTP(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("otp: lookup: %w", err)
	}

	now := m.now()
	if rec.Code != code || !rec.Usable(now) {
		return false, nil, nil
	}

	won, err := m.store.MarkOTPVerified(ctx, rec.ID, now)
	if err != nil {
		return false, nil, fmt.Errorf("otp: consume: %w", err)
	}
	if !won {
		return false, nil, nil
	}
	return true, rec.PlatformID, nil
}

// Prune deletes records that expired more than one TTL ago.
func (m *Manager) Prune(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredOTPs(ctx, m.now().Add(-m.ttl))
}

// sweeper is implemented by limiters that keep per-key state in memory.
type sweeper interface {
	Sweep()
}

// Start runs maintain every interval until ctx is done.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.OTPPruneInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.maintain(ctx)
			}
		}
	}()
}

// maintain prunes expired codes and drops idle limiter keys.
func (m *Manager) maintain(ctx context.Context) {
	if sw, ok := m.limiter.(sweeper); ok {
		sw.Sweep()
	}
	n, err := m.Prune(ctx)
	if err != nil {
		log.WithError(err).Warn("otp prune failed")
		return
	}
	if n > 0 {
		log.Infof("otp prune removed %d expired codes", n)
	}
}

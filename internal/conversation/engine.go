// Package conversation drives the per-user login and report dialogues.
//
// Engine.Handle is the single entry point: it takes one inbound event, moves
// the sender's session through its state machine and returns a Response
// describing what to show. Events for one identity are handled strictly one
// at a time; different identities proceed in parallel.
package conversation

import (
	"context"
	"reportbot/backend/internal/config"
	"reportbot/backend/internal/models"
	"reportbot/backend/internal/simulator"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Kind classifies an inbound event.
type Kind string

const (
	KindCommand Kind = "command"
	KindText    Kind = "text"
	KindChoice  Kind = "choice"
)

// Event is one user input, already stripped of transport details.
type Event struct {
	Identity    int64
	DisplayName string
	Username    string
	Kind        Kind
	Name        string // command name without the slash, for KindCommand
	Payload     string
}

type Passcodes interface {
	Issue(ctx context.Context, phone string, requester *int64) (string, error)
	Verify(ctx context.Context, phone, code string) (bool, *int64, error)
	TTL() time.Duration
}

type Identities interface {
	RegisterOrUpdate(ctx context.Context, phone string, platformID int64, displayName, username string) (*models.User, error)
	User(ctx context.Context, platformID int64) (*models.User, error)
	IsAdmin(ctx context.Context, platformID int64) (*models.Admin, error)
	AddAdmin(ctx context.Context, platformID int64, level models.AdminLevel, addedBy string) (*models.Admin, error)
}

type Records interface {
	CreateReport(ctx context.Context, report *models.Report) error
	CompleteReport(ctx context.Context, reportID string, successful, failed int, at time.Time) error
	ListReportsByUser(ctx context.Context, userID int64, limit int) ([]models.Report, error)
	CountReportsSince(ctx context.Context, userID int64, since time.Time) (int64, error)
	CountUsers(ctx context.Context) (int64, error)
	CountReports(ctx context.Context) (int64, error)
	CountAdmins(ctx context.Context) (int64, error)
	AppendActivity(ctx context.Context, entry *models.ActivityLogEntry) error
}

type Submitter interface {
	Submit(ctx context.Context, report *models.Report, observe func(simulator.Snapshot)) (simulator.Snapshot, error)
}

type Announcer interface {
	Announce(ctx context.Context, event, detail string)
}

// Progress is pushed to observers after every submission attempt.
type Progress struct {
	Identity int64              `json:"identity"`
	ReportID string             `json:"report_id"`
	Snapshot simulator.Snapshot `json:"snapshot"`
}

// ProgressObserver receives live submission progress. Calls happen on the
// submitting goroutine, so implementations must return quickly.
type ProgressObserver interface {
	OnProgress(ctx context.Context, p Progress)
}

// Deps are the services the engine drives.
type Deps struct {
	OTP       Passcodes
	Identity  Identities
	Records   Records
	Simulator Submitter
	Announcer Announcer
}

// Settings tune flow validation.
type Settings struct {
	EchoOTP              bool
	MaxDescriptionLength int
	MaxReportCount       int
	MaxReportsPerDay     int // 0 disables the quota
	IdleTimeout          time.Duration
}

// SettingsFrom picks the engine settings out of the app config.
func SettingsFrom(cfg *config.AppConfig) Settings {
	return Settings{
		EchoOTP:              cfg.OTP.Echo,
		MaxDescriptionLength: cfg.Reports.MaxDescriptionLength,
		MaxReportCount:       cfg.Reports.MaxCount,
		MaxReportsPerDay:     cfg.Reports.MaxPerDay,
		IdleTimeout:          cfg.SessionIdleTimeout,
	}
}

type Engine struct {
	deps     Deps
	settings Settings
	sessions *sessionTable
	now      func() time.Time

	obsMu     sync.RWMutex
	observers []ProgressObserver
}

type Option func(*Engine)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(deps Deps, settings Settings, opts ...Option) *Engine {
	if settings.MaxDescriptionLength <= 0 || settings.MaxDescriptionLength > config.MaxDescriptionLength {
		settings.MaxDescriptionLength = config.MaxDescriptionLength
	}
	if settings.MaxReportCount <= 0 || settings.MaxReportCount > config.MaxReportCount {
		settings.MaxReportCount = config.MaxReportCount
	}
	if settings.IdleTimeout <= 0 {
		settings.IdleTimeout = config.DefaultSessionIdleTimeout
	}
	e := &Engine{
		deps:     deps,
		settings: settings,
		sessions: newSessionTable(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddObserver registers o for submission progress.
func (e *Engine) AddObserver(o ProgressObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) notifyProgress(ctx context.Context, p Progress) {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	for _, o := range e.observers {
		o.OnProgress(ctx, p)
	}
}

// Handle processes one event. A non-nil error means a store or service
// failure; the session is then left exactly as it was so the step can be
// retried.
func (e *Engine) Handle(ctx context.Context, ev Event) (Response, error) {
	s := e.sessions.acquire(ev.Identity)
	defer e.sessions.release(ev.Identity, s)

	now := e.now()
	if s.session != nil && now.Sub(s.session.LastActivity) > e.settings.IdleTimeout {
		log.WithField("user", ev.Identity).Debugf("session expired in state %s", s.session.State)
		s.session = nil
		if ev.Kind != KindCommand {
			return Response{Template: TplSessionExpired, State: StateCancelled, Choices: menuChoices()}, nil
		}
	}

	if ev.Kind == KindCommand {
		return e.handleCommand(ctx, s, ev, now)
	}
	if s.session == nil {
		return Response{Template: TplNoSession, Choices: menuChoices()}, nil
	}

	// Work on a copy; only a successful step is written back.
	next := *s.session
	next.LastActivity = now
	input := strings.TrimSpace(ev.Payload)

	switch next.State {
	case StateAwaitingPhone:
		return e.onPhone(ctx, s, next, ev, input)
	case StateAwaitingOTP:
		return e.onCode(ctx, s, next, ev, input)
	case StateSelectType:
		return e.onType(s, next, input)
	case StateSelectCategory:
		return e.onCategory(s, next, input)
	case StateEnterTarget:
		return e.onTarget(s, next, input)
	case StateEnterDescription:
		return e.onDescription(s, next, input)
	case StateSelectCount:
		return e.onCount(s, next, input)
	case StateEnterCustomCount:
		return e.onCustomCount(s, next, input)
	case StateConfirm:
		return e.onConfirm(ctx, s, next, input)
	case StateSubmitting:
		return e.submit(ctx, s, next)
	}

	log.WithField("user", ev.Identity).Errorf("session in unknown state %q dropped", next.State)
	s.session = nil
	return Response{Template: TplNoSession, Choices: menuChoices()}, nil
}

// Session returns a copy of identity's current session.
func (e *Engine) Session(identity int64) (Session, bool) {
	s := e.sessions.acquire(identity)
	defer e.sessions.release(identity, s)
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

// ActiveSessions counts identities with a live session.
func (e *Engine) ActiveSessions() int { return e.sessions.size() }

// Sweep drops idle sessions and returns how many were dropped.
func (e *Engine) Sweep() int {
	return e.sessions.sweep(e.now(), e.settings.IdleTimeout)
}

// Start sweeps idle sessions every interval until ctx is done.
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.SessionSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := e.Sweep(); n > 0 {
					log.Infof("dropped %d idle sessions", n)
				}
			}
		}
	}()
}

func (e *Engine) startSession(s *slot, identity int64, flow Flow, state State, now time.Time) {
	if old := s.session; old != nil && old.State == StateSubmitting {
		log.WithField("user", identity).Warnf("abandoning report %s left in submission", old.ReportID)
	}
	s.session = &Session{
		Identity:     identity,
		Flow:         flow,
		State:        state,
		CreatedAt:    now,
		LastActivity: now,
	}
}

func (e *Engine) logActivity(ctx context.Context, actor int64, action, detail string) {
	if err := e.deps.Records.AppendActivity(ctx, &models.ActivityLogEntry{
		ActorID: actor,
		Action:  action,
		Detail:  detail,
	}); err != nil {
		log.WithError(err).WithField("action", action).Warn("failed to write activity log")
	}
}

func (e *Engine) announce(ctx context.Context, event, detail string) {
	if e.deps.Announcer != nil {
		e.deps.Announcer.Announce(ctx, event, detail)
	}
}

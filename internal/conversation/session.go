package conversation

import (
	"reportbot/backend/internal/models"
	"reportbot/backend/internal/simulator"
	"sync"
	"time"
)

// Flow names a multi-step dialogue.
type Flow string

const (
	FlowNone   Flow = ""
	FlowLogin  Flow = "login"
	FlowReport Flow = "report"
)

// State is a position inside a flow. Terminal states never live in a session.
type State string

const (
	StateIdle             State = ""
	StateAwaitingPhone    State = "awaiting_phone"
	StateAwaitingOTP      State = "awaiting_otp"
	StateSelectType       State = "select_type"
	StateSelectCategory   State = "select_category"
	StateEnterTarget      State = "enter_target"
	StateEnterDescription State = "enter_description"
	StateSelectCount      State = "select_count"
	StateEnterCustomCount State = "enter_custom_count"
	StateConfirm          State = "confirm"
	StateSubmitting       State = "submitting"

	StateLoggedIn  State = "logged_in"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s ends a flow.
func (s State) Terminal() bool {
	return s == StateLoggedIn || s == StateCompleted || s == StateCancelled
}

// Draft collects report fields as the user answers.
type Draft struct {
	Type        models.ReportType
	Category    models.Category
	Target      string
	Description string
	Count       int
}

// Session is one identity's in-progress flow.
type Session struct {
	Identity int64
	Flow     Flow
	State    State

	Phone    string // login: number the code was sent to
	Verified bool   // login: code consumed, registration still pending

	Draft    Draft
	ReportID string              // report: persisted pending report
	Final    *simulator.Snapshot // report: finished run awaiting completion

	CreatedAt    time.Time
	LastActivity time.Time
}

type slot struct {
	mu      sync.Mutex
	session *Session
	refs    int
}

// sessionTable hands out one lock per identity. Slots are dropped once they
// hold no session and nobody is waiting on them.
type sessionTable struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

func newSessionTable() *sessionTable {
	return &sessionTable{slots: make(map[int64]*slot)}
}

func (t *sessionTable) acquire(id int64) *slot {
	t.mu.Lock()
	s, ok := t.slots[id]
	if !ok {
		s = &slot{}
		t.slots[id] = s
	}
	s.refs++
	t.mu.Unlock()

	s.mu.Lock()
	return s
}

func (t *sessionTable) release(id int64, s *slot) {
	s.mu.Unlock()

	t.mu.Lock()
	s.refs--
	if s.refs == 0 && s.session == nil {
		delete(t.slots, id)
	}
	t.mu.Unlock()
}

// sweep drops sessions idle longer than timeout. Busy slots are skipped.
func (t *sessionTable) sweep(now time.Time, timeout time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for id, s := range t.slots {
		if !s.mu.TryLock() {
			continue
		}
		if s.session != nil && now.Sub(s.session.LastActivity) > timeout {
			s.session = nil
			dropped++
		}
		if s.session == nil && s.refs == 0 {
			delete(t.slots, id)
		}
		s.mu.Unlock()
	}
	return dropped
}

func (t *sessionTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s.mu.TryLock() {
			if s.session != nil {
				n++
			}
			s.mu.Unlock()
		} else {
			n++
		}
	}
	return n
}

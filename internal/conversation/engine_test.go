package conversation

import (
	"context"
	"errors"
	"fmt"
	"reportbot/backend/internal/identity"
	"reportbot/backend/internal/models"
	"reportbot/backend/internal/otp"
	"reportbot/backend/internal/simulator"
	"reportbot/backend/internal/storage"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// flakyRecords fails the next N writes of a kind.
type flakyRecords struct {
	*storage.Service
	mu           sync.Mutex
	failCreate   int
	failComplete int
}

func (f *flakyRecords) CreateReport(ctx context.Context, r *models.Report) error {
	f.mu.Lock()
	if f.failCreate > 0 {
		f.failCreate--
		f.mu.Unlock()
		return errBoom
	}
	f.mu.Unlock()
	return f.Service.CreateReport(ctx, r)
}

func (f *flakyRecords) CompleteReport(ctx context.Context, id string, ok, failed int, at time.Time) error {
	f.mu.Lock()
	if f.failComplete > 0 {
		f.failComplete--
		f.mu.Unlock()
		return errBoom
	}
	f.mu.Unlock()
	return f.Service.CompleteReport(ctx, id, ok, failed, at)
}

type flakyIdentity struct {
	*identity.Resolver
	failRegister int
}

func (f *flakyIdentity) RegisterOrUpdate(ctx context.Context, phone string, id int64, name, username string) (*models.User, error) {
	if f.failRegister > 0 {
		f.failRegister--
		return nil, errBoom
	}
	return f.Resolver.RegisterOrUpdate(ctx, phone, id, name, username)
}

type recordingObserver struct {
	mu    sync.Mutex
	snaps []Progress
}

func (o *recordingObserver) OnProgress(_ context.Context, p Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snaps = append(o.snaps, p)
}

type recordingAnnouncer struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAnnouncer) Announce(_ context.Context, event, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

type harness struct {
	engine    *Engine
	store     *storage.Service
	records   *flakyRecords
	identity  *flakyIdentity
	clock     *fakeClock
	observer  *recordingObserver
	announcer *recordingAnnouncer
}

func newHarness(t *testing.T, mutate ...func(*Settings)) *harness {
	t.Helper()
	return newHarnessWith(t, simulator.StrategyFunc(func(context.Context, int) bool { return true }), mutate...)
}

func newHarnessWith(t *testing.T, strategy simulator.Strategy, mutate ...func(*Settings)) *harness {
	t.Helper()
	db, err := storage.Open(fmt.Sprintf("file:conversation_%d?mode=memory&cache=shared", time.Now().UnixNano()))
	require.NoError(t, err)
	store := storage.NewStorageService(db, nil)

	clock := &fakeClock{now: time.Now()}
	ann := &recordingAnnouncer{}
	records := &flakyRecords{Service: store}
	ident := &flakyIdentity{Resolver: identity.NewResolver(store, ann)}
	settings := Settings{
		EchoOTP:              true,
		MaxDescriptionLength: 1000,
		MaxReportCount:       50,
		MaxReportsPerDay:     100,
		IdleTimeout:          10 * time.Minute,
	}
	for _, m := range mutate {
		m(&settings)
	}

	engine := NewEngine(Deps{
		OTP:       otp.NewManager(store, 5*time.Minute, otp.WithClock(clock.Now)),
		Identity:  ident,
		Records:   records,
		Simulator: simulator.New(strategy, 0),
		Announcer: ann,
	}, settings, WithClock(clock.Now))

	obs := &recordingObserver{}
	engine.AddObserver(obs)

	return &harness{engine: engine, store: store, records: records, identity: ident, clock: clock, observer: obs, announcer: ann}
}

const alice int64 = 1001

func (h *harness) command(t *testing.T, id int64, name, payload string) Response {
	t.Helper()
	r, err := h.engine.Handle(context.Background(), Event{Identity: id, DisplayName: "Alice", Kind: KindCommand, Name: name, Payload: payload})
	require.NoError(t, err)
	return r
}

func (h *harness) text(t *testing.T, id int64, payload string) Response {
	t.Helper()
	r, err := h.engine.Handle(context.Background(), Event{Identity: id, DisplayName: "Alice", Kind: KindText, Payload: payload})
	require.NoError(t, err)
	return r
}

func (h *harness) choose(t *testing.T, id int64, value string) Response {
	t.Helper()
	r, err := h.engine.Handle(context.Background(), Event{Identity: id, DisplayName: "Alice", Kind: KindChoice, Payload: value})
	require.NoError(t, err)
	return r
}

func (h *harness) login(t *testing.T, id int64) {
	t.Helper()
	h.command(t, id, "login", "")
	r := h.text(t, id, fmt.Sprintf("+1555%07d", id))
	require.Equal(t, TplOTPSent, r.Template)
	r = h.text(t, id, r.Data["code"].(string))
	require.Equal(t, TplLoginSuccess, r.Template)
}

func (h *harness) toConfirm(t *testing.T, id int64, count string) Response {
	t.Helper()
	h.command(t, id, "report", "")
	h.choose(t, id, "channel")
	h.choose(t, id, "scam")
	h.text(t, id, "@fake_shop")
	h.text(t, id, "takes payments and never ships")
	r := h.choose(t, id, count)
	require.Equal(t, TplConfirmReport, r.Template)
	return r
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+15551234567", "+15551234567", true},
		{" +1 (555) 123-4567 ", "+15551234567", true},
		{"+1234567", "+1234567", true},
		{"+123456", "+123456", false},
		{"+1234567890123456", "+1234567890123456", false},
		{"15551234567", "15551234567", false},
		{"+1555abc4567", "+1555abc4567", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizePhone(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoginFlow_HappyPath(t *testing.T) {
	h := newHarness(t)

	r := h.command(t, alice, "login", "")
	assert.Equal(t, TplAskPhone, r.Template)
	assert.Equal(t, StateAwaitingPhone, r.State)

	r = h.text(t, alice, "+1 555 123 4567")
	assert.Equal(t, TplOTPSent, r.Template)
	assert.Equal(t, StateAwaitingOTP, r.State)
	assert.Equal(t, "+15551234567", r.Data["phone"])
	assert.Equal(t, 5, r.Data["ttl_minutes"])
	code, ok := r.Data["code"].(string)
	require.True(t, ok, "code is echoed when EchoOTP is on")

	r = h.text(t, alice, code)
	assert.Equal(t, TplLoginSuccess, r.Template)
	assert.Equal(t, StateLoggedIn, r.State)
	assert.True(t, r.State.Terminal())
	assert.Equal(t, 1, r.Data["login_count"])
	assert.Equal(t, false, r.Data["is_admin"])

	_, live := h.engine.Session(alice)
	assert.False(t, live, "terminal transitions discard the session")

	u, err := h.store.GetUserByPlatformID(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", u.Phone)
	assert.Contains(t, h.announcer.events, models.ActionLogin)
}

func TestLoginFlow_NoEcho(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.EchoOTP = false })
	h.command(t, alice, "login", "")
	r := h.text(t, alice, "+15551234567")
	assert.NotContains(t, r.Data, "code")
}

func TestLoginFlow_SecondLoginIncrementsCount(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)

	h.command(t, alice, "login", "")
	r := h.text(t, alice, "+15550001001")
	r = h.text(t, alice, r.Data["code"].(string))
	assert.Equal(t, 2, r.Data["login_count"])
}

func TestLoginFlow_InvalidPhoneReprompts(t *testing.T) {
	h := newHarness(t)
	h.command(t, alice, "login", "")

	for _, bad := range []string{"5551234567", "+12", "call me", ""} {
		r := h.text(t, alice, bad)
		assert.Equal(t, TplInvalidPhone, r.Template, bad)
		assert.Equal(t, StateAwaitingPhone, r.State)
	}
}

func TestLoginFlow_WrongAndExpiredCode(t *testing.T) {
	h := newHarness(t)
	h.command(t, alice, "login", "")
	r := h.text(t, alice, "+15551234567")
	code := r.Data["code"].(string)

	wrong := "000000"
	r = h.text(t, alice, wrong)
	assert.Equal(t, TplInvalidOTP, r.Template)
	assert.Equal(t, StateAwaitingOTP, r.State)

	h.clock.Advance(5 * time.Minute)
	r = h.text(t, alice, code)
	assert.Equal(t, TplInvalidOTP, r.Template, "expired codes are indistinguishable from wrong ones")
	assert.Equal(t, StateAwaitingOTP, r.State)
}

func TestLoginFlow_RegistrationFailureRetriesWithoutCode(t *testing.T) {
	h := newHarness(t)
	h.identity.failRegister = 1
	h.command(t, alice, "login", "")
	r := h.text(t, alice, "+15551234567")
	code := r.Data["code"].(string)

	_, err := h.engine.Handle(context.Background(), Event{Identity: alice, Kind: KindText, Payload: code})
	require.ErrorIs(t, err, errBoom)
	sess, live := h.engine.Session(alice)
	require.True(t, live)
	assert.Equal(t, StateAwaitingOTP, sess.State)

	r = h.text(t, alice, "anything")
	assert.Equal(t, TplLoginSuccess, r.Template)
}

func TestReport_RequiresLogin(t *testing.T) {
	h := newHarness(t)
	r := h.command(t, alice, "report", "")
	assert.Equal(t, TplLoginRequired, r.Template)
	_, live := h.engine.Session(alice)
	assert.False(t, live)
}

func TestReportFlow_HappyPathCustomCount(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)

	r := h.command(t, alice, "report", "")
	assert.Equal(t, TplSelectType, r.Template)
	assert.Len(t, r.Choices, 3)

	r = h.choose(t, alice, "account")
	assert.Equal(t, TplSelectCategory, r.Template)
	assert.Len(t, r.Choices, 10)

	r = h.choose(t, alice, "spam")
	assert.Equal(t, TplAskTarget, r.Template)

	r = h.text(t, alice, "  @spammer  ")
	assert.Equal(t, TplAskDescription, r.Template)

	r = h.text(t, alice, "floods every group")
	assert.Equal(t, TplSelectCount, r.Template)
	assert.Len(t, r.Choices, 4)

	r = h.choose(t, alice, "custom")
	assert.Equal(t, TplAskCustomCount, r.Template)

	r = h.text(t, alice, "7")
	assert.Equal(t, TplConfirmReport, r.Template)
	require.NotNil(t, r.Summary)
	assert.Equal(t, Summary{Type: models.TypeAccount, Category: models.CategorySpam, Target: "@spammer", Description: "floods every group", Count: 7}, *r.Summary)

	r = h.choose(t, alice, "yes")
	assert.Equal(t, TplReportCompleted, r.Template)
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, 7, r.Data["successful"])
	assert.Equal(t, 0, r.Data["failed"])
	assert.Equal(t, 100, r.Data["success_rate"])

	reportID := r.Data["report_id"].(string)
	stored, err := h.store.GetReport(context.Background(), reportID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportCompleted, stored.Status)
	assert.Equal(t, 7, stored.RequestedCount)
	assert.Equal(t, 7, stored.Successful)
	assert.Equal(t, alice, stored.UserID)

	assert.Len(t, h.observer.snaps, 7)
	assert.Equal(t, reportID, h.observer.snaps[6].ReportID)
	assert.True(t, h.observer.snaps[6].Snapshot.Done())
	assert.Contains(t, h.announcer.events, models.ActionReportSubmitted)

	_, live := h.engine.Session(alice)
	assert.False(t, live)
}

// statusObserver records the stored status of the report at every snapshot.
type statusObserver struct {
	store    *storage.Service
	statuses []models.ReportStatus
}

func (o *statusObserver) OnProgress(ctx context.Context, p Progress) {
	r, err := o.store.GetReport(ctx, p.ReportID)
	if err != nil {
		return
	}
	o.statuses = append(o.statuses, r.Status)
}

func TestReportFlow_PresetCount(t *testing.T) {
	// odd attempts succeed
	h := newHarnessWith(t, simulator.StrategyFunc(func(_ context.Context, n int) bool { return n%2 == 1 }))
	statuses := &statusObserver{store: h.store}
	h.engine.AddObserver(statuses)
	h.login(t, alice)

	h.command(t, alice, "report", "")
	h.choose(t, alice, "channel")
	h.choose(t, alice, "spam")
	h.text(t, alice, "@spamaccount")
	h.text(t, alice, "abuse")
	r := h.choose(t, alice, "5")
	require.Equal(t, TplConfirmReport, r.Template)
	require.NotNil(t, r.Summary)
	assert.Equal(t, Summary{Type: models.TypeChannel, Category: models.CategorySpam, Target: "@spamaccount", Description: "abuse", Count: 5}, *r.Summary)

	r = h.choose(t, alice, "yes")
	assert.Equal(t, TplReportCompleted, r.Template)
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, 5, r.Data["count"])
	assert.Equal(t, 3, r.Data["successful"])
	assert.Equal(t, 2, r.Data["failed"])
	assert.Equal(t, 60, r.Data["success_rate"])

	require.Len(t, h.observer.snaps, 5)
	for i, p := range h.observer.snaps {
		assert.Equal(t, i+1, p.Snapshot.Attempt)
		assert.Equal(t, 5, p.Snapshot.Count)
		assert.Equal(t, i+1, p.Snapshot.Successful+p.Snapshot.Failed)
	}
	assert.True(t, h.observer.snaps[4].Snapshot.Done())

	assert.Equal(t, []models.ReportStatus{
		models.ReportPending, models.ReportPending, models.ReportPending, models.ReportPending, models.ReportPending,
	}, statuses.statuses, "the report stays pending while attempts run")

	stored, err := h.store.GetReport(context.Background(), r.Data["report_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.ReportCompleted, stored.Status)
	assert.Equal(t, models.TypeChannel, stored.ReportType)
	assert.Equal(t, "@spamaccount", stored.Target)
	assert.Equal(t, "abuse", stored.Description)
	assert.Equal(t, 5, stored.RequestedCount)
	assert.Equal(t, 3, stored.Successful)
	assert.Equal(t, 2, stored.Failed)
	assert.Equal(t, 5, stored.Successful+stored.Failed)
	assert.NotNil(t, stored.CompletedAt)
}

func TestReportFlow_InvalidInputsReprompt(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)
	h.command(t, alice, "report", "")

	r := h.choose(t, alice, "message")
	assert.Equal(t, TplInvalidChoice, r.Template)
	assert.Equal(t, StateSelectType, r.State)
	assert.Len(t, r.Choices, 3)

	h.choose(t, alice, "group")
	r = h.choose(t, alice, "terrorism")
	assert.Equal(t, TplInvalidChoice, r.Template)
	assert.Equal(t, StateSelectCategory, r.State)

	h.choose(t, alice, "hate")
	r = h.text(t, alice, "   ")
	assert.Equal(t, TplEmptyTarget, r.Template)

	h.text(t, alice, "t.me/somegroup")
	r = h.text(t, alice, strings.Repeat("я", 1001))
	assert.Equal(t, TplDescriptionTooLong, r.Template)
	assert.Equal(t, 1001, r.Data["length"])
	assert.Equal(t, StateEnterDescription, r.State)

	r = h.text(t, alice, strings.Repeat("я", 1000))
	assert.Equal(t, TplSelectCount, r.Template, "exactly the maximum is accepted")

	r = h.choose(t, alice, "7")
	assert.Equal(t, TplInvalidChoice, r.Template, "only presets are offered here")

	h.choose(t, alice, "custom")
	for _, bad := range []string{"0", "51", "-3", "ten"} {
		r = h.text(t, alice, bad)
		assert.Equal(t, TplInvalidCount, r.Template, bad)
		assert.Equal(t, StateEnterCustomCount, r.State)

		n, err := h.store.CountReports(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n, "no report is stored for %q", bad)
	}
	r = h.text(t, alice, "50")
	assert.Equal(t, TplConfirmReport, r.Template)

	r = h.choose(t, alice, "maybe")
	assert.Equal(t, TplInvalidChoice, r.Template)
	assert.Equal(t, StateConfirm, r.State)
	require.NotNil(t, r.Summary)
}

func TestReportFlow_CustomCountRespectsConfiguredMax(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.MaxReportCount = 20 })
	h.login(t, alice)
	h.command(t, alice, "report", "")
	h.choose(t, alice, "account")
	h.choose(t, alice, "spam")
	h.text(t, alice, "x")
	h.text(t, alice, "y")
	h.choose(t, alice, "custom")

	r := h.text(t, alice, "21")
	assert.Equal(t, TplInvalidCount, r.Template)
	assert.Equal(t, 20, r.Data["max"])
}

func TestReportFlow_SummaryTruncatesDescription(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)
	h.command(t, alice, "report", "")
	h.choose(t, alice, "account")
	h.choose(t, alice, "spam")
	h.text(t, alice, "@x")
	long := strings.Repeat("ab", 150)
	h.text(t, alice, long)
	r := h.choose(t, alice, "1")

	require.NotNil(t, r.Summary)
	assert.Equal(t, long[:200]+"...", r.Summary.Description)

	sess, _ := h.engine.Session(alice)
	assert.Equal(t, long, sess.Draft.Description, "the draft keeps the full text")
}

func TestReportFlow_DeclineDiscardsDraft(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)
	h.toConfirm(t, alice, "1")

	r := h.choose(t, alice, "no")
	assert.Equal(t, TplCancelled, r.Template)
	assert.Equal(t, StateCancelled, r.State)

	n, err := h.store.CountReports(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "declined drafts are never persisted")
}

func TestCancelFromEveryState(t *testing.T) {
	steps := map[State]func(t *testing.T, h *harness){
		StateAwaitingPhone: func(t *testing.T, h *harness) { h.command(t, alice, "login", "") },
		StateAwaitingOTP: func(t *testing.T, h *harness) {
			h.command(t, alice, "login", "")
			h.text(t, alice, "+15551234567")
		},
		StateSelectType: func(t *testing.T, h *harness) {
			h.login(t, alice)
			h.command(t, alice, "report", "")
		},
		StateSelectCategory: func(t *testing.T, h *harness) {
			h.login(t, alice)
			h.command(t, alice, "report", "")
			h.choose(t, alice, "group")
		},
		StateEnterTarget: func(t *testing.T, h *harness) {
			h.login(t, alice)
			h.command(t, alice, "report", "")
			h.choose(t, alice, "group")
			h.choose(t, alice, "spam")
		},
		StateEnterDescription: func(t *testing.T, h *harness) {
			h.login(t, alice)
			h.command(t, alice, "report", "")
			h.choose(t, alice, "group")
			h.choose(t, alice, "spam")
			h.text(t, alice, "@g")
		},
		StateSelectCount: func(t *testing.T, h *harness) {
			h.login(t, alice)
			h.command(t, alice, "report", "")
			h.choose(t, alice, "group")
			h.choose(t, alice, "spam")
			h.text(t, alice, "@g")
			h.text(t, alice, "desc")
		},
		StateEnterCustomCount: func(t *testing.T, h *harness) {
			h.login(t, alice)
			h.command(t, alice, "report", "")
			h.choose(t, alice, "group")
			h.choose(t, alice, "spam")
			h.text(t, alice, "@g")
			h.text(t, alice, "desc")
			h.choose(t, alice, "custom")
		},
		StateConfirm: func(t *testing.T, h *harness) {
			h.login(t, alice)
			h.toConfirm(t, alice, "10")
		},
	}
	for state, step := range steps {
		t.Run(string(state), func(t *testing.T) {
			h := newHarness(t)
			step(t, h)
			sess, live := h.engine.Session(alice)
			require.True(t, live)
			require.Equal(t, state, sess.State)

			r := h.command(t, alice, "cancel", "")
			assert.Equal(t, TplCancelled, r.Template)
			assert.Equal(t, StateCancelled, r.State)
			_, live = h.engine.Session(alice)
			assert.False(t, live)
		})
	}
}

func TestCancelWithoutSession(t *testing.T) {
	h := newHarness(t)
	r := h.command(t, alice, "cancel", "")
	assert.Equal(t, TplNothingToCancel, r.Template)
}

func TestNewFlowDiscardsPrevious(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)
	h.command(t, alice, "report", "")
	h.choose(t, alice, "group")

	r := h.command(t, alice, "report", "")
	assert.Equal(t, TplSelectType, r.Template)
	sess, live := h.engine.Session(alice)
	require.True(t, live)
	assert.Empty(t, sess.Draft.Type)
}

func TestReportFlow_SaveFailureKeepsConfirm(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)
	h.toConfirm(t, alice, "5")
	h.records.failCreate = 1

	_, err := h.engine.Handle(context.Background(), Event{Identity: alice, Kind: KindChoice, Payload: "yes"})
	require.ErrorIs(t, err, errBoom)

	sess, live := h.engine.Session(alice)
	require.True(t, live)
	assert.Equal(t, StateConfirm, sess.State)
	assert.Empty(t, sess.ReportID)

	r := h.choose(t, alice, "yes")
	assert.Equal(t, TplReportCompleted, r.Template)
}

func TestReportFlow_CompletionFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)
	h.toConfirm(t, alice, "5")
	h.records.failComplete = 1

	_, err := h.engine.Handle(context.Background(), Event{Identity: alice, Kind: KindChoice, Payload: "yes"})
	require.ErrorIs(t, err, errBoom)

	sess, live := h.engine.Session(alice)
	require.True(t, live)
	assert.Equal(t, StateSubmitting, sess.State)
	require.NotEmpty(t, sess.ReportID)
	pending, err := h.store.GetReport(context.Background(), sess.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, pending.Status)

	r := h.text(t, alice, "retry")
	assert.Equal(t, TplReportCompleted, r.Template)
	assert.Equal(t, sess.ReportID, r.Data["report_id"])
	assert.Len(t, h.observer.snaps, 5, "the run is not repeated")

	n, err := h.store.CountReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIdleSessionExpires(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)
	h.command(t, alice, "report", "")

	h.clock.Advance(11 * time.Minute)
	r := h.choose(t, alice, "account")
	assert.Equal(t, TplSessionExpired, r.Template)
	_, live := h.engine.Session(alice)
	assert.False(t, live)
}

func TestSweepDropsIdleSessions(t *testing.T) {
	h := newHarness(t)
	h.command(t, alice, "login", "")
	h.command(t, alice+1, "login", "")
	assert.Equal(t, 2, h.engine.ActiveSessions())

	h.clock.Advance(5 * time.Minute)
	h.text(t, alice+1, "+15551234567")
	h.clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, h.engine.Sweep())
	assert.Equal(t, 1, h.engine.ActiveSessions())
}

func TestDailyQuota(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.MaxReportsPerDay = 1 })
	h.login(t, alice)
	h.toConfirm(t, alice, "1")
	h.choose(t, alice, "yes")

	r := h.command(t, alice, "report", "")
	assert.Equal(t, TplDailyLimit, r.Template)
	assert.Equal(t, 1, r.Data["limit"])
}

func TestTextWithoutSession(t *testing.T) {
	h := newHarness(t)
	r := h.text(t, alice, "hello")
	assert.Equal(t, TplNoSession, r.Template)
	assert.NotEmpty(t, r.Choices)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	r := h.command(t, alice, "frobnicate", "")
	assert.Equal(t, TplUnknownCommand, r.Template)
}

func TestMyReports(t *testing.T) {
	h := newHarness(t)
	r := h.command(t, alice, "myreports", "")
	assert.Equal(t, TplLoginRequired, r.Template)

	h.login(t, alice)
	r = h.command(t, alice, "myreports", "")
	assert.Equal(t, TplNoReports, r.Template)

	h.toConfirm(t, alice, "1")
	h.choose(t, alice, "yes")
	r = h.command(t, alice, "myreports", "")
	assert.Equal(t, TplMyReports, r.Template)
	lines := r.Data["reports"].([]ReportLine)
	require.Len(t, lines, 1)
	assert.Equal(t, "@fake_shop", lines[0].Target)
	assert.Equal(t, models.ReportCompleted, lines[0].Status)
}

func TestAdminCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := int64(9000)

	r := h.command(t, owner, "admin", "")
	assert.Equal(t, TplAccessDenied, r.Template)

	require.NoError(t, h.identity.BootstrapOwner(ctx, owner))
	h.login(t, alice)

	r = h.command(t, owner, "admin", "")
	assert.Equal(t, TplAdminPanel, r.Template)
	assert.Equal(t, "owner", r.Data["level"])
	assert.Equal(t, int64(1), r.Data["users"])
	assert.Equal(t, int64(1), r.Data["admins"])

	r = h.command(t, owner, "addadmin", "1001 moderator")
	assert.Equal(t, TplAdminAdded, r.Template)
	r = h.command(t, owner, "addadmin", "1001 admin")
	assert.Equal(t, TplAdminExists, r.Template)
	r = h.command(t, owner, "addadmin", "1002 owner")
	assert.Equal(t, TplUsageAddAdmin, r.Template)
	r = h.command(t, owner, "addadmin", "oops")
	assert.Equal(t, TplUsageAddAdmin, r.Template)

	// moderators cannot grant rights
	r = h.command(t, alice, "addadmin", "1003 admin")
	assert.Equal(t, TplAccessDenied, r.Template)

	h.command(t, alice, "login", "")
	r = h.text(t, alice, "+15550001001")
	r = h.text(t, alice, r.Data["code"].(string))
	assert.Equal(t, true, r.Data["is_admin"])
}

func TestLogoutDropsSession(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)
	h.command(t, alice, "report", "")

	r := h.command(t, alice, "logout", "")
	assert.Equal(t, TplLoggedOut, r.Template)
	_, live := h.engine.Session(alice)
	assert.False(t, live)

	entries, err := h.store.ListActivity(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.ActionLogout, entries[0].Action)
}

func TestConcurrentIdentitiesAreIndependent(t *testing.T) {
	h := newHarness(t)
	const users = 8

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		id := int64(2000 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			handle := func(kind Kind, name, payload string) Response {
				r, err := h.engine.Handle(ctx, Event{Identity: id, DisplayName: "u", Kind: kind, Name: name, Payload: payload})
				assert.NoError(t, err)
				return r
			}
			handle(KindCommand, "login", "")
			r := handle(KindText, "", fmt.Sprintf("+1555%07d", id))
			code, _ := r.Data["code"].(string)
			r = handle(KindText, "", code)
			assert.Equal(t, TplLoginSuccess, r.Template)

			handle(KindCommand, "report", "")
			handle(KindChoice, "", "account")
			handle(KindChoice, "", "fake")
			handle(KindText, "", fmt.Sprintf("@target%d", id))
			handle(KindText, "", "impersonation")
			handle(KindChoice, "", "1")
			r = handle(KindChoice, "", "yes")
			assert.Equal(t, TplReportCompleted, r.Template)
		}()
	}
	wg.Wait()

	n, err := h.store.CountReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(users), n)
	assert.Zero(t, h.engine.ActiveSessions())
}

func TestSameIdentityIsSerialized(t *testing.T) {
	h := newHarness(t)
	h.login(t, alice)
	h.toConfirm(t, alice, "10")

	// Several confirmations race; exactly one submits, the rest find no session.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.engine.Handle(context.Background(), Event{Identity: alice, Kind: KindChoice, Payload: "yes"})
			assert.NoError(t, err)
			if r.Template == TplReportCompleted {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, completed)

	n, err := h.store.CountReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

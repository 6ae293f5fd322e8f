package conversation

import (
	"context"
	"errors"
	"fmt"
	"reportbot/backend/internal/config"
	"reportbot/backend/internal/identity"
	"reportbot/backend/internal/models"
	"reportbot/backend/internal/storage"
	"strconv"
	"strings"
	"time"

	jnow "github.com/jinzhu/now"
)

func (e *Engine) handleCommand(ctx context.Context, s *slot, ev Event, now time.Time) (Response, error) {
	switch strings.ToLower(strings.TrimPrefix(ev.Name, "/")) {
	case "start":
		return Response{Template: TplWelcome, Data: map[string]any{"name": ev.DisplayName}, Choices: menuChoices()}, nil
	case "help":
		return Response{Template: TplHelp, Choices: menuChoices()}, nil
	case "login":
		e.startSession(s, ev.Identity, FlowLogin, StateAwaitingPhone, now)
		return Response{Template: TplAskPhone, Flow: FlowLogin, State: StateAwaitingPhone}, nil
	case "report":
		return e.startReport(ctx, s, ev, now)
	case "cancel":
		if s.session == nil {
			return Response{Template: TplNothingToCancel, Choices: menuChoices()}, nil
		}
		flow := s.session.Flow
		s.session = nil
		return Response{Template: TplCancelled, Flow: flow, State: StateCancelled, Choices: menuChoices()}, nil
	case "myreports":
		return e.myReports(ctx, ev)
	case "admin":
		return e.adminPanel(ctx, ev)
	case "addadmin":
		return e.addAdmin(ctx, ev)
	case "logout":
		s.session = nil
		e.logActivity(ctx, ev.Identity, models.ActionLogout, "")
		return Response{Template: TplLoggedOut, Choices: menuChoices()}, nil
	}
	return Response{Template: TplUnknownCommand, Data: map[string]any{"command": ev.Name}}, nil
}

func (e *Engine) startReport(ctx context.Context, s *slot, ev Event, now time.Time) (Response, error) {
	if _, err := e.deps.Identity.User(ctx, ev.Identity); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Response{Template: TplLoginRequired, Choices: []Choice{{Value: "/login", Label: "menu_login"}}}, nil
		}
		return Response{}, fmt.Errorf("conversation: user lookup: %w", err)
	}

	if limit := e.settings.MaxReportsPerDay; limit > 0 {
		since := jnow.With(now).BeginningOfDay()
		n, err := e.deps.Records.CountReportsSince(ctx, ev.Identity, since)
		if err != nil {
			return Response{}, fmt.Errorf("conversation: daily quota: %w", err)
		}
		if n >= int64(limit) {
			return Response{Template: TplDailyLimit, Data: map[string]any{"limit": limit}}, nil
		}
	}

	e.startSession(s, ev.Identity, FlowReport, StateSelectType, now)
	return Response{Template: TplSelectType, Choices: typeChoices(), Flow: FlowReport, State: StateSelectType}, nil
}

// ReportLine is one row of the recent reports listing.
type ReportLine struct {
	ReportID   string
	Target     string
	Type       models.ReportType
	Category   models.Category
	Status     models.ReportStatus
	Count      int
	Successful int
	CreatedAt  time.Time
}

func (e *Engine) myReports(ctx context.Context, ev Event) (Response, error) {
	if _, err := e.deps.Identity.User(ctx, ev.Identity); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Response{Template: TplLoginRequired}, nil
		}
		return Response{}, fmt.Errorf("conversation: user lookup: %w", err)
	}
	reports, err := e.deps.Records.ListReportsByUser(ctx, ev.Identity, config.RecentReportsLimit)
	if err != nil {
		return Response{}, fmt.Errorf("conversation: list reports: %w", err)
	}
	if len(reports) == 0 {
		return Response{Template: TplNoReports}, nil
	}
	lines := make([]ReportLine, 0, len(reports))
	for _, r := range reports {
		lines = append(lines, ReportLine{
			ReportID:   r.ReportID,
			Target:     r.Target,
			Type:       r.ReportType,
			Category:   r.Category,
			Status:     r.Status,
			Count:      r.RequestedCount,
			Successful: r.Successful,
			CreatedAt:  r.CreatedAt,
		})
	}
	return Response{Template: TplMyReports, Data: map[string]any{"reports": lines, "total": len(lines)}}, nil
}

func (e *Engine) adminPanel(ctx context.Context, ev Event) (Response, error) {
	admin, err := e.deps.Identity.IsAdmin(ctx, ev.Identity)
	if err != nil {
		return Response{}, err
	}
	if admin == nil {
		return Response{Template: TplAccessDenied}, nil
	}

	users, err := e.deps.Records.CountUsers(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("conversation: stats: %w", err)
	}
	reports, err := e.deps.Records.CountReports(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("conversation: stats: %w", err)
	}
	admins, err := e.deps.Records.CountAdmins(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("conversation: stats: %w", err)
	}
	return Response{Template: TplAdminPanel, Data: map[string]any{
		"level":   string(admin.Level),
		"users":   users,
		"reports": reports,
		"admins":  admins,
	}}, nil
}

// addAdmin handles "/addadmin <id> <level>".
func (e *Engine) addAdmin(ctx context.Context, ev Event) (Response, error) {
	caller, err := e.deps.Identity.IsAdmin(ctx, ev.Identity)
	if err != nil {
		return Response{}, err
	}
	if caller == nil || !caller.Level.CanManageAdmins() {
		return Response{Template: TplAccessDenied}, nil
	}

	fields := strings.Fields(ev.Payload)
	if len(fields) != 2 {
		return Response{Template: TplUsageAddAdmin}, nil
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || id <= 0 {
		return Response{Template: TplUsageAddAdmin}, nil
	}
	level, err := models.ParseAdminLevel(fields[1])
	if err != nil {
		return Response{Template: TplUsageAddAdmin}, nil
	}

	_, err = e.deps.Identity.AddAdmin(ctx, id, level, strconv.FormatInt(ev.Identity, 10))
	switch {
	case errors.Is(err, identity.ErrAlreadyAdmin):
		return Response{Template: TplAdminExists, Data: map[string]any{"id": id}}, nil
	case errors.Is(err, identity.ErrInvalidLevel):
		return Response{Template: TplUsageAddAdmin}, nil
	case err != nil:
		return Response{}, err
	}
	return Response{Template: TplAdminAdded, Data: map[string]any{"id": id, "level": string(level)}}, nil
}

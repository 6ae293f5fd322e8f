package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"reportbot/backend/internal/config"
	"reportbot/backend/internal/models"
	"reportbot/backend/internal/otp"
	"reportbot/backend/internal/simulator"
	"reportbot/backend/internal/storage"
	"strconv"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

var phonePattern = regexp.MustCompile(`^\+[0-9]{7,15}$`)

var phoneNoise = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "\u00a0", "")

// NormalizePhone strips separators and reports whether the result is an
// international number.
func NormalizePhone(raw string) (string, bool) {
	phone := phoneNoise.Replace(strings.TrimSpace(raw))
	return phone, phonePattern.MatchString(phone)
}

func reprompt(next Session, template string, data map[string]any, choices []Choice) Response {
	return Response{Template: template, Data: data, Choices: choices, Flow: next.Flow, State: next.State}
}

// commit writes next back and builds the response for its new state.
func commit(s *slot, next Session, r Response) (Response, error) {
	s.session = &next
	r.Flow = next.Flow
	r.State = next.State
	return r, nil
}

func (e *Engine) onPhone(ctx context.Context, s *slot, next Session, ev Event, input string) (Response, error) {
	phone, ok := NormalizePhone(input)
	if !ok {
		s.session.LastActivity = next.LastActivity
		return reprompt(next, TplInvalidPhone, nil, nil), nil
	}

	requester := ev.Identity
	code, err := e.deps.OTP.Issue(ctx, phone, &requester)
	if errors.Is(err, otp.ErrRateLimited) {
		s.session.LastActivity = next.LastActivity
		return reprompt(next, TplOTPRateLimited, nil, nil), nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("conversation: issue code: %w", err)
	}

	next.Phone = phone
	next.State = StateAwaitingOTP
	data := map[string]any{
		"phone":       phone,
		"ttl_minutes": int(e.deps.OTP.TTL().Minutes()),
	}
	if e.settings.EchoOTP {
		data["code"] = code
	}
	return commit(s, next, Response{Template: TplOTPSent, Data: data})
}

func (e *Engine) onCode(ctx context.Context, s *slot, next Session, ev Event, input string) (Response, error) {
	if !next.Verified {
		ok, _, err := e.deps.OTP.Verify(ctx, next.Phone, input)
		if err != nil {
			return Response{}, fmt.Errorf("conversation: verify code: %w", err)
		}
		if !ok {
			s.session.LastActivity = next.LastActivity
			return reprompt(next, TplInvalidOTP, nil, nil), nil
		}
		// The code is spent now; remember that so a failed registration can
		// be retried without a new code.
		next.Verified = true
		s.session = &next
	}

	user, err := e.deps.Identity.RegisterOrUpdate(ctx, next.Phone, ev.Identity, ev.DisplayName, ev.Username)
	if err != nil {
		return Response{}, fmt.Errorf("conversation: register: %w", err)
	}

	isAdmin := false
	if admin, err := e.deps.Identity.IsAdmin(ctx, ev.Identity); err != nil {
		log.WithError(err).WithField("user", ev.Identity).Warn("admin lookup failed after login")
	} else {
		isAdmin = admin != nil
	}

	s.session = nil
	e.announce(ctx, models.ActionLogin, fmt.Sprintf("user %d (%s) logged in, login #%d", ev.Identity, ev.DisplayName, user.LoginCount))
	return Response{
		Template: TplLoginSuccess,
		Data: map[string]any{
			"name":        ev.DisplayName,
			"login_count": user.LoginCount,
			"is_admin":    isAdmin,
		},
		Choices: menuChoices(),
		Flow:    FlowLogin,
		State:   StateLoggedIn,
	}, nil
}

func (e *Engine) onType(s *slot, next Session, input string) (Response, error) {
	t, err := models.ParseReportType(input)
	if err != nil {
		s.session.LastActivity = next.LastActivity
		return reprompt(next, TplInvalidChoice, nil, typeChoices()), nil
	}
	next.Draft.Type = t
	next.State = StateSelectCategory
	return commit(s, next, Response{Template: TplSelectCategory, Choices: categoryChoices()})
}

func (e *Engine) onCategory(s *slot, next Session, input string) (Response, error) {
	c, err := models.ParseCategory(input)
	if err != nil {
		s.session.LastActivity = next.LastActivity
		return reprompt(next, TplInvalidChoice, nil, categoryChoices()), nil
	}
	next.Draft.Category = c
	next.State = StateEnterTarget
	return commit(s, next, Response{Template: TplAskTarget, Data: map[string]any{"type": string(next.Draft.Type)}})
}

func (e *Engine) onTarget(s *slot, next Session, input string) (Response, error) {
	if input == "" {
		s.session.LastActivity = next.LastActivity
		return reprompt(next, TplEmptyTarget, nil, nil), nil
	}
	next.Draft.Target = input
	next.State = StateEnterDescription
	return commit(s, next, Response{Template: TplAskDescription, Data: map[string]any{"max": e.settings.MaxDescriptionLength}})
}

func (e *Engine) onDescription(s *slot, next Session, input string) (Response, error) {
	if input == "" {
		s.session.LastActivity = next.LastActivity
		return reprompt(next, TplEmptyDescription, nil, nil), nil
	}
	if n := utf8.RuneCountInString(input); n > e.settings.MaxDescriptionLength {
		s.session.LastActivity = next.LastActivity
		return reprompt(next, TplDescriptionTooLong, map[string]any{"max": e.settings.MaxDescriptionLength, "length": n}, nil), nil
	}
	next.Draft.Description = input
	next.State = StateSelectCount
	return commit(s, next, Response{Template: TplSelectCount, Choices: countChoices()})
}

func (e *Engine) onCount(s *slot, next Session, input string) (Response, error) {
	if strings.EqualFold(input, ChoiceCustom) {
		next.State = StateEnterCustomCount
		return commit(s, next, Response{Template: TplAskCustomCount, Data: map[string]any{"max": e.settings.MaxReportCount}})
	}
	n, err := strconv.Atoi(input)
	if err != nil || !isPreset(n) || n > e.settings.MaxReportCount {
		s.session.LastActivity = next.LastActivity
		return reprompt(next, TplInvalidChoice, nil, countChoices()), nil
	}
	next.Draft.Count = n
	return e.toConfirm(s, next)
}

func isPreset(n int) bool {
	for _, p := range config.CountPresets {
		if p == n {
			return true
		}
	}
	return false
}

func (e *Engine) onCustomCount(s *slot, next Session, input string) (Response, error) {
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > e.settings.MaxReportCount {
		s.session.LastActivity = next.LastActivity
		return reprompt(next, TplInvalidCount, map[string]any{"max": e.settings.MaxReportCount}, nil), nil
	}
	next.Draft.Count = n
	return e.toConfirm(s, next)
}

func (e *Engine) toConfirm(s *slot, next Session) (Response, error) {
	next.State = StateConfirm
	sum := summarize(next.Draft)
	return commit(s, next, Response{Template: TplConfirmReport, Summary: &sum, Choices: confirmChoices()})
}

func summarize(d Draft) Summary {
	desc := d.Description
	if utf8.RuneCountInString(desc) > config.SummaryPreviewLength {
		desc = string([]rune(desc)[:config.SummaryPreviewLength]) + "..."
	}
	return Summary{
		Type:        d.Type,
		Category:    d.Category,
		Target:      d.Target,
		Description: desc,
		Count:       d.Count,
	}
}

func (e *Engine) onConfirm(ctx context.Context, s *slot, next Session, input string) (Response, error) {
	switch strings.ToLower(input) {
	case ChoiceNo:
		s.session = nil
		return Response{Template: TplCancelled, Flow: FlowReport, State: StateCancelled, Choices: menuChoices()}, nil
	case ChoiceYes:
	default:
		s.session.LastActivity = next.LastActivity
		sum := summarize(next.Draft)
		r := reprompt(next, TplInvalidChoice, nil, confirmChoices())
		r.Summary = &sum
		return r, nil
	}

	report := &models.Report{
		UserID:         next.Identity,
		Target:         next.Draft.Target,
		ReportType:     next.Draft.Type,
		Category:       next.Draft.Category,
		Description:    next.Draft.Description,
		RequestedCount: next.Draft.Count,
		Status:         models.ReportPending,
		CreatedAt:      e.now(),
	}
	if err := e.deps.Records.CreateReport(ctx, report); err != nil {
		return Response{}, fmt.Errorf("conversation: save report: %w", err)
	}

	next.ReportID = report.ReportID
	next.State = StateSubmitting
	s.session = &next
	return e.submit(ctx, s, next)
}

// submit runs (or resumes) the simulated submission for the session's
// persisted report. It is re-entered on any input while in Submitting.
func (e *Engine) submit(ctx context.Context, s *slot, next Session) (Response, error) {
	if next.Final == nil {
		report := &models.Report{ReportID: next.ReportID, UserID: next.Identity, RequestedCount: next.Draft.Count}
		final, err := e.deps.Simulator.Submit(ctx, report, func(snap simulator.Snapshot) {
			e.notifyProgress(ctx, Progress{Identity: next.Identity, ReportID: next.ReportID, Snapshot: snap})
		})
		if err != nil {
			return Response{}, fmt.Errorf("conversation: submit %s: %w", next.ReportID, err)
		}
		next.Final = &final
		s.session = &next
	}

	final := *next.Final
	err := simulator.Complete(ctx, e.deps.Records, next.ReportID, final, e.now())
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return Response{}, fmt.Errorf("conversation: %w", err)
	}

	s.session = nil
	detail := fmt.Sprintf("report %s by %d: %s/%s %q, %d/%d delivered",
		next.ReportID, next.Identity, next.Draft.Type, next.Draft.Category, next.Draft.Target, final.Successful, final.Count)
	e.logActivity(ctx, next.Identity, models.ActionReportSubmitted, detail)
	e.announce(ctx, models.ActionReportSubmitted, detail)

	return Response{
		Template: TplReportCompleted,
		Data: map[string]any{
			"report_id":    next.ReportID,
			"count":        final.Count,
			"successful":   final.Successful,
			"failed":       final.Failed,
			"success_rate": int(final.SuccessRate()*100 + 0.5),
		},
		Choices: menuChoices(),
		Flow:    FlowReport,
		State:   StateCompleted,
	}, nil
}

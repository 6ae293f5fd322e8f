package conversation

import (
	"reportbot/backend/internal/config"
	"reportbot/backend/internal/models"
	"strconv"
)

// Template keys. Adapters map them to localized text.
const (
	TplWelcome            = "welcome"
	TplHelp               = "help"
	TplUnknownCommand     = "unknown_command"
	TplNoSession          = "no_session"
	TplSessionExpired     = "session_expired"
	TplCancelled          = "cancelled"
	TplNothingToCancel    = "nothing_to_cancel"
	TplInvalidChoice      = "invalid_choice"
	TplAskPhone           = "ask_phone"
	TplInvalidPhone       = "invalid_phone"
	TplOTPSent            = "otp_sent"
	TplOTPRateLimited     = "otp_rate_limited"
	TplInvalidOTP         = "invalid_otp"
	TplLoginSuccess       = "login_success"
	TplLoginRequired      = "login_required"
	TplDailyLimit         = "daily_limit_reached"
	TplSelectType         = "select_type"
	TplSelectCategory     = "select_category"
	TplAskTarget          = "ask_target"
	TplEmptyTarget        = "empty_target"
	TplAskDescription     = "ask_description"
	TplEmptyDescription   = "empty_description"
	TplDescriptionTooLong = "description_too_long"
	TplSelectCount        = "select_count"
	TplAskCustomCount     = "ask_custom_count"
	TplInvalidCount       = "invalid_count"
	TplConfirmReport      = "confirm_report"
	TplReportCompleted    = "report_completed"
	TplMyReports          = "my_reports"
	TplNoReports          = "no_reports"
	TplAdminPanel         = "admin_panel"
	TplAccessDenied       = "access_denied"
	TplAdminAdded         = "admin_added"
	TplAdminExists        = "admin_exists"
	TplUsageAddAdmin      = "usage_addadmin"
	TplLoggedOut          = "logged_out"
)

// Choice values understood by the report flow.
const (
	ChoiceCustom = "custom"
	ChoiceYes    = "yes"
	ChoiceNo     = "no"
)

// Choice is one selectable option. Values starting with "/" are commands.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Summary is the frozen view of a draft shown before submission.
type Summary struct {
	Type        models.ReportType `json:"type"`
	Category    models.Category   `json:"category"`
	Target      string            `json:"target"`
	Description string            `json:"description"`
	Count       int               `json:"count"`
}

// Response tells the adapter what to show. It never carries transport details.
type Response struct {
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
	Choices  []Choice       `json:"choices,omitempty"`
	Summary  *Summary       `json:"summary,omitempty"`
	Flow     Flow           `json:"flow"`
	State    State          `json:"state"`
}

func menuChoices() []Choice {
	return []Choice{
		{Value: "/login", Label: "menu_login"},
		{Value: "/report", Label: "menu_report"},
		{Value: "/myreports", Label: "menu_myreports"},
		{Value: "/help", Label: "menu_help"},
	}
}

func typeChoices() []Choice {
	out := make([]Choice, 0, len(models.ReportTypes))
	for _, t := range models.ReportTypes {
		out = append(out, Choice{Value: string(t), Label: "type_" + string(t)})
	}
	return out
}

func categoryChoices() []Choice {
	out := make([]Choice, 0, len(models.Categories))
	for _, c := range models.Categories {
		out = append(out, Choice{Value: string(c), Label: "category_" + string(c)})
	}
	return out
}

func countChoices() []Choice {
	out := make([]Choice, 0, len(config.CountPresets)+1)
	for _, n := range config.CountPresets {
		v := strconv.Itoa(n)
		out = append(out, Choice{Value: v, Label: "count_" + v})
	}
	return append(out, Choice{Value: ChoiceCustom, Label: "count_custom"})
}

func confirmChoices() []Choice {
	return []Choice{
		{Value: ChoiceYes, Label: "confirm_yes"},
		{Value: ChoiceNo, Label: "confirm_no"},
	}
}

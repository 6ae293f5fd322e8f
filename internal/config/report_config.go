package config

import "time"

const (
	// OTP
	OTPMinValue         = 100000
	OTPMaxValue         = 999999
	DefaultOTPTTL       = 5 * time.Minute
	OTPIssueLimit       = 3
	OTPIssueWindow      = 10 * time.Minute
	OTPCollisionRetries = 5

	// Reports
	MaxReportCount       = 50
	MaxDescriptionLength = 1000
	SummaryPreviewLength = 200
	RecentReportsLimit   = 10
	DefaultMaxReportsDay = 100
	DefaultSuccessRate   = 0.9
	DefaultAttemptDelay  = 500 * time.Millisecond

	// Sessions
	DefaultSessionIdleTimeout = 10 * time.Minute
	SessionSweepInterval      = time.Minute
	OTPPruneInterval          = 15 * time.Minute
)

// CountPresets are offered as one-tap choices in the count step.
var CountPresets = []int{1, 5, 10}

// Package config loads runtime settings for the bot and its admin API.
// Values come from defaults, then an optional YAML file, then the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "configs/config.yaml"

// AppConfig holds everything the binaries need to wire the services.
type AppConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	DatabaseDSN   string `yaml:"database_dsn"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	OwnerID int64 `yaml:"owner_id"`

	OTP     OTPConfig     `yaml:"otp"`
	Reports ReportsConfig `yaml:"reports"`

	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	HTTPAddr  string `yaml:"http_addr"`
	JWTSecret string `yaml:"jwt_secret"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// OTPConfig tunes code lifetime and issuance throttling.
type OTPConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	Echo        bool          `yaml:"echo"`
	IssueLimit  int           `yaml:"issue_limit"`
	IssueWindow time.Duration `yaml:"issue_window"`
}

// ReportsConfig tunes the report flow and the submission simulator.
type ReportsConfig struct {
	MaxCount             int           `yaml:"max_count"`
	MaxDescriptionLength int           `yaml:"max_description_length"`
	MaxPerDay            int           `yaml:"max_per_day"`
	SuccessProbability   float64       `yaml:"success_probability"`
	AttemptDelay         time.Duration `yaml:"attempt_delay"`
}

// Default returns a config with every tunable set.
func Default() *AppConfig {
	return &AppConfig{
		DatabaseDSN: "file:reportbot.db",
		OTP: OTPConfig{
			TTL:         DefaultOTPTTL,
			Echo:        true,
			IssueLimit:  OTPIssueLimit,
			IssueWindow: OTPIssueWindow,
		},
		Reports: ReportsConfig{
			MaxCount:             MaxReportCount,
			MaxDescriptionLength: MaxDescriptionLength,
			MaxPerDay:            DefaultMaxReportsDay,
			SuccessProbability:   DefaultSuccessRate,
			AttemptDelay:         DefaultAttemptDelay,
		},
		SessionIdleTimeout: DefaultSessionIdleTimeout,
		HTTPAddr:           ":8080",
		LogLevel:           "info",
		LogFile:            "logs/bot.log",
	}
}

// Load builds the config. A missing file at path is not an error.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *AppConfig) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("TELEGRAM_BOT_TOKEN", &c.TelegramToken)
	str("DATABASE_DSN", &c.DatabaseDSN)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_PASSWORD", &c.RedisPassword)
	integer("REDIS_DB", &c.RedisDB)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("JWT_SECRET", &c.JWTSecret)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FILE", &c.LogFile)

	if v, ok := lookup("OWNER_ID"); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: OWNER_ID: %w", err))
		} else {
			c.OwnerID = id
		}
	}

	// The original deployment configured the lifetime in whole minutes.
	var ttlMinutes int
	integer("OTP_TTL_MINUTES", &ttlMinutes)
	if ttlMinutes > 0 {
		c.OTP.TTL = time.Duration(ttlMinutes) * time.Minute
	}
	if v, ok := lookup("OTP_ECHO"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: OTP_ECHO: %w", err))
		} else {
			c.OTP.Echo = b
		}
	}
	integer("OTP_ISSUE_LIMIT", &c.OTP.IssueLimit)
	duration("OTP_ISSUE_WINDOW", &c.OTP.IssueWindow)

	integer("MAX_REPORT_COUNT", &c.Reports.MaxCount)
	integer("MAX_DESCRIPTION_LENGTH", &c.Reports.MaxDescriptionLength)
	integer("MAX_REPORTS_PER_DAY", &c.Reports.MaxPerDay)
	if v, ok := lookup("SUCCESS_PROBABILITY"); ok && strings.TrimSpace(v) != "" {
		p, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: SUCCESS_PROBABILITY: %w", err))
		} else {
			c.Reports.SuccessProbability = p
		}
	}
	duration("ATTEMPT_DELAY", &c.Reports.AttemptDelay)
	duration("SESSION_IDLE_TIMEOUT", &c.SessionIdleTimeout)

	return errors.Join(errs...)
}

// Validate rejects values the flows cannot honour.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("config: otp ttl must be positive"))
	}
	if c.OTP.IssueLimit < 0 {
		errs = append(errs, errors.New("config: otp issue limit must not be negative"))
	}
	if c.OTP.IssueLimit > 0 && c.OTP.IssueWindow <= 0 {
		errs = append(errs, errors.New("config: otp issue window must be positive"))
	}
	if c.Reports.MaxCount < 1 || c.Reports.MaxCount > MaxReportCount {
		errs = append(errs, fmt.Errorf("config: max report count must be within 1..%d", MaxReportCount))
	}
	if c.Reports.MaxDescriptionLength < 1 || c.Reports.MaxDescriptionLength > MaxDescriptionLength {
		errs = append(errs, fmt.Errorf("config: max description length must be within 1..%d", MaxDescriptionLength))
	}
	if c.Reports.MaxPerDay < 0 {
		errs = append(errs, errors.New("config: max reports per day must not be negative"))
	}
	if c.Reports.SuccessProbability < 0 || c.Reports.SuccessProbability > 1 {
		errs = append(errs, errors.New("config: success probability must be within 0..1"))
	}
	if c.Reports.AttemptDelay < 0 {
		errs = append(errs, errors.New("config: attempt delay must not be negative"))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, errors.New("config: session idle timeout must be positive"))
	}
	return errors.Join(errs...)
}

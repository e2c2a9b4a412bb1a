// Package config loads the closingbell YAML configuration and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone database for minimal containers

	"gopkg.in/yaml.v3"

	"closingbell/internal/calendar"
)

// DefaultPath is used when CLOSINGBELL_CONFIG is unset.
const DefaultPath = "config/closingbell.yaml"

// ErrInvalidSchedule is returned by Validate for a malformed schedule time.
var ErrInvalidSchedule = errors.New("invalid schedule time")

// DefaultCNHolidayFile is the holiday file used for the cn market when none
// is configured.
const DefaultCNHolidayFile = "config/cn-holidays.yaml"

// Markets.
const (
	MarketCN = "cn"
	MarketUS = "us"
)

// Calendar source names.
const (
	SourceAlpaca  = "alpaca"
	SourceFile    = "file"
	SourceWeekday = "weekday"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the closingbell daemon and CLI.
type Config struct {
	Schedule Schedule `yaml:"schedule"`
	Calendar Calendar `yaml:"calendar"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Task     Task     `yaml:"task"`
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

// Schedule controls when the daily task fires.
type Schedule struct {
	Time           string        `yaml:"time"` // "HH:MM", 24-hour
	RunImmediately bool          `yaml:"run_immediately"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// Calendar selects and tunes the trading calendar.
type Calendar struct {
	Source             string        `yaml:"source"` // alpaca (us only) | file | weekday
	Market             string        `yaml:"market"`
	Timezone           string        `yaml:"timezone"`
	Sessions           []string      `yaml:"sessions"` // "HH:MM-HH:MM"
	HolidayFile        string        `yaml:"holiday_file"`
	YearRange          int           `yaml:"year_range"`
	Lookahead          int           `yaml:"lookahead_days"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	EmptyRetryInterval time.Duration `yaml:"empty_retry_interval"`
}

// Alpaca holds credentials and endpoints for the Alpaca calendar API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	RetryAttempts   int    `yaml:"retry_attempts"`
}

// Task describes the command run once per trading day.
type Task struct {
	Command []string      `yaml:"command"`
	Dir     string        `yaml:"dir"`
	Env     []string      `yaml:"env"`
	Timeout time.Duration `yaml:"timeout"` // zero means no limit
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ExportDir  string `yaml:"export_dir"`
}

// Server holds the listener configuration. An empty address disables the
// corresponding listener.
type Server struct {
	Addr     string `yaml:"addr"`      // HTTP status and metrics
	GRPCAddr string `yaml:"grpc_addr"` // grpc.health.v1
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config path from CLOSINGBELL_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv("CLOSINGBELL_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, applies defaults
// and environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Fields absent from the file keep these values.
	cfg := &Config{Schedule: Schedule{RunImmediately: true}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Schedule.Time == "" {
		cfg.Schedule.Time = "15:05"
	}
	if cfg.Schedule.PollInterval == 0 {
		cfg.Schedule.PollInterval = 30 * time.Second
	}
	if cfg.Calendar.Market == "" {
		cfg.Calendar.Market = MarketCN
	}
	// Alpaca's calendar is the NYSE calendar; other markets read a file.
	if cfg.Calendar.Source == "" {
		if cfg.Calendar.Market == MarketUS {
			cfg.Calendar.Source = SourceAlpaca
		} else {
			cfg.Calendar.Source = SourceFile
		}
	}
	if cfg.Calendar.HolidayFile == "" && cfg.Calendar.Market == MarketCN {
		cfg.Calendar.HolidayFile = DefaultCNHolidayFile
	}
	if cfg.Calendar.YearRange == 0 {
		cfg.Calendar.YearRange = calendar.DefaultYearRange
	}
	if cfg.Calendar.Lookahead == 0 {
		cfg.Calendar.Lookahead = calendar.DefaultLookahead
	}
	if cfg.Calendar.FetchTimeout == 0 {
		cfg.Calendar.FetchTimeout = calendar.DefaultFetchTimeout
	}
	if cfg.Alpaca.RetryAttempts == 0 {
		cfg.Alpaca.RetryAttempts = 3
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/closingbell.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCHEDULE_TIME"); v != "" {
		cfg.Schedule.Time = v
	}
	if v := os.Getenv("RUN_IMMEDIATELY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Schedule.RunImmediately = b
		}
	}
	if v := os.Getenv("CALENDAR_SOURCE"); v != "" {
		cfg.Calendar.Source = v
	}
	if v := os.Getenv("TZ_MARKET"); v != "" {
		cfg.Calendar.Timezone = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	// Standard Alpaca env vars, the names the SDK itself reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if err := validateScheduleTime(c.Schedule.Time); err != nil {
		return err
	}
	if c.Schedule.PollInterval < 0 {
		return fmt.Errorf("schedule.poll_interval must be positive, got %s", c.Schedule.PollInterval)
	}

	switch c.Calendar.Source {
	case SourceAlpaca:
		if c.Calendar.Market != MarketUS {
			return fmt.Errorf("calendar.source alpaca serves the us market only, got market %q", c.Calendar.Market)
		}
	case SourceWeekday:
	case SourceFile:
		if c.Calendar.HolidayFile == "" {
			return errors.New("calendar.holiday_file is required for source \"file\"")
		}
	default:
		return fmt.Errorf("calendar.source %q: want alpaca, file or weekday", c.Calendar.Source)
	}
	if _, err := c.Calendar.Location(); err != nil {
		return err
	}
	if _, err := calendar.ParseSessions(c.Calendar.Sessions); err != nil {
		return fmt.Errorf("calendar.sessions: %w", err)
	}
	if c.Calendar.EmptyRetryInterval < 0 {
		return errors.New("calendar.empty_retry_interval must not be negative")
	}
	if c.Task.Timeout < 0 {
		return errors.New("task.timeout must not be negative")
	}
	return nil
}

func validateScheduleTime(s string) error {
	h, m, ok := strings.Cut(s, ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return fmt.Errorf("schedule.time %q: %w", s, ErrInvalidSchedule)
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("schedule.time %q: %w", s, ErrInvalidSchedule)
	}
	return nil
}

// Location resolves Timezone; empty means the local zone.
func (c Calendar) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

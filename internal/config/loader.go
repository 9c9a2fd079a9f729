package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// RedisConfig configures the change and reminder streams. An empty Addr
// disables Redis and changes are only logged.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	ChangeStream   string `yaml:"change_stream"`
	ReminderStream string `yaml:"reminder_stream"`
}

// ScheduleConfig holds the cron specs of the reconciliation jobs. An empty
// spec disables that job.
type ScheduleConfig struct {
	Expiry    string `yaml:"expiry"`
	NoShow    string `yaml:"no_show"`
	DeskReset string `yaml:"desk_reset"`
	Reminders string `yaml:"reminders"`
}

// Config captures file and environment driven configuration for deskd.
type Config struct {
	HTTPPort    int    `yaml:"http_port"`
	Store       string `yaml:"store"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`

	Redis RedisConfig `yaml:"redis"`

	Timezone             string        `yaml:"timezone"`
	WorkdayStart         string        `yaml:"workday_start"`
	WorkdayEnd           string        `yaml:"workday_end"`
	NoShowGrace          time.Duration `yaml:"no_show_grace"`
	ReminderWindow       time.Duration `yaml:"reminder_window"`
	MaxOccurrences       int           `yaml:"max_occurrences"`
	AvailabilityCacheTTL time.Duration `yaml:"availability_cache_ttl"`

	Schedule ScheduleConfig `yaml:"schedule"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTPPort:   8080,
		Store:      StoreSQLite,
		SQLitePath: "deskd.db",
		Redis: RedisConfig{
			ChangeStream:   "deskd:changes",
			ReminderStream: "deskd:reminders",
		},
		Timezone:             "UTC",
		WorkdayStart:         "09:00",
		WorkdayEnd:           "18:00",
		NoShowGrace:          time.Hour,
		ReminderWindow:       time.Hour,
		MaxOccurrences:       1000,
		AvailabilityCacheTTL: 30 * time.Second,
		Schedule: ScheduleConfig{
			Expiry:    "*/5 * * * *",
			NoShow:    "*/5 * * * *",
			DeskReset: "0 20 * * *",
			Reminders: "*/15 * * * *",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and DESKD_* environment variables, in increasing precedence. A missing file
// is not an error. Every invalid value is reported in one error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	var invalid []string

	envString("DESKD_STORE", &cfg.Store)
	envString("DESKD_SQLITE_PATH", &cfg.SQLitePath)
	envString("DESKD_POSTGRES_DSN", &cfg.PostgresDSN)
	envString("DESKD_REDIS_ADDR", &cfg.Redis.Addr)
	envString("DESKD_REDIS_PASSWORD", &cfg.Redis.Password)
	envString("DESKD_REDIS_CHANGE_STREAM", &cfg.Redis.ChangeStream)
	envString("DESKD_REDIS_REMINDER_STREAM", &cfg.Redis.ReminderStream)
	envString("DESKD_TIMEZONE", &cfg.Timezone)
	envString("DESKD_WORKDAY_START", &cfg.WorkdayStart)
	envString("DESKD_WORKDAY_END", &cfg.WorkdayEnd)
	envString("DESKD_SCHEDULE_EXPIRY", &cfg.Schedule.Expiry)
	envString("DESKD_SCHEDULE_NO_SHOW", &cfg.Schedule.NoShow)
	envString("DESKD_SCHEDULE_DESK_RESET", &cfg.Schedule.DeskReset)
	envString("DESKD_SCHEDULE_REMINDERS", &cfg.Schedule.Reminders)
	envString("DESKD_LOG_LEVEL", &cfg.LogLevel)
	envString("DESKD_LOG_FORMAT", &cfg.LogFormat)

	invalid = envInt("DESKD_HTTP_PORT", &cfg.HTTPPort, invalid)
	invalid = envInt("DESKD_REDIS_DB", &cfg.Redis.DB, invalid)
	invalid = envInt("DESKD_MAX_OCCURRENCES", &cfg.MaxOccurrences, invalid)
	invalid = envDuration("DESKD_NO_SHOW_GRACE", &cfg.NoShowGrace, invalid)
	invalid = envDuration("DESKD_REMINDER_WINDOW", &cfg.ReminderWindow, invalid)
	invalid = envDuration("DESKD_AVAILABILITY_CACHE_TTL", &cfg.AvailabilityCacheTTL, invalid)

	invalid = append(invalid, cfg.validate()...)
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("config: invalid values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

func (c Config) validate() []string {
	var invalid []string

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		invalid = append(invalid, "http_port")
	}
	switch c.Store {
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			invalid = append(invalid, "sqlite_path")
		}
	case StorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			invalid = append(invalid, "postgres_dsn")
		}
	case StoreMemory:
	default:
		invalid = append(invalid, "store")
	}
	if c.Redis.DB < 0 {
		invalid = append(invalid, "redis.db")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		invalid = append(invalid, "timezone")
	}

	start, errStart := ParseClock(c.WorkdayStart)
	end, errEnd := ParseClock(c.WorkdayEnd)
	if errStart != nil {
		invalid = append(invalid, "workday_start")
	}
	if errEnd != nil {
		invalid = append(invalid, "workday_end")
	}
	if errStart == nil && errEnd == nil && end <= start {
		invalid = append(invalid, "workday_end")
	}

	if c.NoShowGrace < 0 {
		invalid = append(invalid, "no_show_grace")
	}
	if c.ReminderWindow <= 0 {
		invalid = append(invalid, "reminder_window")
	}
	if c.MaxOccurrences <= 0 {
		invalid = append(invalid, "max_occurrences")
	}
	if c.AvailabilityCacheTTL < 0 {
		invalid = append(invalid, "availability_cache_ttl")
	}

	specs := []struct {
		name string
		spec string
	}{
		{"schedule.expiry", c.Schedule.Expiry},
		{"schedule.no_show", c.Schedule.NoShow},
		{"schedule.desk_reset", c.Schedule.DeskReset},
		{"schedule.reminders", c.Schedule.Reminders},
	}
	for _, s := range specs {
		if s.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(s.spec); err != nil {
			invalid = append(invalid, s.name)
		}
	}
	return invalid
}

// Location returns the configured time zone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Workday returns the default availability window as offsets from midnight.
func (c Config) Workday() (time.Duration, time.Duration) {
	start, _ := ParseClock(c.WorkdayStart)
	end, _ := ParseClock(c.WorkdayEnd)
	return start, end
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid time of day %q", value)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func envString(key string, dst *string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func envInt(key string, dst *int, invalid []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return invalid
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return append(invalid, key)
	}
	*dst = n
	return invalid
}

func envDuration(key string, dst *time.Duration, invalid []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return invalid
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(invalid, key)
	}
	*dst = d
	return invalid
}

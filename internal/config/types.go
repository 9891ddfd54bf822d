package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig   `json:"telegram"`
	Logging   LoggingConfig    `json:"logging"`
	Storage   StorageConfig    `json:"storage"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	Retention *RetentionConfig `json:"retention,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// Admins lists operator user IDs allowed to create/cancel broadcasts.
	Admins []int64 `json:"admins"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`

	// BusyTimeout is a Go duration string; 0 means the sqlite default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DispatchConfig controls outbound fan-out pacing.
//
// All durations are Go duration strings (e.g. "50ms", "30s").
//
// Defaults (when fields are omitted/zero):
//   - send_interval: "50ms" (one send per interval, flood-control pacing)
//   - send_timeout: "30s" (per-send upper bound on the transport call)
type DispatchConfig struct {
	SendInterval string `json:"send_interval,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is the IANA zone operator-supplied wall-clock times are
	// interpreted in, e.g. "Europe/Moscow". Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// RetentionConfig controls pruning of terminal broadcast rows.
// When the section is omitted, sent rows are retained indefinitely.
type RetentionConfig struct {
	Enabled bool `json:"enabled"`

	// KeepFor is how long sent rows are retained before pruning.
	KeepFor string `json:"keep_for,omitempty"`

	// Cron is the janitor schedule (robfig/cron 5-field spec or descriptor).
	Cron string `json:"cron,omitempty"`
}

const (
	DefaultSendInterval = 50 * time.Millisecond
	DefaultSendTimeout  = 30 * time.Second
	DefaultPollTimeout  = 10 * time.Second
	DefaultKeepFor      = 30 * 24 * time.Hour
	DefaultPruneCron    = "@hourly"
)

// Validate checks the config for structural errors.
// It is called before Commit/publish, so a bad edit never reaches services.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Telegram.Admins) == 0 {
		return errors.New("telegram.admins must list at least one operator")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := fieldDuration("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := fieldDuration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := fieldDuration("dispatch.send_interval", c.Dispatch.SendInterval); err != nil {
		return err
	}
	if _, err := fieldDuration("dispatch.send_timeout", c.Dispatch.SendTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if c.Retention != nil {
		if _, err := fieldDuration("retention.keep_for", c.Retention.KeepFor); err != nil {
			return err
		}
	}
	return nil
}

// IsAdmin reports whether the given user ID is a configured operator.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

func (c DispatchConfig) SendIntervalOrDefault() time.Duration {
	d, err := fieldDurationDefault("dispatch.send_interval", c.SendInterval, DefaultSendInterval)
	if err != nil {
		return DefaultSendInterval
	}
	return d
}

func (c DispatchConfig) SendTimeoutOrDefault() time.Duration {
	d, err := fieldDurationDefault("dispatch.send_timeout", c.SendTimeout, DefaultSendTimeout)
	if err != nil {
		return DefaultSendTimeout
	}
	return d
}

func (c TelegramConfig) PollTimeoutOrDefault() time.Duration {
	d, err := fieldDurationDefault("telegram.poll_timeout", c.PollTimeout, DefaultPollTimeout)
	if err != nil {
		return DefaultPollTimeout
	}
	return d
}

func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	d, err := fieldDuration("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return 0
	}
	return d
}

func (c *RetentionConfig) KeepForOrDefault() time.Duration {
	if c == nil {
		return DefaultKeepFor
	}
	d, err := fieldDurationDefault("retention.keep_for", c.KeepFor, DefaultKeepFor)
	if err != nil {
		return DefaultKeepFor
	}
	return d
}

func (c *RetentionConfig) CronOrDefault() string {
	if c == nil || strings.TrimSpace(c.Cron) == "" {
		return DefaultPruneCron
	}
	return strings.TrimSpace(c.Cron)
}

// Location resolves the scheduler timezone, falling back to time.Local.
func (c SchedulerConfig) Location() *time.Location {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

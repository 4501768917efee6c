package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Twitter  TwitterConfig  `json:"twitter"`
	Logging  LoggingConfig  `json:"logging"`
	Poller   PollerConfig   `json:"poller"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// GroupLog is an optional chat id that receives WARN+ log records.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type TwitterConfig struct {
	BearerToken string `json:"bearer_token"`
	// RequestTimeout bounds every upstream API call. Go duration string.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PollerConfig controls the fetch-and-forward job.
//
// Enabled can be flipped at runtime via config reload; a disabled poller
// finishes its current run and then idles until re-enabled.
type PollerConfig struct {
	Enabled bool `json:"enabled"`
	// RequestTimeout bounds each delivery call. Go duration string.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// MaintenanceSchedule is a cron spec (robfig/cron, e.g. "@daily" or
	// "0 4 * * *") for the storage maintenance job. Empty disables it.
	MaintenanceSchedule string `json:"maintenance_schedule,omitempty"`
	// Timezone is the IANA zone the maintenance schedule is evaluated in.
	Timezone string `json:"timezone,omitempty"`
}

// Validate checks fields that have no safe fallback.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Twitter.BearerToken) == "" {
		return errors.New("twitter.bearer_token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"twitter.request_timeout", c.Twitter.RequestTimeout},
		{"poller.request_timeout", c.Poller.RequestTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// decodeStrict decodes JSON bytes rejecting unknown fields and trailing data,
// so typos and removed keys are caught at load time instead of silently
// ignored.
func decodeStrict(jb []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

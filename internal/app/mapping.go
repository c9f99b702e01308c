package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Reesverleur/watchmebot/internal/config"
	"github.com/Reesverleur/watchmebot/internal/observability"
	"github.com/Reesverleur/watchmebot/internal/storage"
	"github.com/Reesverleur/watchmebot/internal/watch"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

const defaultReportSchedule = "@every 1h"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logChat parses telegram.group_log; 0 means unset.
func logChat(cfg *config.Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapDispatcherConfig(cfg *config.Config) (watch.DispatcherConfig, error) {
	timeout, err := config.ParseDuration("watch.dispatch_timeout", cfg.Watch.DispatchTimeout, 10*time.Second)
	if err != nil {
		return watch.DispatcherConfig{}, err
	}
	return watch.DispatcherConfig{Timeout: timeout, RatePerSec: cfg.Watch.RatePerSec}, nil
}

func mapMonitorConfig(cfg *config.Config) watch.MonitorConfig {
	return watch.MonitorConfig{Workers: cfg.Watch.DispatchWorkers, QueueSize: cfg.Watch.QueueSize}
}

func mapTemplates(cfg *config.Config) (*watch.Templates, error) {
	return watch.NewTemplates(cfg.Watch.Templates)
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		Enabled:       cfg.Metrics.Enabled,
		Addr:          cfg.Metrics.Addr,
		Token:         cfg.Metrics.Token,
		AllowInsecure: cfg.Metrics.AllowInsecure,
		Pprof:         cfg.Metrics.Pprof,
	}
}

// reportSchedule returns the cron spec, or "" when reports are off.
func reportSchedule(cfg *config.Config) string {
	s := strings.TrimSpace(cfg.Watch.ReportSchedule)
	switch strings.ToLower(s) {
	case "":
		return defaultReportSchedule
	case "off", "none", "disabled":
		return ""
	}
	return s
}

// validateConfig covers what config.Validate cannot know about: template
// slots, the report schedule and the group log chat id.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if len(cfg.Watch.Templates) > 0 {
		if err := watch.ValidateTemplates(cfg.Watch.Templates); err != nil {
			return fmt.Errorf("watch.templates: %w", err)
		}
	}
	if spec := reportSchedule(cfg); spec != "" {
		if _, err := reportParser.Parse(spec); err != nil {
			return fmt.Errorf("watch.report_schedule: invalid %q: %w", spec, err)
		}
	}
	if raw := strings.TrimSpace(cfg.Telegram.GroupLog); raw != "" {
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return errors.New("telegram.group_log must be a numeric chat id")
		}
	}
	return nil
}

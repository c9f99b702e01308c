package config

// Config is the whole bot configuration. It is read from JSON or YAML
// (see yaml.go); unknown keys are rejected.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Watch     WatchConfig     `json:"watch"`
	Directory DirectoryConfig `json:"directory,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty when WATCHME_TELEGRAM_TOKEN is set.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
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
	ThreadID   int    `json:"thread_id" validate:"gte=0"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// StorageConfig selects where the watch graph is persisted.
//
// Example:
//
//	storage: { driver: file, path: ./watchlists.json }
//
// Drivers: "file" (default), "sqlite", "postgres".
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite sqlite3 postgres postgresql"`
	Path        string `json:"path"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// WatchConfig tunes the notification pipeline. The cooldown window itself is
// fixed and not configurable.
//
// Defaults (when omitted/zero):
//   - dispatch_workers: 4
//   - queue_size: 256
//   - dispatch_timeout: "10s"
//   - rate_per_sec: 25
//   - report_schedule: "@every 1h" ("off" disables)
type WatchConfig struct {
	DispatchWorkers int    `json:"dispatch_workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize       int    `json:"queue_size,omitempty" validate:"gte=0"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty" validate:"gte=0"`

	// Templates replaces the built-in notification templates. Each entry must
	// contain {subject} and {location} exactly once.
	Templates []string `json:"templates,omitempty"`

	ReportSchedule string `json:"report_schedule,omitempty"`
}

// DirectoryConfig sizes the in-memory user directory.
type DirectoryConfig struct {
	CacheBytes int    `json:"cache_bytes,omitempty" validate:"gte=0"`
	TTL        string `json:"ttl,omitempty"`
}

// MetricsConfig controls the optional HTTP server for /metrics, /healthz and pprof.
//
// Prefer a loopback address; a non-loopback bind requires a token or allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

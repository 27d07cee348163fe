package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// TaskEngine controls the worker pool that runs step tasks.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Storage       StorageConfig       `json:"storage"`
	SocialSharing SocialSharingConfig `json:"social_sharing"`
	Content       ContentConfig       `json:"content"`
	Dispatch      DispatchConfig      `json:"dispatch"`
	Queue         QueueConfig         `json:"queue"`
	Feed          FeedConfig          `json:"feed"`
	Identity      IdentityConfig      `json:"identity"`
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

// LoggingTelegram forwards warn+ log lines to a Telegram chat.
// Token is never logged.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 1
//   - queue_size: 16
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 100
//   - retry_max: 1
//   - circuit_failure_threshold: 0 (disabled)
//   - circuit_cooldown: "1m"
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`

	CircuitFailureThreshold int    `json:"circuit_failure_threshold,omitempty"`
	CircuitCooldown         string `json:"circuit_cooldown,omitempty"`
}

// StorageConfig selects where agents are read from and where the audit log goes.
//
// Example:
//
//	storage: { driver: file, path: ./_output/socialsharing, agents_path: ./agents.yaml }
type StorageConfig struct {
	Driver string `json:"driver"`
	// Path is the output directory (file) or the database file (sqlite).
	Path string `json:"path"`
	// AgentsPath is the YAML/JSON agent list for the file driver.
	AgentsPath  string `json:"agents_path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// SocialSharingConfig drives the activity loop.
//
// TurnLength accepts a Go duration ("30s"), HH:MM ("00:05") or a cron expression.
// MaxSteps counts from 0, so max_steps+1 steps run; a negative value runs until stopped.
type SocialSharingConfig struct {
	Enabled     bool   `json:"enabled"`
	OutputDir   string `json:"output_dir,omitempty"`
	MaxSteps    int    `json:"max_steps"`
	TurnLength  string `json:"turn_length"`
	SampleMin   int    `json:"sample_min,omitempty"`
	SampleMax   int    `json:"sample_max,omitempty"`
	StepTimeout string `json:"step_timeout,omitempty"`
}

type ContentConfig struct {
	// Source is "ollama" or "openai".
	Source       string `json:"source"`
	Host         string `json:"host"`
	Model        string `json:"model"`
	APIKey       string `json:"api_key,omitempty"`
	TemplatesDir string `json:"templates_dir,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	MaxAttempts  int    `json:"max_attempts,omitempty"`
}

type DispatchConfig struct {
	PostEnabled    bool     `json:"post_enabled"`
	PostURL        string   `json:"post_url"`
	PostTimeout    string   `json:"post_timeout,omitempty"`
	PostRatePerSec float64  `json:"post_rate_per_sec,omitempty"`
	QueueEnabled   bool     `json:"queue_enabled"`
	UserFields     []string `json:"user_fields,omitempty"`
	MessageFields  []string `json:"message_fields,omitempty"`
}

// QueueConfig selects the machine-update submitter.
// Driver is "log", "nats" or "kafka".
type QueueConfig struct {
	Driver  string   `json:"driver"`
	URL     string   `json:"url,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

// FeedConfig controls the broadcast HTTP surface.
// Path is the websocket route (default "/api/feed"); Buffer is per subscriber.
type FeedConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"`
	Buffer  int    `json:"buffer,omitempty"`
}

type IdentityConfig struct {
	Enabled   bool   `json:"enabled"`
	URL       string `json:"url"`
	CachePath string `json:"cache_path"`
	Throttle  string `json:"throttle,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

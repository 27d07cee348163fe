package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"socialsim/internal/config"
	"socialsim/internal/content"
	"socialsim/internal/dispatch"
	"socialsim/internal/identity"
	"socialsim/internal/machineupdate"
	"socialsim/internal/sharing"
	"socialsim/internal/storage"
	"socialsim/internal/task/engine"
	"socialsim/internal/task/scheduler"
	logx "socialsim/pkg/logx"
)

const (
	defaultOutputDir  = "./_output/socialsharing"
	defaultTemplates  = "./config/templates"
	defaultIdentityID = "./instance/id"
)

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

func mapLogConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			Token:      lc.Telegram.Token,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// outputDir is where the file driver writes the audit log.
func outputDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.SocialSharing.OutputDir); d != "" {
		return d
	}
	return defaultOutputDir
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = outputDir(cfg)
		}
		return storage.Config{Driver: "file", Path: path, AgentsPath: sc.AgentsPath}, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = filepath.Join(outputDir(cfg), "socialsim.db")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, AgentsPath: sc.AgentsPath, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	// Two workers so a slow step never blocks the queue for anything else.
	out := engine.Config{Workers: 2, QueueSize: 16, HistorySize: 100}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	out.RetryMax = te.RetryMax
	out.CircuitTripFailures = te.CircuitFailureThreshold

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitBaseDelay, err = parseDurationOrDefault("task_engine.circuit_cooldown", te.CircuitCooldown, time.Minute); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapSharingConfig(cfg *config.Config) (sharing.Config, error) {
	ss := cfg.SocialSharing
	out := sharing.Config{Enabled: ss.Enabled, OutputDir: outputDir(cfg), MaxSteps: ss.MaxSteps}
	turn := strings.TrimSpace(ss.TurnLength)
	if turn == "" {
		turn = "1m"
	}
	spec, err := scheduler.ParseSchedule(turn)
	if err != nil {
		return sharing.Config{}, fmt.Errorf("social_sharing.turn_length: %w", err)
	}
	out.Turn = spec
	if out.StepTimeout, err = config.ParseDurationField("social_sharing.step_timeout", ss.StepTimeout); err != nil {
		return sharing.Config{}, err
	}
	return out, nil
}

func mapContentConfig(cfg *config.Config) (content.BackendConfig, error) {
	cc := cfg.Content
	timeout, err := parseDurationOrDefault("content.timeout", cc.Timeout, 120*time.Second)
	if err != nil {
		return content.BackendConfig{}, err
	}
	return content.BackendConfig{
		Source:  cc.Source,
		Host:    cc.Host,
		Model:   cc.Model,
		APIKey:  cc.APIKey,
		Timeout: timeout,
	}, nil
}

func templatesDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.Content.TemplatesDir); d != "" {
		return d
	}
	return defaultTemplates
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	dc := cfg.Dispatch
	timeout, err := parseDurationOrDefault("dispatch.post_timeout", dc.PostTimeout, 30*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		PostEnabled:    dc.PostEnabled,
		PostURL:        dc.PostURL,
		PostTimeout:    timeout,
		PostRatePerSec: dc.PostRatePerSec,
		QueueEnabled:   dc.QueueEnabled,
		UserFields:     dc.UserFields,
		MessageFields:  dc.MessageFields,
	}, nil
}

func mapQueueConfig(cfg *config.Config) (machineupdate.Config, error) {
	qc := cfg.Queue
	timeout, err := config.ParseDurationField("queue.timeout", qc.Timeout)
	if err != nil {
		return machineupdate.Config{}, err
	}
	return machineupdate.Config{
		Driver:  qc.Driver,
		URL:     qc.URL,
		Subject: qc.Subject,
		Brokers: qc.Brokers,
		Topic:   qc.Topic,
		Timeout: timeout,
	}, nil
}

func mapIdentityConfig(cfg *config.Config) (identity.Config, error) {
	ic := cfg.Identity
	throttle, err := parseDurationOrDefault("identity.throttle", ic.Throttle, identity.DefaultThrottle)
	if err != nil {
		return identity.Config{}, err
	}
	timeout, err := parseDurationOrDefault("identity.timeout", ic.Timeout, identity.DefaultTimeout)
	if err != nil {
		return identity.Config{}, err
	}
	path := strings.TrimSpace(ic.CachePath)
	if path == "" {
		path = defaultIdentityID
	}
	return identity.Config{
		Enabled:   ic.Enabled,
		URL:       ic.URL,
		CachePath: path,
		Throttle:  throttle,
		Timeout:   timeout,
		Version:   Version,
	}, nil
}

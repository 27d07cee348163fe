package config

import (
	"errors"
	"fmt"
	"strings"

	"socialsim/internal/task/scheduler"
)

// Validate reports every problem found in cfg, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	oneOf := func(path, v string, allowed ...string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			return
		}
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		add("%s: unknown value %q (want one of %s)", path, v, strings.Join(allowed, ", "))
	}
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	oneOf("storage.driver", cfg.Storage.Driver, "file", "sqlite")
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	ss := cfg.SocialSharing
	if ss.Enabled {
		if _, err := scheduler.ParseSchedule(ss.TurnLength); err != nil {
			add("social_sharing.turn_length: %w", err)
		}
	}
	if ss.SampleMin < 0 || ss.SampleMax < 0 {
		add("social_sharing: sample bounds must be >= 0")
	}
	if ss.SampleMin > 0 && ss.SampleMax > 0 && ss.SampleMax < ss.SampleMin {
		add("social_sharing: sample_max (%d) < sample_min (%d)", ss.SampleMax, ss.SampleMin)
	}
	dur("social_sharing.step_timeout", ss.StepTimeout)

	oneOf("content.source", cfg.Content.Source, "ollama", "openai")
	dur("content.timeout", cfg.Content.Timeout)
	if cfg.Content.MaxAttempts < 0 {
		add("content.max_attempts must be >= 0")
	}

	if cfg.Dispatch.PostEnabled && strings.TrimSpace(cfg.Dispatch.PostURL) == "" {
		add("dispatch.post_url is required when post_enabled is true")
	}
	if cfg.Dispatch.PostRatePerSec < 0 {
		add("dispatch.post_rate_per_sec must be >= 0")
	}
	dur("dispatch.post_timeout", cfg.Dispatch.PostTimeout)

	oneOf("queue.driver", cfg.Queue.Driver, "log", "nats", "kafka")
	switch strings.ToLower(strings.TrimSpace(cfg.Queue.Driver)) {
	case "nats":
		if strings.TrimSpace(cfg.Queue.URL) == "" {
			add("queue.url is required for the nats driver")
		}
	case "kafka":
		if len(cfg.Queue.Brokers) == 0 || strings.TrimSpace(cfg.Queue.Topic) == "" {
			add("queue.brokers and queue.topic are required for the kafka driver")
		}
	}
	dur("queue.timeout", cfg.Queue.Timeout)

	if cfg.Identity.Enabled && strings.TrimSpace(cfg.Identity.URL) == "" {
		add("identity.url is required when identity.enabled is true")
	}
	dur("identity.throttle", cfg.Identity.Throttle)
	dur("identity.timeout", cfg.Identity.Timeout)

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
			add("task_engine: numeric fields must be >= 0")
		}
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
		dur("task_engine.circuit_cooldown", te.CircuitCooldown)
	}

	return errors.Join(errs...)
}

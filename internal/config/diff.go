package config

import (
	"reflect"
	"strings"

	logx "socialsim/pkg/logx"
)

// Sections that take effect without a restart.
var hotSections = map[string]bool{
	"logging":  true,
	"dispatch": true,
}

// SummarizeConfigChange lists changed top-level sections, the subset that needs a
// restart, and safe log attrs (secrets are reported as *_set booleans only).
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed, restart []string, attrs []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	mark := func(name string, fields ...logx.Field) {
		changed = append(changed, name)
		if !hotSections[name] {
			restart = append(restart, name)
		}
		attrs = append(attrs, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
			logx.Bool("logging.telegram_token_set", strings.TrimSpace(newCfg.Logging.Telegram.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		mark("task_engine")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.SocialSharing, newCfg.SocialSharing) {
		mark("social_sharing",
			logx.Bool("social_sharing.enabled", newCfg.SocialSharing.Enabled),
			logx.Int("social_sharing.max_steps", newCfg.SocialSharing.MaxSteps),
			logx.String("social_sharing.turn_length", newCfg.SocialSharing.TurnLength),
		)
	}
	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		mark("content",
			logx.String("content.source", newCfg.Content.Source),
			logx.String("content.model", newCfg.Content.Model),
			logx.Bool("content.api_key_set", strings.TrimSpace(newCfg.Content.APIKey) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		mark("dispatch",
			logx.Bool("dispatch.post_enabled", newCfg.Dispatch.PostEnabled),
			logx.Bool("dispatch.queue_enabled", newCfg.Dispatch.QueueEnabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		mark("queue", logx.String("queue.driver", newCfg.Queue.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Feed, newCfg.Feed) {
		mark("feed", logx.Bool("feed.enabled", newCfg.Feed.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Identity, newCfg.Identity) {
		mark("identity", logx.Bool("identity.enabled", newCfg.Identity.Enabled))
	}
	return changed, restart, attrs
}

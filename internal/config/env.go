package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// applyEnv lets deployment secrets and endpoints live outside the config file.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("SOCIALSIM_CONTENT_SOURCE", &cfg.Content.Source)
	set("SOCIALSIM_CONTENT_HOST", &cfg.Content.Host)
	set("SOCIALSIM_CONTENT_MODEL", &cfg.Content.Model)
	set("SOCIALSIM_CONTENT_API_KEY", &cfg.Content.APIKey)
	set("SOCIALSIM_POST_URL", &cfg.Dispatch.PostURL)
	set("SOCIALSIM_QUEUE_URL", &cfg.Queue.URL)
	set("SOCIALSIM_IDENTITY_URL", &cfg.Identity.URL)
	set("SOCIALSIM_TELEGRAM_TOKEN", &cfg.Logging.Telegram.Token)
}

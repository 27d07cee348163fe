package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: file
  path: ./_output/socialsharing
  agents_path: ./agents.yaml
social_sharing:
  enabled: true
  max_steps: 10
  turn_length: 30s
  sample_min: 5
  sample_max: 20
content:
  source: ollama
  host: http://localhost:11434
  model: llama3
dispatch:
  post_enabled: true
  post_url: http://socializer.local/
  queue_enabled: false
queue:
  driver: log
identity:
  enabled: false
  url: http://api.local/api/clientid
  cache_path: ./config/identity.id
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	m := NewManager(writeConfig(t, sampleYAML), withLookup(func(string) (string, bool) { return "", false }))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.SocialSharing.Enabled || cfg.SocialSharing.MaxSteps != 10 {
		t.Fatalf("social_sharing not decoded: %+v", cfg.SocialSharing)
	}
	if cfg.Content.Model != "llama3" || cfg.Dispatch.PostURL != "http://socializer.local/" {
		t.Fatalf("unexpected decode: %+v %+v", cfg.Content, cfg.Dispatch)
	}
	if m.Get() != cfg {
		t.Fatalf("Load should commit")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, sampleYAML+"\nbogus: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"SOCIALSIM_CONTENT_MODEL": " mistral ",
		"SOCIALSIM_POST_URL":      "http://other/",
		"SOCIALSIM_QUEUE_URL":     "   ",
	}
	m := NewManager(writeConfig(t, sampleYAML), withLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Content.Model != "mistral" {
		t.Fatalf("model override: %q", cfg.Content.Model)
	}
	if cfg.Dispatch.PostURL != "http://other/" {
		t.Fatalf("post url override: %q", cfg.Dispatch.PostURL)
	}
	if cfg.Queue.URL != "" {
		t.Fatalf("blank env value should not override: %q", cfg.Queue.URL)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"bad storage driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"bad turn length", func(c *Config) { c.SocialSharing.TurnLength = "soon" }, "turn_length"},
		{"inverted sample", func(c *Config) { c.SocialSharing.SampleMin, c.SocialSharing.SampleMax = 9, 3 }, "sample_max"},
		{"post without url", func(c *Config) { c.Dispatch.PostURL = "" }, "post_url"},
		{"nats without url", func(c *Config) { c.Queue.Driver = "nats" }, "queue.url"},
		{"kafka without topic", func(c *Config) { c.Queue.Driver = "kafka"; c.Queue.Brokers = []string{"b:9092"} }, "queue.topic"},
		{"identity without url", func(c *Config) { c.Identity.Enabled = true; c.Identity.URL = "" }, "identity.url"},
		{"bad duration", func(c *Config) { c.Identity.Throttle = "5 minutes" }, "identity.throttle"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				Storage:       StorageConfig{Driver: "file"},
				SocialSharing: SocialSharingConfig{Enabled: true, TurnLength: "30s", SampleMin: 5, SampleMax: 20},
				Dispatch:      DispatchConfig{PostEnabled: true, PostURL: "http://x/"},
				Queue:         QueueConfig{Driver: "log"},
			}
			tc.mut(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}, Content: ContentConfig{Model: "a"}}
	newCfg := &Config{Logging: LoggingConfig{Level: "debug"}, Content: ContentConfig{Model: "b", APIKey: "secret"}}

	changed, restart, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "logging,content" {
		t.Fatalf("changed=%v", changed)
	}
	if strings.Join(restart, ",") != "content" {
		t.Fatalf("restart=%v", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
}

func TestReloadGatesAndReplaces(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	m := NewManager(path, withLookup(func(string) (string, bool) { return "", false }))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	// Unchanged content publishes nothing.
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case cfg := <-updates:
		t.Fatalf("unexpected publish: %+v", cfg.SocialSharing)
	default:
	}

	// An invalid file is rejected and the current config stays.
	bad := strings.Replace(sampleYAML, "driver: log", "driver: carrier-pigeon", 1)
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := m.Reload(); err == nil {
		t.Fatalf("expected rejection")
	}
	if m.Get().Queue.Driver != "log" {
		t.Fatalf("rejected config became current")
	}

	// Two accepted reloads before a read leave only the newest pending.
	for _, n := range []string{"11", "12"} {
		body := strings.Replace(sampleYAML, "max_steps: 10", "max_steps: "+n, 1)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
		if err := m.Reload(); err != nil {
			t.Fatalf("Reload: %v", err)
		}
	}
	if cfg := <-updates; cfg.SocialSharing.MaxSteps != 12 {
		t.Fatalf("max_steps=%d", cfg.SocialSharing.MaxSteps)
	}
	select {
	case cfg := <-updates:
		t.Fatalf("stale config queued: %d", cfg.SocialSharing.MaxSteps)
	default:
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-updates; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	m := NewManager(path, withLookup(func(string) (string, bool) { return "", false }))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	updated := strings.Replace(sampleYAML, "max_steps: 10", "max_steps: 11", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-updates:
		if cfg.SocialSharing.MaxSteps != 11 {
			t.Fatalf("max_steps=%d", cfg.SocialSharing.MaxSteps)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
}

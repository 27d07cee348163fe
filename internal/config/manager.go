package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "socialsim/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

var errWatcherClosed = errors.New("config watcher closed")

// Manager owns the live configuration. A reloaded file only becomes visible
// after it decodes strictly and passes validation.
type Manager struct {
	path   string
	lookup func(string) (string, bool)
	check  func(*Config) error
	log    logx.Logger

	mu   sync.RWMutex
	cur  *Config
	sum  uint64
	subs map[int]chan *Config
	next int
}

type ManagerOption func(*Manager)

// WithValidator replaces Validate as the reload gate.
func WithValidator(fn func(*Config) error) ManagerOption {
	return func(m *Manager) { m.check = fn }
}

func withLookup(fn func(string) (string, bool)) ManagerOption {
	return func(m *Manager) { m.lookup = fn }
}

func NewManager(path string, opts ...ManagerOption) *Manager {
	m := &Manager{
		path:   path,
		lookup: os.LookupEnv,
		check:  Validate,
		subs:   map[int]chan *Config{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Path() string { return m.path }

// SetLogger is called once the logging service exists, which is after Load.
func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// Parse reads the file, decodes it strictly and applies SOCIALSIM_* overrides.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(m.path, raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()

	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.path, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == io.EOF:
	case err == nil:
		return nil, fmt.Errorf("decode %s: trailing data", m.path)
	default:
		return nil, fmt.Errorf("decode %s: %w", m.path, err)
	}
	applyEnv(cfg, m.lookup)
	return cfg, nil
}

// Load parses the file and makes it current without validating or publishing.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cur, m.sum = cfg, checksum(cfg)
	m.mu.Unlock()
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Subscribe returns a channel that always holds the newest unread config.
// Intermediate configs are replaced, never queued.
func (m *Manager) Subscribe() (<-chan *Config, func()) {
	ch := make(chan *Config, 1)
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Reload re-reads the file. An identical config is a no-op; a rejected one
// leaves the current config in place and is returned as the error.
func (m *Manager) Reload() error {
	cfg, err := m.Parse()
	if err != nil {
		return err
	}
	sum := checksum(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	if sum != 0 && sum == m.sum {
		return nil
	}
	if m.check != nil {
		if err := m.check(cfg); err != nil {
			return fmt.Errorf("rejected: %w", err)
		}
	}
	m.cur, m.sum = cfg, sum
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
	m.log.Debug("config published", logx.String("sum", fmt.Sprintf("%x", sum)))
	return nil
}

// Watch reloads on changes to the config file until ctx ends. A failed
// watcher is rebuilt with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	wait := watchRetryMin
	for {
		began := time.Now()
		err := m.watch(ctx, dir)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(began) > watchRetryMax {
			wait = watchRetryMin
		}
		m.log.Warn("config watcher failed; retrying", logx.String("dir", dir), logx.Duration("in", wait), logx.Err(err))

		t := time.NewTimer(wait + rand.N(wait/2+1))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		wait = min(wait*2, watchRetryMax)
	}
}

func (m *Manager) watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	name := filepath.Base(m.path)
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	settle := time.NewTimer(reloadDebounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) {
				settle.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload")
				settle.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-settle.C:
			if err := m.Reload(); err != nil {
				m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
			}
		}
	}
}

func checksum(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

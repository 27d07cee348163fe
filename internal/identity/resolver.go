// Package identity resolves the durable client identifier, caching it in
// memory and in a single file, and throttling lookups against the remote
// authority after a miss.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "socialsim/pkg/logx"
)

const (
	DefaultThrottle = 5 * time.Minute
	DefaultTimeout  = 30 * time.Second

	HeaderHost    = "X-Client-Host"
	HeaderUser    = "X-Client-User"
	HeaderVersion = "X-Client-Version"
)

var ErrEmptyID = errors.New("empty identifier")

type Config struct {
	Enabled   bool
	URL       string
	CachePath string
	Throttle  time.Duration
	Timeout   time.Duration
	// Version is sent with the lookup so the authority can tell clients apart.
	Version string
}

type Option func(*Resolver)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

func WithHTTPClient(hc *http.Client) Option { return func(r *Resolver) { r.hc = hc } }

// Resolver is safe for concurrent use.
type Resolver struct {
	cfg Config
	log logx.Logger
	hc  *http.Client
	now func() time.Time

	mu          sync.Mutex
	id          string
	lastChecked time.Time

	// fileMu serializes the remote lookup and every write of the cache file.
	fileMu sync.Mutex
}

func New(cfg Config, log logx.Logger, opts ...Option) *Resolver {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resolver{
		cfg: cfg,
		log: log.Component("identity"),
		hc:  &http.Client{},
		now: time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ID returns the identifier, or "" when none is known yet. Order: memory,
// cache file, then the remote authority at most once per throttle window.
func (r *Resolver) ID(ctx context.Context) string {
	r.mu.Lock()
	if r.id != "" {
		id := r.id
		r.mu.Unlock()
		return id
	}

	b, err := os.ReadFile(r.cfg.CachePath)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(b)); id != "" {
			r.id = id
			r.mu.Unlock()
			r.log.Info("identity loaded from cache", logx.String("path", r.cfg.CachePath))
			return id
		}
	case !errors.Is(err, fs.ErrNotExist):
		r.mu.Unlock()
		r.log.Error("identity cache unreadable", logx.String("path", r.cfg.CachePath), logx.Err(err))
		return ""
	}

	now := r.now()
	if !r.lastChecked.IsZero() && now.Sub(r.lastChecked) < r.cfg.Throttle {
		r.mu.Unlock()
		r.log.Debug("identity lookup throttled", logx.Time("last_checked", r.lastChecked))
		return ""
	}
	r.lastChecked = now
	r.mu.Unlock()

	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	id := r.fetch(ctx)
	if id == "" {
		return ""
	}
	if err := WriteID(r.cfg.CachePath, id, r.log); err != nil {
		return ""
	}

	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
	return id
}

// Set forces the identifier and persists it. Empty values are ignored.
func (r *Resolver) Set(id string) {
	id = normalize(id)
	if id == "" {
		r.log.Warn("ignoring empty identity")
		return
	}
	// An in-flight lookup holds fileMu and stores its result on return, so
	// Set waits for it to keep memory and file agreeing on the forced id.
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
	_ = WriteID(r.cfg.CachePath, id, r.log)
}

func (r *Resolver) fetch(ctx context.Context) string {
	if !r.cfg.Enabled {
		r.log.Debug("identity lookup disabled")
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		r.log.Error("identity request invalid", logx.String("url", r.cfg.URL), logx.Err(err))
		return ""
	}
	setMachineHeaders(req, r.cfg.Version)

	resp, err := r.hc.Do(req)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			r.log.Warn("identity host unresolved", logx.String("url", r.cfg.URL), logx.Err(err))
		} else {
			r.log.Error("identity lookup failed", logx.String("url", r.cfg.URL), logx.Err(err))
		}
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		r.log.Warn("identity not found", logx.String("url", r.cfg.URL))
		return ""
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.log.Error("identity lookup failed", logx.String("url", r.cfg.URL), logx.Int("status", resp.StatusCode))
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		r.log.Error("identity body unreadable", logx.Err(err))
		return ""
	}
	id := normalize(string(body))
	if id == "" {
		r.log.Warn("identity authority returned an empty id")
		return ""
	}
	r.log.Info("identity received", logx.String("id", id))
	return id
}

// WriteID normalizes id and writes it to path, creating parent directories.
func WriteID(path, id string, log logx.Logger) error {
	id = normalize(id)
	if id == "" {
		log.Warn("refusing to write empty identity", logx.String("path", path))
		return ErrEmptyID
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Error("identity directory create failed", logx.String("path", path), logx.Err(err))
		return err
	}
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		log.Error("identity write failed", logx.String("path", path), logx.Err(err))
		return fmt.Errorf("write identity: %w", err)
	}
	log.Info("identity written", logx.String("path", path))
	return nil
}

func normalize(id string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.TrimSpace(id), `"`, ""))
}

func setMachineHeaders(req *http.Request, version string) {
	if h, err := os.Hostname(); err == nil {
		req.Header.Set(HeaderHost, h)
	}
	if u, err := user.Current(); err == nil {
		req.Header.Set(HeaderUser, u.Username)
	}
	if version != "" {
		req.Header.Set(HeaderVersion, version)
	}
}

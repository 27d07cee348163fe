// Package dispatch delivers generated content for one agent through the
// external posting endpoint, the machine command queue and the live feed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"socialsim/internal/agent"
	"socialsim/internal/machineupdate"
	logx "socialsim/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	// DefaultUserFields are the form keys the simulated site accepts for the poster.
	DefaultUserFields = []string{"user", "usr", "u", "uid", "user_id", "u_id"}
	// DefaultMessageFields are the form keys the simulated site accepts for the text.
	DefaultMessageFields = []string{"message", "msg", "m", "msg_text", "text", "payload"}
)

const (
	FeedMethod   = "show"
	FeedChannel  = "1"
	FeedCategory = "social"
)

// UpdateService accepts machine updates for the command queue.
type UpdateService interface {
	Create(ctx context.Context, u machineupdate.MachineUpdate) error
}

// Broadcaster pushes an event to every live feed viewer.
type Broadcaster interface {
	SendAll(ctx context.Context, method string, args ...any) error
}

type Config struct {
	PostEnabled    bool
	PostURL        string
	PostTimeout    time.Duration
	PostRatePerSec float64 // 0 = unlimited
	QueueEnabled   bool
	UserFields     []string
	MessageFields  []string
}

func (c Config) withDefaults() Config {
	if c.PostTimeout <= 0 {
		c.PostTimeout = 30 * time.Second
	}
	c.UserFields = cleanPool(c.UserFields, DefaultUserFields)
	c.MessageFields = cleanPool(c.MessageFields, DefaultMessageFields)
	return c
}

func cleanPool(in, def []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

// Deps are the channel collaborators. A nil Updates or Feed disables that
// channel; a nil HTTP uses a default client.
type Deps struct {
	HTTP    *http.Client
	Updates UpdateService
	Feed    Broadcaster
	Rand    rand.Source
	Now     func() time.Time
}

// Result reports what happened per channel.
type Result struct {
	Posted    bool
	Queued    bool
	Broadcast bool
	UserField string
	MsgField  string
}

type Dispatcher struct {
	deps Deps
	log  logx.Logger

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, deps Deps, log logx.Logger) *Dispatcher {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.NewSource(time.Now().UnixNano())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		deps:    deps,
		log:     log.Component("dispatch"),
		cfg:     cfg,
		limiter: rate.NewLimiter(limitFor(cfg.PostRatePerSec), 1),
		rng:     rand.New(deps.Rand),
	}
}

func limitFor(perSec float64) rate.Limit {
	if perSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSec)
}

// Apply swaps channel settings at runtime.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.limiter.SetLimit(limitFor(cfg.PostRatePerSec))
	d.mu.Unlock()
	d.log.Info("dispatch config applied",
		logx.Bool("post_enabled", cfg.PostEnabled),
		logx.Bool("queue_enabled", cfg.QueueEnabled),
	)
}

func (d *Dispatcher) config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// PickFields chooses a user and a message form key, independently and uniformly.
func (d *Dispatcher) PickFields() (userField, msgField string) {
	cfg := d.config()
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return cfg.UserFields[d.rng.Intn(len(cfg.UserFields))],
		cfg.MessageFields[d.rng.Intn(len(cfg.MessageFields))]
}

// Dispatch runs the enabled channels in order: external post, command queue,
// then broadcast. A failing channel never prevents the next one.
func (d *Dispatcher) Dispatch(ctx context.Context, a agent.Agent, content string) Result {
	cfg := d.config()
	res := Result{}
	res.UserField, res.MsgField = d.PickFields()

	if cfg.PostEnabled {
		res.Posted = d.post(ctx, cfg, a, res.UserField, res.MsgField, content)
	}
	if cfg.QueueEnabled {
		res.Queued = d.enqueue(ctx, cfg, a, res.UserField, res.MsgField, content)
	}
	res.Broadcast = d.broadcast(ctx, a, content)
	return res
}

func (d *Dispatcher) post(ctx context.Context, cfg Config, a agent.Agent, userField, msgField, content string) bool {
	fail := func(reason string, fields ...logx.Field) bool {
		fields = append([]logx.Field{
			logx.String("url", cfg.PostURL),
			logx.String("agent", a.Name),
			logx.String("content", content),
		}, fields...)
		d.log.Warn(reason, fields...)
		return false
	}

	d.mu.RLock()
	lim := d.limiter
	d.mu.RUnlock()
	if err := lim.Wait(ctx); err != nil {
		return fail("post not sent", logx.Err(err))
	}

	form := url.Values{}
	form.Set(userField, a.Name)
	form.Set(msgField, content)

	pctx, cancel := context.WithTimeout(ctx, cfg.PostTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodPost, cfg.PostURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fail("post request invalid", logx.Err(err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.deps.HTTP.Do(req)
	if err != nil {
		return fail("post failed", logx.Err(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fail("post rejected", logx.Int("status", resp.StatusCode))
	}
	d.log.Debug("post accepted", logx.String("agent", a.ID), logx.Int("status", resp.StatusCode))
	return true
}

func (d *Dispatcher) enqueue(ctx context.Context, cfg Config, a agent.Agent, userField, msgField, content string) bool {
	if d.deps.Updates == nil {
		d.log.Warn("queue enabled without an update service", logx.String("agent", a.ID))
		return false
	}
	u, err := machineupdate.NewPostUpdate(machineupdate.PostRequest{
		MachineID: a.MachineID,
		Email:     a.Email,
		PostURL:   cfg.PostURL,
		UserField: userField,
		MsgField:  msgField,
		Content:   content,
	})
	if err == nil {
		err = d.deps.Updates.Create(ctx, u)
	}
	if err != nil {
		d.log.Error("machine update failed", logx.String("agent", a.ID), logx.String("machine", a.MachineID), logx.Err(err))
		return false
	}
	return true
}

func (d *Dispatcher) broadcast(ctx context.Context, a agent.Agent, content string) bool {
	if d.deps.Feed == nil {
		return false
	}
	ts := d.deps.Now().Format(time.RFC3339)
	if err := d.deps.Feed.SendAll(ctx, FeedMethod, FeedChannel, a.ID, FeedCategory, content, ts); err != nil {
		if !errors.Is(err, context.Canceled) {
			d.log.Warn("broadcast failed", logx.String("agent", a.ID), logx.Err(err))
		}
		return false
	}
	return true
}

func (r Result) String() string {
	return fmt.Sprintf("posted=%t queued=%t broadcast=%t", r.Posted, r.Queued, r.Broadcast)
}

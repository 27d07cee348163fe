// Package sharing runs the step-counted social activity loop: every turn a
// random batch of agents generates a post, the post is dispatched through
// every channel and the batch is recorded in the audit log.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"socialsim/internal/agent"
	"socialsim/internal/dispatch"
	"socialsim/internal/storage"
	"socialsim/internal/task/engine"
	"socialsim/internal/task/scheduler"
	logx "socialsim/pkg/logx"
)

// StepTaskName names step tasks in the engine history.
const StepTaskName = "social.step"

type State string

const (
	StateIdle            State = "idle"
	StateRunning         State = "running"
	StateMaxStepsReached State = "max_steps_reached"
	StateCancelled       State = "cancelled"
	StateFaulted         State = "faulted"
	StateStopped         State = "stopped"
)

type Config struct {
	Enabled   bool
	OutputDir string
	// The loop stops once the step counter, starting at 0, exceeds MaxSteps,
	// so MaxSteps+1 steps run. A negative MaxSteps never stops.
	MaxSteps    int
	Turn        scheduler.Spec
	StepTimeout time.Duration
}

// Generator produces the post text for one agent; "" means nothing usable.
type Generator interface {
	GenerateTweet(ctx context.Context, a agent.Agent) string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, a agent.Agent, content string) dispatch.Result
}

// TaskQueue accepts step tasks without blocking.
type TaskQueue interface {
	Enqueue(t engine.Task) error
}

// Deps wires the job. A nil Engine runs each step inline on the loop goroutine.
type Deps struct {
	Agents   storage.AgentSource
	Audit    storage.AuditLog
	Sampler  *agent.Sampler
	Content  Generator
	Dispatch Dispatcher
	Engine   TaskQueue
	Now      func() time.Time
}

// Job is single use: Run returns immediately on every call after the first.
type Job struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	started  atomic.Bool
	runState engine.RunState

	mu    sync.Mutex
	state State
	steps int
}

func New(cfg Config, deps Deps, log logx.Logger) *Job {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sampler == nil {
		deps.Sampler = agent.NewSampler(agent.DefaultSampleMin, agent.DefaultSampleMax, nil)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{cfg: cfg, deps: deps, log: log.Component("sharing"), state: StateIdle}
}

// State returns the lifecycle state and the number of steps issued so far.
func (j *Job) State() (State, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.steps
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Run drives the loop until ctx ends, the step counter passes MaxSteps or setup fails.
// It never panics.
func (j *Job) Run(ctx context.Context) {
	if !j.started.CompareAndSwap(false, true) {
		j.log.Warn("social sharing job already ran")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			j.setState(StateFaulted)
			j.log.Error("social sharing loop panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	if !j.cfg.Enabled {
		j.log.Info("social sharing disabled")
		j.setState(StateStopped)
		return
	}
	if err := os.MkdirAll(j.cfg.OutputDir, 0o755); err != nil {
		j.log.Error("social sharing setup failed", logx.String("output_dir", j.cfg.OutputDir), logx.Err(err))
		j.setState(StateFaulted)
		return
	}

	j.setState(StateRunning)
	j.log.Info("social sharing started",
		logx.String("turn", j.cfg.Turn.String()),
		logx.Int("max_steps", j.cfg.MaxSteps),
	)

	for step := 0; ctx.Err() == nil; step++ {
		if j.cfg.MaxSteps >= 0 && step > j.cfg.MaxSteps {
			j.log.Info("max steps reached", logx.Int("max_steps", j.cfg.MaxSteps))
			j.setState(StateMaxStepsReached)
			return
		}
		j.submit(ctx, step)

		j.mu.Lock()
		j.steps = step + 1
		j.mu.Unlock()

		if !sleepCtx(ctx, j.cfg.Turn.Delay(j.deps.Now())) {
			break
		}
	}
	j.log.Info("social sharing stopped", logx.Err(ctx.Err()))
	j.setState(StateCancelled)
}

func (j *Job) submit(ctx context.Context, step int) {
	if j.deps.Engine == nil {
		if err := j.Step(ctx); err != nil {
			j.log.Warn("step failed", logx.Int("step", step), logx.Err(err))
		}
		return
	}
	err := j.deps.Engine.Enqueue(engine.Task{
		ID:      fmt.Sprintf("step-%d", step),
		Name:    StepTaskName,
		Timeout: j.cfg.StepTimeout,
		Run:     j.Step,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		State:   &j.runState,
	})
	switch {
	case err == nil:
		j.log.Debug("step queued", logx.Int("step", step))
	case errors.Is(err, engine.ErrOverlapSkip):
		j.log.Info("step skipped", logx.Int("step", step), logx.String("reason", "previous step still running"))
	default:
		j.log.Warn("step not queued", logx.Int("step", step), logx.Err(err))
	}
}

// Step runs one batch: sample, generate, dispatch, then append the audit
// records. The first agent without content halts the rest of the batch;
// records for agents before it are still written. Only a failed agent
// listing may be retried; once anything is dispatched the error is final.
func (j *Job) Step(ctx context.Context) error {
	agents, err := j.deps.Agents.ListAgents(ctx)
	if err != nil {
		j.log.Error("list agents failed", logx.Err(err))
		return fmt.Errorf("list agents: %w", err)
	}
	if len(agents) == 0 {
		j.log.Warn("no agents available, step skipped")
		return nil
	}

	batch := j.deps.Sampler.Sample(agents)
	posts := make([]storage.Post, 0, len(batch))
	for i, a := range batch {
		if ctx.Err() != nil {
			break
		}
		content := j.deps.Content.GenerateTweet(ctx, a)
		if content == "" {
			j.log.Warn("no content generated, halting batch",
				logx.String("agent", a.ID),
				logx.Int("index", i),
				logx.Int("skipped", len(batch)-i),
			)
			break
		}
		res := j.deps.Dispatch.Dispatch(ctx, a, content)
		j.log.Debug("agent dispatched", logx.String("agent", a.ID), logx.String("result", res.String()))
		posts = append(posts, storage.Post{At: j.deps.Now(), AgentID: a.ID, Content: content})
	}

	if len(posts) > 0 {
		// Dispatched posts are recorded even if the step was cancelled midway.
		if err := j.deps.Audit.AppendPosts(context.WithoutCancel(ctx), posts); err != nil {
			j.log.Error("audit append failed", logx.Int("posts", len(posts)), logx.Err(err))
			return engine.NoRetry(fmt.Errorf("append audit: %w", err))
		}
	}
	j.log.Info("step completed", logx.Int("sampled", len(batch)), logx.Int("posted", len(posts)))
	if err := ctx.Err(); err != nil {
		return engine.NoRetry(err)
	}
	return nil
}

// sleepCtx waits for d or ctx, reporting whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

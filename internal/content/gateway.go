package content

import (
	"context"
	"strings"

	"socialsim/internal/agent"
	logx "socialsim/pkg/logx"
)

const (
	// MaxFlattenedLen keeps the agent block inside small backend context windows.
	MaxFlattenedLen = 3050
	// DefaultMaxAttempts bounds GenerateTweet retries.
	DefaultMaxAttempts = 5
)

// Gateway composes prompts from templates and post-processes backend output.
type Gateway struct {
	backend     Backend
	templates   TemplateStore
	log         logx.Logger
	maxAttempts int
}

type Option func(*Gateway)

// WithMaxAttempts overrides the GenerateTweet attempt ceiling; n <= 0 keeps the default.
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func NewGateway(backend Backend, templates TemplateStore, log logx.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		backend:     backend,
		templates:   templates,
		log:         log.Component("content"),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// GenerateTweet returns a post for a, or "" once every attempt produced nothing usable.
// The template is loaded once; only the backend call is repeated.
func (g *Gateway) GenerateTweet(ctx context.Context, a agent.Agent) string {
	tmpl, err := g.templates.Load(TemplateGenerateTweet)
	if err != nil {
		g.log.Error("load template failed", logx.String("template", TemplateGenerateTweet), logx.Err(err))
		return ""
	}
	prompt := render(tmpl, strings.NewReplacer(placeholderAgent, truncateRunes(a.Flatten(), MaxFlattenedLen)))

	var raw string
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		out, err := g.backend.Generate(ctx, prompt)
		if err == nil && strings.TrimSpace(out) != "" {
			raw = out
			break
		}
		g.log.Debug("generation attempt produced no content",
			logx.String("agent", a.ID),
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", g.maxAttempts),
			logx.Err(err),
		)
	}
	if raw == "" {
		g.log.Warn("generation gave up", logx.String("agent", a.ID), logx.Int("attempts", g.maxAttempts))
		return ""
	}
	return strings.TrimSpace(Extract(raw))
}

// GenerateNextAction asks the backend what a should do next given history.
// It makes one call and returns the raw response, or "" on error.
func (g *Gateway) GenerateNextAction(ctx context.Context, a agent.Agent, history string) string {
	tmpl, err := g.templates.Load(TemplateGenerateNextAction)
	if err != nil {
		g.log.Error("load template failed", logx.String("template", TemplateGenerateNextAction), logx.Err(err))
		return ""
	}
	prompt := render(tmpl, strings.NewReplacer(
		placeholderAgent, truncateRunes(a.Flatten(), MaxFlattenedLen),
		placeholderHistory, history,
	))
	out, err := g.backend.Generate(ctx, prompt)
	if err != nil {
		g.log.Warn("next action generation failed", logx.String("agent", a.ID), logx.Err(err))
		return ""
	}
	return out
}

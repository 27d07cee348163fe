// Package content turns agent records into short social posts through a pluggable
// text-generation backend.
package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrEmptyResponse    = errors.New("backend returned an empty response")
	ErrTemplateNotFound = errors.New("template not found")
	ErrUnknownSource    = errors.New("unknown content source")
)

// Backend issues one prompt and returns the raw completion.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Source  string // "ollama" (default) or "openai"
	Host    string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// NewBackend builds the backend named by cfg.Source.
func NewBackend(cfg BackendConfig) (Backend, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "ollama":
		return NewOllama(cfg.Host, cfg.Model, hc)
	case "openai":
		return NewOpenAI(cfg.Host, cfg.Model, cfg.APIKey, hc), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source)
	}
}

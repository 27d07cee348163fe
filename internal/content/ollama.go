package content

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	olla "github.com/ollama/ollama/api"
)

const defaultOllamaHost = "http://localhost:11434"

// Ollama calls /api/generate with streaming disabled and returns the response field.
type Ollama struct {
	client *olla.Client
	model  string
}

func NewOllama(host, model string, hc *http.Client) (*Ollama, error) {
	if strings.TrimSpace(host) == "" {
		host = defaultOllamaHost
	}
	u, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Ollama{client: olla.NewClient(u, hc), model: model}, nil
}

func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	var out strings.Builder
	err := o.client.Generate(ctx, &olla.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &stream,
	}, func(resp olla.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", ErrEmptyResponse
	}
	return out.String(), nil
}

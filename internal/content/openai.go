package content

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint
// (vLLM, LocalAI, llama.cpp server, api.openai.com).
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI points the client at host; an empty host keeps the library default.
// host may be given with or without the /v1 suffix.
func NewOpenAI(host, model, apiKey string, hc *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if h := strings.TrimRight(strings.TrimSpace(host), "/"); h != "" {
		if !strings.HasSuffix(h, "/v1") {
			h += "/v1"
		}
		cfg.BaseURL = h
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Package openai talks to the OpenAI chat completions API and to servers that
// mimic it, such as vLLM.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/docanalyzer/internal/ai/transport"
	goopenai "github.com/sashabaranov/go-openai"
)

// Provider implements transport.ChatProvider with the go-openai client.
type Provider struct {
	name   string
	model  string
	client *goopenai.Client
}

// NewProvider creates a client. name is reported by Name so a vLLM deployment
// shows up as "vllm". apiKey may be empty for self-hosted servers.
func NewProvider(name, baseURL, apiKey, model string) *Provider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	}
	return &Provider{
		name:   name,
		model:  model,
		client: goopenai.NewClientWithConfig(cfg),
	}
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Chat(ctx context.Context, req transport.ChatRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: p.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: req.System},
			{Role: goopenai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", transport.ErrInvalidResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", transport.ErrInvalidResponse)
	}
	return content, nil
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return transport.ClassifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return transport.ClassifyStatus(reqErr.HTTPStatusCode, err)
	}
	return transport.ClassifyError(err)
}

var _ transport.ChatProvider = (*Provider)(nil)

package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/docanalyzer/internal/ai/transport"
	"github.com/kiranshivaraju/docanalyzer/internal/config"
	"github.com/ollama/ollama/api"
)

// Provider implements transport.ChatProvider with the Ollama API client.
type Provider struct {
	model  string
	client *api.Client
}

func NewProvider(cfg config.OllamaConfig) (*Provider, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing ollama base url: %w", err)
	}
	return &Provider{model: cfg.Model, client: api.NewClient(base, &http.Client{})}, nil
}

func (p *Provider) Name() string  { return "ollama" }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Chat(ctx context.Context, req transport.ChatRequest) (string, error) {
	stream := false
	chat := &api.ChatRequest{
		Model: p.model,
		Messages: []api.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Stream: &stream,
	}

	var b strings.Builder
	err := p.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return "", transport.ClassifyStatus(statusErr.StatusCode, err)
		}
		return "", transport.ClassifyError(err)
	}

	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", fmt.Errorf("%w: empty message", transport.ErrInvalidResponse)
	}
	return content, nil
}

var _ transport.ChatProvider = (*Provider)(nil)

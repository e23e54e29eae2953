package ai

import (
	"fmt"

	"github.com/kiranshivaraju/docanalyzer/internal/ai/anthropic"
	"github.com/kiranshivaraju/docanalyzer/internal/ai/ollama"
	"github.com/kiranshivaraju/docanalyzer/internal/ai/openai"
	"github.com/kiranshivaraju/docanalyzer/internal/ai/transport"
	"github.com/kiranshivaraju/docanalyzer/internal/config"
)

// NewProvider constructs the appropriate chat backend based on config.
func NewProvider(cfg config.AIConfig) (transport.ChatProvider, error) {
	switch cfg.Provider {
	case "ollama":
		p, err := ollama.NewProvider(cfg.Ollama)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "vllm":
		// vLLM serves the OpenAI-compatible API.
		return openai.NewProvider("vllm", cfg.VLLM.BaseURL, "", cfg.VLLM.Model), nil
	case "openai":
		return openai.NewProvider("openai", cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic", cfg.Provider)
	}
}

// New builds the analysis engine. Called once at startup.
func New(cfg config.AIConfig, maxChars int) (*Engine, error) {
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	return NewEngine(p, maxChars), nil
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/docanalyzer/internal/ai/transport"
	"github.com/kiranshivaraju/docanalyzer/internal/tracing"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

// ErrEmptyDocument means extraction produced no text to analyze.
var ErrEmptyDocument = errors.New("document contains no extractable text")

// Engine turns a document and a query into a report through one ChatProvider.
type Engine struct {
	provider transport.ChatProvider
	maxChars int
}

// NewEngine wraps provider. Document text beyond maxChars bytes is cut off;
// zero means no limit.
func NewEngine(provider transport.ChatProvider, maxChars int) *Engine {
	return &Engine{provider: provider, maxChars: maxChars}
}

func (e *Engine) Name() string { return e.provider.Name() }

func (e *Engine) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "ai.Analyze",
		attribute.String("ai.provider", e.provider.Name()),
		attribute.String("ai.model", e.provider.Model()))
	defer span.End()

	text := strings.TrimSpace(req.DocumentText)
	if text == "" {
		return "", ErrEmptyDocument
	}
	truncated := false
	if e.maxChars > 0 && len(text) > e.maxChars {
		text = truncateString(text, e.maxChars)
		truncated = true
	}

	start := time.Now()
	report, err := e.provider.Chat(ctx, transport.ChatRequest{
		System: systemPrompt,
		User:   buildUserPrompt(req.Query, req.Filename, text, truncated),
	})
	if err != nil {
		tracing.RecordError(span, err)
		return "", fmt.Errorf("%s analyze: %w", e.provider.Name(), err)
	}

	slog.Info("analysis completed",
		"provider", e.provider.Name(),
		"model", e.provider.Model(),
		"document_chars", len(text),
		"truncated", truncated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

var _ models.AnalysisEngine = (*Engine)(nil)

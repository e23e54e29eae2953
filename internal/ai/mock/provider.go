package mock

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/docanalyzer/internal/ai"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
)

// MockProvider satisfies models.AnalysisEngine for testing.
type MockProvider struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.AnalysisRequest) (string, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return "", nil
}

// NewMockProvider returns a MockProvider that echoes the query in a canned report.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, req models.AnalysisRequest) (string, error) {
			return fmt.Sprintf("Executive Summary: mock analysis of %s for %q (%d chars read)",
				req.Filename, req.Query, len(req.DocumentText)), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.AnalysisRequest) (string, error) {
			<-ctx.Done()
			return "", fmt.Errorf("%w: %v", ai.ErrInferenceTimeout, ctx.Err())
		},
	}
}

// Compile-time check that MockProvider implements AnalysisEngine.
var _ models.AnalysisEngine = (*MockProvider)(nil)

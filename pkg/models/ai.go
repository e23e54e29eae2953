// Package models contains shared data models used across the docanalyzer codebase.
package models

import "context"

// AnalysisEngine is the core interface that all AI integrations must implement.
// Never call specific AI providers directly. Always inject this interface.
type AnalysisEngine interface {
	// Analyze produces a report answering req.Query from req.DocumentText.
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// AnalysisRequest is the input to an AI analysis operation.
type AnalysisRequest struct {
	Query        string
	DocumentText string
	Filename     string
}

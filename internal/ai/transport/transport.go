// Package transport is the provider-neutral contract shared by the LLM
// provider adapters, plus the mapping of SDK failures onto sentinel errors.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for provider failures.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	// ErrRequestRejected is a 4xx other than 408/429: resending will not help.
	ErrRequestRejected = errors.New("ai provider rejected request")
)

// ChatRequest is one system+user exchange.
type ChatRequest struct {
	System string
	User   string
}

// ChatProvider is a single LLM backend.
type ChatProvider interface {
	Name() string
	Model() string
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ClassifyStatus maps an HTTP status reported by a provider SDK to a sentinel.
func ClassifyStatus(code int, err error) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d: %v", ErrInferenceTimeout, code, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d: %v", ErrProviderUnavailable, code, err)
	default:
		return fmt.Errorf("%w: status %d: %v", ErrRequestRejected, code, err)
	}
}

// ClassifyError maps errors that carry no HTTP status to sentinel errors.
func ClassifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: decoding response: %v", ErrInvalidResponse, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

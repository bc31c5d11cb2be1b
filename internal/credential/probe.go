package credential

import (
	"context"

	apperrors "credpool-go/internal/errors"
)

// ProbeResult is the structured outcome of one live validation call.
type ProbeResult struct {
	Valid   bool
	Message string
	// Kind classifies a failed probe. Empty when Valid.
	Kind apperrors.Kind
}

// Prober performs a minimal live call against a provider to confirm a
// credential is currently usable. Implementations must be idempotent and safe
// to call repeatedly, and must distinguish at minimum unauthorized,
// quota-exceeded, and transient failures.
type Prober interface {
	Probe(ctx context.Context, provider Provider, plaintext string, sub *SubConfig) ProbeResult
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, provider Provider, plaintext string, sub *SubConfig) ProbeResult

func (f ProberFunc) Probe(ctx context.Context, provider Provider, plaintext string, sub *SubConfig) ProbeResult {
	return f(ctx, provider, plaintext, sub)
}

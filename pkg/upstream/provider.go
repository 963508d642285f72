// Package upstream wraps the OpenAI-compatible inference endpoint the
// gateway protects. The gateway only sees it through the Provider
// interface; the admission gate and cache decide whether a call is made
// at all.
package upstream

import "context"

// Provider performs the expensive inference call. Implementations are
// expected to honor ctx cancellation; the gateway applies its timeout
// through the context.
type Provider interface {
	Analyze(ctx context.Context, model, content string) ([]byte, error)
}

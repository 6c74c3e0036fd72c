package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/empyre-fit/empyre/internal/metrics"
)

// Instrumented wraps an Engine with a per-call deadline, error
// classification and call metrics.
type Instrumented struct {
	Engine
	timeout time.Duration
}

// WithTimeout returns e bounded by d per Chat call. A zero d leaves the
// caller's deadline in charge.
func WithTimeout(e Engine, d time.Duration) *Instrumented {
	return &Instrumented{Engine: e, timeout: d}
}

func (i *Instrumented) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := i.Engine.Chat(ctx, model, messages, schema)
	err = classify(err)

	status := "ok"
	switch {
	case err == nil:
	case IsTransient(err):
		status = "transient"
	default:
		status = "error"
		err = fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	metrics.RecordLLMCall(i.Name(), status, time.Since(start))
	if err != nil {
		slog.Warn("llm call failed", "backend", i.Name(), "model", model, "status", status, "error", err)
	}
	return out, err
}

// Unwrap returns the wrapped engine.
func (i *Instrumented) Unwrap() Engine { return i.Engine }

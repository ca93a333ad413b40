package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrStageFailed means a stage exhausted its retries or kept returning
// schema-invalid output. The owning case moves to FAILED.
var ErrStageFailed = errors.New("stage failed")

// Backend produces structured JSON for one pipeline stage. The real
// implementation fronts an LLM; tests and offline simulation use Stub.
type Backend interface {
	Invoke(ctx context.Context, stage string, input any) (json.RawMessage, error)
}

// RetryConfig bounds the per-stage retry loop.
type RetryConfig struct {
	Attempts int           // default 5
	Backoff  time.Duration // base for exponential backoff, default 500ms
}

func (r RetryConfig) attempts() int {
	if r.Attempts <= 0 {
		return 5
	}
	return r.Attempts
}

func (r RetryConfig) backoff() time.Duration {
	if r.Backoff <= 0 {
		return 500 * time.Millisecond
	}
	return r.Backoff
}

// runStage invokes the backend for one stage, decodes the output into T and
// validates it, retrying with exponential backoff until the attempt budget
// is spent. Returns the typed output plus the raw JSON for persistence.
func runStage[T any, PT interface {
	*T
	Validate() error
}](ctx context.Context, b Backend, retry RetryConfig, stage string, input any) (*T, json.RawMessage, error) {
	var lastErr error
	attempts := retry.attempts()

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := retry.backoff() * (1 << (attempt - 1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		raw, err := b.Invoke(ctx, stage, input)
		if err != nil {
			lastErr = fmt.Errorf("invoke: %w", err)
			continue
		}
		out, err := parseJSON[T](raw)
		if err != nil {
			lastErr = fmt.Errorf("parse: %w", err)
			continue
		}
		if err := PT(out).Validate(); err != nil {
			lastErr = fmt.Errorf("validate: %w", err)
			continue
		}
		return out, raw, nil
	}

	return nil, nil, fmt.Errorf("stage %s after %d attempts: %v: %w", stage, attempts, lastErr, ErrStageFailed)
}

// parseJSON decodes raw JSON into a typed artifact.
func parseJSON[T any](data json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

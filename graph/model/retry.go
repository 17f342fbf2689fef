package model

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrInvalidRetryPolicy is returned by WithRetry for an unusable policy.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy defines automatic retry configuration for transient model
// failures such as rate limits and overloaded endpoints.
//
// The engine never retries a node. Nodes that want retries wrap their model
// with WithRetry, so a retried call stays inside one node execution and the
// session state sees a single result.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	// The delay is min(BaseDelay * 2^attempt, MaxDelay) + jitter(0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// If nil, all errors except context cancellation are retried.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries three times starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Validate checks the policy constraints:
//   - MaxAttempts must be >= 1
//   - if both are set, MaxDelay must be >= BaseDelay
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp RetryPolicy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if rp.Retryable == nil {
		return true
	}
	return rp.Retryable(err)
}

// WithRetry wraps m so failed calls are retried according to policy.
//
// Example:
//
//	m := model.WithRetry(anthropic.NewChatModel(key, ""), model.DefaultRetryPolicy())
func WithRetry(m ChatModel, policy RetryPolicy) (ChatModel, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &retryModel{
		next:   m,
		policy: policy,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter for retry timing, not security
	}, nil
}

type retryModel struct {
	next   ChatModel
	policy RetryPolicy

	mu  sync.Mutex
	rng *rand.Rand
}

func (r *retryModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return ChatOut{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := r.next.Chat(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !r.policy.retryable(err) {
			break
		}
	}
	return ChatOut{}, lastErr
}

func (r *retryModel) backoff(attempt int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return computeBackoff(attempt, r.policy.BaseDelay, r.policy.MaxDelay, r.rng)
}

// computeBackoff returns min(base * 2^attempt, maxDelay) + jitter(0, base).
//
// Example delays with base=1s, maxDelay=30s:
//   - attempt 0: 1-2s
//   - attempt 1: 2-3s
//   - attempt 2: 4-5s
//   - attempt 10: 30-31s (capped)
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}
	return delay + jitter
}

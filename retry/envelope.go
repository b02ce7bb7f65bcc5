// Package retry implements the bounded exponential-backoff retry envelope
// used by every fallible operation in chronikcache: indexer calls,
// subscription attaches, and durable-store operations.
package retry

import (
	"context"
	"strings"
	"time"

	cerrors "github.com/raipay/chronikcache/errors"
	"github.com/raipay/chronikcache/ulogger"
)

// Config configures an Envelope. A zero MaxRetries or RetryDelay falls
// back to the default (3 retries, 1500ms base delay); ExponentialBackoff
// is used as given, so it is off in a zero-value Config. DefaultConfig
// turns it on.
type Config struct {
	MaxRetries          int
	RetryDelay          time.Duration
	ExponentialBackoff  bool
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		RetryDelay:         1500 * time.Millisecond,
		ExponentialBackoff: true,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 1500 * time.Millisecond
	}
	return c
}

// Envelope wraps operations with the retry policy.
type Envelope struct {
	cfg    Config
	logger ulogger.Logger
}

// New builds a retry Envelope. logger may be nil, in which case the
// default ulogger (info level, stderr) is used.
func New(cfg Config, logger ulogger.Logger) *Envelope {
	if logger == nil {
		logger = ulogger.New("retry")
	}
	return &Envelope{cfg: cfg.withDefaults(), logger: logger}
}

// Execute runs op up to cfg.MaxRetries times, sleeping
// retryDelay*2^(attempt-1) between attempts when exponential backoff is
// enabled. It surfaces the last error after exhaustion. Retries never
// alter semantics: only the outermost attempt of op is retried.
func (e *Envelope) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == e.cfg.MaxRetries {
			break
		}

		delay := backoffDelay(e.cfg.RetryDelay, attempt, e.cfg.ExponentialBackoff)
		e.logger.Warnf("attempt %d/%d failed, retrying in %s: %v", attempt, e.cfg.MaxRetries, delay, lastErr)
		if err := sleepFunc(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// HandleWebSocketOperation wraps a subscription-transport call, logging
// ECONNREFUSED/ECONNRESET distinctly before re-raising.
func (e *Envelope) HandleWebSocketOperation(ctx context.Context, subject string, op func(ctx context.Context) error) error {
	err := e.Execute(ctx, op)
	if err == nil {
		return nil
	}

	msg := err.Error()
	if containsAny(msg, "ECONNREFUSED", "ECONNRESET") {
		e.logger.Errorf("websocket operation for subject %s failed with connection error: %v", subject, err)
	}
	return cerrors.Wrap(cerrors.Transport, err, "websocket operation for subject %s", subject)
}

// HandleDbOperation wraps a durable-store call. A NotFound error is
// converted to a nil error; every other error is re-raised.
func (e *Envelope) HandleDbOperation(ctx context.Context, op func(ctx context.Context) error) error {
	err := e.Execute(ctx, op)
	if err == nil {
		return nil
	}
	if cerrors.Is(err, cerrors.NotFound) {
		return nil
	}
	return err
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

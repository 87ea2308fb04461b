package llm

import (
	"context"
	"fmt"
	"io"
	"time"

	"screentest-backend/pkg/logger"
)

// Provider is one upstream text-generation service. Implementations return
// *TransportError for every upstream failure.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// RetryConfig bounds how the Client retries transient failures.
type RetryConfig struct {
	MaxAttempts int           // total attempts, first call included
	BaseDelay   time.Duration // delay after the first failure, doubled each attempt
	MaxDelay    time.Duration // cap on any single delay
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client is the completion client: a Provider guarded by a backoff policy. It knows
// nothing about the content of the response.
type Client struct {
	provider Provider
	retry    RetryConfig
	sleep    Sleeper
}

type ClientOption func(*Client)

// WithSleeper replaces the wait between attempts. Tests use it to record delays.
func WithSleeper(s Sleeper) ClientOption {
	return func(c *Client) {
		c.sleep = s
	}
}

func NewClient(provider Provider, retry RetryConfig, opts ...ClientOption) *Client {
	defaults := DefaultRetryConfig()
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaults.MaxAttempts
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = defaults.BaseDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = defaults.MaxDelay
	}
	if retry.MaxDelay < retry.BaseDelay {
		retry.MaxDelay = retry.BaseDelay
	}
	c := &Client{
		provider: provider,
		retry:    retry,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Close releases the provider's connections when it holds any.
func (c *Client) Close() error {
	if closer, ok := c.provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Complete calls the provider, retrying transient failures up to MaxAttempts times with
// non-decreasing delays. Fatal failures are returned immediately.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var lastDelay time.Duration

	for attempt := 1; ; attempt++ {
		text, err := c.provider.Complete(ctx, req)
		if err == nil {
			if attempt > 1 {
				logger.Infof("completion succeeded on attempt %d/%d (%s)", attempt, c.retry.MaxAttempts, c.provider.Name())
			}
			return text, nil
		}

		te := classify(c.provider.Name(), 0, err)
		te.Attempts = attempt

		if !ShouldRetry(te) {
			logger.Warnf("completion failed with %s error, not retrying: %v", te.Class, te.Err)
			return "", te
		}

		delay := c.retry.Backoff(attempt)
		if te.RetryAfter > delay && te.RetryAfter <= c.retry.MaxDelay {
			delay = te.RetryAfter
		}
		if delay < lastDelay {
			delay = lastDelay
		}

		if attempt >= c.retry.MaxAttempts {
			te.RetryAfter = delay
			logger.Warnf("completion gave up after %d attempts (%s): %v", attempt, c.provider.Name(), te.Err)
			return "", te
		}

		logger.WithFields(map[string]interface{}{
			"provider": c.provider.Name(),
			"attempt":  attempt,
			"delay":    delay.String(),
		}).Warnf("transient completion failure, retrying: %v", te.Err)

		if err := c.sleep(ctx, delay); err != nil {
			return "", &TransportError{
				Class:    ClassFatal,
				Provider: c.provider.Name(),
				Attempts: attempt,
				Err:      fmt.Errorf("retry wait aborted: %w", err),
			}
		}
		lastDelay = delay
	}
}

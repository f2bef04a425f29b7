package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig controls backoff for HTTP providers. Zero fields take the
// defaults.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   30 * time.Second,
	Jitter:     0.2,
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultRetryConfig.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

type requestFn func() (*http.Response, error)

// doWithRetry retries 429, 5xx and transient network errors. The final
// response is returned as is so callers can report its status.
func doWithRetry(ctx context.Context, cfg RetryConfig, fn requestFn) (*http.Response, error) {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := fn()
		if err == nil {
			if !shouldRetryStatus(resp.StatusCode) || attempt == cfg.MaxRetries {
				return resp, nil
			}
			resp.Body.Close()
			lastErr = errors.New(resp.Status)
			if err := sleepContext(ctx, retryDelay(cfg, attempt, resp)); err != nil {
				return nil, err
			}
			continue
		}

		if !shouldRetryError(err) || attempt == cfg.MaxRetries {
			return nil, err
		}
		lastErr = err
		if err := sleepContext(ctx, retryDelay(cfg, attempt, nil)); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func shouldRetryError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary")
}

func retryDelay(cfg RetryConfig, attempt int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if ra, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return ra
		}
	}

	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	jitter := 1 + ((rand.Float64()*2 - 1) * cfg.Jitter)
	if jitter < 0 {
		jitter = 0
	}
	return time.Duration(float64(d) * jitter)
}

// parseRetryAfter accepts delta-seconds or an HTTP date. "0" is a valid
// instruction to retry immediately.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

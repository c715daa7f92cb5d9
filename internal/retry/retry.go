// Package retry provides a backoff/retry utility. ASR reconnection is its
// only caller; the translation queue and the persistence store do not use
// it.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy names a retry classification. Callers pick the policy matching
// the failure they observed; Backoff and MaxAttempts differ per policy.
type Policy int

const (
	// Transient covers network/socket errors: ASR reconnect (§4.1) and
	// LLM "transport" failures (§4.5).
	Transient Policy = iota
	// RateLimited covers provider rate-limit responses (§4.5, §7).
	RateLimited
)

// Config controls one Policy's backoff shape.
type Config struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
	Jitter      float64 // fraction, e.g. 0.2 for ±20%
	Cap         time.Duration
}

// Defaults returns the spec-mandated configuration for a policy. Transient
// mirrors the ASR reconnect policy (§4.1: N=5, base 500ms, factor 2,
// jitter ±20%, cap 8s). RateLimited mirrors the LLM transient-error policy
// (§4.5/§7: up to 2 retries).
func Defaults(p Policy) Config {
	switch p {
	case RateLimited:
		return Config{MaxAttempts: 3, Base: 500 * time.Millisecond, Factor: 2, Jitter: 0.2, Cap: 8 * time.Second}
	default:
		return Config{MaxAttempts: 5, Base: 500 * time.Millisecond, Factor: 2, Jitter: 0.2, Cap: 8 * time.Second}
	}
}

// Delay computes the backoff awaited after failed attempt n (1-indexed:
// the delay awaited before the 2nd attempt is Delay(cfg, 1)).
func Delay(cfg Config, attempt int) time.Duration {
	d := float64(cfg.Base) * pow(cfg.Factor, float64(attempt-1))
	if capMs := float64(cfg.Cap); cfg.Cap > 0 && d > capMs {
		d = capMs
	}
	if cfg.Jitter > 0 {
		delta := d * cfg.Jitter
		d += (rand.Float64()*2 - 1) * delta
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// Do runs fn, retrying per cfg on error until MaxAttempts is exhausted or
// ctx is cancelled. fn's returned error is passed to shouldRetry to decide
// whether another attempt is warranted; a nil shouldRetry retries every
// error. Returns the last error on exhaustion.
func Do(ctx context.Context, cfg Config, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(Delay(cfg, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

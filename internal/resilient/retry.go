// Package resilient wraps filesystem calls with retry, backoff and
// cancellation semantics, and aggregates the outcomes so a traversal can
// report every retried or skipped path after the fact.
package resilient

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"syscall"
	"time"
)

// Class partitions errors into retryable and non-retryable.
type Class int

const (
	// ClassTransient errors (timeouts, temporary locks, descriptor
	// exhaustion) are worth retrying with backoff.
	ClassTransient Class = iota
	// ClassPermanent errors (not found, permission denied, wrong type)
	// will not heal on their own and are never retried.
	ClassPermanent
)

// Config tunes the retry loop.
type Config struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // backoff before the second attempt
	MaxDelay     time.Duration // backoff ceiling
	Jitter       bool          // randomize each delay by U(0.5, 1.5)

	// OnRetry, if set, is invoked before each backoff wait with the
	// 1-based attempt number that just failed and its error.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns retry settings suitable for local filesystems.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Jitter:       true,
	}
}

// transient lists error codes that indicate a condition expected to clear
// shortly. Everything else is treated as permanent so unknown failures are
// not retried uselessly.
var transient = []error{
	syscall.EAGAIN,
	syscall.EBUSY,
	syscall.EINTR,
	syscall.ETIMEDOUT,
	syscall.EMFILE,
	syscall.ENFILE,
	os.ErrDeadlineExceeded,
}

// Classify decides whether an error is worth retrying.
func Classify(err error) Class {
	for _, t := range transient {
		if errors.Is(err, t) {
			return ClassTransient
		}
	}
	return ClassPermanent
}

// codeNames maps the errnos this package cares about to stable short codes
// for telemetry.
var codeNames = map[syscall.Errno]string{
	syscall.EAGAIN:    "EAGAIN",
	syscall.EBUSY:     "EBUSY",
	syscall.EINTR:     "EINTR",
	syscall.ETIMEDOUT: "ETIMEDOUT",
	syscall.EMFILE:    "EMFILE",
	syscall.ENFILE:    "ENFILE",
	syscall.ENOENT:    "ENOENT",
	syscall.EACCES:    "EACCES",
	syscall.EPERM:     "EPERM",
	syscall.ENOTDIR:   "ENOTDIR",
	syscall.EISDIR:    "EISDIR",
	syscall.EINVAL:    "EINVAL",
	syscall.ELOOP:     "ELOOP",
}

// Code reduces an error to a short, stable identifier for telemetry.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name, ok := codeNames[errno]; ok {
			return name
		}
		return errno.Error()
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "ENOENT"
	case errors.Is(err, os.ErrPermission):
		return "EACCES"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELED"
	}
	return "UNKNOWN"
}

// Do runs op, retrying transient failures with exponential backoff until it
// succeeds, the attempt budget is exhausted, or ctx is canceled. The
// context is checked before every attempt and races against every backoff
// wait, so cancellation never sits out a full window. The final underlying
// error is returned when retries are exhausted; permanent errors fail
// immediately.
func Do(ctx context.Context, cfg Config, op func() error) error {
	_, err := DoValue(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if Classify(err) == ClassPermanent || attempt == cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}
	return zero, lastErr
}

// backoff computes the wait after the given 1-based failed attempt:
// InitialDelay * 2^(attempt-1), capped at MaxDelay, optionally jittered to
// avoid thundering-herd retries across many concurrently failing paths.
func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.InitialDelay << (attempt - 1)
	if cfg.MaxDelay > 0 && (d <= 0 || d > cfg.MaxDelay) {
		d = cfg.MaxDelay
	}
	if cfg.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	return d
}

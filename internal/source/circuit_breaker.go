// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package source

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/dubhq/dubsync/internal/logging"
	"github.com/dubhq/dubsync/internal/metrics"
)

// breaker wraps vendor API calls with a circuit breaker so a failing vendor
// cannot keep the sync loop burning retries against a dead endpoint.
//
// The breaker uses real time for its interval and timeout bookkeeping. The
// timing controls recovery, not data integrity; unit tests exercise the
// wrapped client directly.
type breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// newBreaker builds a breaker for the named source.
// Opens after a 60% failure rate over at least 10 requests; waits 2 minutes
// before probing, allowing 3 requests in half-open state.
func newBreaker(name string) *breaker {
	cbName := name + "-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().Str("source", name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			// Permanent errors are the caller's fault, not vendor
			// unavailability; they must not trip the breaker.
			return err == nil || errors.Is(err, ErrPermanent)
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			fromStr := breakerStateString(from)
			toStr := breakerStateString(to)
			logging.Info().Str("source", name).Str("from", fromStr).Str("to", toStr).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(cbName).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(cbName, fromStr, toStr).Inc()
		},
	})

	return &breaker{cb: cb, name: cbName}
}

// execute runs fn under breaker protection and records the outcome.
func (b *breaker) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerEventSource decorates an EventSource with circuit breaker
// protection.
type BreakerEventSource struct {
	inner EventSource
	b     *breaker
}

// WithEventBreaker wraps src in a circuit breaker named after the source.
func WithEventBreaker(src EventSource) *BreakerEventSource {
	return &BreakerEventSource{inner: src, b: newBreaker(src.Name())}
}

// Name implements EventSource.
func (s *BreakerEventSource) Name() string { return s.inner.Name() }

// Ping implements EventSource.
func (s *BreakerEventSource) Ping(ctx context.Context) error {
	_, err := s.b.execute(func() (any, error) {
		return nil, s.inner.Ping(ctx)
	})
	return err
}

// FetchEvents implements EventSource.
func (s *BreakerEventSource) FetchEvents(ctx context.Context, q EventQuery) (*EventPage, error) {
	result, err := s.b.execute(func() (any, error) {
		return s.inner.FetchEvents(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return result.(*EventPage), nil
}

// BreakerPropertySource decorates a PropertySource with circuit breaker
// protection.
type BreakerPropertySource struct {
	inner PropertySource
	b     *breaker
}

// WithPropertyBreaker wraps src in a circuit breaker named after the source.
func WithPropertyBreaker(src PropertySource) *BreakerPropertySource {
	return &BreakerPropertySource{inner: src, b: newBreaker(src.Name())}
}

// Name implements PropertySource.
func (s *BreakerPropertySource) Name() string { return s.inner.Name() }

// Ping implements PropertySource.
func (s *BreakerPropertySource) Ping(ctx context.Context) error {
	_, err := s.b.execute(func() (any, error) {
		return nil, s.inner.Ping(ctx)
	})
	return err
}

// FetchProperties implements PropertySource.
func (s *BreakerPropertySource) FetchProperties(ctx context.Context, since time.Time, cursor string, pageSize int) (*PropertyPage, error) {
	result, err := s.b.execute(func() (any, error) {
		return s.inner.FetchProperties(ctx, since, cursor, pageSize)
	})
	if err != nil {
		return nil, err
	}
	return result.(*PropertyPage), nil
}

package catalogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hls-player/internal/media"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerSettings configures BreakerResolver.
type BreakerSettings struct {
	// ConsecutiveFailures opens the circuit (default 5).
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before a trial call (default 30s).
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial calls allowed while half-open (default 1).
	HalfOpenRequests uint32
}

// BreakerResolver protects a Resolver with a circuit breaker so a dead
// catalogue service fails fast instead of stalling every initialization.
// ErrNotFound answers count as successful calls.
type BreakerResolver struct {
	next Resolver
	cb   *gobreaker.CircuitBreaker[*media.Catalogue]
}

// NewBreakerResolver wraps next.
func NewBreakerResolver(next Resolver, st BreakerSettings, log *slog.Logger) *BreakerResolver {
	if log == nil {
		log = slog.Default()
	}
	if st.ConsecutiveFailures == 0 {
		st.ConsecutiveFailures = 5
	}
	if st.OpenTimeout <= 0 {
		st.OpenTimeout = 30 * time.Second
	}
	if st.HalfOpenRequests == 0 {
		st.HalfOpenRequests = 1
	}

	cb := gobreaker.NewCircuitBreaker[*media.Catalogue](gobreaker.Settings{
		Name:        "catalogue",
		MaxRequests: st.HalfOpenRequests,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("catalogue circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerResolver{next: next, cb: cb}
}

// Resolve implements Resolver.
func (b *BreakerResolver) Resolve(ctx context.Context, source media.SourceID) (*media.Catalogue, error) {
	cat, err := b.cb.Execute(func() (*media.Catalogue, error) {
		return b.next.Resolve(ctx, source)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return cat, err
}

// State reports the breaker state ("closed", "half-open", "open").
func (b *BreakerResolver) State() string {
	return b.cb.State().String()
}

package events

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

// Publisher is the transport contract satisfied by every publisher in this package.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// ErrBreakerOpen is returned while the breaker rejects calls.
var ErrBreakerOpen = errors.New("events: publisher circuit open")

// BreakerSettings tunes BreakerPublisher.
type BreakerSettings struct {
	Name        string
	Failures    uint32
	OpenTimeout time.Duration
	Interval    time.Duration
	Logger      *zap.Logger
}

// BreakerPublisher fails fast once the downstream transport has failed Failures times in a row, so a
// dead broker does not add its timeout to every committed order.
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerPublisher wraps next with a circuit breaker.
func NewBreakerPublisher(next Publisher, settings BreakerSettings) *BreakerPublisher {
	if settings.Name == "" {
		settings.Name = "events"
	}
	if settings.Failures == 0 {
		settings.Failures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	logger := settings.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	failures := settings.Failures
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("events: publisher breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &BreakerPublisher{next: next, cb: cb}
}

// Publish forwards to the wrapped publisher unless the breaker is open.
func (p *BreakerPublisher) Publish(ctx context.Context, event domain.Event) error {
	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.Publish(ctx, event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}

// State reports the breaker state for health output.
func (p *BreakerPublisher) State() string {
	return p.cb.State().String()
}

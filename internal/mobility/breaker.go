package mobility

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/urbanease-realtime/internal/logging"
)

// ErrStoreUnavailable is returned while the breaker is open.
var ErrStoreUnavailable = errors.New("mobility store unavailable")

type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// BreakerStore guards a Store with a circuit breaker so a database outage
// fails requests fast instead of piling them up on the pool.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerStore(next Store, cfg BreakerConfig) *BreakerStore {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "mobility-store",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// a missing vehicle or a cancelled request says nothing about the database
			return err == nil ||
				errors.Is(err, ErrVehicleNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

// State reports the breaker state for health output.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

func guarded[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrStoreUnavailable
		}
		return zero, err
	}
	return out.(T), nil
}

func (b *BreakerStore) UpsertVehicle(ctx context.Context, v Vehicle) (*Vehicle, error) {
	return guarded(b, func() (*Vehicle, error) { return b.next.UpsertVehicle(ctx, v) })
}

func (b *BreakerStore) UpdateVehicleLocation(ctx context.Context, vehicleID string, upd LocationUpdate) (*Vehicle, error) {
	return guarded(b, func() (*Vehicle, error) { return b.next.UpdateVehicleLocation(ctx, vehicleID, upd) })
}

func (b *BreakerStore) ListActiveVehicles(ctx context.Context, routeID string) ([]Vehicle, error) {
	return guarded(b, func() ([]Vehicle, error) { return b.next.ListActiveVehicles(ctx, routeID) })
}

func (b *BreakerStore) CreateIncident(ctx context.Context, inc TrafficIncident) (*TrafficIncident, error) {
	return guarded(b, func() (*TrafficIncident, error) { return b.next.CreateIncident(ctx, inc) })
}

func (b *BreakerStore) RecentTraffic(ctx context.Context, limit int) ([]TrafficIncident, error) {
	return guarded(b, func() ([]TrafficIncident, error) { return b.next.RecentTraffic(ctx, limit) })
}

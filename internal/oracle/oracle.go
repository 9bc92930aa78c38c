// Package oracle supplies the bounded, freshness-checked exchange rate.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrStaleRate   = errors.New("oracle: stale rate")
	ErrOutOfBounds = errors.New("oracle: rate out of bounds")
	ErrNoRate      = errors.New("oracle: no rate published")
	ErrOutOfOrder  = errors.New("oracle: out-of-order rate")
)

// PriceOracle returns reference units per synth unit on math.RateConfig.
type PriceOracle interface {
	GetRate(ctx context.Context) (int64, error)
}

// Bounds rejects implausible feed values before they reach the vault.
type Bounds struct {
	MinRate int64
	MaxRate int64
	MaxAge  time.Duration
}

// FeedOracle holds the latest rate pushed by a feed (NATS, tests).
// Updates must arrive with strictly increasing sequence numbers.
type FeedOracle struct {
	mu       sync.RWMutex
	pair     string
	bounds   Bounds
	rate     int64
	updated  time.Time
	sequence int64
	now      func() time.Time

	outOfOrder int64
}

func NewFeedOracle(pair string, bounds Bounds) *FeedOracle {
	return &FeedOracle{pair: pair, bounds: bounds, now: time.Now}
}

// SetNowFunc replaces the clock used for staleness checks.
func (o *FeedOracle) SetNowFunc(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

func (o *FeedOracle) Pair() string { return o.pair }

// Update publishes a new rate. Stale or replayed sequences are rejected.
func (o *FeedOracle) Update(rate int64, publishedAt time.Time, sequence int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if sequence <= o.sequence {
		o.outOfOrder++
		return fmt.Errorf("%w: pair=%s, last=%d, got=%d", ErrOutOfOrder, o.pair, o.sequence, sequence)
	}
	if rate <= 0 {
		return fmt.Errorf("%w: rate %d", ErrOutOfBounds, rate)
	}

	o.rate = rate
	o.updated = publishedAt
	o.sequence = sequence
	return nil
}

// GetRate returns the last rate if it is fresh and inside bounds.
func (o *FeedOracle) GetRate(ctx context.Context) (int64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.sequence == 0 {
		return 0, ErrNoRate
	}
	if o.bounds.MaxAge > 0 && o.now().Sub(o.updated) > o.bounds.MaxAge {
		return 0, fmt.Errorf("%w: %s last updated %s", ErrStaleRate, o.pair, o.updated.Format(time.RFC3339))
	}
	if (o.bounds.MinRate > 0 && o.rate < o.bounds.MinRate) || (o.bounds.MaxRate > 0 && o.rate > o.bounds.MaxRate) {
		return 0, fmt.Errorf("%w: %s rate %d outside [%d, %d]", ErrOutOfBounds, o.pair, o.rate, o.bounds.MinRate, o.bounds.MaxRate)
	}
	return o.rate, nil
}

// LastSequence returns the sequence of the last accepted update.
func (o *FeedOracle) LastSequence() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sequence
}

// OutOfOrder returns how many updates were rejected for ordering.
func (o *FeedOracle) OutOfOrder() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.outOfOrder
}

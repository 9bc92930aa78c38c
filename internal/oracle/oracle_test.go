package oracle_test

import (
	"SynthVault/internal/math"
	"SynthVault/internal/oracle"
	"context"
	"errors"
	"testing"
	"time"
)

func newTestOracle(now *time.Time) *oracle.FeedOracle {
	o := oracle.NewFeedOracle("GBPUSD", oracle.Bounds{
		MinRate: math.Rate("1.00"),
		MaxRate: math.Rate("2.00"),
		MaxAge:  time.Hour,
	})
	o.SetNowFunc(func() time.Time { return *now })
	return o
}

func TestFeedOracle_FreshRate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o := newTestOracle(&now)

	if _, err := o.GetRate(context.Background()); !errors.Is(err, oracle.ErrNoRate) {
		t.Fatalf("expected ErrNoRate before first update, got %v", err)
	}

	if err := o.Update(math.Rate("1.30"), now, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	rate, err := o.GetRate(context.Background())
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if rate != math.Rate("1.30") {
		t.Errorf("got %d, want %d", rate, math.Rate("1.30"))
	}
}

func TestFeedOracle_Stale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o := newTestOracle(&now)
	o.Update(math.Rate("1.30"), now, 1)

	now = now.Add(61 * time.Minute)
	if _, err := o.GetRate(context.Background()); !errors.Is(err, oracle.ErrStaleRate) {
		t.Errorf("expected ErrStaleRate, got %v", err)
	}
}

func TestFeedOracle_OutOfBounds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o := newTestOracle(&now)
	o.Update(math.Rate("2.50"), now, 1)

	if _, err := o.GetRate(context.Background()); !errors.Is(err, oracle.ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestFeedOracle_RejectsOutOfOrder(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o := newTestOracle(&now)

	if err := o.Update(math.Rate("1.30"), now, 5); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := o.Update(math.Rate("1.40"), now, 5); err == nil {
		t.Error("expected replayed sequence to be rejected")
	}
	if err := o.Update(math.Rate("1.40"), now, 4); err == nil {
		t.Error("expected older sequence to be rejected")
	}
	if o.OutOfOrder() != 2 {
		t.Errorf("out-of-order count: got %d, want 2", o.OutOfOrder())
	}
	rate, _ := o.GetRate(context.Background())
	if rate != math.Rate("1.30") {
		t.Errorf("rate should be unchanged, got %d", rate)
	}
}

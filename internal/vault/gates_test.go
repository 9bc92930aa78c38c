package vault_test

import (
	"SynthVault/internal/math"
	"SynthVault/internal/vault"
	"SynthVault/internal/vaulterr"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fridayEvening = time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)
	saturdayNoon  = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	mondayNoon    = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
)

func TestFXCalendar(t *testing.T) {
	cal := vault.FXCalendar
	tests := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"monday midnight", time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), true},
		{"wednesday noon", wednesdayNoon, true},
		{"friday just before close", time.Date(2026, 10, 16, 20, 59, 59, 0, time.UTC), true},
		{"friday close", time.Date(2026, 10, 16, 21, 0, 0, 0, time.UTC), false},
		{"saturday", saturdayNoon, false},
		{"sunday before open", time.Date(2026, 10, 18, 20, 59, 59, 0, time.UTC), false},
		{"sunday open", time.Date(2026, 10, 18, 21, 0, 0, 0, time.UTC), true},
		{"monday noon", mondayNoon, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, cal.IsOpen(tt.at))
		})
	}
}

func TestFXCalendar_PreClosure(t *testing.T) {
	cal := vault.FXCalendar

	assert.False(t, cal.InPreClosure(time.Date(2026, 10, 16, 18, 59, 0, 0, time.UTC)))
	assert.True(t, cal.InPreClosure(time.Date(2026, 10, 16, 19, 0, 0, 0, time.UTC)))
	assert.True(t, cal.InPreClosure(fridayEvening))
	assert.False(t, cal.InPreClosure(saturdayNoon), "closed is not pre-closure")

	assert.Equal(t, time.Hour, cal.UntilClose(fridayEvening))
	assert.Equal(t, 2*24*time.Hour+9*time.Hour, cal.UntilClose(wednesdayNoon))
	assert.Equal(t, time.Duration(0), cal.UntilClose(saturdayNoon))
}

func TestMarketCalendar_WrapsPastMonday(t *testing.T) {
	cal := vault.MarketCalendar{
		Enabled:  true,
		ClosesAt: 6*24*3600 + 22*3600, // Sunday 22:00
		OpensAt:  2 * 3600,            // Monday 02:00
	}
	assert.False(t, cal.IsOpen(time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)))
	assert.False(t, cal.IsOpen(time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)))
	assert.True(t, cal.IsOpen(time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)))
	assert.True(t, cal.IsOpen(saturdayNoon))

	off := vault.MarketCalendar{}
	assert.True(t, off.IsOpen(saturdayNoon))
	assert.False(t, off.InPreClosure(fridayEvening))
}

func TestGates_ClosedMarketBlocksEveryOperation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	minted := h.mustMint(t, alice, "1000")
	h.hedge.SetPnL(-math.Amount("120"))

	h.clock.Set(saturdayNoon)
	h.asset.Credit(bob.ID, math.Amount("100"))

	_, err := h.engine.Mint(ctx, bob, math.Amount("100"), 0)
	assert.ErrorIs(t, err, vaulterr.ErrMarketClosed)
	_, err = h.engine.Redeem(ctx, alice, minted.Issued)
	assert.ErrorIs(t, err, vaulterr.ErrMarketClosed)
	_, err = h.engine.HarvestYield(ctx, bob)
	assert.ErrorIs(t, err, vaulterr.ErrMarketClosed)
	_, err = h.engine.Rebalance(ctx, bob, 0, false)
	assert.ErrorIs(t, err, vaulterr.ErrMarketClosed)

	h.hedge.SetPnL(0)
	h.clock.Set(mondayNoon)
	_, err = h.engine.Mint(ctx, bob, math.Amount("100"), 0)
	assert.NoError(t, err)
}

func TestGates_PreClosureRequiresHigherHealth(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	minted := h.mustMint(t, alice, "1000")

	h.hedge.SetPnL(-math.Amount("30")) // 85%, fine mid-week
	h.clock.Set(fridayEvening)
	h.asset.Credit(bob.ID, math.Amount("200"))

	_, err := h.engine.Mint(ctx, bob, math.Amount("100"), 0)
	require.ErrorIs(t, err, vaulterr.ErrUnsafeClosure)
	assert.ErrorIs(t, err, vaulterr.ErrSafety)
	_, err = h.engine.Redeem(ctx, alice, math.Amount("100"))
	assert.ErrorIs(t, err, vaulterr.ErrUnsafeClosure)
	_, err = h.engine.HarvestYield(ctx, bob)
	assert.ErrorIs(t, err, vaulterr.ErrUnsafeClosure)
	_, err = h.engine.Rebalance(ctx, ownerActor, 0, true)
	assert.ErrorIs(t, err, vaulterr.ErrUnsafeClosure)

	h.hedge.SetPnL(-math.Amount("10")) // 95%
	_, err = h.engine.Mint(ctx, bob, math.Amount("100"), 0)
	assert.NoError(t, err)
	_, err = h.engine.Redeem(ctx, alice, minted.Issued)
	assert.NoError(t, err)
}

func TestGates_LossBreakerReadsVenueCollateral(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")

	// Funding drains collateral between operations: 60 of 120 is a 50% loss,
	// over the 40% limit, while 60 of the 200 last seen would pass.
	h.hedge.ChargeFunding(math.Amount("80"))
	h.hedge.SetPnL(-math.Amount("60"))
	h.clock.Advance(time.Hour)
	h.asset.Credit(bob.ID, math.Amount("100"))

	_, err := h.engine.Mint(ctx, bob, math.Amount("100"), 0)
	assert.ErrorIs(t, err, vaulterr.ErrLossBreaker)
}

func TestGates_UnreadablePositionFailsUnverified(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	minted := h.mustMint(t, alice, "1000")
	h.clock.Advance(time.Hour)
	h.asset.Credit(bob.ID, math.Amount("100"))

	h.hedge.SetReadError(errors.New("venue unreachable"))
	_, err := h.engine.Mint(ctx, bob, math.Amount("100"), 0)
	assert.ErrorIs(t, err, vaulterr.ErrUnverified)
	_, err = h.engine.Redeem(ctx, alice, minted.Issued)
	assert.ErrorIs(t, err, vaulterr.ErrUnverified)
	_, err = h.engine.HarvestYield(ctx, bob)
	assert.ErrorIs(t, err, vaulterr.ErrUnverified)

	h.hedge.SetReadError(nil)
	_, err = h.engine.Mint(ctx, bob, math.Amount("100"), 0)
	assert.NoError(t, err)
}

func TestGates_PauseBlocksRebalance(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")
	h.hedge.SetPnL(-math.Amount("120"))

	require.NoError(t, h.engine.Pause(ctx, ownerActor))
	_, err := h.engine.Rebalance(ctx, bob, 0, false)
	assert.ErrorIs(t, err, vaulterr.ErrPaused)

	require.NoError(t, h.engine.Unpause(ctx, ownerActor))
	_, err = h.engine.Rebalance(ctx, bob, 0, false)
	assert.NoError(t, err)
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, vault.DefaultParams().Validate())

	p := vault.DefaultParams()
	p.RebalanceTriggerBps = 9_500
	assert.Error(t, p.Validate(), "trigger above the force ceiling")

	p = vault.DefaultParams()
	p.MinDeposit = 0
	assert.Error(t, p.Validate())

	p = vault.DefaultParams()
	p.Calendar.ClosesAt = p.Calendar.OpensAt
	assert.Error(t, p.Validate())

	assert.Error(t, vault.ValidateAllocation(vault.AllocationSplit{LendingBps: 10_000}))
	assert.NoError(t, vault.ValidateLeverage(100_000, 1_000))
	assert.Error(t, vault.ValidateLeverage(100_001, 1_000))
}

func TestRebalanceState_Transitions(t *testing.T) {
	assert.True(t, vault.RebalanceHealthy.CanTransitionTo(vault.RebalanceNeeded))
	assert.True(t, vault.RebalanceNeeded.CanTransitionTo(vault.RebalanceExecuting))
	assert.True(t, vault.RebalanceExecuting.CanTransitionTo(vault.RebalanceHealthy))
	assert.False(t, vault.RebalanceExecuting.CanTransitionTo(vault.RebalanceNeeded))
}

package vault_test

import (
	"SynthVault/internal/math"
	"SynthVault/internal/vault"
	"SynthVault/internal/vaulterr"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarvest_DonatesNetYield(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")
	h.drain()

	h.lending.Accrue(math.Amount("10"))
	h.hedge.ChargeFunding(math.Amount("2"))

	res, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)

	assert.Equal(t, math.Amount("10"), res.LendingGain)
	assert.Equal(t, math.Amount("2"), res.MarginCost)
	assert.Equal(t, math.Amount("8"), res.Net)
	assert.Equal(t, math.Amount("2"), res.ToppedUp)
	assert.Equal(t, math.Amount("6.153846"), res.Donated)
	assert.False(t, res.Accumulated)
	assert.False(t, res.Deficit)

	assert.Equal(t, math.Amount("200"), h.hedgeCollateral(t), "margin restored")
	assert.Equal(t, math.Amount("6.153846"), h.balance(t, wrapAddr))
	assert.Equal(t, math.Amount("6.153846"), h.wrap.TotalAssets())

	st := h.engine.State()
	assert.Equal(t, math.Amount("807.7"), st.LendingPrincipal)
	assert.Equal(t, wednesdayNoon, st.Harvest.LastHarvest)
	assert.Equal(t, int64(0), st.Harvest.Accumulated)

	events := h.drain()
	require.NotEmpty(t, events)
	assert.Equal(t, vault.EventHarvested, events[0].Type)
	assert.Equal(t, math.Amount("8"), events[0].Amount)

	report, err := h.engine.Backing(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Covered())
}

func TestHarvest_HedgePnLIsNotYield(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")

	h.hedge.SetPnL(math.Amount("50"))
	h.lending.Accrue(math.Amount("3"))

	res, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, math.Amount("3"), res.Net)
}

func TestHarvest_AccumulatesBelowMinimum(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")
	h.drain()

	h.lending.Accrue(math.Amount("0.5"))
	res, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)
	assert.True(t, res.Accumulated)
	assert.Equal(t, int64(0), res.Donated)
	assert.Equal(t, math.Amount("0.5"), h.engine.State().Harvest.Accumulated)
	assert.True(t, h.engine.State().Harvest.LastHarvest.IsZero(), "nothing distributed yet")
	assert.Equal(t, wednesdayNoon, h.engine.State().Harvest.LastAttempt)

	h.lending.Accrue(math.Amount("0.6"))
	_, err = h.engine.HarvestYield(context.Background(), bob)
	assert.ErrorIs(t, err, vaulterr.ErrHarvestTooSoon, "an accumulating attempt starts the interval")

	events := h.drain()
	require.Len(t, events, 1)
	assert.Equal(t, vault.EventYieldAccumulated, events[0].Type)

	h.clock.Advance(12 * time.Hour)
	h.setRate(startRate)
	res, err = h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)
	assert.False(t, res.Accumulated)
	assert.Equal(t, math.Amount("0.6"), res.LendingGain)
	assert.Equal(t, math.Amount("1.1"), res.Net)
	assert.Equal(t, math.Amount("0.846153"), res.Donated)
	assert.Equal(t, int64(0), h.engine.State().Harvest.Accumulated)
}

func TestHarvest_TooSoon(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")

	h.lending.Accrue(math.Amount("5"))
	_, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	h.lending.Accrue(math.Amount("5"))
	_, err = h.engine.HarvestYield(context.Background(), bob)
	assert.ErrorIs(t, err, vaulterr.ErrHarvestTooSoon)

	h.clock.Advance(11 * time.Hour)
	res, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, math.Amount("5"), res.Net)
}

func TestHarvest_DeficitDaysSignalManualIntervention(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")
	h.drain()

	for day := 1; day <= 3; day++ {
		h.hedge.ChargeFunding(math.Amount("5"))
		res, err := h.engine.HarvestYield(context.Background(), bob)
		require.NoError(t, err, "day %d", day)

		assert.True(t, res.Deficit)
		assert.Equal(t, math.Amount("5"), res.Borrowed)
		assert.Equal(t, int32(day), res.DeficitDays)
		assert.Equal(t, math.Amount("200"), h.hedgeCollateral(t), "reserve restored margin")

		sigs := signals(h.drain())
		assert.Contains(t, sigs, vault.SignalMarginDeficit)
		if day < 3 {
			assert.NotContains(t, sigs, vault.SignalManualIntervention)
		} else {
			assert.Contains(t, sigs, vault.SignalManualIntervention)
		}
		h.clock.Advance(24 * time.Hour)
	}

	st := h.engine.State()
	assert.Equal(t, math.Amount("15"), st.BorrowedYield)
	assert.Equal(t, math.Amount("799.7"), st.LendingPrincipal, "borrowed yield is not user backing")
}

func TestHarvest_ImmediateRetryAfterDeficitIsTooSoon(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")

	h.hedge.ChargeFunding(math.Amount("5"))
	res, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)
	require.Equal(t, int32(1), res.DeficitDays)

	_, err = h.engine.HarvestYield(context.Background(), bob)
	assert.ErrorIs(t, err, vaulterr.ErrHarvestTooSoon)
	assert.Equal(t, int32(1), h.engine.State().Harvest.DeficitDays)
	assert.Equal(t, wednesdayNoon, h.engine.State().Harvest.LastAttempt)
}

func TestHarvest_ZeroNetDoesNotClearDeficitRun(t *testing.T) {
	h := newTestHarness(t, withParams(func(p *vault.Params) { p.MinHarvestInterval = time.Hour }))
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")
	h.drain()

	for day := 1; day <= 3; day++ {
		h.hedge.ChargeFunding(math.Amount("5"))
		res, err := h.engine.HarvestYield(context.Background(), bob)
		require.NoError(t, err, "day %d", day)
		require.True(t, res.Deficit)
		assert.Equal(t, int32(day), res.DeficitDays)

		// Margin was restored, so the follow-up sees neither gain nor cost.
		h.clock.Advance(time.Hour)
		res, err = h.engine.HarvestYield(context.Background(), bob)
		require.NoError(t, err, "day %d retry", day)
		assert.True(t, res.Accumulated)
		assert.Equal(t, int64(0), res.Net)
		assert.Equal(t, int32(day), res.DeficitDays, "break-even does not clear the run")

		sigs := signals(h.drain())
		if day < 3 {
			assert.NotContains(t, sigs, vault.SignalManualIntervention)
		} else {
			assert.Contains(t, sigs, vault.SignalManualIntervention)
		}
		h.clock.Advance(23 * time.Hour)
	}
}

func TestHarvest_DeficitRunSpansSkippedDays(t *testing.T) {
	h := newTestHarness(t, withParams(func(p *vault.Params) { p.MinHarvestInterval = time.Hour }))
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")
	h.drain()

	h.hedge.ChargeFunding(math.Amount("1"))
	res, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)
	require.Equal(t, int32(1), res.DeficitDays)

	// Nobody harvested on Thursday; the deficit carried on into Friday.
	h.clock.Set(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	h.setRate(startRate)
	h.hedge.ChargeFunding(math.Amount("1"))
	res, err = h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, int32(3), res.DeficitDays)
	assert.Contains(t, signals(h.drain()), vault.SignalManualIntervention)

	h.clock.Advance(2 * time.Hour)
	h.setRate(startRate)
	h.lending.Accrue(math.Amount("20"))
	res, err = h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)
	assert.False(t, res.Deficit)
	assert.Equal(t, int32(0), res.DeficitDays, "yield above cost clears the run")
}

func TestHarvest_DeficitUsesPartialYieldBeforeBorrowing(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")
	lendingBefore := h.lendingAssets(t)

	h.lending.Accrue(math.Amount("4"))
	h.hedge.ChargeFunding(math.Amount("5"))
	res, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)

	assert.True(t, res.Deficit)
	assert.Equal(t, -math.Amount("1"), res.Net)
	assert.Equal(t, math.Amount("1"), res.Borrowed, "reserve lends only the shortfall")
	assert.Equal(t, math.Amount("5"), res.ToppedUp)
	assert.Equal(t, math.Amount("200"), h.hedgeCollateral(t))
	assert.Equal(t, lendingBefore-math.Amount("1"), h.lendingAssets(t), "the gain went to margin")

	st := h.engine.State()
	assert.Equal(t, math.Amount("1"), st.BorrowedYield)
	assert.Equal(t, math.Amount("799.7"), st.LendingPrincipal)
	assert.Equal(t, h.lendingAssets(t), st.Harvest.LastLendingBalance)
	assert.Equal(t, math.Amount("200"), st.Harvest.LastHedgeCollateral)
}

func TestHarvest_BorrowLimitedByCap(t *testing.T) {
	h := newTestHarness(t, withReserveCap("2"))
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")

	h.hedge.ChargeFunding(math.Amount("5"))
	res, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)

	assert.True(t, res.Deficit)
	assert.Equal(t, math.Amount("2"), res.Borrowed)
	assert.Equal(t, math.Amount("197"), h.hedgeCollateral(t))
}

func TestHarvest_FlagsRebalanceNeeded(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")
	h.drain()

	h.hedge.SetPnL(-math.Amount("120"))
	h.lending.Accrue(math.Amount("0.1"))
	_, err := h.engine.HarvestYield(context.Background(), bob)
	require.NoError(t, err)

	assert.Equal(t, vault.RebalanceNeeded, h.engine.State().Rebalance)
	assert.Contains(t, signals(h.drain()), vault.SignalRebalanceNeeded)
}

func TestHarvest_ClosedMarket(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")

	h.clock.Set(saturdayNoon)
	_, err := h.engine.HarvestYield(context.Background(), bob)
	assert.ErrorIs(t, err, vaulterr.ErrMarketClosed)
}

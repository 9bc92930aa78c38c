package position_test

import (
	"SynthVault/internal/math"
	"SynthVault/internal/position"
	"SynthVault/internal/vaulterr"
	"SynthVault/internal/venue"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const market = "GBPUSD"

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, hv venue.HedgeVenue) (*position.Manager, *time.Time) {
	t.Helper()
	now := t0
	m, err := position.NewManager(market, "vault", "primary", hv, position.DefaultParams, zerolog.Nop())
	require.NoError(t, err)
	m.SetNowFunc(func() time.Time { return now })
	return m, &now
}

// slippingHedge books an instant loss on every increase, like a venue
// filling at a worse price than quoted.
type slippingHedge struct {
	*venue.MemoryHedge
	lossOnIncrease int64
}

func (h *slippingHedge) IncreasePosition(ctx context.Context, mkt string, collateral, notional int64, isLong bool) error {
	if err := h.MemoryHedge.IncreasePosition(ctx, mkt, collateral, notional, isLong); err != nil {
		return err
	}
	pnl, _ := h.PositionPnL(ctx, mkt, "vault")
	h.SetPnL(pnl - h.lossOnIncrease)
	return nil
}

// ============================================================================
// Test: Health factor
// ============================================================================

func TestComputeHealthFactor(t *testing.T) {
	assert.Equal(t, position.NeutralHealth, position.ComputeHealthFactor(0, 0, 0), "flat is neutral")
	assert.Equal(t, int64(10_000), position.ComputeHealthFactor(100, 20, 0))
	assert.Equal(t, int64(5_500), position.ComputeHealthFactor(100, 20, -9))
	assert.Equal(t, int64(0), position.ComputeHealthFactor(100, 20, -20), "zero value")
	assert.Equal(t, int64(0), position.ComputeHealthFactor(100, 20, -25), "underwater")
	assert.Equal(t, int64(0), position.ComputeHealthFactor(100, 0, 5), "no collateral never divides")
}

func TestComputeLossBps(t *testing.T) {
	assert.Equal(t, int64(4_500), position.ComputeLossBps(math.Amount("20"), -math.Amount("9")))
	assert.Equal(t, int64(0), position.ComputeLossBps(math.Amount("20"), math.Amount("3")))
}

func TestHealthFactor_NoPositionIsNeutral(t *testing.T) {
	m, _ := newTestManager(t, venue.NewMemoryHedge(market, "vault", 0))
	h, err := m.HealthFactor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.NeutralHealth, h)
	assert.Equal(t, position.StatusFlat, m.Status())
}

// ============================================================================
// Test: Increase
// ============================================================================

func TestIncrease_ResyncsFromVenue(t *testing.T) {
	ctx := context.Background()
	hv := venue.NewMemoryHedge(market, "vault", 3)
	m, _ := newTestManager(t, hv)

	fill, err := m.Increase(ctx, math.Amount("100"), math.Amount("20.03"), t0.Add(time.Minute))
	require.NoError(t, err)

	// The venue took its fee; the manager reports what the venue holds.
	assert.Equal(t, math.Amount("20"), fill.CollateralDelta)
	assert.Equal(t, math.Amount("100"), fill.NotionalDelta)
	assert.Equal(t, math.Amount("20"), m.Collateral())
	assert.Equal(t, position.StatusHealthy, m.Status())
}

func TestIncrease_RejectsOverLeverage(t *testing.T) {
	m, _ := newTestManager(t, venue.NewMemoryHedge(market, "vault", 0))
	_, err := m.Increase(context.Background(), math.Amount("100"), math.Amount("9.99"), time.Time{})
	assert.ErrorIs(t, err, vaulterr.ErrOverLeveraged)
	assert.Equal(t, int64(0), m.Notional())
}

func TestIncrease_RejectsNotionalCap(t *testing.T) {
	m, _ := newTestManager(t, venue.NewMemoryHedge(market, "vault", 0))
	limit := position.DefaultParams.MaxNotional
	_, err := m.Increase(context.Background(), limit+1, limit, time.Time{})
	assert.ErrorIs(t, err, vaulterr.ErrNotionalCap)
}

func TestIncrease_RejectsExpiredDeadline(t *testing.T) {
	m, now := newTestManager(t, venue.NewMemoryHedge(market, "vault", 0))
	deadline := *now
	*now = now.Add(time.Second)
	_, err := m.Increase(context.Background(), math.Amount("100"), math.Amount("20"), deadline)
	assert.ErrorIs(t, err, vaulterr.ErrDeadlineExpired)
}

func TestIncrease_CollateralRescueNeverLowersHealth(t *testing.T) {
	ctx := context.Background()
	hv := venue.NewMemoryHedge(market, "vault", 0)
	m, _ := newTestManager(t, hv)
	_, err := m.Increase(ctx, math.Amount("100"), math.Amount("20"), time.Time{})
	require.NoError(t, err)

	// 85% loss puts health at 15%, below both thresholds.
	hv.SetPnL(-math.Amount("17"))
	before, err := m.HealthFactor(ctx)
	require.NoError(t, err)
	require.Less(t, before, position.DefaultParams.CriticalHealthBps)

	fill, err := m.AddCollateral(ctx, math.Amount("5"))
	require.NoError(t, err, "a rescue must not be blocked by the check it satisfies")
	assert.GreaterOrEqual(t, fill.HealthAfter, fill.HealthBefore)
	assert.Equal(t, math.Amount("25"), m.Collateral())
}

func TestIncrease_WorseningBelowCriticalUnwinds(t *testing.T) {
	ctx := context.Background()
	hv := &slippingHedge{MemoryHedge: venue.NewMemoryHedge(market, "vault", 0)}
	m, _ := newTestManager(t, hv)
	_, err := m.Increase(ctx, math.Amount("100"), math.Amount("20"), time.Time{})
	require.NoError(t, err)

	hv.SetPnL(-math.Amount("12")) // health 40%
	hv.lossOnIncrease = math.Amount("15")

	_, err = m.Increase(ctx, math.Amount("50"), math.Amount("10"), time.Time{})
	require.ErrorIs(t, err, vaulterr.ErrNearLiquidation)
	assert.ErrorIs(t, err, vaulterr.ErrSafety)

	// The increase was reversed on the venue.
	assert.Equal(t, math.Amount("100"), m.Notional())
}

// ============================================================================
// Test: Decrease and close
// ============================================================================

func TestDecrease_ProportionalSlice(t *testing.T) {
	ctx := context.Background()
	hv := venue.NewMemoryHedge(market, "vault", 0)
	m, _ := newTestManager(t, hv)
	m.Increase(ctx, math.Amount("100"), math.Amount("20"), time.Time{})
	hv.SetPnL(math.Amount("4"))

	out, err := m.Decrease(ctx, math.RatioScale/4, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, math.Amount("6"), out)
	assert.Equal(t, math.Amount("75"), m.Notional())
	assert.Equal(t, math.Amount("15"), m.Collateral())
}

func TestDecrease_InsufficientReturn(t *testing.T) {
	ctx := context.Background()
	hv := venue.NewMemoryHedge(market, "vault", 0)
	m, _ := newTestManager(t, hv)
	m.Increase(ctx, math.Amount("100"), math.Amount("20"), time.Time{})
	hv.SetSlippage(200)

	out, err := m.Decrease(ctx, math.RatioScale/2, time.Time{})
	require.ErrorIs(t, err, vaulterr.ErrInsufficientReturn)
	assert.ErrorIs(t, err, vaulterr.ErrExternal)
	assert.Equal(t, math.Amount("9.8"), out, "payout is reported even on failure")
}

func TestEmergencyClose_ZeroesLocalStateFirst(t *testing.T) {
	ctx := context.Background()
	hv := venue.NewMemoryHedge(market, "vault", 0)
	m, _ := newTestManager(t, hv)
	m.Increase(ctx, math.Amount("100"), math.Amount("20"), time.Time{})

	hv.FailNext(errors.New("venue down"))
	_, err := m.EmergencyClose(ctx)
	require.ErrorIs(t, err, vaulterr.ErrVenue)
	assert.Equal(t, int64(0), m.Notional())
	assert.Equal(t, int64(0), m.Collateral())

	out, err := m.EmergencyClose(ctx)
	require.NoError(t, err)
	assert.Equal(t, math.Amount("20"), out)
}

// ============================================================================
// Test: Venue swap governance
// ============================================================================

func TestVenueSwap_TimelockAndFlatPosition(t *testing.T) {
	ctx := context.Background()
	primary := venue.NewMemoryHedge(market, "vault", 0)
	backup := venue.NewMemoryHedge(market, "vault", 0)
	m, now := newTestManager(t, primary)

	_, err := m.ProposeVenue("backup")
	require.ErrorIs(t, err, vaulterr.ErrInvalidParameter)

	m.RegisterVenue("backup", backup)
	_, err = m.ProposeVenue("backup")
	require.NoError(t, err)

	_, err = m.ExecuteVenue(ctx)
	require.ErrorIs(t, err, vaulterr.ErrTimelockActive)

	*now = now.Add(position.DefaultVenueDelay)
	m.Increase(ctx, math.Amount("100"), math.Amount("20"), time.Time{})
	_, err = m.ExecuteVenue(ctx)
	require.ErrorIs(t, err, vaulterr.ErrPositionOpen)

	_, err = m.CloseAll(ctx)
	require.NoError(t, err)
	id, err := m.ExecuteVenue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backup", id)
	assert.Equal(t, "backup", m.VenueID())
}

func TestVenueSwap_CooldownBlocksCycling(t *testing.T) {
	m, now := newTestManager(t, venue.NewMemoryHedge(market, "vault", 0))
	m.RegisterVenue("backup", venue.NewMemoryHedge(market, "vault", 0))

	_, err := m.ProposeVenue("backup")
	require.NoError(t, err)
	require.NoError(t, m.CancelVenue())

	*now = now.Add(time.Hour)
	_, err = m.ProposeVenue("backup")
	assert.ErrorIs(t, err, vaulterr.ErrProposalCooldown)
}

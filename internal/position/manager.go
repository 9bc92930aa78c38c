// Package position owns the hedge position: sizing, health accounting and
// the timelocked swap of the hedge venue.
package position

import (
	"SynthVault/internal/governance"
	"SynthVault/internal/math"
	"SynthVault/internal/vaulterr"
	"SynthVault/internal/venue"
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultVenueDelay    = 24 * time.Hour
	DefaultVenueCooldown = 12 * time.Hour
)

// Fill is the effect of an increase as reported back by the venue.
type Fill struct {
	NotionalDelta   int64
	CollateralDelta int64
	HealthBefore    int64
	HealthAfter     int64
}

// Manager tracks one long hedge position on the active venue.
// Local figures are a cache of the venue's records and are resynced after
// every state-changing call. Not safe for concurrent use; the vault engine
// serializes access.
type Manager struct {
	market  string
	account string
	params  Params

	venueID string
	venue   venue.HedgeVenue
	venues  map[string]venue.HedgeVenue

	notional   int64
	collateral int64
	status     Status

	venueLock *governance.Timelock[string]
	now       func() time.Time
	logger    zerolog.Logger
}

func NewManager(market, account, venueID string, hv venue.HedgeVenue, params Params, logger zerolog.Logger) (*Manager, error) {
	if err := ValidateParams(params); err != nil {
		return nil, vaulterr.New("position.new", vaulterr.ErrInvalidParameter, "%v", err)
	}
	return &Manager{
		market:    market,
		account:   account,
		params:    params,
		venueID:   venueID,
		venue:     hv,
		venues:    map[string]venue.HedgeVenue{venueID: hv},
		venueLock: governance.NewTimelock[string](governance.KindHedgeVenue, DefaultVenueDelay, DefaultVenueCooldown),
		now:       time.Now,
		logger:    logger,
	}, nil
}

// SetNowFunc replaces the clock used for deadlines and the venue timelock.
func (m *Manager) SetNowFunc(now func() time.Time) { m.now = now }

// SetVenueTimelock overrides the venue-swap delay and cooldown.
func (m *Manager) SetVenueTimelock(delay, cooldown time.Duration) {
	m.venueLock = governance.NewTimelock[string](governance.KindHedgeVenue, delay, cooldown)
}

// RegisterVenue makes a venue available as a swap target.
func (m *Manager) RegisterVenue(id string, hv venue.HedgeVenue) {
	m.venues[id] = hv
}

func (m *Manager) Market() string { return m.market }
func (m *Manager) VenueID() string { return m.venueID }
func (m *Manager) Notional() int64 { return m.notional }

// Collateral is the venue-reported collateral as of the last resync.
func (m *Manager) Collateral() int64 { return m.collateral }
func (m *Manager) Status() Status { return m.status }
func (m *Manager) Params() Params { return m.params }

// Resync reloads size and collateral from the venue.
func (m *Manager) Resync(ctx context.Context) error {
	size, err := m.venue.PositionSize(ctx, m.market, m.account)
	if err != nil {
		return vaulterr.Wrap("position.resync", vaulterr.ErrUnverified, err)
	}
	collateral, err := m.venue.PositionCollateral(ctx, m.market, m.account)
	if err != nil {
		return vaulterr.Wrap("position.resync", vaulterr.ErrUnverified, err)
	}
	m.notional = size
	m.collateral = collateral
	return nil
}

// UnrealizedPnL is queried from the venue, never stored.
func (m *Manager) UnrealizedPnL(ctx context.Context) (int64, error) {
	if m.notional == 0 {
		return 0, nil
	}
	pnl, err := m.venue.PositionPnL(ctx, m.market, m.account)
	if err != nil {
		return 0, vaulterr.Wrap("position.pnl", vaulterr.ErrVenue, err)
	}
	return pnl, nil
}

// HealthFactor returns (collateral + uPnL) / collateral in bps.
func (m *Manager) HealthFactor(ctx context.Context) (int64, error) {
	pnl, err := m.UnrealizedPnL(ctx)
	if err != nil {
		return 0, err
	}
	health := ComputeHealthFactor(m.notional, m.collateral, pnl)
	m.status = m.params.ClassifyHealth(m.notional, health)
	return health, nil
}

// LossBps returns the unrealized loss as a share of collateral.
func (m *Manager) LossBps(ctx context.Context) (int64, error) {
	pnl, err := m.UnrealizedPnL(ctx)
	if err != nil {
		return 0, err
	}
	return ComputeLossBps(m.collateral, pnl), nil
}

// Value is collateral plus unrealized PnL, floored at zero.
func (m *Manager) Value(ctx context.Context) (int64, error) {
	pnl, err := m.UnrealizedPnL(ctx)
	if err != nil {
		return 0, err
	}
	if v := m.collateral + pnl; v > 0 {
		return v, nil
	}
	return 0, nil
}

// Increase adds notional and collateral to the position.
//
// The call is refused when it would worsen health below the critical
// threshold. It is allowed when health is low but not worse than before, so
// a caller adding collateral to a weak position is never blocked.
func (m *Manager) Increase(ctx context.Context, notional, collateral int64, deadline time.Time) (Fill, error) {
	const op = "position.increase"

	if !deadline.IsZero() && m.now().After(deadline) {
		return Fill{}, vaulterr.New(op, vaulterr.ErrDeadlineExpired, "deadline %s passed", deadline.Format(time.RFC3339))
	}
	if collateral <= 0 || notional < 0 {
		return Fill{}, vaulterr.New(op, vaulterr.ErrZeroAmount, "collateral %d notional %d", collateral, notional)
	}
	if notional > 0 && collateral < math.BpsOf(notional, m.params.MinCollateralRatioBps, math.RoundUp) {
		return Fill{}, vaulterr.New(op, vaulterr.ErrOverLeveraged,
			"collateral %d below %d bps of notional %d", collateral, m.params.MinCollateralRatioBps, notional)
	}
	if m.notional+notional > m.params.MaxNotional {
		return Fill{}, vaulterr.New(op, vaulterr.ErrNotionalCap,
			"notional %d + %d exceeds cap %d", m.notional, notional, m.params.MaxNotional)
	}

	before, err := m.HealthFactor(ctx)
	if err != nil {
		return Fill{}, err
	}
	prevNotional, prevCollateral := m.notional, m.collateral

	if err := m.venue.IncreasePosition(ctx, m.market, collateral, notional, true); err != nil {
		return Fill{}, vaulterr.Wrap(op, vaulterr.ErrVenue, err)
	}
	if err := m.Resync(ctx); err != nil {
		return Fill{}, err
	}

	fill := Fill{
		NotionalDelta:   m.notional - prevNotional,
		CollateralDelta: m.collateral - prevCollateral,
		HealthBefore:    before,
	}
	if notional > 0 && fill.NotionalDelta <= 0 {
		return fill, vaulterr.New(op, vaulterr.ErrUnverified,
			"venue size %d unchanged after increase of %d", m.notional, notional)
	}

	after, err := m.HealthFactor(ctx)
	if err != nil {
		return fill, err
	}
	fill.HealthAfter = after

	if after < before && after < m.params.CriticalHealthBps {
		m.logger.Warn().
			Int64("health_before", before).
			Int64("health_after", after).
			Msg("increase worsened health below critical, unwinding")
		if _, uerr := m.unwind(ctx, fill); uerr != nil {
			m.logger.Error().Err(uerr).Msg("unwind after rejected increase failed")
		}
		return fill, vaulterr.New(op, vaulterr.ErrNearLiquidation,
			"health %d -> %d below critical %d", before, after, m.params.CriticalHealthBps)
	}

	m.logger.Debug().
		Int64("notional_delta", fill.NotionalDelta).
		Int64("collateral_delta", fill.CollateralDelta).
		Int64("health", after).
		Msg("position increased")
	return fill, nil
}

// AddCollateral tops up margin without changing notional.
func (m *Manager) AddCollateral(ctx context.Context, amount int64) (Fill, error) {
	return m.Increase(ctx, 0, amount, time.Time{})
}

// Decrease closes shareRatio (on math.RatioScale) of the position and
// returns what the venue paid out. A payout below MinReturnBps of the
// expected collateral plus PnL slice fails with ErrInsufficientReturn; the
// payout is still returned so the caller can account for it.
func (m *Manager) Decrease(ctx context.Context, shareRatio int64, deadline time.Time) (int64, error) {
	const op = "position.decrease"

	if !deadline.IsZero() && m.now().After(deadline) {
		return 0, vaulterr.New(op, vaulterr.ErrDeadlineExpired, "deadline %s passed", deadline.Format(time.RFC3339))
	}
	if shareRatio <= 0 || shareRatio > math.RatioScale {
		return 0, vaulterr.New(op, vaulterr.ErrInvalidParameter, "share ratio %d", shareRatio)
	}
	if m.notional == 0 && m.collateral == 0 {
		return 0, nil
	}

	pnl, err := m.UnrealizedPnL(ctx)
	if err != nil {
		return 0, err
	}

	notionalDelta, collateralDelta := m.notional, m.collateral
	if shareRatio < math.RatioScale {
		notionalDelta = math.MulDiv(m.notional, shareRatio, math.RatioScale, math.RoundDown)
		collateralDelta = math.MulDiv(m.collateral, shareRatio, math.RatioScale, math.RoundDown)
	}
	var pnlSlice int64
	if m.notional > 0 {
		pnlSlice = math.MulDiv(pnl, notionalDelta, m.notional, math.RoundDown)
	}
	expected := collateralDelta + pnlSlice

	out, err := m.venue.DecreasePosition(ctx, m.market, collateralDelta, notionalDelta, true)
	if err != nil {
		return 0, vaulterr.Wrap(op, vaulterr.ErrVenue, err)
	}
	if err := m.Resync(ctx); err != nil {
		return out, err
	}
	if _, err := m.HealthFactor(ctx); err != nil {
		return out, err
	}

	if expected > 0 && out < math.BpsOf(expected, m.params.MinReturnBps, math.RoundUp) {
		return out, vaulterr.New(op, vaulterr.ErrInsufficientReturn,
			"venue paid %d, expected at least %d bps of %d", out, m.params.MinReturnBps, expected)
	}
	return out, nil
}

// CloseAll closes the whole position.
func (m *Manager) CloseAll(ctx context.Context) (int64, error) {
	return m.Decrease(ctx, math.RatioScale, time.Time{})
}

// EmergencyClose zeroes the local position before asking the venue to close
// it, so nothing observing the manager mid-call sees a live position.
func (m *Manager) EmergencyClose(ctx context.Context) (int64, error) {
	const op = "position.emergency_close"

	if err := m.Resync(ctx); err != nil {
		return 0, err
	}
	notional, collateral := m.notional, m.collateral
	m.notional, m.collateral, m.status = 0, 0, StatusFlat
	if notional == 0 && collateral == 0 {
		return 0, nil
	}

	m.logger.Warn().Int64("notional", notional).Int64("collateral", collateral).Msg("emergency close")
	out, err := m.venue.DecreasePosition(ctx, m.market, collateral, notional, true)
	if err != nil {
		return 0, vaulterr.Wrap(op, vaulterr.ErrVenue, err)
	}
	return out, nil
}

// unwind reverses an increase that was rejected after the venue applied it.
func (m *Manager) unwind(ctx context.Context, fill Fill) (int64, error) {
	if fill.NotionalDelta <= 0 && fill.CollateralDelta <= 0 {
		return 0, nil
	}
	out, err := m.venue.DecreasePosition(ctx, m.market, max(fill.CollateralDelta, 0), max(fill.NotionalDelta, 0), true)
	if err != nil {
		return 0, vaulterr.Wrap("position.unwind", vaulterr.ErrVenue, err)
	}
	return out, m.Resync(ctx)
}

// Unwind reverses a fill on behalf of a caller compensating a failed
// operation. It returns the venue payout.
func (m *Manager) Unwind(ctx context.Context, fill Fill) (int64, error) {
	return m.unwind(ctx, fill)
}

package vault

import (
	"SynthVault/internal/math"
	"SynthVault/internal/position"
	"SynthVault/internal/vaulterr"
	"context"
)

// BackingReport compares venue-held value with issued synth value.
type BackingReport struct {
	LendingAssets int64 `json:"lending_assets"`
	HedgeValue    int64 `json:"hedge_value"`
	Supply        int64 `json:"supply"`
	Rate          int64 `json:"rate"`
	SupplyValue   int64 `json:"supply_value"`
	RatioBps      int64 `json:"ratio_bps"`
}

// Covered reports whether backing is at least 100%.
func (r BackingReport) Covered() bool {
	return r.LendingAssets+r.HedgeValue >= r.SupplyValue
}

// Backing reads both venues and the token and reports the backing ratio.
// With no supply the ratio is reported as 100%.
func (e *Engine) Backing(ctx context.Context) (BackingReport, error) {
	if ctx.Value(engineKey{}) == e {
		return BackingReport{}, vaulterr.New("backing", vaulterr.ErrReentrantCall, "engine re-entered from a collaborator")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backing(ctx)
}

func (e *Engine) backing(ctx context.Context) (BackingReport, error) {
	const op = "backing"
	lending, err := e.lending.TotalAssets(ctx)
	if err != nil {
		return BackingReport{}, vaulterr.Wrap(op, vaulterr.ErrVenue, err)
	}
	hedge, err := e.position.Value(ctx)
	if err != nil {
		return BackingReport{}, err
	}
	supply, err := e.token.TotalSupply(ctx)
	if err != nil {
		return BackingReport{}, vaulterr.Wrap(op, vaulterr.ErrExternal, err)
	}
	rate, err := e.rate(ctx, op)
	if err != nil {
		return BackingReport{}, err
	}

	r := BackingReport{
		LendingAssets: lending,
		HedgeValue:    hedge,
		Supply:        supply,
		Rate:          rate,
		SupplyValue:   math.ToReference(supply, rate, math.RoundUp),
		RatioBps:      math.BpsScale,
	}
	if r.SupplyValue > 0 {
		r.RatioBps = math.MulDiv(lending+hedge, math.BpsScale, r.SupplyValue, math.RoundDown)
	}
	return r, nil
}

// StateView is a read-only copy of the vault's bookkeeping.
type StateView struct {
	State
	ReserveBalance     int64           `json:"reserve_balance"`
	ReserveFloor       int64           `json:"reserve_floor"`
	BorrowedYield      int64           `json:"borrowed_yield"`
	OpeningFeesPaid    int64           `json:"opening_fees_paid"`
	RedemptionFees     int64           `json:"redemption_fees"`
	HedgeVenue         string          `json:"hedge_venue"`
	HedgeNotional      int64           `json:"hedge_notional"`
	HedgeCollateral    int64           `json:"hedge_collateral"`
	HedgeStatus        position.Status `json:"hedge_status"`
	Sequence           int64           `json:"sequence"`
	RebalanceStateName string          `json:"rebalance_state"`
}

// State returns a copy of the vault state with reserve and position figures
// as of the last operation.
func (e *Engine) State() StateView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StateView{
		State:              e.state.clone(),
		ReserveBalance:     e.reserve.Balance(),
		ReserveFloor:       e.reserve.Floor(),
		BorrowedYield:      e.reserve.BorrowedYield(),
		OpeningFeesPaid:    e.reserve.TotalOpeningFeesPaid(),
		RedemptionFees:     e.reserve.TotalRedemptionFees(),
		HedgeVenue:         e.position.VenueID(),
		HedgeNotional:      e.position.Notional(),
		HedgeCollateral:    e.position.Collateral(),
		HedgeStatus:        e.position.Status(),
		Sequence:           e.sequence,
		RebalanceStateName: e.state.Rebalance.String(),
	}
}

// observe refreshes the state gauges after a committed operation.
func (e *Engine) observe(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	e.metrics.ReserveBalance.Set(float64(e.reserve.Balance()))
	e.metrics.LendingPrincipal.Set(float64(e.state.LendingPrincipal))
	if health, err := e.position.HealthFactor(ctx); err == nil {
		e.metrics.HealthFactorBps.Set(float64(health))
	}
	if r, err := e.backing(ctx); err == nil {
		e.metrics.BackingRatioBps.Set(float64(r.RatioBps))
		e.metrics.SynthSupply.Set(float64(r.Supply))
	}
}

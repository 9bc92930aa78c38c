package vault

import (
	"SynthVault/internal/math"
	"SynthVault/internal/vaulterr"
	"context"
	"fmt"
)

// RebalanceResult describes a committed rebalance.
type RebalanceResult struct {
	Forced             bool  `json:"forced"`
	HealthBefore       int64 `json:"health_before"`
	HealthAfter        int64 `json:"health_after"`
	PreviousCollateral int64 `json:"previous_collateral"`
	PreviousPnL        int64 `json:"previous_pnl"`
	Realized           int64 `json:"realized"`
	NewCollateral      int64 `json:"new_collateral"`
	NewNotional        int64 `json:"new_notional"`
	OpeningFee         int64 `json:"opening_fee"`
	LendingDelta       int64 `json:"lending_delta"`
	PostValue          int64 `json:"post_value"`
}

// Rebalance closes the hedge and reopens it at the target split and leverage.
//
// Without force it runs only once health has fallen under the trigger
// (RebalanceNeeded). An operator may force it earlier, but never while
// health is at or above ForceRebalanceMaxBps. The reserve is left out of the
// new split and pays the reopening fee. The whole operation is undone when
// user backing afterwards is below minPostValue.
func (e *Engine) Rebalance(ctx context.Context, actor Actor, minPostValue int64, force bool) (RebalanceResult, error) {
	const op = "rebalance"
	var res RebalanceResult

	err := e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		now := tx.now
		if err := e.checkNotPaused(op); err != nil {
			return err
		}
		if force {
			if err := e.requireOwner(op, actor); err != nil {
				return err
			}
		}
		if err := e.checkMarketWindow(ctx, op, now); err != nil {
			return err
		}
		if e.position.Notional() == 0 {
			return vaulterr.New(op, vaulterr.ErrRebalanceNotNeeded, "no open hedge")
		}

		health, err := e.position.HealthFactor(ctx)
		if err != nil {
			return err
		}
		if health < e.params.RebalanceTriggerBps && e.state.Rebalance == RebalanceHealthy {
			e.state.Rebalance = RebalanceNeeded
		}
		switch {
		case force && health >= e.params.ForceRebalanceMaxBps:
			return vaulterr.New(op, vaulterr.ErrRebalanceNotNeeded,
				"forced rebalance refused at health %d >= %d", health, e.params.ForceRebalanceMaxBps)
		case !force && e.state.Rebalance != RebalanceNeeded:
			return vaulterr.New(op, vaulterr.ErrRebalanceNotNeeded,
				"health %d above trigger %d", health, e.params.RebalanceTriggerBps)
		}
		if !e.state.Rebalance.CanTransitionTo(RebalanceExecuting) {
			return vaulterr.New(op, vaulterr.ErrInvalidParameter, "cannot rebalance from %s", e.state.Rebalance)
		}
		e.state.Rebalance = RebalanceExecuting

		res.Forced = force
		res.HealthBefore = health
		res.PreviousCollateral = e.position.Collateral()
		if res.PreviousPnL, err = e.position.UnrealizedPnL(ctx); err != nil {
			return err
		}

		proceeds, err := e.decreaseHedge(ctx, tx, math.RatioScale)
		if err != nil {
			return err
		}
		res.Realized = proceeds

		// New split over user backing only; the reserve keeps earning.
		backing := e.state.LendingPrincipal + proceeds
		split := e.state.Split
		target := math.BpsOf(backing, split.HedgeBps, math.RoundDown)
		notional := math.BpsOf(target, split.LeverageBps, math.RoundDown)
		fee := math.BpsOf(notional, e.params.OpeningFeeBps, math.RoundUp)
		if err := e.reserve.PayOpeningFee(fee); err != nil {
			return err
		}
		res.OpeningFee = fee

		collateral := proceeds
		switch {
		case target > proceeds:
			need := target - proceeds
			got, err := e.lendingWithdraw(ctx, tx, need+fee)
			if err != nil {
				return err
			}
			e.state.LendingPrincipal -= need
			collateral += got
			res.LendingDelta = -need
		case target < proceeds:
			surplus := proceeds - target
			if fee > 0 {
				got, err := e.lendingWithdraw(ctx, tx, fee)
				if err != nil {
					return err
				}
				collateral += got
			}
			added, err := e.lendingDeposit(ctx, tx, surplus)
			if err != nil {
				return err
			}
			e.state.LendingPrincipal += added
			collateral -= surplus
			res.LendingDelta = added
		default:
			got, err := e.lendingWithdraw(ctx, tx, fee)
			if err != nil {
				return err
			}
			collateral += got
		}

		fill, err := e.increaseHedge(ctx, tx, notional, collateral)
		if err != nil {
			return err
		}
		res.NewCollateral = e.position.Collateral()
		res.NewNotional = e.position.Notional()
		res.HealthAfter = fill.HealthAfter

		// Realized PnL moved into the split; it is not yield.
		e.state.Harvest.LastHedgeCollateral = e.position.Collateral()

		value, err := e.position.Value(ctx)
		if err != nil {
			return err
		}
		res.PostValue = value + e.state.LendingPrincipal
		if res.PostValue < minPostValue {
			return vaulterr.New(op, vaulterr.ErrSlippage,
				"post-rebalance value %d below minimum %d", res.PostValue, minPostValue)
		}

		e.state.Rebalance = RebalanceHealthy
		tx.emit(Event{
			Type:   EventRebalanced,
			Amount: proceeds,
			Output: res.PostValue,
			Fee:    fee,
			Health: res.HealthAfter,
			Detail: fmt.Sprintf("forced=%v health_before=%d", force, health),
		})
		e.emitReserveSignal(tx)
		e.logger.Info().
			Bool("forced", force).
			Int64("health_before", health).
			Int64("health_after", res.HealthAfter).
			Int64("realized", proceeds).
			Int64("opening_fee", fee).
			Msg("hedge rebalanced")
		return nil
	})
	if err != nil {
		return RebalanceResult{}, err
	}
	return res, nil
}

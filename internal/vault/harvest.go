package vault

import (
	"SynthVault/internal/math"
	"SynthVault/internal/vaulterr"
	"context"
	"fmt"
	"time"
)

// HarvestResult describes one harvest attempt. Accumulated and Deficit
// attempts commit too; they only move bookkeeping.
type HarvestResult struct {
	LendingGain int64 `json:"lending_gain"`
	MarginCost  int64 `json:"margin_cost"`
	Net         int64 `json:"net"`
	ToppedUp    int64 `json:"topped_up"`
	Borrowed    int64 `json:"borrowed"`
	Donated     int64 `json:"donated"`
	WrapperFee  int64 `json:"wrapper_fee"`
	Rate        int64 `json:"rate"`
	Accumulated bool  `json:"accumulated"`
	Deficit     bool  `json:"deficit"`
	DeficitDays int32 `json:"deficit_days"`
}

// HarvestYield distributes interest earned since the last harvest.
//
// Net yield is the lending balance increase less the hedge collateral
// decrease (funding and margin cost). Hedge PnL is never yield. A negative
// net is a deficit: the reserve lends what it can to restore margin and the
// consecutive-day counter advances, signalling manual intervention at the
// threshold. A net below the minimum is carried forward. Otherwise the
// margin is topped up from lending and the rest is minted as synth and
// donated to the wrapper.
func (e *Engine) HarvestYield(ctx context.Context, actor Actor) (HarvestResult, error) {
	const op = "harvest"
	var res HarvestResult

	err := e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		now := tx.now
		if err := e.checkNotPaused(op); err != nil {
			return err
		}
		if err := e.checkMarketWindow(ctx, op, now); err != nil {
			return err
		}
		h := &e.state.Harvest
		if !h.LastAttempt.IsZero() && now.Before(h.LastAttempt.Add(e.params.MinHarvestInterval)) {
			return vaulterr.New(op, vaulterr.ErrHarvestTooSoon, "last attempt %s, interval %s",
				h.LastAttempt.UTC().Format(time.RFC3339), e.params.MinHarvestInterval)
		}

		lendingNow, err := e.lending.TotalAssets(ctx)
		if err != nil {
			return vaulterr.Wrap(op, vaulterr.ErrVenue, err)
		}
		// checkMarketWindow resynced the position.
		collateralNow := e.position.Collateral()

		gain := lendingNow - h.LastLendingBalance
		cost := max(h.LastHedgeCollateral-collateralNow, 0)
		net := h.Accumulated + gain - cost
		res.LendingGain, res.MarginCost, res.Net = gain, cost, net
		h.LastAttempt = now

		switch {
		case net < 0:
			h.LastLendingBalance = lendingNow
			h.LastHedgeCollateral = collateralNow
			h.Accumulated = 0
			if err := e.recordDeficit(ctx, tx, cost, -net, &res); err != nil {
				return err
			}

		case net < e.params.MinHarvestAmount:
			// The hedge baseline is kept so the margin cost is measured
			// again, in full, by the harvest that finally distributes.
			h.LastLendingBalance = lendingNow
			h.Accumulated += gain
			if gain > cost {
				h.DeficitDays = 0
			}
			res.Accumulated = true
			tx.emit(Event{Type: EventYieldAccumulated, Amount: net, Detail: fmt.Sprintf("minimum %d", e.params.MinHarvestAmount)})

		default:
			h.LastLendingBalance = lendingNow
			h.LastHedgeCollateral = collateralNow
			if err := e.distribute(ctx, tx, net, cost, &res); err != nil {
				return err
			}
			h.Accumulated = 0
			if gain > cost {
				h.DeficitDays = 0
			}
			h.LastHarvest = now
		}

		res.DeficitDays = h.DeficitDays
		return e.refreshRebalanceState(ctx, tx)
	})
	if err != nil {
		return HarvestResult{}, err
	}
	return res, nil
}

// recordDeficit advances the deficit-day counter and restores margin: the
// yield on hand covers cost first and the reserve lends the shortfall.
// Days without a harvest between two deficits count toward the run; only a
// harvest whose yield beats its cost clears it.
func (e *Engine) recordDeficit(ctx context.Context, tx *opTx, cost, shortfall int64, res *HarvestResult) error {
	h := &e.state.Harvest
	res.Deficit = true

	day := tx.now.Unix() / 86400
	newDay := day > h.LastDeficitDay || h.DeficitDays == 0
	if newDay {
		if h.DeficitDays > 0 {
			h.DeficitDays += int32(day - h.LastDeficitDay)
		} else {
			h.DeficitDays = 1
		}
		h.LastDeficitDay = day
	}

	fromYield := max(cost-shortfall, 0)
	borrowed := e.reserve.BorrowYield(shortfall)
	if topUp := fromYield + borrowed; topUp > 0 {
		got, err := e.lendingWithdraw(ctx, tx, topUp)
		if err != nil {
			return err
		}
		if _, err := e.increaseHedge(ctx, tx, 0, got); err != nil {
			return err
		}
		res.ToppedUp = got
	}
	res.Borrowed = borrowed

	tx.emit(Event{Type: EventMarginDeficit, Amount: shortfall, Output: res.Borrowed})
	tx.emit(Event{
		Type:   EventSignal,
		Signal: SignalMarginDeficit,
		Amount: shortfall,
		Detail: fmt.Sprintf("consecutive deficit days %d", h.DeficitDays),
	})
	if newDay && h.DeficitDays >= e.params.DeficitDaysThreshold {
		tx.emit(Event{
			Type:   EventSignal,
			Signal: SignalManualIntervention,
			Amount: shortfall,
			Detail: fmt.Sprintf("margin cost exceeded yield for %d consecutive days", h.DeficitDays),
		})
		e.logger.Warn().
			Int32("deficit_days", h.DeficitDays).
			Int64("shortfall", shortfall).
			Msg("margin deficit persists, manual intervention required")
	}
	return nil
}

// distribute tops up margin by cost and donates the net as synth.
func (e *Engine) distribute(ctx context.Context, tx *opTx, net, cost int64, res *HarvestResult) error {
	if cost > 0 {
		got, err := e.lendingWithdraw(ctx, tx, cost)
		if err != nil {
			return err
		}
		if _, err := e.increaseHedge(ctx, tx, 0, got); err != nil {
			return err
		}
		res.ToppedUp = got
	}

	rate, err := e.rate(ctx, tx.op)
	if err != nil {
		return err
	}
	res.Rate = rate

	synth := math.ToSynth(net, rate, math.RoundDown)
	if synth > 0 {
		addr := e.wrapper.Address()
		if err := e.token.Mint(ctx, addr, synth); err != nil {
			return vaulterr.Wrap(tx.op, vaulterr.ErrExternal, fmt.Errorf("mint yield: %w", err))
		}
		tx.onFailure("token.mint", func(ctx context.Context) error {
			return e.token.Burn(ctx, addr, synth)
		})
		if err := e.wrapper.Donate(ctx, synth); err != nil {
			return vaulterr.Wrap(tx.op, vaulterr.ErrExternal, fmt.Errorf("donate: %w", err))
		}
		// The donation cannot be taken back, so a failing fee skim is
		// reported rather than unwinding the harvest.
		fee, err := e.wrapper.HarvestFee(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("wrapper fee harvest failed")
		}
		res.WrapperFee = fee
	}
	res.Donated = synth

	// The distributed yield stays in lending as backing for the new synth.
	e.state.LendingPrincipal += net

	tx.emit(Event{
		Type:   EventHarvested,
		Amount: net,
		Output: synth,
		Fee:    res.WrapperFee,
		Rate:   rate,
		Detail: fmt.Sprintf("margin top-up %d", res.ToppedUp),
	})
	e.logger.Info().
		Int64("net", net).
		Int64("margin_cost", cost).
		Int64("donated", synth).
		Msg("yield harvested")
	return nil
}

// refreshRebalanceState moves Healthy to RebalanceNeeded when health drops
// under the trigger, and back when it recovers.
func (e *Engine) refreshRebalanceState(ctx context.Context, tx *opTx) error {
	health, err := e.position.HealthFactor(ctx)
	if err != nil {
		return err
	}
	switch cur := e.state.Rebalance; {
	case health < e.params.RebalanceTriggerBps && cur.CanTransitionTo(RebalanceNeeded) && cur != RebalanceNeeded:
		e.state.Rebalance = RebalanceNeeded
		tx.emit(Event{Type: EventSignal, Signal: SignalRebalanceNeeded, Health: health})
	case health >= e.params.RebalanceTriggerBps && cur == RebalanceNeeded:
		e.state.Rebalance = RebalanceHealthy
	}
	return nil
}

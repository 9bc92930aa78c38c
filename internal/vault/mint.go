package vault

import (
	"SynthVault/internal/math"
	"SynthVault/internal/vaulterr"
	"context"
	"fmt"
)

// MintResult describes a committed mint.
type MintResult struct {
	Issued          int64 `json:"issued"`
	Rate            int64 `json:"rate"`
	OpeningFee      int64 `json:"opening_fee"`
	HedgeCollateral int64 `json:"hedge_collateral"`
	HedgeNotional   int64 `json:"hedge_notional"`
	LendingDeposit  int64 `json:"lending_deposit"`
}

// MintQuote splits a deposit the way Mint would at rate.
type MintQuote struct {
	Collateral int64
	Notional   int64
	OpeningFee int64
	Lending    int64
	Expected   int64
}

// QuoteMint computes the hedge sizing, opening fee and expected issue for a
// deposit under split. The fee is rounded up, the issue down.
func QuoteMint(deposit, rate int64, split AllocationSplit, openingFeeBps int64) MintQuote {
	collateral := math.BpsOf(deposit, split.HedgeBps, math.RoundDown)
	notional := math.BpsOf(collateral, split.LeverageBps, math.RoundDown)
	fee := math.BpsOf(notional, openingFeeBps, math.RoundUp)
	return MintQuote{
		Collateral: collateral,
		Notional:   notional,
		OpeningFee: fee,
		Lending:    deposit - collateral - fee,
		Expected:   math.ToSynth(deposit-fee, rate, math.RoundDown),
	}
}

// Mint pulls deposit from actor and issues synth against it.
//
// The hedge is opened first with collateral plus the opening fee, which the
// reserve advances and the deposit repays; the remainder goes to the lending
// venue; the synth is minted last from the backing the venues actually
// report, never from the requested amounts.
func (e *Engine) Mint(ctx context.Context, actor Actor, deposit, minOutput int64) (MintResult, error) {
	const op = "mint"
	var res MintResult

	err := e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		if err := e.requireActor(op, actor); err != nil {
			return err
		}
		now := tx.now
		rate, err := e.checkMintGates(ctx, op, actor.ID, deposit, now)
		if err != nil {
			return err
		}

		q := QuoteMint(deposit, rate, e.state.Split, e.params.OpeningFeeBps)
		if q.Lending < 0 {
			return vaulterr.New(op, vaulterr.ErrInvalidParameter, "hedge sizing %d + fee %d exceeds deposit %d", q.Collateral, q.OpeningFee, deposit)
		}
		if !e.params.Band.Contains(deposit, q.Expected) {
			return vaulterr.New(op, vaulterr.ErrImplausibleRate,
				"%d synth for %d reference at rate %d is outside [%d, %d] bps", q.Expected, deposit, rate, e.params.Band.MinBps, e.params.Band.MaxBps)
		}

		// Local bookkeeping before any external call.
		e.state.PendingDeposits += deposit
		e.state.LastAction[actor.ID] = now
		e.state.LastGlobal = now
		e.state.recordPrice(now, rate)

		if err := e.asset.Pull(ctx, actor.ID, deposit); err != nil {
			return vaulterr.Wrap(op, vaulterr.ErrExternal, fmt.Errorf("pull deposit: %w", err))
		}
		tx.onFailure("asset.pull", func(ctx context.Context) error {
			return e.asset.Push(ctx, actor.ID, deposit)
		})

		if err := e.reserve.AdvanceOpeningFee(q.OpeningFee); err != nil {
			return err
		}
		fill, err := e.increaseHedge(ctx, tx, q.Notional, q.Collateral+q.OpeningFee)
		if err != nil {
			return err
		}
		if err := e.reserve.RepayOpeningFee(q.OpeningFee); err != nil {
			return err
		}

		lendingAdded, err := e.lendingDeposit(ctx, tx, q.Lending)
		if err != nil {
			return err
		}
		e.state.LendingPrincipal += lendingAdded

		backing := fill.CollateralDelta + lendingAdded
		issued := math.ToSynth(backing, rate, math.RoundDown)
		if issued <= 0 {
			return vaulterr.New(op, vaulterr.ErrZeroAmount, "backing %d issues nothing at rate %d", backing, rate)
		}
		if issued < minOutput {
			return vaulterr.New(op, vaulterr.ErrSlippage, "issue %d below minimum output %d", issued, minOutput)
		}

		if err := e.token.Mint(ctx, actor.ID, issued); err != nil {
			return vaulterr.Wrap(op, vaulterr.ErrExternal, fmt.Errorf("mint synth: %w", err))
		}
		e.state.PendingDeposits -= deposit

		res = MintResult{
			Issued:          issued,
			Rate:            rate,
			OpeningFee:      q.OpeningFee,
			HedgeCollateral: fill.CollateralDelta,
			HedgeNotional:   fill.NotionalDelta,
			LendingDeposit:  lendingAdded,
		}
		tx.emit(Event{
			Type:   EventMinted,
			Amount: deposit,
			Output: issued,
			Fee:    q.OpeningFee,
			Rate:   rate,
			Health: fill.HealthAfter,
		})
		e.emitReserveSignal(tx)

		e.logger.Info().
			Str("actor", actor.ID).
			Int64("deposit", deposit).
			Int64("issued", issued).
			Int64("opening_fee", q.OpeningFee).
			Int64("rate", rate).
			Msg("minted")
		return nil
	})
	if err != nil {
		return MintResult{}, err
	}
	return res, nil
}

// emitReserveSignal raises the low-reserve soft signal.
func (e *Engine) emitReserveSignal(tx *opTx) {
	if !e.reserve.IsLow() {
		return
	}
	tx.emit(Event{
		Type:   EventSignal,
		Signal: SignalLowReserve,
		Amount: e.reserve.Balance(),
		Detail: fmt.Sprintf("reserve %d below warning level over floor %d", e.reserve.Balance(), e.reserve.Floor()),
	})
}

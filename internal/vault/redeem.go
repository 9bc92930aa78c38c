package vault

import (
	"SynthVault/internal/math"
	"SynthVault/internal/vaulterr"
	"context"
	"fmt"
)

// RedeemResult describes a committed redemption.
type RedeemResult struct {
	Burned      int64 `json:"burned"`
	Rate        int64 `json:"rate"`
	FromLending int64 `json:"from_lending"`
	FromHedge   int64 `json:"from_hedge"`
	Gross       int64 `json:"gross"`
	Fee         int64 `json:"fee"`
	RepaidYield int64 `json:"repaid_yield"`
	Net         int64 `json:"net"`
}

// Redeem burns amount of actor's synth and pays out its share of backing.
//
// The hold period is checked against the token's own mint time for the
// holder, so a transfer cannot make a fresh position look old. Both venues
// are unwound in proportion to amount / supply, each must return at least
// MinReturnBps of what was asked, and the fee runs through the reserve
// waterfall before the net is pushed last.
func (e *Engine) Redeem(ctx context.Context, actor Actor, amount int64) (RedeemResult, error) {
	const op = "redeem"
	var res RedeemResult

	err := e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		if err := e.requireActor(op, actor); err != nil {
			return err
		}
		now := tx.now
		if err := e.checkNotPaused(op); err != nil {
			return err
		}
		if amount <= 0 {
			return vaulterr.New(op, vaulterr.ErrZeroAmount, "amount %d", amount)
		}
		if err := e.checkMarketWindow(ctx, op, now); err != nil {
			return err
		}

		mintedAt, err := e.token.MintTime(ctx, actor.ID)
		if err != nil {
			return vaulterr.Wrap(op, vaulterr.ErrExternal, fmt.Errorf("mint time: %w", err))
		}
		if !mintedAt.IsZero() && now.Before(mintedAt.Add(e.state.HoldPeriod)) {
			return vaulterr.New(op, vaulterr.ErrHoldPeriod, "held since %s, hold period %s",
				mintedAt.UTC().Format("2006-01-02T15:04:05Z"), e.state.HoldPeriod)
		}
		balance, err := e.token.BalanceOf(ctx, actor.ID)
		if err != nil {
			return vaulterr.Wrap(op, vaulterr.ErrExternal, err)
		}
		if balance < amount {
			return vaulterr.New(op, vaulterr.ErrInvalidParameter, "balance %d below redeem amount %d", balance, amount)
		}
		supply, err := e.token.TotalSupply(ctx)
		if err != nil {
			return vaulterr.Wrap(op, vaulterr.ErrExternal, err)
		}

		rate, err := e.rate(ctx, op)
		if err != nil {
			return err
		}
		if quoted := math.ToReference(amount, rate, math.RoundDown); !e.params.Band.Contains(quoted, amount) {
			return vaulterr.New(op, vaulterr.ErrImplausibleRate,
				"%d synth quoted at %d reference (rate %d) is outside the plausibility band", amount, quoted, rate)
		}

		share := math.RatioOf(amount, supply)
		if share == 0 {
			return vaulterr.New(op, vaulterr.ErrBelowMinimum,
				"redeem of %d is too small a share of supply %d to unwind", amount, supply)
		}
		lendingWant := math.MulDiv(e.state.LendingPrincipal, amount, supply, math.RoundDown)

		// Local bookkeeping before any external call.
		e.state.LendingPrincipal -= lendingWant
		e.state.LastAction[actor.ID] = now

		if err := e.token.Burn(ctx, actor.ID, amount); err != nil {
			return vaulterr.Wrap(op, vaulterr.ErrExternal, fmt.Errorf("burn synth: %w", err))
		}
		tx.onFailure("token.burn", func(ctx context.Context) error {
			return e.token.Mint(ctx, actor.ID, amount)
		})

		fromLending, err := e.lendingWithdraw(ctx, tx, lendingWant)
		if err != nil {
			return err
		}
		fromHedge, err := e.decreaseHedge(ctx, tx, share)
		if err != nil {
			return err
		}

		gross := fromLending + fromHedge
		fee := math.BpsOf(gross, e.params.RedeemFeeBps, math.RoundUp)
		repaid, _ := e.reserve.ApplyRedemptionFee(fee)
		if _, err := e.lendingDeposit(ctx, tx, fee); err != nil {
			return err
		}

		net := gross - fee
		if net > 0 {
			if err := e.asset.Push(ctx, actor.ID, net); err != nil {
				return vaulterr.Wrap(op, vaulterr.ErrExternal, fmt.Errorf("push proceeds: %w", err))
			}
		}

		res = RedeemResult{
			Burned:      amount,
			Rate:        rate,
			FromLending: fromLending,
			FromHedge:   fromHedge,
			Gross:       gross,
			Fee:         fee,
			RepaidYield: repaid,
			Net:         net,
		}
		tx.emit(Event{
			Type:   EventRedeemed,
			Amount: amount,
			Output: net,
			Fee:    fee,
			Rate:   rate,
		})

		e.logger.Info().
			Str("actor", actor.ID).
			Int64("burned", amount).
			Int64("gross", gross).
			Int64("fee", fee).
			Int64("repaid_yield", repaid).
			Msg("redeemed")
		return nil
	})
	if err != nil {
		return RedeemResult{}, err
	}
	return res, nil
}

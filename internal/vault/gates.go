package vault

import (
	"SynthVault/internal/math"
	"SynthVault/internal/vaulterr"
	"context"
	"time"
)

// weekSecond returns seconds since the Monday 00:00 UTC preceding t.
func weekSecond(t time.Time) int64 {
	s := (t.Unix() - mondayEpochOffset) % secondsPerWeek
	if s < 0 {
		s += secondsPerWeek
	}
	return s
}

// IsOpen reports whether the hedge market trades at t.
func (c MarketCalendar) IsOpen(t time.Time) bool {
	if !c.Enabled {
		return true
	}
	ws := weekSecond(t)
	if c.ClosesAt < c.OpensAt {
		return ws < c.ClosesAt || ws >= c.OpensAt
	}
	// Closed window wraps past Monday 00:00.
	return ws >= c.OpensAt && ws < c.ClosesAt
}

// UntilClose returns how long the market stays open after t. It is zero
// while closed.
func (c MarketCalendar) UntilClose(t time.Time) time.Duration {
	if !c.Enabled {
		return time.Duration(1<<63 - 1)
	}
	if !c.IsOpen(t) {
		return 0
	}
	d := c.ClosesAt - weekSecond(t)
	if d <= 0 {
		d += secondsPerWeek
	}
	return time.Duration(d) * time.Second
}

// InPreClosure reports whether t falls in the window just before closing.
func (c MarketCalendar) InPreClosure(t time.Time) bool {
	if !c.Enabled || c.PreClosureWindow <= 0 || !c.IsOpen(t) {
		return false
	}
	return c.UntilClose(t) <= c.PreClosureWindow
}

// --- Gates shared by mint, redeem, harvest and rebalance ---

func (e *Engine) checkNotPaused(op string) error {
	if e.state.Paused {
		return vaulterr.New(op, vaulterr.ErrPaused, "vault is paused")
	}
	return nil
}

func (e *Engine) checkMarketOpen(op string, now time.Time) error {
	if !e.params.Calendar.IsOpen(now) {
		return vaulterr.New(op, vaulterr.ErrMarketClosed, "hedge market closed at %s", now.UTC().Format(time.RFC3339))
	}
	return nil
}

// checkPreClosure is the one fallible health gate: inside the pre-closure
// window the hedge must clear the higher safety threshold, because it cannot
// be adjusted again until the market reopens.
func (e *Engine) checkPreClosure(ctx context.Context, op string, now time.Time) error {
	if !e.params.Calendar.InPreClosure(now) {
		return nil
	}
	health, err := e.position.HealthFactor(ctx)
	if err != nil {
		return err
	}
	if health < e.params.PreClosureHealthBps {
		return vaulterr.New(op, vaulterr.ErrUnsafeClosure,
			"health %d below %d with %s until close", health, e.params.PreClosureHealthBps, e.params.Calendar.UntilClose(now))
	}
	return nil
}

// checkMarketWindow runs the two calendar gates every operation shares. It
// also reloads the hedge position, so the health and loss gates after it
// see venue figures rather than what the last operation left cached.
func (e *Engine) checkMarketWindow(ctx context.Context, op string, now time.Time) error {
	if err := e.checkMarketOpen(op, now); err != nil {
		return err
	}
	if err := e.position.Resync(ctx); err != nil {
		return err
	}
	return e.checkPreClosure(ctx, op, now)
}

// --- Mint-only gates ---

func (e *Engine) cooldownsElapsed(actor string, now time.Time) bool {
	if last, ok := e.state.LastAction[actor]; ok && now.Before(last.Add(e.state.UserCooldown)) {
		return false
	}
	if !e.state.LastGlobal.IsZero() && now.Before(e.state.LastGlobal.Add(e.state.GlobalCooldown)) {
		return false
	}
	return true
}

// priceBreakerTripped compares rate with the sample from one hour ago.
func (e *Engine) priceBreakerTripped(now time.Time, rate int64) (int64, bool) {
	prev, ok := e.state.previousHourRate(now)
	if !ok {
		return 0, false
	}
	change := math.ChangeBps(prev, rate)
	return change, change > e.params.MaxPriceChangeBps
}

func (e *Engine) lossBreakerTripped(ctx context.Context) (int64, bool, error) {
	loss, err := e.position.LossBps(ctx)
	if err != nil {
		return 0, false, err
	}
	return loss, loss > e.params.MaxLossBps, nil
}

// effectiveCap is the cap less its buffer.
func (e *Engine) effectiveCap() int64 {
	return e.state.Cap - math.BpsOf(e.state.Cap, e.state.CapBufferBps, math.RoundUp)
}

// tvl is user backing plus in-flight deposits. The reserve is excluded.
func (e *Engine) tvl() int64 {
	return e.state.LendingPrincipal + e.position.Collateral() + e.state.PendingDeposits
}

func (e *Engine) checkMintGates(ctx context.Context, op string, actor string, deposit int64, now time.Time) (int64, error) {
	if err := e.checkNotPaused(op); err != nil {
		return 0, err
	}
	if deposit <= 0 {
		return 0, vaulterr.New(op, vaulterr.ErrZeroAmount, "deposit %d", deposit)
	}
	if deposit < e.params.MinDeposit {
		return 0, vaulterr.New(op, vaulterr.ErrBelowMinimum, "deposit %d below minimum %d", deposit, e.params.MinDeposit)
	}
	if err := e.checkMarketWindow(ctx, op, now); err != nil {
		return 0, err
	}
	if !e.cooldownsElapsed(actor, now) {
		return 0, vaulterr.New(op, vaulterr.ErrRateLimited, "cooldown active for %s", actor)
	}

	rate, err := e.rate(ctx, op)
	if err != nil {
		return 0, err
	}
	if change, tripped := e.priceBreakerTripped(now, rate); tripped {
		return 0, vaulterr.New(op, vaulterr.ErrPriceBreaker,
			"rate moved %d bps in an hour, max %d", change, e.params.MaxPriceChangeBps)
	}
	loss, tripped, err := e.lossBreakerTripped(ctx)
	if err != nil {
		return 0, err
	}
	if tripped {
		return 0, vaulterr.New(op, vaulterr.ErrLossBreaker,
			"hedge loss %d bps of collateral, max %d", loss, e.params.MaxLossBps)
	}
	if tvl, limit := e.tvl()+deposit, e.effectiveCap(); tvl > limit {
		return 0, vaulterr.New(op, vaulterr.ErrCapExceeded, "tvl %d would exceed %d", tvl, limit)
	}
	return rate, nil
}

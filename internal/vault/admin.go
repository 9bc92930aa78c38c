package vault

import (
	"SynthVault/internal/governance"
	"SynthVault/internal/vaulterr"
	"context"
	"fmt"
	"time"
)

// ParameterValue carries the proposed value for one governance kind.
// Only the field matching the kind is read.
type ParameterValue struct {
	Allocation  AllocationSplit `json:"allocation,omitempty"`
	LeverageBps int64           `json:"leverage_bps,omitempty"`
	HedgeVenue  string          `json:"hedge_venue,omitempty"`
}

// ProposalView is a kind-independent view of a proposal.
type ProposalView struct {
	Kind       governance.Kind          `json:"kind"`
	State      governance.ProposalState `json:"state"`
	Value      ParameterValue           `json:"value"`
	ETA        time.Time                `json:"eta"`
	ProposedAt time.Time                `json:"proposed_at"`
}

func viewOf[T any](kind governance.Kind, p governance.Proposal[T], value ParameterValue) ProposalView {
	return ProposalView{Kind: kind, State: p.State, Value: value, ETA: p.ETA, ProposedAt: p.ProposedAt}
}

// --- Governance ---

// ProposeParameterChange opens a timelocked proposal. Owner only.
func (e *Engine) ProposeParameterChange(ctx context.Context, actor Actor, kind governance.Kind, value ParameterValue) (ProposalView, error) {
	op := "propose " + string(kind)
	var view ProposalView

	err := e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		if err := e.requireOwner(op, actor); err != nil {
			return err
		}
		now := tx.now

		switch kind {
		case governance.KindAllocation:
			split := AllocationSplit{LendingBps: value.Allocation.LendingBps, HedgeBps: value.Allocation.HedgeBps}
			if err := ValidateAllocation(split); err != nil {
				return vaulterr.New(op, vaulterr.ErrInvalidParameter, "%v", err)
			}
			p, err := e.allocLock.Propose(now, split)
			if err != nil {
				return err
			}
			view = viewOf(kind, p, ParameterValue{Allocation: split})
		case governance.KindLeverage:
			if err := ValidateLeverage(value.LeverageBps, e.position.Params().MinCollateralRatioBps); err != nil {
				return vaulterr.New(op, vaulterr.ErrInvalidParameter, "%v", err)
			}
			p, err := e.leverageLock.Propose(now, value.LeverageBps)
			if err != nil {
				return err
			}
			view = viewOf(kind, p, ParameterValue{LeverageBps: value.LeverageBps})
		case governance.KindHedgeVenue:
			p, err := e.position.ProposeVenue(value.HedgeVenue)
			if err != nil {
				return err
			}
			view = viewOf(kind, p, ParameterValue{HedgeVenue: value.HedgeVenue})
		default:
			return vaulterr.New(op, vaulterr.ErrInvalidParameter, "unknown proposal kind %q", kind)
		}

		tx.emit(Event{Type: EventProposalCreated, Detail: fmt.Sprintf("%s eta=%s", kind, view.ETA.UTC().Format(time.RFC3339))})
		return nil
	})
	if err != nil {
		return ProposalView{}, err
	}
	return view, nil
}

// CancelProposal cancels the pending proposal of kind. Owner only.
func (e *Engine) CancelProposal(ctx context.Context, actor Actor, kind governance.Kind) error {
	op := "cancel " + string(kind)
	return e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		if err := e.requireOwner(op, actor); err != nil {
			return err
		}
		var err error
		switch kind {
		case governance.KindAllocation:
			err = e.allocLock.Cancel()
		case governance.KindLeverage:
			err = e.leverageLock.Cancel()
		case governance.KindHedgeVenue:
			err = e.position.CancelVenue()
		default:
			err = vaulterr.New(op, vaulterr.ErrInvalidParameter, "unknown proposal kind %q", kind)
		}
		if err != nil {
			return err
		}
		tx.emit(Event{Type: EventProposalCanceled, Detail: string(kind)})
		return nil
	})
}

// ExecuteProposal applies the pending proposal of kind once its eta has
// passed. Owner only. New allocation and leverage apply to later mints and
// to the next rebalance; they never resize the open hedge by themselves.
func (e *Engine) ExecuteProposal(ctx context.Context, actor Actor, kind governance.Kind) (ProposalView, error) {
	op := "execute " + string(kind)
	var view ProposalView

	err := e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		if err := e.requireOwner(op, actor); err != nil {
			return err
		}
		now := tx.now

		switch kind {
		case governance.KindAllocation:
			split, err := e.allocLock.Execute(now)
			if err != nil {
				return err
			}
			e.state.Split.LendingBps, e.state.Split.HedgeBps = split.LendingBps, split.HedgeBps
			e.allocLock.Commit()
			view = viewOf(kind, e.allocLock.Current(), ParameterValue{Allocation: e.state.Split})
		case governance.KindLeverage:
			leverage, err := e.leverageLock.Execute(now)
			if err != nil {
				return err
			}
			e.state.Split.LeverageBps = leverage
			e.leverageLock.Commit()
			view = viewOf(kind, e.leverageLock.Current(), ParameterValue{LeverageBps: leverage})
		case governance.KindHedgeVenue:
			id, err := e.position.ExecuteVenue(ctx)
			if err != nil {
				return err
			}
			// The new venue starts flat; its collateral baseline is zero.
			e.state.Harvest.LastHedgeCollateral = e.position.Collateral()
			view = viewOf(kind, e.position.VenueProposal(), ParameterValue{HedgeVenue: id})
		default:
			return vaulterr.New(op, vaulterr.ErrInvalidParameter, "unknown proposal kind %q", kind)
		}

		tx.emit(Event{Type: EventProposalExecuted, Detail: string(kind)})
		e.logger.Info().Str("kind", string(kind)).Msg("governance proposal executed")
		return nil
	})
	if err != nil {
		return ProposalView{}, err
	}
	return view, nil
}

// Proposals returns the current proposal of every kind.
func (e *Engine) Proposals() []ProposalView {
	e.mu.Lock()
	defer e.mu.Unlock()
	alloc := e.allocLock.Current()
	lev := e.leverageLock.Current()
	venue := e.position.VenueProposal()
	return []ProposalView{
		viewOf(governance.KindAllocation, alloc, ParameterValue{Allocation: alloc.Value}),
		viewOf(governance.KindLeverage, lev, ParameterValue{LeverageBps: lev.Value}),
		viewOf(governance.KindHedgeVenue, venue, ParameterValue{HedgeVenue: venue.Value}),
	}
}

// --- Admin setters ---

func (e *Engine) admin(ctx context.Context, op string, actor Actor, apply func() (string, error)) error {
	return e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		if err := e.requireOwner(op, actor); err != nil {
			return err
		}
		detail, err := apply()
		if err != nil {
			return err
		}
		tx.emit(Event{Type: EventAdminChanged, Detail: op + ": " + detail})
		e.logger.Info().Str("operation", op).Str("detail", detail).Msg("admin change")
		return nil
	})
}

func (e *Engine) Pause(ctx context.Context, actor Actor) error {
	return e.admin(ctx, "pause", actor, func() (string, error) {
		e.state.Paused = true
		return "paused", nil
	})
}

// Unpause resumes operations. A vault that went through EmergencyShutdown
// stays paused.
func (e *Engine) Unpause(ctx context.Context, actor Actor) error {
	return e.admin(ctx, "unpause", actor, func() (string, error) {
		if e.state.Shutdown {
			return "", vaulterr.New("unpause", vaulterr.ErrPaused, "vault was shut down")
		}
		e.state.Paused = false
		return "unpaused", nil
	})
}

func (e *Engine) SetCap(ctx context.Context, actor Actor, limit, bufferBps int64) error {
	return e.admin(ctx, "set_cap", actor, func() (string, error) {
		if limit <= 0 {
			return "", vaulterr.New("set_cap", vaulterr.ErrInvalidParameter, "cap %d", limit)
		}
		if err := validateBps("cap_buffer_bps", bufferBps, false); err != nil {
			return "", vaulterr.New("set_cap", vaulterr.ErrInvalidParameter, "%v", err)
		}
		e.state.Cap, e.state.CapBufferBps = limit, bufferBps
		return fmt.Sprintf("cap=%d buffer_bps=%d", limit, bufferBps), nil
	})
}

func (e *Engine) SetCooldowns(ctx context.Context, actor Actor, user, global time.Duration) error {
	return e.admin(ctx, "set_cooldowns", actor, func() (string, error) {
		if user < 0 || global < 0 {
			return "", vaulterr.New("set_cooldowns", vaulterr.ErrInvalidParameter, "negative cooldown")
		}
		e.state.UserCooldown, e.state.GlobalCooldown = user, global
		return fmt.Sprintf("user=%s global=%s", user, global), nil
	})
}

func (e *Engine) SetHoldPeriod(ctx context.Context, actor Actor, hold time.Duration) error {
	return e.admin(ctx, "set_hold_period", actor, func() (string, error) {
		if hold < 0 {
			return "", vaulterr.New("set_hold_period", vaulterr.ErrInvalidParameter, "negative hold period")
		}
		e.state.HoldPeriod = hold
		return "hold=" + hold.String(), nil
	})
}

// --- Reserve ---

// FundReserve moves amount from actor into the reserve. The funds are
// deployed to the lending venue and recorded as actor's contribution.
func (e *Engine) FundReserve(ctx context.Context, actor Actor, amount int64) (int64, error) {
	const op = "fund_reserve"
	var funded int64

	err := e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		if err := e.requireActor(op, actor); err != nil {
			return err
		}
		if amount <= 0 {
			return vaulterr.New(op, vaulterr.ErrZeroAmount, "amount %d", amount)
		}
		if err := e.asset.Pull(ctx, actor.ID, amount); err != nil {
			return vaulterr.Wrap(op, vaulterr.ErrExternal, fmt.Errorf("pull: %w", err))
		}
		tx.onFailure("asset.pull", func(ctx context.Context) error {
			return e.asset.Push(ctx, actor.ID, amount)
		})
		added, err := e.lendingDeposit(ctx, tx, amount)
		if err != nil {
			return err
		}
		if err := e.reserve.Fund(actor.ID, added); err != nil {
			return err
		}
		funded = added
		tx.emit(Event{Type: EventReserveFunded, Amount: added, Output: e.reserve.Balance()})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return funded, nil
}

// WithdrawReserveContribution returns exactly actor's contribution, and
// only while the hedge is healthy and the floor holds.
func (e *Engine) WithdrawReserveContribution(ctx context.Context, actor Actor) (int64, error) {
	const op = "withdraw_reserve"
	var paid int64

	err := e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		if err := e.requireActor(op, actor); err != nil {
			return err
		}
		health, err := e.position.HealthFactor(ctx)
		if err != nil {
			return err
		}
		amount, err := e.reserve.Withdraw(actor.ID, health, e.params.ReserveMinHealthBps)
		if err != nil {
			return err
		}
		got, err := e.lendingWithdraw(ctx, tx, amount)
		if err != nil {
			return err
		}
		if err := e.asset.Push(ctx, actor.ID, got); err != nil {
			return vaulterr.Wrap(op, vaulterr.ErrExternal, fmt.Errorf("push: %w", err))
		}
		paid = got
		tx.emit(Event{Type: EventReserveWithdrawn, Amount: amount, Output: got, Health: health})
		e.emitReserveSignal(tx)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return paid, nil
}

// --- Emergency ---

// EmergencyShutdown pauses the vault for good, closes the hedge and pulls
// everything out of the lending venue into the vault account. Owner only.
// Venue effects are not compensated: an emergency exit that fails half way
// is still better than staying in.
func (e *Engine) EmergencyShutdown(ctx context.Context, actor Actor, reason string) (int64, error) {
	const op = "emergency_shutdown"
	var recovered int64

	err := e.run(ctx, op, actor, func(ctx context.Context, tx *opTx) error {
		if err := e.requireOwner(op, actor); err != nil {
			return err
		}
		e.state.Paused = true
		e.state.Shutdown = true

		fromHedge, herr := e.position.EmergencyClose(ctx)
		if herr != nil {
			e.logger.Error().Err(herr).Msg("emergency hedge close failed")
		}
		fromLending, lerr := e.lending.EmergencyWithdraw(ctx)
		if lerr != nil {
			e.logger.Error().Err(lerr).Msg("emergency lending withdraw failed")
		}
		recovered = fromHedge + fromLending
		if recovered > 0 {
			if err := e.asset.Push(ctx, e.params.VaultAccount, recovered); err != nil {
				e.logger.Error().Err(err).Int64("recovered", recovered).Msg("crediting vault account failed")
			}
		}
		e.state.Recovered += recovered
		e.state.Harvest.LastLendingBalance = 0
		e.state.Harvest.LastHedgeCollateral = 0

		tx.emit(Event{Type: EventEmergencyShutdown, Amount: fromLending, Output: fromHedge, Detail: reason})
		e.logger.Warn().
			Str("reason", reason).
			Int64("from_hedge", fromHedge).
			Int64("from_lending", fromLending).
			Msg("emergency shutdown")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

// RecordPrice samples the oracle into the hourly ring and refreshes the
// rebalance state. The keeper calls it every hour.
func (e *Engine) RecordPrice(ctx context.Context) (int64, error) {
	const op = "record_price"
	var rate int64

	err := e.run(ctx, op, Actor{ID: "keeper"}, func(ctx context.Context, tx *opTx) error {
		r, err := e.rate(ctx, op)
		if err != nil {
			return err
		}
		rate = r
		e.state.recordPrice(tx.now, r)
		tx.emit(Event{Type: EventPriceRecorded, Rate: r})
		if err := e.refreshRebalanceState(ctx, tx); err != nil {
			return err
		}
		e.emitReserveSignal(tx)
		return nil
	})
	return rate, err
}

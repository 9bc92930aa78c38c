// Package vault is the orchestration engine of the synthetic-currency vault:
// mint, redeem, harvest, rebalance, governance and reserve operations over
// the lending venue, the hedge position and the receipt token.
package vault

import (
	"SynthVault/internal/governance"
	"SynthVault/internal/math"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"SynthVault/internal/position"
	"SynthVault/internal/reserve"
	"SynthVault/internal/vaulterr"
	"SynthVault/internal/venue"
	"SynthVault/internal/wrapper"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID string
}

// Deps are the collaborators an Engine orchestrates.
type Deps struct {
	Oracle   oracle.PriceOracle
	Lending  venue.LendingVenue
	Position *position.Manager
	Token    venue.SynthToken
	Asset    venue.ReferenceAsset
	Wrapper  wrapper.Donee
	Reserve  *reserve.Account
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// Engine serializes every vault operation behind one lock.
//
// Each operation mutates local state first, then calls the venues, then
// commits. On failure local state is restored from a checkpoint and the
// external effects already issued are compensated in reverse order. Events
// are only emitted for committed operations.
type Engine struct {
	mu sync.Mutex

	params   Params
	state    State
	sequence int64

	allocLock    *governance.Timelock[AllocationSplit]
	leverageLock *governance.Timelock[int64]

	oracle   oracle.PriceOracle
	lending  venue.LendingVenue
	position *position.Manager
	token    venue.SynthToken
	asset    venue.ReferenceAsset
	wrapper  wrapper.Donee
	reserve  *reserve.Account

	persistChan chan<- Event
	publishChan chan<- Event

	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewEngine wires an engine. persistChan receives every committed event and
// may block; publishChan is best-effort and drops when full. Either may be nil.
func NewEngine(params Params, deps Deps, persistChan, publishChan chan<- Event) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, vaulterr.New("vault.new", vaulterr.ErrInvalidParameter, "%v", err)
	}
	if err := ValidateLeverage(params.Split.LeverageBps, deps.Position.Params().MinCollateralRatioBps); err != nil {
		return nil, vaulterr.New("vault.new", vaulterr.ErrInvalidParameter, "%v", err)
	}
	if deps.Oracle == nil || deps.Lending == nil || deps.Position == nil || deps.Token == nil ||
		deps.Asset == nil || deps.Wrapper == nil || deps.Reserve == nil {
		return nil, vaulterr.New("vault.new", vaulterr.ErrInvalidParameter, "missing collaborator")
	}

	return &Engine{
		params:       params,
		state:        newState(params),
		allocLock:    governance.NewTimelock[AllocationSplit](governance.KindAllocation, params.GovernanceDelay, params.GovernanceCooldown),
		leverageLock: governance.NewTimelock[int64](governance.KindLeverage, params.GovernanceDelay, params.GovernanceCooldown),
		oracle:       deps.Oracle,
		lending:      deps.Lending,
		position:     deps.Position,
		token:        deps.Token,
		asset:        deps.Asset,
		wrapper:      deps.Wrapper,
		reserve:      deps.Reserve,
		persistChan:  persistChan,
		publishChan:  publishChan,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          time.Now,
	}, nil
}

// SetNowFunc replaces the engine clock. Tests and replays use it.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) Params() Params { return e.params }

type engineKey struct{}

// undoStep compensates one external effect.
type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// opTx collects the compensations and events of one operation.
type opTx struct {
	op     string
	actor  string
	reqID  string
	now    time.Time
	undo   []undoStep
	events []Event
}

func (t *opTx) onFailure(name string, fn func(ctx context.Context) error) {
	t.undo = append(t.undo, undoStep{name: name, fn: fn})
}

func (t *opTx) emit(evt Event) {
	if evt.Actor == "" {
		evt.Actor = t.actor
	}
	evt.RequestID = t.reqID
	evt.Time = t.now
	t.events = append(t.events, evt)
}

type checkpoint struct {
	state    State
	sequence int64
	reserve  reserve.Snapshot
	position position.Snapshot
	alloc    governance.Snapshot[AllocationSplit]
	leverage governance.Snapshot[int64]
}

func (e *Engine) checkpoint() checkpoint {
	return checkpoint{
		state:    e.state.clone(),
		sequence: e.sequence,
		reserve:  e.reserve.Snapshot(),
		position: e.position.Snapshot(),
		alloc:    e.allocLock.Snapshot(),
		leverage: e.leverageLock.Snapshot(),
	}
}

func (e *Engine) rollback(cp checkpoint) {
	e.state = cp.state
	e.sequence = cp.sequence
	e.reserve.Restore(cp.reserve)
	e.position.Restore(cp.position)
	e.allocLock.Restore(cp.alloc)
	e.leverageLock.Restore(cp.leverage)
}

// run executes fn as one all-or-nothing operation.
func (e *Engine) run(ctx context.Context, op string, actor Actor, fn func(ctx context.Context, tx *opTx) error) error {
	if ctx.Value(engineKey{}) == e {
		return vaulterr.New(op, vaulterr.ErrReentrantCall, "engine re-entered from a collaborator")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	ctx = context.WithValue(ctx, engineKey{}, e)
	tx := &opTx{op: op, actor: actor.ID, reqID: RequestIDFrom(ctx), now: e.now()}
	cp := e.checkpoint()

	err := fn(ctx, tx)
	if e.metrics != nil {
		e.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.compensate(ctx, tx)
		e.rollback(cp)
		if len(tx.undo) > 0 {
			if rerr := e.position.Resync(ctx); rerr != nil {
				e.logger.Error().Err(rerr).Str("operation", op).Msg("resync after rollback failed")
			}
		}
		if e.metrics != nil {
			e.metrics.OperationsTotal.WithLabelValues(op, vaulterr.KindOf(err).String()).Inc()
		}
		e.logger.Info().Err(err).Str("operation", op).Str("actor", actor.ID).Msg("operation rejected")
		return err
	}

	if e.metrics != nil {
		e.metrics.OperationsTotal.WithLabelValues(op, "ok").Inc()
	}
	e.flush(tx.events)
	e.observe(ctx)
	return nil
}

// compensate runs the undo stack in reverse. A failing step is logged and
// the rest still run; nothing here can fail the operation further.
func (e *Engine) compensate(ctx context.Context, tx *opTx) {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		step := tx.undo[i]
		result := "ok"
		if err := step.fn(ctx); err != nil {
			result = "error"
			e.logger.Error().
				Err(err).
				Str("operation", tx.op).
				Str("step", step.name).
				Str("signal", string(SignalCompensationFailure)).
				Msg("compensation failed, manual reconciliation required")
		}
		if e.metrics != nil {
			e.metrics.Compensations.WithLabelValues(tx.op, result).Inc()
		}
	}
}

// flush stamps and delivers committed events.
func (e *Engine) flush(events []Event) {
	for i := range events {
		e.sequence++
		events[i].ID = uuid.New()
		events[i].Sequence = e.sequence

		if events[i].Type == EventSignal && e.metrics != nil {
			e.metrics.Signals.WithLabelValues(string(events[i].Signal)).Inc()
		}

		if e.persistChan != nil {
			select {
			case e.persistChan <- events[i]:
			default:
				if e.metrics != nil {
					e.metrics.PersistBackpressure.Inc()
				}
				e.persistChan <- events[i]
			}
		}
		if e.publishChan != nil {
			select {
			case e.publishChan <- events[i]:
			default:
				if e.metrics != nil {
					e.metrics.EventDrops.WithLabelValues("publish").Inc()
				}
			}
		}
	}
}

// Sequence returns the sequence of the last emitted event.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

func (e *Engine) requireOwner(op string, actor Actor) error {
	if actor.ID == "" || actor.ID != e.params.OwnerID {
		return vaulterr.New(op, vaulterr.ErrUnauthorized, "actor %q is not the owner", actor.ID)
	}
	return nil
}

func (e *Engine) requireActor(op string, actor Actor) error {
	if actor.ID == "" {
		return vaulterr.New(op, vaulterr.ErrInvalidParameter, "anonymous actor")
	}
	return nil
}

// rate reads the oracle and maps feed failures onto the vault taxonomy.
func (e *Engine) rate(ctx context.Context, op string) (int64, error) {
	rate, err := e.oracle.GetRate(ctx)
	if err != nil {
		return 0, vaulterr.Wrap(op, vaulterr.ErrOracle, err)
	}
	if e.metrics != nil {
		e.metrics.OracleRate.Set(float64(rate))
	}
	return rate, nil
}

// --- Venue helpers ---
//
// Every engine-initiated movement into or out of the lending venue goes
// through these, so the harvest baseline only ever sees interest.

// lendingDeposit deposits amount and returns what the venue actually added.
func (e *Engine) lendingDeposit(ctx context.Context, tx *opTx, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	before, err := e.lending.TotalAssets(ctx)
	if err != nil {
		return 0, vaulterr.Wrap(tx.op, vaulterr.ErrVenue, err)
	}
	if _, err := e.lending.Deposit(ctx, amount); err != nil {
		return 0, vaulterr.Wrap(tx.op, vaulterr.ErrVenue, fmt.Errorf("lending deposit: %w", err))
	}
	after, err := e.lending.TotalAssets(ctx)
	if err != nil {
		return 0, vaulterr.Wrap(tx.op, vaulterr.ErrUnverified, err)
	}
	added := after - before
	tx.onFailure("lending.deposit", func(ctx context.Context) error {
		_, err := e.lending.Withdraw(ctx, added)
		return err
	})
	e.state.Harvest.LastLendingBalance += added
	if added < e.minReturn(amount) {
		return added, vaulterr.New(tx.op, vaulterr.ErrUnverified,
			"lending credited %d for deposit of %d", added, amount)
	}
	return added, nil
}

// lendingWithdraw withdraws amount and requires MinReturnBps of it back.
func (e *Engine) lendingWithdraw(ctx context.Context, tx *opTx, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	before, err := e.lending.TotalAssets(ctx)
	if err != nil {
		return 0, vaulterr.Wrap(tx.op, vaulterr.ErrVenue, err)
	}
	got, err := e.lending.Withdraw(ctx, amount)
	if err != nil {
		return 0, vaulterr.Wrap(tx.op, vaulterr.ErrInsufficientReturn, fmt.Errorf("lending withdraw %d: %w", amount, err))
	}
	after, err := e.lending.TotalAssets(ctx)
	if err != nil {
		return got, vaulterr.Wrap(tx.op, vaulterr.ErrUnverified, err)
	}
	tx.onFailure("lending.withdraw", func(ctx context.Context) error {
		if got <= 0 {
			return nil
		}
		_, err := e.lending.Deposit(ctx, got)
		return err
	})
	e.state.Harvest.LastLendingBalance -= before - after
	if got < e.minReturn(amount) {
		return got, vaulterr.New(tx.op, vaulterr.ErrInsufficientReturn,
			"lending returned %d of %d requested", got, amount)
	}
	return got, nil
}

// increaseHedge grows the position and registers its unwind.
func (e *Engine) increaseHedge(ctx context.Context, tx *opTx, notional, collateral int64) (position.Fill, error) {
	fill, err := e.position.Increase(ctx, notional, collateral, time.Time{})
	if err != nil {
		// A rejected increase unwinds itself; an unverified one may not have.
		if !errors.Is(err, vaulterr.ErrNearLiquidation) && (fill.NotionalDelta > 0 || fill.CollateralDelta > 0) {
			tx.onFailure("hedge.increase", func(ctx context.Context) error {
				_, err := e.position.Unwind(ctx, fill)
				return err
			})
		}
		return fill, err
	}
	tx.onFailure("hedge.increase", func(ctx context.Context) error {
		_, err := e.position.Unwind(ctx, fill)
		return err
	})
	e.state.Harvest.LastHedgeCollateral += fill.CollateralDelta
	return fill, nil
}

// decreaseHedge closes shareRatio of the position. A payout is reported
// even when the call fails so the caller can compensate it.
func (e *Engine) decreaseHedge(ctx context.Context, tx *opTx, shareRatio int64) (int64, error) {
	prevNotional, prevCollateral := e.position.Notional(), e.position.Collateral()
	out, err := e.position.Decrease(ctx, shareRatio, time.Time{})
	notionalDelta := prevNotional - e.position.Notional()
	collateralDelta := prevCollateral - e.position.Collateral()
	e.state.Harvest.LastHedgeCollateral -= collateralDelta
	if out > 0 || notionalDelta > 0 {
		tx.onFailure("hedge.decrease", func(ctx context.Context) error {
			if out <= 0 {
				return nil
			}
			_, err := e.position.Increase(ctx, min(notionalDelta, e.maxNotionalFor(out)), out, time.Time{})
			return err
		})
	}
	return out, err
}

// maxNotionalFor is the largest notional collateral may back.
func (e *Engine) maxNotionalFor(collateral int64) int64 {
	return math.MulDiv(collateral, math.BpsScale, e.position.Params().MinCollateralRatioBps, math.RoundDown)
}

func (e *Engine) minReturn(amount int64) int64 {
	return math.BpsOf(amount, e.params.MinReturnBps, math.RoundUp)
}

package vault_test

import (
	"SynthVault/internal/math"
	"SynthVault/internal/oracle"
	"SynthVault/internal/position"
	"SynthVault/internal/reserve"
	"SynthVault/internal/vault"
	"SynthVault/internal/vaulterr"
	"SynthVault/internal/venue"
	"SynthVault/internal/wrapper"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	market    = "GBPUSD"
	owner     = "owner"
	treasury  = "treasury"
	wrapAddr  = "wrapper"
	venueA    = "perp-a"
	startRate = "1.30"
)

var (
	ownerActor = vault.Actor{ID: owner}
	alice      = vault.Actor{ID: "alice"}
	bob        = vault.Actor{ID: "bob"}
)

// Wednesday, mid-session.
var wednesdayNoon = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *testClock) Set(t time.Time)         { c.t = t }

type harness struct {
	engine  *vault.Engine
	clock   *testClock
	oracle  *oracle.FeedOracle
	oracleN int64
	lending *venue.MemoryLending
	hedge   *venue.MemoryHedge
	pos     *position.Manager
	token   *venue.MemoryToken
	asset   *venue.MemoryAsset
	wrap    *wrapper.AutoCompounder
	reserve *reserve.Account
	events  chan vault.Event
}

type harnessConfig struct {
	params  vault.Params
	reserve reserve.Config
	bounds  oracle.Bounds
}

type harnessOption func(*harnessConfig)

func withParams(fn func(p *vault.Params)) harnessOption {
	return func(c *harnessConfig) { fn(&c.params) }
}

func withReserve(cfg reserve.Config) harnessOption {
	return func(c *harnessConfig) { c.reserve = cfg }
}

func withReserveCap(borrowCap string) harnessOption {
	return func(c *harnessConfig) { c.reserve.BorrowCap = math.Amount(borrowCap) }
}

func withOracleBounds(b oracle.Bounds) harnessOption {
	return func(c *harnessConfig) { c.bounds = b }
}

func newTestHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{
		params:  vault.DefaultParams(),
		reserve: reserve.Config{Floor: math.Amount("10000"), BorrowCap: math.Amount("1000")},
	}
	cfg.params.OwnerID = owner
	for _, opt := range opts {
		opt(&cfg)
	}
	params := cfg.params

	clock := &testClock{t: wednesdayNoon}
	h := &harness{
		clock:   clock,
		oracle:  oracle.NewFeedOracle(market, cfg.bounds),
		lending: venue.NewMemoryLending(),
		hedge:   venue.NewMemoryHedge(market, params.VaultAccount, params.OpeningFeeBps),
		token:   venue.NewMemoryToken(),
		asset:   venue.NewMemoryAsset(),
		wrap:    wrapper.NewAutoCompounder(wrapAddr, 1_000),
		reserve: reserve.NewAccount(cfg.reserve),
		events:  make(chan vault.Event, 4096),
	}
	h.oracle.SetNowFunc(clock.Now)
	h.token.SetNowFunc(clock.Now)
	h.setRate(startRate)

	pos, err := position.NewManager(market, params.VaultAccount, venueA, h.hedge, position.DefaultParams, zerolog.Nop())
	require.NoError(t, err)
	pos.SetNowFunc(clock.Now)
	h.pos = pos

	engine, err := vault.NewEngine(params, vault.Deps{
		Oracle:   h.oracle,
		Lending:  h.lending,
		Position: pos,
		Token:    h.token,
		Asset:    h.asset,
		Wrapper:  h.wrap,
		Reserve:  h.reserve,
		Logger:   zerolog.Nop(),
	}, h.events, nil)
	require.NoError(t, err)
	engine.SetNowFunc(clock.Now)
	h.engine = engine
	return h
}

func (h *harness) setRate(rate string) {
	h.oracleN++
	if err := h.oracle.Update(math.Rate(rate), h.clock.Now(), h.oracleN); err != nil {
		panic(err)
	}
}

// fundReserve seeds the reserve through the engine so the lending baseline
// stays consistent.
func (h *harness) fundReserve(t *testing.T, who vault.Actor, amount string) {
	t.Helper()
	h.asset.Credit(who.ID, math.Amount(amount))
	_, err := h.engine.FundReserve(context.Background(), who, math.Amount(amount))
	require.NoError(t, err)
}

func (h *harness) mustMint(t *testing.T, who vault.Actor, deposit string) vault.MintResult {
	t.Helper()
	h.asset.Credit(who.ID, math.Amount(deposit))
	res, err := h.engine.Mint(context.Background(), who, math.Amount(deposit), 0)
	require.NoError(t, err)
	return res
}

func (h *harness) lendingAssets(t *testing.T) int64 {
	t.Helper()
	v, err := h.lending.TotalAssets(context.Background())
	require.NoError(t, err)
	return v
}

func (h *harness) hedgeSize(t *testing.T) int64 {
	t.Helper()
	v, err := h.hedge.PositionSize(context.Background(), market, "vault")
	require.NoError(t, err)
	return v
}

func (h *harness) hedgeCollateral(t *testing.T) int64 {
	t.Helper()
	v, err := h.hedge.PositionCollateral(context.Background(), market, "vault")
	require.NoError(t, err)
	return v
}

func (h *harness) balance(t *testing.T, who string) int64 {
	t.Helper()
	v, err := h.token.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return v
}

// drain returns every event emitted so far.
func (h *harness) drain() []vault.Event {
	var out []vault.Event
	for {
		select {
		case evt := <-h.events:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func signals(events []vault.Event) []vault.Signal {
	var out []vault.Signal
	for _, evt := range events {
		if evt.Type == vault.EventSignal {
			out = append(out, evt.Signal)
		}
	}
	return out
}

// ============================================================================
// Construction
// ============================================================================

func TestNewEngine_RejectsInvalidParams(t *testing.T) {
	pos, err := position.NewManager(market, "vault", venueA, venue.NewMemoryHedge(market, "vault", 3), position.DefaultParams, zerolog.Nop())
	require.NoError(t, err)
	deps := vault.Deps{
		Oracle:   oracle.NewFeedOracle(market, oracle.Bounds{}),
		Lending:  venue.NewMemoryLending(),
		Position: pos,
		Token:    venue.NewMemoryToken(),
		Asset:    venue.NewMemoryAsset(),
		Wrapper:  wrapper.NewAutoCompounder(wrapAddr, 0),
		Reserve:  reserve.NewAccount(reserve.Config{}),
		Logger:   zerolog.Nop(),
	}

	bad := vault.DefaultParams()
	bad.Split = vault.AllocationSplit{LendingBps: 7_000, HedgeBps: 2_000, LeverageBps: 50_000}
	_, err = vault.NewEngine(bad, deps, nil, nil)
	assert.ErrorIs(t, err, vaulterr.ErrInvalidParameter)

	tooLevered := vault.DefaultParams()
	tooLevered.Split.LeverageBps = 200_000 // 20x against a 10% minimum ratio
	_, err = vault.NewEngine(tooLevered, deps, nil, nil)
	assert.ErrorIs(t, err, vaulterr.ErrInvalidParameter)

	_, err = vault.NewEngine(vault.DefaultParams(), deps, nil, nil)
	assert.NoError(t, err)
}

// ============================================================================
// Re-entry and atomicity
// ============================================================================

// reentrantLending calls back into the engine from inside Deposit.
type reentrantLending struct {
	*venue.MemoryLending
	hook    func(ctx context.Context) error
	hookErr error
}

func (l *reentrantLending) Deposit(ctx context.Context, amount int64) (int64, error) {
	if l.hook != nil {
		hook := l.hook
		l.hook = nil
		l.hookErr = hook(ctx)
	}
	return l.MemoryLending.Deposit(ctx, amount)
}

func TestEngine_RejectsReentrantCall(t *testing.T) {
	h := newTestHarness(t)
	lending := &reentrantLending{MemoryLending: venue.NewMemoryLending()}

	engine, err := vault.NewEngine(h.engine.Params(), vault.Deps{
		Oracle:   h.oracle,
		Lending:  lending,
		Position: h.pos,
		Token:    h.token,
		Asset:    h.asset,
		Wrapper:  h.wrap,
		Reserve:  h.reserve,
		Logger:   zerolog.Nop(),
	}, nil, nil)
	require.NoError(t, err)
	engine.SetNowFunc(h.clock.Now)

	h.asset.Credit(treasury, math.Amount("50000"))
	lending.hook = func(ctx context.Context) error {
		_, err := engine.Mint(ctx, alice, math.Amount("100"), 0)
		return err
	}
	_, err = engine.FundReserve(context.Background(), vault.Actor{ID: treasury}, math.Amount("50000"))
	require.NoError(t, err)

	require.Error(t, lending.hookErr)
	assert.ErrorIs(t, lending.hookErr, vaulterr.ErrReentrantCall)
	assert.ErrorIs(t, lending.hookErr, vaulterr.ErrState)
}

func TestMint_HedgeFailureLeavesNoTrace(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.drain()
	before := h.engine.State()
	lendingBefore := h.lendingAssets(t)

	h.asset.Credit(alice.ID, math.Amount("1000"))
	h.hedge.FailNext(errors.New("venue halted"))
	_, err := h.engine.Mint(context.Background(), alice, math.Amount("1000"), 0)

	require.ErrorIs(t, err, vaulterr.ErrVenue)
	assert.Equal(t, math.Amount("1000"), h.asset.Balance(alice.ID), "deposit refunded")
	assert.Equal(t, lendingBefore, h.lendingAssets(t))
	assert.Equal(t, int64(0), h.hedgeSize(t))
	after := h.engine.State()
	assert.Equal(t, before.ReserveBalance, after.ReserveBalance)
	assert.Equal(t, int64(0), after.PendingDeposits)
	assert.Empty(t, after.LastAction, "cooldown not consumed by a failed mint")
	assert.Empty(t, h.drain(), "no events for a failed operation")
}

func TestMint_LendingFailureUnwindsHedge(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")

	h.asset.Credit(alice.ID, math.Amount("1000"))
	h.lending.FailNext(errors.New("pool paused"))
	_, err := h.engine.Mint(context.Background(), alice, math.Amount("1000"), 0)

	require.ErrorIs(t, err, vaulterr.ErrExternal)
	assert.Equal(t, int64(0), h.hedgeSize(t), "hedge increase compensated")
	assert.Equal(t, math.Amount("1000"), h.asset.Balance(alice.ID))
	assert.Equal(t, int64(0), h.balance(t, alice.ID))
	assert.Equal(t, int64(0), h.engine.State().HedgeNotional)
}

func TestMint_SlippageCompensates(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	lendingBefore := h.lendingAssets(t)

	h.asset.Credit(alice.ID, math.Amount("100"))
	_, err := h.engine.Mint(context.Background(), alice, math.Amount("100"), math.Amount("80"))

	require.ErrorIs(t, err, vaulterr.ErrSlippage)
	require.ErrorIs(t, err, vaulterr.ErrSafety)
	assert.Equal(t, lendingBefore, h.lendingAssets(t))
	assert.Equal(t, int64(0), h.hedgeSize(t))
	assert.Equal(t, math.Amount("100"), h.asset.Balance(alice.ID))
	assert.Equal(t, int64(0), h.engine.State().LendingPrincipal)
}

// ============================================================================
// Admin
// ============================================================================

func TestAdmin_OwnerOnly(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.engine.Pause(ctx, alice), vaulterr.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.SetCap(ctx, alice, 1, 0), vaulterr.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.SetCooldowns(ctx, vault.Actor{}, 0, 0), vaulterr.ErrAuth)
	assert.ErrorIs(t, h.engine.SetHoldPeriod(ctx, alice, 0), vaulterr.ErrUnauthorized)

	require.NoError(t, h.engine.Pause(ctx, ownerActor))
	assert.True(t, h.engine.State().Paused)
	require.NoError(t, h.engine.Unpause(ctx, ownerActor))
	assert.False(t, h.engine.State().Paused)
}

func TestAdmin_PauseBlocksUserOperations(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")
	require.NoError(t, h.engine.Pause(ctx, ownerActor))
	h.clock.Advance(2 * time.Hour)

	_, err := h.engine.Mint(ctx, bob, math.Amount("100"), 0)
	assert.ErrorIs(t, err, vaulterr.ErrPaused)
	_, err = h.engine.Redeem(ctx, alice, math.Amount("1"))
	assert.ErrorIs(t, err, vaulterr.ErrPaused)
	_, err = h.engine.HarvestYield(ctx, bob)
	assert.ErrorIs(t, err, vaulterr.ErrPaused)
}

func TestAdmin_SetCapAndCooldowns(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")

	require.NoError(t, h.engine.SetCap(ctx, ownerActor, math.Amount("1000"), 500))
	h.asset.Credit(alice.ID, math.Amount("1000"))
	_, err := h.engine.Mint(ctx, alice, math.Amount("1000"), 0)
	assert.ErrorIs(t, err, vaulterr.ErrCapExceeded, "950 effective cap")

	_, err = h.engine.Mint(ctx, alice, math.Amount("900"), 0)
	require.NoError(t, err)

	require.NoError(t, h.engine.SetCap(ctx, ownerActor, math.Amount("100000"), 0))
	require.NoError(t, h.engine.SetCooldowns(ctx, ownerActor, time.Hour, 0))
	h.clock.Advance(30 * time.Minute)
	h.asset.Credit(alice.ID, math.Amount("100"))
	_, err = h.engine.Mint(ctx, alice, math.Amount("100"), 0)
	assert.ErrorIs(t, err, vaulterr.ErrRateLimited)

	h.clock.Advance(31 * time.Minute)
	_, err = h.engine.Mint(ctx, alice, math.Amount("100"), 0)
	assert.NoError(t, err)
}

func TestEmergencyShutdown(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")

	_, err := h.engine.EmergencyShutdown(ctx, alice, "not yours")
	require.ErrorIs(t, err, vaulterr.ErrUnauthorized)

	recovered, err := h.engine.EmergencyShutdown(ctx, ownerActor, "venue incident")
	require.NoError(t, err)

	assert.Equal(t, int64(0), h.hedgeSize(t))
	assert.Equal(t, int64(0), h.lendingAssets(t))
	assert.Equal(t, math.Amount("50999.7"), recovered)
	assert.Equal(t, recovered, h.asset.Balance("vault"))

	st := h.engine.State()
	assert.True(t, st.Paused)
	assert.True(t, st.Shutdown)
	assert.ErrorIs(t, h.engine.Unpause(ctx, ownerActor), vaulterr.ErrPaused)
}

// ============================================================================
// Snapshots
// ============================================================================

func TestSnapshot_RestoreIntoFreshEngine(t *testing.T) {
	h := newTestHarness(t)
	h.fundReserve(t, vault.Actor{ID: treasury}, "50000")
	h.mustMint(t, alice, "1000")

	hasher := vault.NewStateHasher()
	data, hash, err := hasher.Encode(h.engine.Snapshot())
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, hash)

	snap, err := vault.DecodeSnapshot(data)
	require.NoError(t, err)

	fresh := newTestHarness(t)
	require.NoError(t, fresh.engine.Restore(snap))

	want, got := h.engine.State(), fresh.engine.State()
	assert.Equal(t, want.Sequence, got.Sequence)
	assert.Equal(t, want.LendingPrincipal, got.LendingPrincipal)
	assert.Equal(t, want.ReserveBalance, got.ReserveBalance)
	assert.Equal(t, want.HedgeNotional, got.HedgeNotional)
	assert.Equal(t, want.Split, got.Split)
	assert.Equal(t, want.LastAction[alice.ID].Unix(), got.LastAction[alice.ID].Unix())
}

func TestStateHasher_Chains(t *testing.T) {
	a := vault.NewStateHasher()
	b := vault.NewStateHasher()

	h1 := a.ComputeHash(1, []byte("x"))
	assert.Equal(t, h1, b.ComputeHash(1, []byte("x")))

	h2 := a.ComputeHash(2, []byte("y"))
	resumed := vault.NewStateHasherFrom(h1)
	assert.Equal(t, h2, resumed.ComputeHash(2, []byte("y")))
	assert.NotEqual(t, h2, vault.NewStateHasher().ComputeHash(2, []byte("y")))
}

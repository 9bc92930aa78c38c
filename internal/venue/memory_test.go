package venue_test

import (
	"SynthVault/internal/math"
	"SynthVault/internal/venue"
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryHedge_OpeningFeeFromCollateral(t *testing.T) {
	ctx := context.Background()
	h := venue.NewMemoryHedge("GBPUSD", "vault", 3)

	// 100 notional at 3 bps costs 0.03; collateral sent includes it.
	if err := h.IncreasePosition(ctx, "GBPUSD", math.Amount("20.03"), math.Amount("100"), true); err != nil {
		t.Fatalf("increase: %v", err)
	}
	collateral, _ := h.PositionCollateral(ctx, "GBPUSD", "vault")
	if collateral != math.Amount("20") {
		t.Errorf("collateral: got %d, want %d", collateral, math.Amount("20"))
	}
	size, _ := h.PositionSize(ctx, "GBPUSD", "vault")
	if size != math.Amount("100") {
		t.Errorf("size: got %d, want %d", size, math.Amount("100"))
	}
}

func TestMemoryHedge_DecreaseRealizesPnLSlice(t *testing.T) {
	ctx := context.Background()
	h := venue.NewMemoryHedge("GBPUSD", "vault", 0)
	h.IncreasePosition(ctx, "GBPUSD", math.Amount("20"), math.Amount("100"), true)
	h.SetPnL(math.Amount("4"))

	out, err := h.DecreasePosition(ctx, "GBPUSD", math.Amount("5"), math.Amount("25"), true)
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	// A quarter of the position returns a quarter of the PnL.
	if out != math.Amount("6") {
		t.Errorf("payout: got %d, want %d", out, math.Amount("6"))
	}
	pnl, _ := h.PositionPnL(ctx, "GBPUSD", "vault")
	if pnl != math.Amount("3") {
		t.Errorf("remaining pnl: got %d, want %d", pnl, math.Amount("3"))
	}
}

func TestMemoryLending_LiquidityAndHaircut(t *testing.T) {
	ctx := context.Background()
	l := venue.NewMemoryLending()
	l.Deposit(ctx, math.Amount("100"))

	l.SetLiquidity(math.Amount("10"))
	if _, err := l.Withdraw(ctx, math.Amount("20")); !errors.Is(err, venue.ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity, got %v", err)
	}
	max, _ := l.MaxWithdrawable(ctx, "vault")
	if max != math.Amount("10") {
		t.Errorf("max withdrawable: got %d", max)
	}

	l.SetLiquidity(-1)
	l.SetWithdrawHaircut(200)
	out, err := l.Withdraw(ctx, math.Amount("50"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out != math.Amount("49") {
		t.Errorf("haircut payout: got %d, want %d", out, math.Amount("49"))
	}
}

func TestMemoryToken_TransferKeepsLaterMintTime(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	tok := venue.NewMemoryToken()
	tok.SetNowFunc(func() time.Time { return now })

	tok.Mint(ctx, "old", 100)
	now = now.Add(48 * time.Hour)
	tok.Mint(ctx, "fresh", 100)

	// Fresh tokens moved to an old holder must not look old.
	if err := tok.Transfer(ctx, "fresh", "old", 50); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	mt, _ := tok.MintTime(ctx, "old")
	if !mt.Equal(now) {
		t.Errorf("mint time: got %s, want %s", mt, now)
	}
}

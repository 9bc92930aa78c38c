package venue

import (
	"SynthVault/internal/math"
	"context"
	"fmt"
	"sync"
)

// MemoryHedge is a one-account perpetual venue kept in memory. PnL is set by
// the test or simulator; the venue charges an opening fee out of collateral.
type MemoryHedge struct {
	mu         sync.Mutex
	market     string
	account    string
	feeBps     int64
	slipBps    int64
	collateral int64
	size       int64
	pnl        int64
	failNext   error
	readErr    error
}

func NewMemoryHedge(market, account string, openFeeBps int64) *MemoryHedge {
	return &MemoryHedge{market: market, account: account, feeBps: openFeeBps}
}

func (h *MemoryHedge) IncreasePosition(ctx context.Context, market string, collateral, notional int64, isLong bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailure(); err != nil {
		return err
	}
	if market != h.market {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, market)
	}
	if !isLong {
		return fmt.Errorf("hedge: only long positions supported")
	}
	fee := math.BpsOf(notional, h.feeBps, math.RoundUp)
	if collateral < fee {
		return fmt.Errorf("hedge: collateral %d below opening fee %d", collateral, fee)
	}
	h.collateral += collateral - fee
	h.size += notional
	return nil
}

func (h *MemoryHedge) DecreasePosition(ctx context.Context, market string, collateralDelta, notionalDelta int64, isLong bool) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailure(); err != nil {
		return 0, err
	}
	if market != h.market {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMarket, market)
	}
	if collateralDelta > h.collateral || notionalDelta > h.size {
		return 0, fmt.Errorf("hedge: decrease (%d, %d) exceeds position (%d, %d)",
			collateralDelta, notionalDelta, h.collateral, h.size)
	}

	var pnlSlice int64
	if h.size > 0 {
		pnlSlice = math.MulDiv(h.pnl, notionalDelta, h.size, math.RoundDown)
	}
	h.collateral -= collateralDelta
	h.size -= notionalDelta
	h.pnl -= pnlSlice
	if h.size == 0 {
		h.pnl = 0
	}

	out := collateralDelta + pnlSlice
	out -= math.BpsOf(out, h.slipBps, math.RoundUp)
	if out < 0 {
		out = 0
	}
	return out, nil
}

func (h *MemoryHedge) PositionPnL(ctx context.Context, market, account string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if market != h.market || account != h.account {
		return 0, nil
	}
	return h.pnl, nil
}

func (h *MemoryHedge) PositionSize(ctx context.Context, market, account string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.readErr != nil {
		return 0, h.readErr
	}
	if market != h.market || account != h.account {
		return 0, nil
	}
	return h.size, nil
}

func (h *MemoryHedge) PositionCollateral(ctx context.Context, market, account string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.readErr != nil {
		return 0, h.readErr
	}
	if market != h.market || account != h.account {
		return 0, nil
	}
	return h.collateral, nil
}

// SetPnL sets the unrealized PnL of the open position.
func (h *MemoryHedge) SetPnL(pnl int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pnl = pnl
}

// ChargeFunding deducts a funding or borrow fee from collateral.
func (h *MemoryHedge) ChargeFunding(amount int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collateral -= amount
}

// SetSlippage reduces every decrease payout by bps.
func (h *MemoryHedge) SetSlippage(bps int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slipBps = bps
}

// FailNext makes the next state-changing call return err.
func (h *MemoryHedge) FailNext(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failNext = err
}

// SetReadError makes position reads fail with err until cleared with nil.
func (h *MemoryHedge) SetReadError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readErr = err
}

func (h *MemoryHedge) takeFailure() error {
	err := h.failNext
	h.failNext = nil
	return err
}

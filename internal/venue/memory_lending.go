package venue

import (
	"SynthVault/internal/math"
	"context"
	"fmt"
	"sync"
)

// MemoryLending is a single-depositor lending pool kept in memory.
type MemoryLending struct {
	mu          sync.Mutex
	assets      int64
	liquidity   int64 // -1: unlimited
	haircutBps  int64
	failNext    error
	deposits    int64
	withdrawals int64
}

func NewMemoryLending() *MemoryLending {
	return &MemoryLending{liquidity: -1}
}

func (l *MemoryLending) Deposit(ctx context.Context, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("lending: deposit %d", amount)
	}
	l.assets += amount
	l.deposits++
	return amount, nil
}

func (l *MemoryLending) Withdraw(ctx context.Context, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return 0, err
	}
	if amount > l.assets {
		return 0, fmt.Errorf("%w: want %d, have %d", ErrInsufficientBalance, amount, l.assets)
	}
	if l.liquidity >= 0 && amount > l.liquidity {
		return 0, fmt.Errorf("%w: want %d, available %d", ErrInsufficientLiquidity, amount, l.liquidity)
	}
	l.assets -= amount
	if l.liquidity >= 0 {
		l.liquidity -= amount
	}
	l.withdrawals++
	return amount - math.BpsOf(amount, l.haircutBps, math.RoundUp), nil
}

func (l *MemoryLending) TotalAssets(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assets, nil
}

func (l *MemoryLending) EmergencyWithdraw(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.assets
	l.assets = 0
	return out, nil
}

func (l *MemoryLending) MaxWithdrawable(ctx context.Context, account string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.liquidity >= 0 && l.liquidity < l.assets {
		return l.liquidity, nil
	}
	return l.assets, nil
}

// Accrue credits interest to the pool.
func (l *MemoryLending) Accrue(amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets += amount
}

// SetLiquidity caps withdrawals; -1 removes the cap.
func (l *MemoryLending) SetLiquidity(liquidity int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.liquidity = liquidity
}

// SetWithdrawHaircut makes withdrawals pay out less than requested.
func (l *MemoryLending) SetWithdrawHaircut(bps int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.haircutBps = bps
}

// FailNext makes the next state-changing call return err.
func (l *MemoryLending) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

func (l *MemoryLending) takeFailure() error {
	err := l.failNext
	l.failNext = nil
	return err
}

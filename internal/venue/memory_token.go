package venue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryToken is an in-memory synth receipt token.
type MemoryToken struct {
	mu        sync.Mutex
	balances  map[string]int64
	mintTimes map[string]time.Time
	supply    int64
	now       func() time.Time
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances:  make(map[string]int64),
		mintTimes: make(map[string]time.Time),
		now:       time.Now,
	}
}

func (t *MemoryToken) SetNowFunc(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *MemoryToken) Mint(ctx context.Context, to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if amount <= 0 {
		return fmt.Errorf("token: mint %d", amount)
	}
	t.balances[to] += amount
	t.supply += amount
	t.mintTimes[to] = t.now()
	return nil
}

func (t *MemoryToken) Burn(ctx context.Context, from string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, burn %d", ErrInsufficientBalance, from, t.balances[from], amount)
	}
	t.balances[from] -= amount
	t.supply -= amount
	return nil
}

// Transfer moves tokens. The receiver inherits the later of the two mint
// times, so moving tokens never makes a hold period look longer.
func (t *MemoryToken) Transfer(ctx context.Context, from, to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, transfer %d", ErrInsufficientBalance, from, t.balances[from], amount)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	if t.mintTimes[from].After(t.mintTimes[to]) {
		t.mintTimes[to] = t.mintTimes[from]
	}
	return nil
}

func (t *MemoryToken) TotalSupply(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply, nil
}

func (t *MemoryToken) BalanceOf(ctx context.Context, holder string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[holder], nil
}

func (t *MemoryToken) MintTime(ctx context.Context, holder string) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mintTimes[holder], nil
}

// MemoryAsset is an in-memory reference-asset ledger.
type MemoryAsset struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemoryAsset() *MemoryAsset {
	return &MemoryAsset{balances: make(map[string]int64)}
}

// Credit gives holder funds to deposit.
func (a *MemoryAsset) Credit(holder string, amount int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[holder] += amount
}

func (a *MemoryAsset) Balance(holder string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[holder]
}

func (a *MemoryAsset) Pull(ctx context.Context, from string, amount int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, pull %d", ErrInsufficientBalance, from, a.balances[from], amount)
	}
	a.balances[from] -= amount
	return nil
}

func (a *MemoryAsset) Push(ctx context.Context, to string, amount int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[to] += amount
	return nil
}

// Package wrapper is the auto-compounding vault that receives harvested
// yield as a donation: assets grow, share count does not.
package wrapper

import (
	"SynthVault/internal/math"
	"context"
	"fmt"
	"sync"
)

// Donee is what the vault engine needs from the wrapper.
type Donee interface {
	Address() string
	Donate(ctx context.Context, amount int64) error
	HarvestFee(ctx context.Context) (int64, error)
}

// AutoCompounder tracks synth assets against wrapper shares and takes a
// performance fee only on per-share value above the high-water mark.
type AutoCompounder struct {
	mu            sync.Mutex
	address       string
	totalAssets   int64
	totalShares   int64
	shares        map[string]int64
	highWaterMark int64 // assets per share, AmountConfig scale
	feeBps        int64
	feesAccrued   int64
}

func NewAutoCompounder(address string, performanceFeeBps int64) *AutoCompounder {
	return &AutoCompounder{
		address:       address,
		shares:        make(map[string]int64),
		highWaterMark: math.AmountConfig.Scale,
		feeBps:        performanceFeeBps,
	}
}

func (w *AutoCompounder) Address() string { return w.address }

// Deposit adds synth assets for owner and returns the shares issued.
func (w *AutoCompounder) Deposit(ctx context.Context, owner string, assets int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if assets <= 0 {
		return 0, fmt.Errorf("wrapper: deposit %d", assets)
	}
	shares := assets
	if w.totalShares > 0 {
		shares = math.MulDiv(assets, w.totalShares, w.totalAssets, math.RoundDown)
	}
	if shares == 0 {
		return 0, fmt.Errorf("wrapper: deposit %d too small for a share", assets)
	}
	w.totalAssets += assets
	w.totalShares += shares
	w.shares[owner] += shares
	return shares, nil
}

// Redeem burns shares for owner and returns the synth assets released.
func (w *AutoCompounder) Redeem(ctx context.Context, owner string, shares int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if shares <= 0 || w.shares[owner] < shares {
		return 0, fmt.Errorf("wrapper: %s cannot redeem %d shares", owner, shares)
	}
	assets := math.MulDiv(shares, w.totalAssets, w.totalShares, math.RoundDown)
	w.shares[owner] -= shares
	w.totalShares -= shares
	w.totalAssets -= assets
	return assets, nil
}

// Donate adds assets without issuing shares.
func (w *AutoCompounder) Donate(ctx context.Context, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if amount <= 0 {
		return fmt.Errorf("wrapper: donate %d", amount)
	}
	w.totalAssets += amount
	return nil
}

// HarvestFee skims the performance fee on gains above the high-water mark
// and raises the mark to the post-fee share price.
func (w *AutoCompounder) HarvestFee(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.totalShares == 0 {
		return 0, nil
	}

	pps := w.pricePerShare()
	if pps <= w.highWaterMark {
		return 0, nil
	}

	gain := math.MulDiv(pps-w.highWaterMark, w.totalShares, math.AmountConfig.Scale, math.RoundDown)
	fee := math.BpsOf(gain, w.feeBps, math.RoundUp)
	if fee > gain {
		fee = gain
	}
	w.totalAssets -= fee
	w.feesAccrued += fee
	w.highWaterMark = w.pricePerShare()
	return fee, nil
}

// PricePerShare returns assets per share on AmountConfig scale.
func (w *AutoCompounder) PricePerShare() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pricePerShare()
}

func (w *AutoCompounder) pricePerShare() int64 {
	if w.totalShares == 0 {
		return math.AmountConfig.Scale
	}
	return math.MulDiv(w.totalAssets, math.AmountConfig.Scale, w.totalShares, math.RoundDown)
}

func (w *AutoCompounder) TotalAssets() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalAssets
}

func (w *AutoCompounder) FeesAccrued() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.feesAccrued
}

func (w *AutoCompounder) HighWaterMark() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.highWaterMark
}

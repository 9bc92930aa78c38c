// Package venue defines the external collaborators the vault allocates
// capital to, and in-memory implementations for local runs and tests.
//
// Every call is a fallible remote call. Callers re-read balances and
// positions after each state-changing call instead of trusting the request.
package venue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientLiquidity = errors.New("venue: insufficient liquidity")
	ErrInsufficientBalance   = errors.New("venue: insufficient balance")
	ErrUnknownMarket         = errors.New("venue: unknown market")
)

// LendingVenue is the yield-bearing deposit facility for idle capital.
type LendingVenue interface {
	Deposit(ctx context.Context, amount int64) (shares int64, err error)
	Withdraw(ctx context.Context, amount int64) (actual int64, err error)
	TotalAssets(ctx context.Context) (int64, error)
	EmergencyWithdraw(ctx context.Context) (int64, error)
	MaxWithdrawable(ctx context.Context, account string) (int64, error)
}

// HedgeVenue is the leveraged position facility for the currency hedge.
// DecreasePosition returns the amount paid out, collateral plus realized PnL.
type HedgeVenue interface {
	IncreasePosition(ctx context.Context, market string, collateral, notional int64, isLong bool) error
	DecreasePosition(ctx context.Context, market string, collateralDelta, notionalDelta int64, isLong bool) (int64, error)
	PositionPnL(ctx context.Context, market, account string) (int64, error)
	PositionSize(ctx context.Context, market, account string) (int64, error)
	PositionCollateral(ctx context.Context, market, account string) (int64, error)
}

// SynthToken is the receipt token. MintTime is kept by the token so a
// transfer cannot present a fresher holder as an older one.
type SynthToken interface {
	Mint(ctx context.Context, to string, amount int64) error
	Burn(ctx context.Context, from string, amount int64) error
	Transfer(ctx context.Context, from, to string, amount int64) error
	TotalSupply(ctx context.Context) (int64, error)
	BalanceOf(ctx context.Context, holder string) (int64, error)
	MintTime(ctx context.Context, holder string) (time.Time, error)
}

// ReferenceAsset moves the deposited stable asset in and out of the vault.
type ReferenceAsset interface {
	Pull(ctx context.Context, from string, amount int64) error
	Push(ctx context.Context, to string, amount int64) error
}

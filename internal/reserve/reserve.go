// Package reserve implements the self-funding buffer that pays hedge
// opening costs and collects redemption fees.
//
// Balances are bookkeeping only: the funds themselves sit in the lending
// venue alongside user backing, and the vault engine moves them.
package reserve

import (
	"SynthVault/internal/math"
	"SynthVault/internal/vaulterr"
)

// Config holds the reserve limits.
type Config struct {
	Floor         int64 // balance must stay >= Floor after any withdrawal
	BorrowCap     int64 // max yield-shortfall the reserve may lend out
	LowWarningBps int64 // low-reserve signal below Floor * LowWarningBps
}

// Account is the reserve ledger. Not safe for concurrent use; the vault
// engine serializes access.
type Account struct {
	cfg           Config
	balance       int64
	contributions map[string]int64
	openingFees   int64
	redeemFees    int64
	borrowedYield int64
	advanced      int64
}

func NewAccount(cfg Config) *Account {
	if cfg.LowWarningBps == 0 {
		cfg.LowWarningBps = 15_000
	}
	return &Account{cfg: cfg, contributions: make(map[string]int64)}
}

func (a *Account) Balance() int64       { return a.balance }
func (a *Account) Floor() int64         { return a.cfg.Floor }
func (a *Account) BorrowedYield() int64 { return a.borrowedYield }

// TotalOpeningFeesPaid is every opening fee the reserve has covered.
func (a *Account) TotalOpeningFeesPaid() int64 { return a.openingFees }

// TotalRedemptionFees is every redemption fee routed into the reserve.
func (a *Account) TotalRedemptionFees() int64 { return a.redeemFees }

// Contribution returns what contributor has put in and may take back.
func (a *Account) Contribution(contributor string) int64 {
	return a.contributions[contributor]
}

// Available is the balance above the floor.
func (a *Account) Available() int64 {
	if a.balance <= a.cfg.Floor {
		return 0
	}
	return a.balance - a.cfg.Floor
}

// Fund records a contribution.
func (a *Account) Fund(contributor string, amount int64) error {
	if amount <= 0 {
		return vaulterr.New("reserve.fund", vaulterr.ErrZeroAmount, "amount %d", amount)
	}
	if contributor == "" {
		return vaulterr.New("reserve.fund", vaulterr.ErrInvalidParameter, "empty contributor")
	}
	a.balance += amount
	a.contributions[contributor] += amount
	return nil
}

// AdvanceOpeningFee fronts a mint's opening fee. It must be repaid with
// RepayOpeningFee inside the same operation.
func (a *Account) AdvanceOpeningFee(fee int64) error {
	if fee <= 0 {
		return nil
	}
	if fee > a.balance {
		return vaulterr.New("reserve.advance", vaulterr.ErrInsufficientReserve,
			"opening fee %d exceeds reserve balance %d", fee, a.balance)
	}
	a.balance -= fee
	a.advanced += fee
	return nil
}

// RepayOpeningFee settles an advance out of the depositor's funds.
func (a *Account) RepayOpeningFee(fee int64) error {
	if fee <= 0 {
		return nil
	}
	if fee > a.advanced {
		return vaulterr.New("reserve.repay", vaulterr.ErrInvalidParameter,
			"repay %d exceeds outstanding advance %d", fee, a.advanced)
	}
	a.balance += fee
	a.advanced -= fee
	a.openingFees += fee
	return nil
}

// Outstanding is the unrepaid opening-fee advance. Zero between operations.
func (a *Account) Outstanding() int64 { return a.advanced }

// PayOpeningFee spends reserve funds on an opening fee with no depositor to
// repay it, as when a rebalance reopens the hedge.
func (a *Account) PayOpeningFee(fee int64) error {
	if fee <= 0 {
		return nil
	}
	if fee > a.Available() {
		return vaulterr.New("reserve.pay", vaulterr.ErrInsufficientReserve,
			"opening fee %d exceeds available reserve %d", fee, a.Available())
	}
	a.balance -= fee
	a.openingFees += fee
	return nil
}

// ApplyRedemptionFee runs the fee waterfall: outstanding borrowed yield is
// repaid first, the rest is retained. The whole fee lands in the balance.
func (a *Account) ApplyRedemptionFee(fee int64) (repaidYield, retained int64) {
	if fee <= 0 {
		return 0, 0
	}
	repaidYield, _ = ComputeCoverage(fee, a.borrowedYield)
	a.borrowedYield -= repaidYield
	retained = fee - repaidYield
	a.balance += fee
	a.redeemFees += fee
	return repaidYield, retained
}

// BorrowYield lends up to amount to cover a margin shortfall, limited by the
// borrow cap and the floor. It returns what was actually lent.
func (a *Account) BorrowYield(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	headroom := a.cfg.BorrowCap - a.borrowedYield
	if headroom <= 0 {
		return 0
	}
	lent, _ := ComputeCoverage(min(headroom, a.Available()), amount)
	a.balance -= lent
	a.borrowedYield += lent
	return lent
}

// Withdraw returns exactly contributor's original contribution. Fee income
// stays with the protocol. It is refused while hedge health is below
// minHealth or when the floor would be breached.
func (a *Account) Withdraw(contributor string, health, minHealth int64) (int64, error) {
	const op = "reserve.withdraw"
	amount := a.contributions[contributor]
	if amount == 0 {
		return 0, vaulterr.New(op, vaulterr.ErrNoContribution, "%s has no contribution", contributor)
	}
	if health < minHealth {
		return 0, vaulterr.New(op, vaulterr.ErrUnhealthy, "hedge health %d below %d", health, minHealth)
	}
	if a.balance-amount < a.cfg.Floor {
		return 0, vaulterr.New(op, vaulterr.ErrReserveFloor,
			"withdrawing %d leaves %d, floor %d", amount, a.balance-amount, a.cfg.Floor)
	}
	a.balance -= amount
	delete(a.contributions, contributor)
	return amount, nil
}

// IsLow reports the low-reserve soft signal.
func (a *Account) IsLow() bool {
	return a.balance < math.BpsOf(a.cfg.Floor, a.cfg.LowWarningBps, math.RoundUp)
}

// ComputeCoverage returns how much of need the available amount covers and
// what remains uncovered.
func ComputeCoverage(available, need int64) (covered, remaining int64) {
	if available >= need {
		return need, 0
	}
	if available < 0 {
		available = 0
	}
	return available, need - available
}

// Snapshot is the serializable state of an Account.
type Snapshot struct {
	Balance       int64            `json:"balance"`
	Contributions map[string]int64 `json:"contributions"`
	OpeningFees   int64            `json:"opening_fees"`
	RedeemFees    int64            `json:"redeem_fees"`
	BorrowedYield int64            `json:"borrowed_yield"`
}

func (a *Account) Snapshot() Snapshot {
	contributions := make(map[string]int64, len(a.contributions))
	for k, v := range a.contributions {
		contributions[k] = v
	}
	return Snapshot{
		Balance:       a.balance,
		Contributions: contributions,
		OpeningFees:   a.openingFees,
		RedeemFees:    a.redeemFees,
		BorrowedYield: a.borrowedYield,
	}
}

// Restore loads a snapshot and clears any in-flight advance.
func (a *Account) Restore(s Snapshot) {
	a.balance = s.Balance
	a.contributions = make(map[string]int64, len(s.Contributions))
	for k, v := range s.Contributions {
		a.contributions[k] = v
	}
	a.openingFees = s.OpeningFees
	a.redeemFees = s.RedeemFees
	a.borrowedYield = s.BorrowedYield
	a.advanced = 0
}

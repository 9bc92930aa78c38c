package vault

import (
	"SynthVault/internal/math"
	"fmt"
	"time"
)

// AllocationSplit divides new backing between the lending venue and hedge
// collateral, and sets the hedge leverage (LeverageBps 50_000 = 5x).
type AllocationSplit struct {
	LendingBps  int64 `json:"lending_bps" yaml:"lending_bps"`
	HedgeBps    int64 `json:"hedge_bps" yaml:"hedge_bps"`
	LeverageBps int64 `json:"leverage_bps" yaml:"leverage_bps"`
}

// ValidateAllocation checks the lending/hedge split alone.
func ValidateAllocation(s AllocationSplit) error {
	if s.LendingBps < 0 || s.HedgeBps <= 0 {
		return fmt.Errorf("lending_bps (%d) must be >= 0 and hedge_bps (%d) > 0", s.LendingBps, s.HedgeBps)
	}
	if s.LendingBps+s.HedgeBps != math.BpsScale {
		return fmt.Errorf("lending_bps + hedge_bps must equal %d, got %d", math.BpsScale, s.LendingBps+s.HedgeBps)
	}
	return nil
}

// ValidateLeverage bounds leverage between 1x and the inverse of the
// minimum collateral ratio.
func ValidateLeverage(leverageBps, minCollateralRatioBps int64) error {
	if minCollateralRatioBps <= 0 {
		return fmt.Errorf("min collateral ratio must be > 0")
	}
	maxLeverage := math.BpsScale * math.BpsScale / minCollateralRatioBps
	if leverageBps < math.BpsScale || leverageBps > maxLeverage {
		return fmt.Errorf("leverage_bps must be in [%d, %d], got %d", math.BpsScale, maxLeverage, leverageBps)
	}
	return nil
}

// MarketCalendar describes the hedge market's weekly closed window.
// Offsets are seconds since Monday 00:00 UTC.
type MarketCalendar struct {
	Enabled          bool
	ClosesAt         int64
	OpensAt          int64
	PreClosureWindow time.Duration
}

const (
	secondsPerWeek = 7 * 24 * 3600
	// The unix epoch fell on a Thursday; Monday 1970-01-05 is four days later.
	mondayEpochOffset = 4 * 24 * 3600
)

// FXCalendar closes Friday 21:00 UTC and reopens Sunday 21:00 UTC.
var FXCalendar = MarketCalendar{
	Enabled:          true,
	ClosesAt:         4*24*3600 + 21*3600,
	OpensAt:          6*24*3600 + 21*3600,
	PreClosureWindow: 2 * time.Hour,
}

// Params is the static configuration of an Engine.
type Params struct {
	OwnerID      string
	VaultAccount string

	MinDeposit     int64
	Cap            int64
	CapBufferBps   int64
	UserCooldown   time.Duration
	GlobalCooldown time.Duration
	HoldPeriod     time.Duration

	Split         AllocationSplit
	OpeningFeeBps int64
	RedeemFeeBps  int64
	MinReturnBps  int64
	Band          math.PlausibilityBand

	Calendar             MarketCalendar
	PreClosureHealthBps  int64
	MaxPriceChangeBps    int64
	MaxLossBps           int64
	RebalanceTriggerBps  int64
	ForceRebalanceMaxBps int64
	ReserveMinHealthBps  int64

	MinHarvestInterval   time.Duration
	MinHarvestAmount     int64
	DeficitDaysThreshold int32

	GovernanceDelay    time.Duration
	GovernanceCooldown time.Duration
}

// DefaultParams is an 80/20 split at 5x for a GBP-like pair.
func DefaultParams() Params {
	return Params{
		OwnerID:      "owner",
		VaultAccount: "vault",

		MinDeposit:     math.Amount("10"),
		Cap:            math.Amount("10000000"),
		CapBufferBps:   500,
		UserCooldown:   time.Minute,
		GlobalCooldown: 0,
		HoldPeriod:     time.Hour,

		Split:         AllocationSplit{LendingBps: 8_000, HedgeBps: 2_000, LeverageBps: 50_000},
		OpeningFeeBps: 3,
		RedeemFeeBps:  10,
		MinReturnBps:  9_900,
		Band:          math.PlausibilityBand{MinBps: 7_000, MaxBps: 9_000},

		Calendar:             FXCalendar,
		PreClosureHealthBps:  9_000,
		MaxPriceChangeBps:    200,
		MaxLossBps:           4_000,
		RebalanceTriggerBps:  5_000,
		ForceRebalanceMaxBps: 9_000,
		ReserveMinHealthBps:  8_000,

		MinHarvestInterval:   12 * time.Hour,
		MinHarvestAmount:     math.Amount("1"),
		DeficitDaysThreshold: 3,

		GovernanceDelay:    24 * time.Hour,
		GovernanceCooldown: 12 * time.Hour,
	}
}

// Validate checks that engine parameters are within valid ranges.
func (p Params) Validate() error {
	if p.OwnerID == "" || p.VaultAccount == "" {
		return fmt.Errorf("owner and vault account ids are required")
	}
	if p.MinDeposit <= 0 {
		return fmt.Errorf("min_deposit must be > 0, got %d", p.MinDeposit)
	}
	if p.Cap <= 0 {
		return fmt.Errorf("cap must be > 0, got %d", p.Cap)
	}
	if err := validateBps("cap_buffer_bps", p.CapBufferBps, false); err != nil {
		return err
	}
	if err := ValidateAllocation(p.Split); err != nil {
		return err
	}
	if p.Split.LeverageBps < math.BpsScale {
		return fmt.Errorf("leverage_bps must be >= %d, got %d", math.BpsScale, p.Split.LeverageBps)
	}
	for name, v := range map[string]int64{
		"opening_fee_bps": p.OpeningFeeBps,
		"redeem_fee_bps":  p.RedeemFeeBps,
	} {
		if err := validateBps(name, v, false); err != nil {
			return err
		}
	}
	for name, v := range map[string]int64{
		"min_return_bps":          p.MinReturnBps,
		"pre_closure_health_bps":  p.PreClosureHealthBps,
		"max_price_change_bps":    p.MaxPriceChangeBps,
		"max_loss_bps":            p.MaxLossBps,
		"rebalance_trigger_bps":   p.RebalanceTriggerBps,
		"force_rebalance_max_bps": p.ForceRebalanceMaxBps,
		"reserve_min_health_bps":  p.ReserveMinHealthBps,
	} {
		if err := validateBps(name, v, true); err != nil {
			return err
		}
	}
	if p.RebalanceTriggerBps >= p.ForceRebalanceMaxBps {
		return fmt.Errorf("rebalance_trigger_bps (%d) must be below force_rebalance_max_bps (%d)",
			p.RebalanceTriggerBps, p.ForceRebalanceMaxBps)
	}
	if p.Calendar.Enabled {
		for _, off := range []int64{p.Calendar.ClosesAt, p.Calendar.OpensAt} {
			if off < 0 || off >= secondsPerWeek {
				return fmt.Errorf("calendar offsets must be in [0, %d), got %d", secondsPerWeek, off)
			}
		}
		if p.Calendar.ClosesAt == p.Calendar.OpensAt {
			return fmt.Errorf("calendar closes_at and opens_at must differ")
		}
	}
	if p.DeficitDaysThreshold <= 0 {
		return fmt.Errorf("deficit_days_threshold must be > 0")
	}
	if p.GovernanceDelay <= 0 {
		return fmt.Errorf("governance_delay must be > 0")
	}
	return nil
}

func validateBps(name string, v int64, positive bool) error {
	if v < 0 || v > math.BpsScale || (positive && v == 0) {
		return fmt.Errorf("%s must be in [0, %d] (non-zero: %v), got %d", name, math.BpsScale, positive, v)
	}
	return nil
}

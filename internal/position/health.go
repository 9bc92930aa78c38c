package position

import (
	"SynthVault/internal/math"
	"fmt"
)

// NeutralHealth is reported when no position is open.
const NeutralHealth = math.BpsScale

// Status classifies a position by its health factor.
type Status int32

const (
	StatusFlat Status = iota
	StatusHealthy
	StatusWarning
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusFlat:
		return "Flat"
	case StatusHealthy:
		return "Healthy"
	case StatusWarning:
		return "Warning"
	case StatusCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// Params bounds what the manager will ask of the hedge venue.
type Params struct {
	MinCollateralRatioBps int64 // collateral / notional at every increase
	MaxNotional           int64 // hard per-position cap
	WarningHealthBps      int64
	CriticalHealthBps     int64
	MinReturnBps          int64 // payout / expected on every decrease
}

// DefaultParams allow up to 10x and require 99% of the expected payout.
var DefaultParams = Params{
	MinCollateralRatioBps: 1_000,
	MaxNotional:           math.Amount("50000000"),
	WarningHealthBps:      8_000,
	CriticalHealthBps:     3_000,
	MinReturnBps:          9_900,
}

// ValidateParams checks that position parameters are within valid ranges.
func ValidateParams(p Params) error {
	if p.MinCollateralRatioBps <= 0 || p.MinCollateralRatioBps > math.BpsScale {
		return fmt.Errorf("min_collateral_ratio_bps must be in (0, %d], got %d", math.BpsScale, p.MinCollateralRatioBps)
	}
	if p.MaxNotional <= 0 {
		return fmt.Errorf("max_notional must be > 0, got %d", p.MaxNotional)
	}
	if p.CriticalHealthBps <= 0 || p.CriticalHealthBps >= p.WarningHealthBps {
		return fmt.Errorf("critical_health_bps (%d) must be in (0, warning_health_bps=%d)", p.CriticalHealthBps, p.WarningHealthBps)
	}
	if p.WarningHealthBps > math.BpsScale {
		return fmt.Errorf("warning_health_bps must be <= %d, got %d", math.BpsScale, p.WarningHealthBps)
	}
	if p.MinReturnBps <= 0 || p.MinReturnBps > math.BpsScale {
		return fmt.Errorf("min_return_bps must be in (0, %d], got %d", math.BpsScale, p.MinReturnBps)
	}
	return nil
}

// ComputeHealthFactor returns (collateral + pnl) / collateral in bps.
// A flat position is neutral; a non-positive position value is zero.
func ComputeHealthFactor(notional, collateral, pnl int64) int64 {
	if notional == 0 && collateral == 0 {
		return NeutralHealth
	}
	if collateral <= 0 {
		return 0
	}
	value := collateral + pnl
	if value <= 0 {
		return 0
	}
	return math.MulDiv(value, math.BpsScale, collateral, math.RoundDown)
}

// ComputeLossBps returns the unrealized loss as a share of collateral.
// Gains report zero.
func ComputeLossBps(collateral, pnl int64) int64 {
	if pnl >= 0 {
		return 0
	}
	if collateral <= 0 {
		return math.BpsScale
	}
	return math.MulDiv(-pnl, math.BpsScale, collateral, math.RoundUp)
}

// ClassifyHealth maps a health factor onto a Status.
func (p Params) ClassifyHealth(notional, health int64) Status {
	switch {
	case notional == 0:
		return StatusFlat
	case health < p.CriticalHealthBps:
		return StatusCritical
	case health < p.WarningHealthBps:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

package math

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var maxScaled = decimal.NewFromInt(1 << 62)

// ParseScaled parses a decimal string such as "1.30125" into fixed point.
// Digits beyond the configured precision are rejected rather than rounded.
func ParseScaled(s string, cfg DecimalConfig) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	shifted := d.Shift(int32(cfg.DecimalPrecision))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("decimal %q exceeds %d places", s, cfg.DecimalPrecision)
	}
	if shifted.Abs().GreaterThan(maxScaled) {
		return 0, fmt.Errorf("decimal %q out of range", s)
	}
	return shifted.IntPart(), nil
}

// MustParseScaled is ParseScaled for constants and tests.
func MustParseScaled(s string, cfg DecimalConfig) int64 {
	v, err := ParseScaled(s, cfg)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatScaled renders fixed point as a plain decimal string.
func FormatScaled(v int64, cfg DecimalConfig) string {
	return decimal.New(v, -int32(cfg.DecimalPrecision)).StringFixed(int32(cfg.DecimalPrecision))
}

// Amount and Rate are shorthands for the two configs used everywhere.
func Amount(s string) int64 { return MustParseScaled(s, AmountConfig) }
func Rate(s string) int64   { return MustParseScaled(s, RateConfig) }

package math

import (
	stdmath "math"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// AmountConfig covers both the reference asset and the synth.
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	// RateConfig is reference units per one synth unit.
	RateConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}
)

const (
	// BpsScale is 100% in basis points. Health factors use the same scale.
	BpsScale int64 = 10_000
	// RatioScale is a full share for proportional position decreases.
	RatioScale int64 = 100_000_000
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // toward negative infinity
	RoundUp                           // toward positive infinity
)

var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b without overflowing int64.
// The caller owns the result and should release it with Release.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// Release returns an intermediate from MultiplyInt128 to the pool.
func Release(v *big.Int) {
	putInt128(v)
}

// DivideInt128 performs numerator / denominator with rounding.
// denominator must be positive. A quotient outside int64 saturates at
// math.MaxInt64 or math.MinInt64.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	// Euclidean division: remainder is always >= 0, quotient is the floor.
	quotient.DivMod(numerator, denom, remainder)
	if !quotient.IsInt64() {
		if quotient.Sign() > 0 {
			return stdmath.MaxInt64
		}
		return stdmath.MinInt64
	}
	result := quotient.Int64()

	if remainder.Sign() == 0 {
		return result
	}
	if result == stdmath.MaxInt64 && roundingMode != RoundDown {
		return result
	}

	switch roundingMode {
	case RoundUp:
		result++
	case RoundHalfEven:
		twice := getInt128()
		twice.Lsh(remainder, 1)
		cmp := twice.Cmp(denom)
		putInt128(twice)
		if cmp > 0 || (cmp == 0 && result%2 != 0) {
			result++
		}
	}

	return result
}

// MulDiv computes a * b / c with the given rounding.
func MulDiv(a, b, c int64, mode RoundingMode) int64 {
	product := MultiplyInt128(a, b)
	defer putInt128(product)
	return DivideInt128(product, c, mode)
}

// BpsOf returns amount * bps / 10_000.
func BpsOf(amount, bps int64, mode RoundingMode) int64 {
	return MulDiv(amount, bps, BpsScale, mode)
}

// RatioOf returns part / whole on RatioScale, capped at a full share.
func RatioOf(part, whole int64) int64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	if part >= whole {
		return RatioScale
	}
	return MulDiv(part, RatioScale, whole, RoundDown)
}

// internal/math/fixedpoint.go
package math

import (
	"errors"
	"math/big"
	"sync"
)

const (
	// PricePrecision scales oracle prices: USD value of one whole unit.
	PricePrecision int64 = 100_000_000

	// USDPrecision scales every USD-denominated amount (size, collateral, fees).
	USDPrecision int64 = 100_000_000

	BasisPointsDivisor int64 = 10_000
	MaxFeeBasisPoints  int64 = 500

	FundingRatePrecision int64 = 1_000_000

	// MaxDecimals bounds asset and share decimals so 10^d fits in int64.
	MaxDecimals int32 = 18
)

var (
	ErrOverflow       = errors.New("fixed-point overflow")
	ErrDivisionByZero = errors.New("fixed-point division by zero")
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Floor toward zero (default for all vault math)
	RoundUp
	RoundHalfEven
)

// MultiplyInt128 performs a * b using int128 to prevent overflow.
// The caller returns the result with putInt128 when done.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	x := getInt128().SetInt64(a)
	y := getInt128().SetInt64(b)
	result.Mul(x, y)
	putInt128(x)
	putInt128(y)
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// ok is false when the denominator is zero or the quotient does not fit in int64.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (int64, bool) {
	if denominator == 0 {
		return 0, false
	}

	denom := getInt128().SetInt64(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer func() {
		putInt128(denom)
		putInt128(quotient)
		putInt128(remainder)
	}()

	// QuoRem truncates toward zero, which is floor for the non-negative
	// operands the vault works with.
	quotient.QuoRem(numerator, denom, remainder)

	if remainder.Sign() != 0 {
		switch roundingMode {
		case RoundUp:
			if remainder.Sign() == denom.Sign() {
				quotient.Add(quotient, big.NewInt(1))
			}
		case RoundHalfEven:
			twice := getInt128().Abs(remainder)
			twice.Lsh(twice, 1)
			absDenom := getInt128().Abs(denom)
			cmp := twice.Cmp(absDenom)
			putInt128(twice)
			putInt128(absDenom)

			step := int64(1)
			if remainder.Sign() != denom.Sign() {
				step = -1
			}
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				quotient.Add(quotient, big.NewInt(step))
			}
		}
	}

	if !quotient.IsInt64() {
		return 0, false
	}
	return quotient.Int64(), true
}

// MulDiv computes a * b / c with a 128-bit intermediate.
func MulDiv(a, b, c int64, mode RoundingMode) (int64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}
	product := MultiplyInt128(a, b)
	defer putInt128(product)

	result, ok := DivideInt128(product, c, mode)
	if !ok {
		return 0, ErrOverflow
	}
	return result, nil
}

// Pow10 returns 10^d for 0 <= d <= MaxDecimals.
func Pow10(d int32) (int64, error) {
	if d < 0 || d > MaxDecimals {
		return 0, ErrOverflow
	}
	p := int64(1)
	for i := int32(0); i < d; i++ {
		p *= 10
	}
	return p, nil
}

// AdjustDecimals rescales an amount expressed with `from` decimals to `to` decimals.
func AdjustDecimals(amount int64, from, to int32) (int64, error) {
	if from == to {
		return amount, nil
	}
	num, err := Pow10(to)
	if err != nil {
		return 0, err
	}
	den, err := Pow10(from)
	if err != nil {
		return 0, err
	}
	return MulDiv(amount, num, den, RoundDown)
}

// TokenToUSD converts an asset amount in base units to USD (USDPrecision).
func TokenToUSD(amount, price int64, decimals int32) (int64, error) {
	if amount == 0 {
		return 0, nil
	}
	unit, err := Pow10(decimals)
	if err != nil {
		return 0, err
	}
	return MulDiv(amount, price, unit, RoundDown)
}

// USDToToken converts a USD amount to asset base units at the given price.
func USDToToken(usd, price int64, decimals int32) (int64, error) {
	if usd == 0 {
		return 0, nil
	}
	unit, err := Pow10(decimals)
	if err != nil {
		return 0, err
	}
	return MulDiv(usd, unit, price, RoundDown)
}

// ApplyBasisPoints returns amount * (10000 - bps) / 10000.
func ApplyBasisPoints(amount, bps int64) (int64, error) {
	return MulDiv(amount, BasisPointsDivisor-bps, BasisPointsDivisor, RoundDown)
}

// AbsDiff returns |a - b|.
func AbsDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// CompareProducts compares a*b with c*d without overflow. It returns -1, 0
// or +1 like big.Int.Cmp.
func CompareProducts(a, b, c, d int64) int {
	left := MultiplyInt128(a, b)
	defer putInt128(left)
	right := MultiplyInt128(c, d)
	defer putInt128(right)
	return left.Cmp(right)
}

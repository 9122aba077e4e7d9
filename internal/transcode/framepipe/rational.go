// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package framepipe

import (
	"fmt"
	"math"
	"math/big"
)

// NoPTS marks an unset timestamp. Rescale passes it through.
const NoPTS int64 = math.MinInt64

// Rational is a time base or rate, Num/Den.
type Rational struct {
	Num, Den int
}

// R builds a Rational.
func R(num, den int) Rational { return Rational{Num: num, Den: den} }

// Valid reports whether r is usable as a time base.
func (r Rational) Valid() bool { return r.Num > 0 && r.Den > 0 }

// Invert returns Den/Num.
func (r Rational) Invert() Rational { return Rational{Num: r.Den, Den: r.Num} }

// Float64 returns r as a float.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

// Rescale converts ts from time base from to time base to, rounding half
// away from zero. NoPTS is returned unchanged, as is ts when either time
// base is invalid.
func Rescale(ts int64, from, to Rational) int64 {
	if ts == NoPTS || !from.Valid() || !to.Valid() {
		return ts
	}
	if from == to {
		return ts
	}

	num := new(big.Int).SetInt64(ts)
	num.Mul(num, big.NewInt(int64(from.Num)))
	num.Mul(num, big.NewInt(int64(to.Den)))
	den := new(big.Int).Mul(big.NewInt(int64(from.Den)), big.NewInt(int64(to.Num)))

	// round(n/d) = sign(n) * floor((|n| + d/2) / d)
	neg := num.Sign() < 0
	num.Abs(num)
	half := new(big.Int).Rsh(den, 1)
	num.Add(num, half)
	num.Quo(num, den)
	if neg {
		num.Neg(num)
	}
	if !num.IsInt64() {
		if neg {
			return math.MinInt64 + 1
		}
		return math.MaxInt64
	}
	return num.Int64()
}

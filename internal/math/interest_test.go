package math_test

import (
	"math/big"
	"testing"

	fpmath "github.com/sumit-mahajan/refi/internal/math"

	"github.com/holiman/uint256"
)

// rayFromPercent returns an annual rate in ray, e.g. rayFromPercent(20) = 20% APR.
func rayFromPercent(p int64) *uint256.Int {
	out := new(uint256.Int).Div(fpmath.Ray, uint256.NewInt(100))
	return out.Mul(out, uint256.NewInt(uint64(p)))
}

func TestLinearInterest_ZeroElapsed(t *testing.T) {
	got, err := fpmath.LinearInterest(rayFromPercent(10), 0)
	if err != nil {
		t.Fatalf("LinearInterest failed: %v", err)
	}
	if !got.Eq(fpmath.Ray) {
		t.Errorf("zero elapsed must return exactly one ray, got %s", got)
	}
}

func TestLinearInterest_FullYear(t *testing.T) {
	// 10% over a full year → exactly 1.1 ray
	got, err := fpmath.LinearInterest(rayFromPercent(10), fpmath.SecondsPerYear)
	if err != nil {
		t.Fatalf("LinearInterest failed: %v", err)
	}
	want := uint256.MustFromDecimal("1100000000000000000000000000")
	if !got.Eq(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCompoundedInterest_ZeroElapsed(t *testing.T) {
	got, err := fpmath.CompoundedInterest(rayFromPercent(10), 0)
	if err != nil {
		t.Fatalf("CompoundedInterest failed: %v", err)
	}
	if !got.Eq(fpmath.Ray) {
		t.Errorf("zero elapsed must return exactly one ray, got %s", got)
	}
}

func TestCompoundedInterest_ExceedsLinear(t *testing.T) {
	rate := rayFromPercent(20)
	const dt = 180 * 24 * 3600

	linear, err := fpmath.LinearInterest(rate, dt)
	if err != nil {
		t.Fatalf("LinearInterest failed: %v", err)
	}
	compounded, err := fpmath.CompoundedInterest(rate, dt)
	if err != nil {
		t.Fatalf("CompoundedInterest failed: %v", err)
	}
	if !compounded.Gt(linear) {
		t.Errorf("compounded (%s) must exceed linear (%s) for nonzero rate and elapsed time",
			compounded, linear)
	}
}

// referenceCompound computes (1 + rate/secondsPerYear)^dt with 256-bit
// big.Float precision by square-and-multiply.
func referenceCompound(rateRay *uint256.Int, dt int64) *big.Float {
	prec := uint(256)
	ray := new(big.Float).SetPrec(prec).SetInt(fpmath.Ray.ToBig())
	rate := new(big.Float).SetPrec(prec).SetInt(rateRay.ToBig())
	rate.Quo(rate, ray)
	rate.Quo(rate, new(big.Float).SetPrec(prec).SetInt64(fpmath.SecondsPerYear))

	base := new(big.Float).SetPrec(prec).SetInt64(1)
	base.Add(base, rate)

	result := new(big.Float).SetPrec(prec).SetInt64(1)
	for n := dt; n > 0; n >>= 1 {
		if n&1 == 1 {
			result.Mul(result, base)
		}
		base.Mul(base, base)
	}
	return result
}

// The quadratic truncation must stay within a documented bound of true
// compounding across representative rates and time deltas.
func TestCompoundedInterest_ApproximationBound(t *testing.T) {
	cases := []struct {
		name       string
		ratePct    int64
		dtSeconds  int64
		maxRelErrF float64
	}{
		{"5pct_one_day", 5, 86400, 1e-9},
		{"20pct_one_week", 20, 7 * 86400, 1e-7},
		{"10pct_one_month", 10, 30 * 86400, 1e-6},
		{"20pct_half_year", 20, 182 * 86400, 1e-4},
		{"20pct_full_year", 20, fpmath.SecondsPerYear, 2e-3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate := rayFromPercent(tc.ratePct)
			got, err := fpmath.CompoundedInterest(rate, tc.dtSeconds)
			if err != nil {
				t.Fatalf("CompoundedInterest failed: %v", err)
			}

			ref := referenceCompound(rate, tc.dtSeconds)
			ray := new(big.Float).SetPrec(256).SetInt(fpmath.Ray.ToBig())
			approx := new(big.Float).SetPrec(256).SetInt(got.ToBig())
			approx.Quo(approx, ray)

			diff := new(big.Float).Sub(ref, approx)
			relErr := new(big.Float).Quo(diff.Abs(diff), ref)

			f, _ := relErr.Float64()
			if f > tc.maxRelErrF {
				t.Errorf("relative error %.3e exceeds bound %.3e", f, tc.maxRelErrF)
			}

			// Truncation always undershoots: the approximation must never
			// charge more interest than exact compounding.
			if approx.Cmp(ref) > 0 {
				t.Error("approximation must not exceed exact compounding")
			}
		})
	}
}

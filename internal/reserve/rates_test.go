package reserve_test

import (
	"testing"

	fpmath "github.com/sumit-mahajan/refi/internal/math"
	"github.com/sumit-mahajan/refi/internal/reserve"

	"github.com/holiman/uint256"
)

func ray(dec string) *uint256.Int { return uint256.MustFromDecimal(dec) }
func wad(dec string) *uint256.Int { return uint256.MustFromDecimal(dec) }

func testStrategy() reserve.RateStrategy {
	return reserve.RateStrategy{
		BaseRate:           ray("10000000000000000000000000"),  // 1%
		Slope1:             ray("40000000000000000000000000"),  // 4%
		Slope2:             ray("750000000000000000000000000"), // 75%
		OptimalUtilization: ray("800000000000000000000000000"), // 80%
	}
}

// ============================================================================
// Test: RateStrategy
// ============================================================================

func TestComputeRates_ZeroUtilization(t *testing.T) {
	s := testStrategy()
	borrow, liquidity, err := s.ComputeRates(new(uint256.Int), new(uint256.Int))
	if err != nil {
		t.Fatalf("ComputeRates: %v", err)
	}
	if !borrow.Eq(s.BaseRate) {
		t.Errorf("borrow rate at zero utilization = %s, want base rate %s", borrow, s.BaseRate)
	}
	if !liquidity.IsZero() {
		t.Errorf("liquidity rate at zero utilization = %s, want 0", liquidity)
	}
}

func TestComputeRates_AtOptimal(t *testing.T) {
	s := testStrategy()
	borrow, _, err := s.ComputeRates(s.OptimalUtilization, new(uint256.Int))
	if err != nil {
		t.Fatalf("ComputeRates: %v", err)
	}
	// base + slope1 = 5%
	want := ray("50000000000000000000000000")
	if !borrow.Eq(want) {
		t.Errorf("borrow rate at optimal = %s, want %s", borrow, want)
	}
}

func TestComputeRates_FullUtilization(t *testing.T) {
	s := testStrategy()
	borrow, _, err := s.ComputeRates(new(uint256.Int).Set(fpmath.Ray), new(uint256.Int))
	if err != nil {
		t.Fatalf("ComputeRates: %v", err)
	}
	// base + slope1 + slope2 = 80%
	want := ray("800000000000000000000000000")
	if !borrow.Eq(want) {
		t.Errorf("borrow rate at full utilization = %s, want %s", borrow, want)
	}
}

// The borrow rate must never decrease as utilization grows, and the two
// segments must join without a jump at the kink.
func TestComputeRates_MonotoneAcrossKink(t *testing.T) {
	s := testStrategy()
	steps := []*uint256.Int{
		new(uint256.Int),
		ray("200000000000000000000000000"), // 20%
		ray("790000000000000000000000000"), // 79%
		ray("800000000000000000000000000"), // 80%, the kink
		ray("810000000000000000000000000"), // 81%
		ray("990000000000000000000000000"), // 99%
		new(uint256.Int).Set(fpmath.Ray),
	}

	prev := new(uint256.Int)
	for i, u := range steps {
		borrow, _, err := s.ComputeRates(u, new(uint256.Int))
		if err != nil {
			t.Fatalf("ComputeRates step %d: %v", i, err)
		}
		if borrow.Lt(prev) {
			t.Fatalf("borrow rate decreased at step %d: %s < %s", i, borrow, prev)
		}
		prev = borrow
	}

	// Kink continuity: 1 basis point either side of optimal differs by far
	// less than slope2 would produce over a whole segment.
	below, _, _ := s.ComputeRates(ray("799900000000000000000000000"), new(uint256.Int))
	above, _, _ := s.ComputeRates(ray("800100000000000000000000000"), new(uint256.Int))
	gap := new(uint256.Int).Sub(above, below)
	limit := ray("1000000000000000000000000") // 0.1%
	if gap.Gt(limit) {
		t.Errorf("rate jump at kink = %s, want <= %s", gap, limit)
	}
}

func TestComputeRates_ReserveFactorCutsLiquidityRate(t *testing.T) {
	s := testStrategy()
	u := ray("500000000000000000000000000") // 50%

	_, withoutFactor, err := s.ComputeRates(u, new(uint256.Int))
	if err != nil {
		t.Fatalf("ComputeRates: %v", err)
	}
	_, withFactor, err := s.ComputeRates(u, wad("100000000000000000")) // 10%
	if err != nil {
		t.Fatalf("ComputeRates: %v", err)
	}
	if !withFactor.Lt(withoutFactor) {
		t.Errorf("liquidity rate with reserve factor %s should be below %s", withFactor, withoutFactor)
	}

	// with factor f, liquidity rate scales by exactly (1 - f)
	scaled, err := fpmath.RayMul(withoutFactor, ray("900000000000000000000000000"))
	if err != nil {
		t.Fatalf("RayMul: %v", err)
	}
	diff := new(uint256.Int)
	if scaled.Gt(withFactor) {
		diff.Sub(scaled, withFactor)
	} else {
		diff.Sub(withFactor, scaled)
	}
	if diff.GtUint64(1) {
		t.Errorf("liquidity rate = %s, want %s (within 1 unit)", withFactor, scaled)
	}
}

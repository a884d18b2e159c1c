package reserve_test

import (
	"errors"
	"testing"

	fpmath "github.com/sumit-mahajan/refi/internal/math"
	"github.com/sumit-mahajan/refi/internal/protocol"
	"github.com/sumit-mahajan/refi/internal/reserve"

	"github.com/holiman/uint256"
)

const t0 = int64(1_700_000_000)

func newTestReserve(t *testing.T) *reserve.Reserve {
	t.Helper()
	l := reserve.NewLedger()
	cfg := reserve.DefaultConfigs()[0]
	r, err := l.List(cfg, t0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return r
}

// scaledFor converts a wad amount into scaled units under the given index.
func scaledFor(t *testing.T, amount, index *uint256.Int) *uint256.Int {
	t.Helper()
	scaled, err := fpmath.RayDiv(amount, index)
	if err != nil {
		t.Fatalf("RayDiv: %v", err)
	}
	return scaled
}

// deposit funds a reserve and borrow opens debt against it, both through the
// same scaling the pool performs.
func deposit(t *testing.T, r *reserve.Reserve, amount *uint256.Int) {
	t.Helper()
	if err := r.AddDeposit(scaledFor(t, amount, r.LiquidityIndex)); err != nil {
		t.Fatalf("AddDeposit: %v", err)
	}
}

func borrow(t *testing.T, r *reserve.Reserve, amount *uint256.Int) {
	t.Helper()
	if err := r.AddDebt(scaledFor(t, amount, r.VariableBorrowIndex), amount); err != nil {
		t.Fatalf("AddDebt: %v", err)
	}
}

// ============================================================================
// Test: Ledger
// ============================================================================

func TestLedger_ListAndGet(t *testing.T) {
	l := reserve.NewLedger()
	for _, cfg := range reserve.DefaultConfigs() {
		if _, err := l.List(cfg, t0); err != nil {
			t.Fatalf("List %s: %v", cfg.Symbol, err)
		}
	}

	r, ok := l.Get("DAI")
	if !ok {
		t.Fatal("DAI should be listed")
	}
	if !r.LiquidityIndex.Eq(fpmath.Ray) {
		t.Errorf("fresh liquidity index = %s, want 1 ray", r.LiquidityIndex)
	}
	if !r.VariableBorrowIndex.Eq(fpmath.Ray) {
		t.Errorf("fresh borrow index = %s, want 1 ray", r.VariableBorrowIndex)
	}

	symbols := l.Symbols()
	want := []string{"DAI", "LINK", "WETH"}
	if len(symbols) != len(want) {
		t.Fatalf("Symbols() = %v, want %v", symbols, want)
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Fatalf("Symbols() = %v, want %v", symbols, want)
		}
	}
}

func TestLedger_DoubleListRejected(t *testing.T) {
	l := reserve.NewLedger()
	cfg := reserve.DefaultConfigs()[0]
	if _, err := l.List(cfg, t0); err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, err := l.List(cfg, t0); err == nil {
		t.Error("re-listing the same symbol should fail")
	}
}

func TestLedger_RequireActive(t *testing.T) {
	l := reserve.NewLedger()
	cfg := reserve.DefaultConfigs()[0]
	if _, err := l.List(cfg, t0); err != nil {
		t.Fatalf("List: %v", err)
	}

	if _, err := l.RequireActive(cfg.Symbol); err != nil {
		t.Errorf("RequireActive(%s): %v", cfg.Symbol, err)
	}

	_, err := l.RequireActive("DOGE")
	if !errors.Is(err, protocol.ErrInvalidAsset) {
		t.Errorf("unlisted asset error = %v, want ErrInvalidAsset", err)
	}

	r, _ := l.Get(cfg.Symbol)
	r.Config.Active = false
	_, err = l.RequireActive(cfg.Symbol)
	if !errors.Is(err, protocol.ErrInvalidAsset) {
		t.Errorf("inactive asset error = %v, want ErrInvalidAsset", err)
	}
}

func TestValidateConfig_Rejections(t *testing.T) {
	base := reserve.DefaultConfigs()[0]

	cases := []struct {
		name   string
		mutate func(*reserve.Config)
	}{
		{"ltv above threshold", func(c *reserve.Config) {
			c.LTV = wad("850000000000000000")
		}},
		{"threshold above one", func(c *reserve.Config) {
			c.LiquidationThreshold = wad("1100000000000000000")
			c.LTV = wad("1050000000000000000")
		}},
		{"bonus below one", func(c *reserve.Config) {
			c.LiquidationBonus = wad("900000000000000000")
		}},
		{"reserve factor at one", func(c *reserve.Config) {
			c.ReserveFactor = wad("1000000000000000000")
		}},
		{"optimal utilization zero", func(c *reserve.Config) {
			c.Strategy.OptimalUtilization = new(uint256.Int)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := reserve.ValidateConfig(cfg); err == nil {
				t.Error("config should be rejected")
			}
		})
	}

	if err := reserve.ValidateConfig(base); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// ============================================================================
// Test: Accrual
// ============================================================================

func TestAccrue_SameTimestampIsNoop(t *testing.T) {
	r := newTestReserve(t)
	deposit(t, r, wad("1000000000000000000000")) // 1000
	borrow(t, r, wad("500000000000000000000"))   // 500

	if err := r.Accrue(t0 + 3600); err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	liqIdx := new(uint256.Int).Set(r.LiquidityIndex)
	borIdx := new(uint256.Int).Set(r.VariableBorrowIndex)

	if err := r.Accrue(t0 + 3600); err != nil {
		t.Fatalf("second Accrue: %v", err)
	}
	if !r.LiquidityIndex.Eq(liqIdx) || !r.VariableBorrowIndex.Eq(borIdx) {
		t.Error("accruing twice at the same timestamp must not move the indices")
	}

	if err := r.Accrue(t0); err != nil {
		t.Fatalf("stale Accrue: %v", err)
	}
	if !r.LiquidityIndex.Eq(liqIdx) {
		t.Error("accruing at an earlier timestamp must not move the indices")
	}
}

func TestAccrue_IndicesGrowUnderDebt(t *testing.T) {
	r := newTestReserve(t)
	deposit(t, r, wad("1000000000000000000000"))
	borrow(t, r, wad("800000000000000000000")) // 80% utilization
	if err := r.Accrue(t0 + 1); err != nil {
		t.Fatalf("prime rates: %v", err)
	}

	prevLiq := new(uint256.Int).Set(r.LiquidityIndex)
	prevBor := new(uint256.Int).Set(r.VariableBorrowIndex)
	now := t0 + 1
	for i := 0; i < 5; i++ {
		now += 86_400
		if err := r.Accrue(now); err != nil {
			t.Fatalf("Accrue day %d: %v", i, err)
		}
		if !r.LiquidityIndex.Gt(prevLiq) {
			t.Fatalf("liquidity index did not grow on day %d", i)
		}
		if !r.VariableBorrowIndex.Gt(prevBor) {
			t.Fatalf("borrow index did not grow on day %d", i)
		}
		prevLiq.Set(r.LiquidityIndex)
		prevBor.Set(r.VariableBorrowIndex)
	}
}

func TestAccrue_IdleReserveEarnsNothing(t *testing.T) {
	r := newTestReserve(t)
	deposit(t, r, wad("1000000000000000000000"))

	if err := r.Accrue(t0 + 365*86_400); err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if !r.LiquidityIndex.Eq(fpmath.Ray) {
		t.Errorf("liquidity index with no debt = %s, want 1 ray", r.LiquidityIndex)
	}
}

func TestAccrue_DepositorsEarnLessThanBorrowersPay(t *testing.T) {
	r := newTestReserve(t)
	deposit(t, r, wad("1000000000000000000000"))
	borrow(t, r, wad("500000000000000000000"))
	if err := r.Accrue(t0 + 1); err != nil {
		t.Fatalf("prime rates: %v", err)
	}

	if err := r.Accrue(t0 + 1 + 365*86_400); err != nil {
		t.Fatalf("Accrue: %v", err)
	}

	deposits, err := r.TotalDeposits()
	if err != nil {
		t.Fatalf("TotalDeposits: %v", err)
	}
	debt, err := r.TotalDebt()
	if err != nil {
		t.Fatalf("TotalDebt: %v", err)
	}

	depositGain := new(uint256.Int).Sub(deposits, wad("1000000000000000000000"))
	debtGrowth := new(uint256.Int).Sub(debt, wad("500000000000000000000"))
	if depositGain.IsZero() || debtGrowth.IsZero() {
		t.Fatal("a year at 50% utilization should accrue interest on both sides")
	}
	if !depositGain.Lt(debtGrowth) {
		t.Errorf("deposit gain %s should be below debt growth %s (reserve factor)", depositGain, debtGrowth)
	}
}

// ============================================================================
// Test: Scaled mutations
// ============================================================================

func TestRemoveDeposit_InsufficientLiquidity(t *testing.T) {
	r := newTestReserve(t)
	deposit(t, r, wad("1000000000000000000000"))
	borrow(t, r, wad("800000000000000000000"))

	// only 200 remain in the pool
	amount := wad("300000000000000000000")
	err := r.RemoveDeposit(scaledFor(t, amount, r.LiquidityIndex), amount)
	if !errors.Is(err, protocol.ErrInsufficientLiquidity) {
		t.Errorf("err = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestAddDebt_InsufficientLiquidity(t *testing.T) {
	r := newTestReserve(t)
	deposit(t, r, wad("100000000000000000000")) // 100

	amount := wad("150000000000000000000") // 150
	err := r.AddDebt(scaledFor(t, amount, r.VariableBorrowIndex), amount)
	if !errors.Is(err, protocol.ErrInsufficientLiquidity) {
		t.Errorf("err = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestRemoveDeposit_FullExit(t *testing.T) {
	r := newTestReserve(t)
	amount := wad("1000000000000000000000")
	deposit(t, r, amount)

	if err := r.RemoveDeposit(scaledFor(t, amount, r.LiquidityIndex), amount); err != nil {
		t.Fatalf("RemoveDeposit: %v", err)
	}
	if !r.TotalScaledDeposit.IsZero() {
		t.Errorf("scaled deposit after full exit = %s, want 0", r.TotalScaledDeposit)
	}
}

func TestSnapshot_IndependentOfReserve(t *testing.T) {
	r := newTestReserve(t)
	deposit(t, r, wad("1000000000000000000000"))
	borrow(t, r, wad("400000000000000000000"))

	snap, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	before := new(uint256.Int).Set(snap.LiquidityIndex)
	if err := r.Accrue(t0 + 365*86_400); err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if !snap.LiquidityIndex.Eq(before) {
		t.Error("snapshot must not alias live reserve state")
	}
}

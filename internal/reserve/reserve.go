package reserve

import (
	"fmt"

	fpmath "github.com/sumit-mahajan/refi/internal/math"
	"github.com/sumit-mahajan/refi/internal/protocol"

	"github.com/holiman/uint256"
)

// Config holds the risk and rate parameters of a listed asset. Percentages
// (LTV, LiquidationThreshold, ReserveFactor) are wads; LiquidationBonus is a
// wad multiplier above one (1.10e18 = 10% bonus).
type Config struct {
	Symbol               string
	LTV                  *uint256.Int
	LiquidationThreshold *uint256.Int
	LiquidationBonus     *uint256.Int
	ReserveFactor        *uint256.Int
	Strategy             RateStrategy
	Active               bool
}

// ValidateConfig checks that listing parameters are within valid ranges:
// ltv < threshold, threshold <= 1, bonus > 1, reserve factor < 1,
// optimal utilization in (0, 1).
func ValidateConfig(cfg Config) error {
	if cfg.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if !cfg.LTV.Lt(cfg.LiquidationThreshold) {
		return fmt.Errorf("ltv (%s) must be < liquidation threshold (%s)", cfg.LTV, cfg.LiquidationThreshold)
	}
	if cfg.LiquidationThreshold.Gt(fpmath.Wad) {
		return fmt.Errorf("liquidation threshold must be <= 1e18, got %s", cfg.LiquidationThreshold)
	}
	if !cfg.LiquidationBonus.Gt(fpmath.Wad) {
		return fmt.Errorf("liquidation bonus must be > 1e18, got %s", cfg.LiquidationBonus)
	}
	if !cfg.ReserveFactor.Lt(fpmath.Wad) {
		return fmt.Errorf("reserve factor must be < 1e18, got %s", cfg.ReserveFactor)
	}
	if cfg.Strategy.OptimalUtilization.IsZero() || !cfg.Strategy.OptimalUtilization.Lt(fpmath.Ray) {
		return fmt.Errorf("optimal utilization must be in (0, 1) ray, got %s", cfg.Strategy.OptimalUtilization)
	}
	return nil
}

// Reserve is the per-asset liquidity pool state. Scaled totals are wad
// amounts normalized by the matching index; indices and rates are rays.
// Mutations are not self-synchronized: the pool serializes access.
type Reserve struct {
	Config Config

	LiquidityIndex      *uint256.Int
	VariableBorrowIndex *uint256.Int

	CurrentLiquidityRate      *uint256.Int
	CurrentVariableBorrowRate *uint256.Int

	TotalScaledDeposit *uint256.Int
	TotalScaledDebt    *uint256.Int

	LastUpdateTimestamp int64
}

func newReserve(cfg Config, now int64) *Reserve {
	return &Reserve{
		Config:                    cfg,
		LiquidityIndex:            new(uint256.Int).Set(fpmath.Ray),
		VariableBorrowIndex:       new(uint256.Int).Set(fpmath.Ray),
		CurrentLiquidityRate:      new(uint256.Int),
		CurrentVariableBorrowRate: new(uint256.Int),
		TotalScaledDeposit:        new(uint256.Int),
		TotalScaledDebt:           new(uint256.Int),
		LastUpdateTimestamp:       now,
	}
}

// TotalDeposits returns the interest-inclusive deposit total in wad.
func (r *Reserve) TotalDeposits() (*uint256.Int, error) {
	return fpmath.RayMul(r.TotalScaledDeposit, r.LiquidityIndex)
}

// TotalDebt returns the interest-inclusive debt total in wad.
func (r *Reserve) TotalDebt() (*uint256.Int, error) {
	return fpmath.RayMul(r.TotalScaledDebt, r.VariableBorrowIndex)
}

// AvailableLiquidity returns deposits minus debt. Rounding can push the
// difference a few units negative; that is clamped to zero.
func (r *Reserve) AvailableLiquidity() (*uint256.Int, error) {
	deposits, err := r.TotalDeposits()
	if err != nil {
		return nil, err
	}
	debt, err := r.TotalDebt()
	if err != nil {
		return nil, err
	}
	if debt.Gt(deposits) {
		return new(uint256.Int), nil
	}
	return deposits.Sub(deposits, debt), nil
}

// Utilization returns debt / (debt + available liquidity) as a ray. Zero when
// the reserve holds no deposits.
func (r *Reserve) Utilization() (*uint256.Int, error) {
	deposits, err := r.TotalDeposits()
	if err != nil {
		return nil, err
	}
	if deposits.IsZero() {
		return new(uint256.Int), nil
	}
	debt, err := r.TotalDebt()
	if err != nil {
		return nil, err
	}
	return fpmath.RayDiv(debt, deposits)
}

// Accrue rolls the interest indices forward to now and recomputes rates from
// the resulting utilization. Idempotent within the same second: a second call
// at the same timestamp changes nothing. Must run before any scaled-balance
// mutation so amounts are scaled against current indices.
func (r *Reserve) Accrue(now int64) error {
	if now <= r.LastUpdateTimestamp {
		return nil
	}
	elapsed := now - r.LastUpdateTimestamp

	liqMultiplier, err := fpmath.LinearInterest(r.CurrentLiquidityRate, elapsed)
	if err != nil {
		return protocol.WithContext(protocol.ErrOverflow, "liquidity interest for %s", r.Config.Symbol)
	}
	newLiquidityIndex, err := fpmath.RayMul(r.LiquidityIndex, liqMultiplier)
	if err != nil {
		return protocol.WithContext(protocol.ErrOverflow, "liquidity index for %s", r.Config.Symbol)
	}

	borrowMultiplier, err := fpmath.CompoundedInterest(r.CurrentVariableBorrowRate, elapsed)
	if err != nil {
		return protocol.WithContext(protocol.ErrOverflow, "borrow interest for %s", r.Config.Symbol)
	}
	newBorrowIndex, err := fpmath.RayMul(r.VariableBorrowIndex, borrowMultiplier)
	if err != nil {
		return protocol.WithContext(protocol.ErrOverflow, "borrow index for %s", r.Config.Symbol)
	}

	r.LiquidityIndex = newLiquidityIndex
	r.VariableBorrowIndex = newBorrowIndex
	r.LastUpdateTimestamp = now

	return r.updateRates()
}

func (r *Reserve) updateRates() error {
	utilization, err := r.Utilization()
	if err != nil {
		return err
	}
	borrowRate, liquidityRate, err := r.Config.Strategy.ComputeRates(utilization, r.Config.ReserveFactor)
	if err != nil {
		return err
	}
	r.CurrentVariableBorrowRate = borrowRate
	r.CurrentLiquidityRate = liquidityRate
	return nil
}

// AddDeposit credits scaledDelta to the deposit total and refreshes rates.
func (r *Reserve) AddDeposit(scaledDelta *uint256.Int) error {
	if _, overflow := r.TotalScaledDeposit.AddOverflow(r.TotalScaledDeposit, scaledDelta); overflow {
		return protocol.WithContext(protocol.ErrOverflow, "deposit total for %s", r.Config.Symbol)
	}
	return r.updateRates()
}

// RemoveDeposit debits scaledDelta from the deposit total. amount is the wad
// value being taken out; it must be covered by available liquidity.
func (r *Reserve) RemoveDeposit(scaledDelta, amount *uint256.Int) error {
	available, err := r.AvailableLiquidity()
	if err != nil {
		return err
	}
	if amount.Gt(available) {
		return protocol.WithContext(protocol.ErrInsufficientLiquidity,
			"reserve %s: requested %s, available %s", r.Config.Symbol, amount, available)
	}
	if scaledDelta.Gt(r.TotalScaledDeposit) {
		return protocol.WithContext(protocol.ErrOverflow, "deposit total underflow for %s", r.Config.Symbol)
	}
	r.TotalScaledDeposit.Sub(r.TotalScaledDeposit, scaledDelta)
	return r.updateRates()
}

// AddDebt credits scaledDelta to the debt total. amount is the wad value
// being lent out; it must be covered by available liquidity.
func (r *Reserve) AddDebt(scaledDelta, amount *uint256.Int) error {
	available, err := r.AvailableLiquidity()
	if err != nil {
		return err
	}
	if amount.Gt(available) {
		return protocol.WithContext(protocol.ErrInsufficientLiquidity,
			"reserve %s: requested %s, available %s", r.Config.Symbol, amount, available)
	}
	if _, overflow := r.TotalScaledDebt.AddOverflow(r.TotalScaledDebt, scaledDelta); overflow {
		return protocol.WithContext(protocol.ErrOverflow, "debt total for %s", r.Config.Symbol)
	}
	return r.updateRates()
}

// RemoveDebt debits scaledDelta from the debt total.
func (r *Reserve) RemoveDebt(scaledDelta *uint256.Int) error {
	if scaledDelta.Gt(r.TotalScaledDebt) {
		return protocol.WithContext(protocol.ErrOverflow, "debt total underflow for %s", r.Config.Symbol)
	}
	r.TotalScaledDebt.Sub(r.TotalScaledDebt, scaledDelta)
	return r.updateRates()
}

// Snapshot is an immutable copy of reserve state for queries and persistence.
type Snapshot struct {
	Symbol                    string
	LiquidityIndex            *uint256.Int
	VariableBorrowIndex       *uint256.Int
	CurrentLiquidityRate      *uint256.Int
	CurrentVariableBorrowRate *uint256.Int
	TotalScaledDeposit        *uint256.Int
	TotalScaledDebt           *uint256.Int
	Utilization               *uint256.Int
	AvailableLiquidity        *uint256.Int
	LastUpdateTimestamp       int64
	Active                    bool
}

func (r *Reserve) Snapshot() (*Snapshot, error) {
	utilization, err := r.Utilization()
	if err != nil {
		return nil, err
	}
	available, err := r.AvailableLiquidity()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Symbol:                    r.Config.Symbol,
		LiquidityIndex:            new(uint256.Int).Set(r.LiquidityIndex),
		VariableBorrowIndex:       new(uint256.Int).Set(r.VariableBorrowIndex),
		CurrentLiquidityRate:      new(uint256.Int).Set(r.CurrentLiquidityRate),
		CurrentVariableBorrowRate: new(uint256.Int).Set(r.CurrentVariableBorrowRate),
		TotalScaledDeposit:        new(uint256.Int).Set(r.TotalScaledDeposit),
		TotalScaledDebt:           new(uint256.Int).Set(r.TotalScaledDebt),
		Utilization:               utilization,
		AvailableLiquidity:        available,
		LastUpdateTimestamp:       r.LastUpdateTimestamp,
		Active:                    r.Config.Active,
	}, nil
}

package health

import (
	fpmath "github.com/sumit-mahajan/refi/internal/math"
	"github.com/sumit-mahajan/refi/internal/position"
	"github.com/sumit-mahajan/refi/internal/protocol"
	"github.com/sumit-mahajan/refi/internal/reserve"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PriceSource quotes asset prices in the reference currency, wad-scaled per
// whole unit of the asset.
type PriceSource interface {
	GetAssetPrice(asset string) (*uint256.Int, error)
	GetAssetsPrices(assets []string) (map[string]*uint256.Int, error)
}

// AccountData is the cross-reserve aggregate for one user. Values are wads in
// the reference currency; LTV and threshold are collateral-weighted wad
// averages. HealthFactor is MaxUint256 when the user has no debt.
type AccountData struct {
	TotalCollateralValue    *uint256.Int
	TotalDebtValue          *uint256.Int
	AvgLTV                  *uint256.Int
	AvgLiquidationThreshold *uint256.Int
	AvailableBorrowsValue   *uint256.Int
	HealthFactor            *uint256.Int
}

// Engine computes account health from current reserve indices and scaled
// balances. It never mutates state and never accrues: the caller rolls the
// indices forward first when fresh values matter.
type Engine struct {
	reserves  *reserve.Ledger
	positions *position.Store
	prices    PriceSource
}

func NewEngine(reserves *reserve.Ledger, positions *position.Store, prices PriceSource) *Engine {
	return &Engine{reserves: reserves, positions: positions, prices: prices}
}

// valueOf converts a wad asset amount into the reference currency.
func valueOf(amount, price *uint256.Int) (*uint256.Int, error) {
	return fpmath.WadMul(amount, price)
}

// Compute aggregates the user's collateral and debt across every reserve the
// user has touched.
func (e *Engine) Compute(user uuid.UUID) (*AccountData, error) {
	data := &AccountData{
		TotalCollateralValue:    new(uint256.Int),
		TotalDebtValue:          new(uint256.Int),
		AvgLTV:                  new(uint256.Int),
		AvgLiquidationThreshold: new(uint256.Int),
		AvailableBorrowsValue:   new(uint256.Int),
		HealthFactor:            new(uint256.Int).Set(fpmath.MaxUint256),
	}

	assets := e.positions.Assets(user)
	if len(assets) == 0 {
		return data, nil
	}
	prices, err := e.prices.GetAssetsPrices(assets)
	if err != nil {
		return nil, err
	}

	// ltvSum and thresholdSum carry collateral-value-weighted numerators
	// until the final division by total collateral.
	ltvSum := new(uint256.Int)
	thresholdSum := new(uint256.Int)

	for _, asset := range assets {
		r, ok := e.reserves.Get(asset)
		if !ok {
			return nil, protocol.WithContext(protocol.ErrInvalidAsset, "position references unlisted asset %q", asset)
		}
		price, ok := prices[asset]
		if !ok {
			return nil, protocol.WithContext(protocol.ErrInvalidAsset, "no price for asset %q", asset)
		}
		rec := e.positions.Get(user, asset)

		if rec.UsageAsCollateralEnabled {
			depositWad, err := fpmath.RayMul(rec.ScaledDeposit, r.LiquidityIndex)
			if err != nil {
				return nil, err
			}
			value, err := valueOf(depositWad, price)
			if err != nil {
				return nil, err
			}
			if _, overflow := data.TotalCollateralValue.AddOverflow(data.TotalCollateralValue, value); overflow {
				return nil, protocol.WithContext(protocol.ErrOverflow, "collateral total for %s", user)
			}

			weightedLTV, err := fpmath.WadMul(value, r.Config.LTV)
			if err != nil {
				return nil, err
			}
			ltvSum.Add(ltvSum, weightedLTV)

			weightedThreshold, err := fpmath.WadMul(value, r.Config.LiquidationThreshold)
			if err != nil {
				return nil, err
			}
			thresholdSum.Add(thresholdSum, weightedThreshold)
		}

		if rec.IsBorrowing {
			debtWad, err := fpmath.RayMul(rec.ScaledDebt, r.VariableBorrowIndex)
			if err != nil {
				return nil, err
			}
			value, err := valueOf(debtWad, price)
			if err != nil {
				return nil, err
			}
			if _, overflow := data.TotalDebtValue.AddOverflow(data.TotalDebtValue, value); overflow {
				return nil, protocol.WithContext(protocol.ErrOverflow, "debt total for %s", user)
			}
		}
	}

	if !data.TotalCollateralValue.IsZero() {
		avgLTV, err := fpmath.WadDiv(ltvSum, data.TotalCollateralValue)
		if err != nil {
			return nil, err
		}
		data.AvgLTV = avgLTV
		avgThreshold, err := fpmath.WadDiv(thresholdSum, data.TotalCollateralValue)
		if err != nil {
			return nil, err
		}
		data.AvgLiquidationThreshold = avgThreshold
	}

	borrowCapacity, err := fpmath.WadMul(data.TotalCollateralValue, data.AvgLTV)
	if err != nil {
		return nil, err
	}
	if borrowCapacity.Gt(data.TotalDebtValue) {
		data.AvailableBorrowsValue.Sub(borrowCapacity, data.TotalDebtValue)
	}

	if !data.TotalDebtValue.IsZero() {
		riskAdjusted, err := fpmath.WadMul(data.TotalCollateralValue, data.AvgLiquidationThreshold)
		if err != nil {
			return nil, err
		}
		hf, err := fpmath.WadDiv(riskAdjusted, data.TotalDebtValue)
		if err != nil {
			return nil, err
		}
		data.HealthFactor = hf
	}

	return data, nil
}

// ValidateBorrow checks that the user's collateral covers the existing debt
// plus the new draw at the portfolio's average LTV. Nothing is mutated; the
// caller applies the borrow only on success.
func (e *Engine) ValidateBorrow(user uuid.UUID, asset string, amount *uint256.Int) error {
	data, err := e.Compute(user)
	if err != nil {
		return err
	}
	price, err := e.prices.GetAssetPrice(asset)
	if err != nil {
		return err
	}
	addedValue, err := valueOf(amount, price)
	if err != nil {
		return err
	}

	newDebt := new(uint256.Int)
	if _, overflow := newDebt.AddOverflow(data.TotalDebtValue, addedValue); overflow {
		return protocol.WithContext(protocol.ErrOverflow, "debt total for %s", user)
	}
	borrowCapacity, err := fpmath.WadMul(data.TotalCollateralValue, data.AvgLTV)
	if err != nil {
		return err
	}
	if newDebt.Gt(borrowCapacity) {
		return protocol.WithContext(protocol.ErrCollateralCannotCoverNewBorrow,
			"user %s: debt after borrow %s exceeds capacity %s", user, newDebt, borrowCapacity)
	}
	return nil
}

// ValidateWithdraw checks that removing collateral keeps the health factor at
// or above one. Users with no open debt withdraw freely.
func (e *Engine) ValidateWithdraw(user uuid.UUID, asset string, amount *uint256.Int) error {
	rec := e.positions.Get(user, asset)
	if !rec.UsageAsCollateralEnabled {
		return nil
	}
	data, err := e.Compute(user)
	if err != nil {
		return err
	}
	if data.TotalDebtValue.IsZero() {
		return nil
	}

	r, ok := e.reserves.Get(asset)
	if !ok {
		return protocol.WithContext(protocol.ErrInvalidAsset, "asset %q", asset)
	}
	price, err := e.prices.GetAssetPrice(asset)
	if err != nil {
		return err
	}
	removedValue, err := valueOf(amount, price)
	if err != nil {
		return err
	}

	if removedValue.Gt(data.TotalCollateralValue) {
		removedValue = new(uint256.Int).Set(data.TotalCollateralValue)
	}
	collateralAfter := new(uint256.Int).Sub(data.TotalCollateralValue, removedValue)
	if collateralAfter.IsZero() {
		return protocol.WithContext(protocol.ErrWithdrawalBreachesHealthFactor,
			"user %s: withdrawal drains all collateral while debt is open", user)
	}

	// Re-derive the weighted threshold with the withdrawn slice removed.
	weightedBefore, err := fpmath.WadMul(data.TotalCollateralValue, data.AvgLiquidationThreshold)
	if err != nil {
		return err
	}
	removedWeight, err := fpmath.WadMul(removedValue, r.Config.LiquidationThreshold)
	if err != nil {
		return err
	}
	weightedAfter := new(uint256.Int)
	if weightedBefore.Gt(removedWeight) {
		weightedAfter.Sub(weightedBefore, removedWeight)
	}
	thresholdAfter, err := fpmath.WadDiv(weightedAfter, collateralAfter)
	if err != nil {
		return err
	}

	riskAdjusted, err := fpmath.WadMul(collateralAfter, thresholdAfter)
	if err != nil {
		return err
	}
	hfAfter, err := fpmath.WadDiv(riskAdjusted, data.TotalDebtValue)
	if err != nil {
		return err
	}
	if hfAfter.Lt(fpmath.Wad) {
		return protocol.WithContext(protocol.ErrWithdrawalBreachesHealthFactor,
			"user %s: health factor after withdrawal %s", user, hfAfter)
	}
	return nil
}

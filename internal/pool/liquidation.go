package pool

import (
	"time"

	"github.com/sumit-mahajan/refi/internal/event"
	fpmath "github.com/sumit-mahajan/refi/internal/math"
	"github.com/sumit-mahajan/refi/internal/protocol"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// LiquidationResult reports what a liquidation call actually moved. Both
// figures can come in below the request when the close factor or the user's
// collateral caps them.
type LiquidationResult struct {
	Receipt          *Receipt
	DebtCovered      *uint256.Int
	CollateralSeized *uint256.Int
}

// Liquidate lets liquidator repay part of user's debtAsset debt and seize
// collateralAsset at a bonus. Only positions with a health factor below one
// qualify. The covered debt is capped by the close factor share of the
// outstanding debt and by what the seized collateral is worth; passing the
// max sentinel covers the cap. Seized collateral stays in the pool as the
// liquidator's deposit.
func (p *Pool) Liquidate(liquidator, user uuid.UUID, collateralAsset, debtAsset string, debtToCover *uint256.Int) (*LiquidationResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()

	collateralReserve, err := p.reserves.RequireActive(collateralAsset)
	if err != nil {
		return nil, p.rejectLiquidation(err)
	}
	debtReserve, err := p.reserves.RequireActive(debtAsset)
	if err != nil {
		return nil, p.rejectLiquidation(err)
	}
	if !isMax(debtToCover) {
		if err := validAmount(debtToCover); err != nil {
			return nil, p.rejectLiquidation(err)
		}
	}

	now := p.clock.Now()
	if err := collateralReserve.Accrue(now); err != nil {
		return nil, p.rejectLiquidation(err)
	}
	if err := debtReserve.Accrue(now); err != nil {
		return nil, p.rejectLiquidation(err)
	}

	data, err := p.health.Compute(user)
	if err != nil {
		return nil, p.rejectLiquidation(err)
	}
	if !data.HealthFactor.Lt(fpmath.Wad) {
		return nil, p.rejectLiquidation(protocol.WithContext(protocol.ErrLiquidationNotAllowed,
			"user %s health factor %s", user, data.HealthFactor))
	}

	debtRec := p.positions.Get(user, debtAsset)
	userDebt, err := fpmath.RayMul(debtRec.ScaledDebt, debtReserve.VariableBorrowIndex)
	if err != nil {
		return nil, p.rejectLiquidation(err)
	}
	if userDebt.IsZero() {
		return nil, p.rejectLiquidation(protocol.WithContext(protocol.ErrNoDebt,
			"user %s has no %s debt", user, debtAsset))
	}

	collateralRec := p.positions.Get(user, collateralAsset)
	if !collateralRec.UsageAsCollateralEnabled {
		return nil, p.rejectLiquidation(protocol.WithContext(protocol.ErrLiquidationNotAllowed,
			"user %s holds no %s collateral", user, collateralAsset))
	}
	userCollateral, err := fpmath.RayMul(collateralRec.ScaledDeposit, collateralReserve.LiquidityIndex)
	if err != nil {
		return nil, p.rejectLiquidation(err)
	}

	// Close factor caps the retired debt per call.
	maxCoverable, err := fpmath.WadMul(userDebt, p.params.CloseFactor)
	if err != nil {
		return nil, p.rejectLiquidation(err)
	}
	debtCovered := fpmath.Min(debtToCover, maxCoverable)
	if isMax(debtToCover) {
		debtCovered = new(uint256.Int).Set(maxCoverable)
	}

	seized, err := p.collateralFor(debtCovered, collateralAsset, debtAsset, collateralReserve.Config.LiquidationBonus)
	if err != nil {
		return nil, p.rejectLiquidation(err)
	}

	// Not enough collateral: seize it all and shrink the covered debt to
	// what the collateral pays for.
	if seized.Gt(userCollateral) {
		seized = new(uint256.Int).Set(userCollateral)
		debtCovered, err = p.debtFor(seized, collateralAsset, debtAsset, collateralReserve.Config.LiquidationBonus)
		if err != nil {
			return nil, p.rejectLiquidation(err)
		}
	}
	if debtCovered.IsZero() || seized.IsZero() {
		return nil, p.rejectLiquidation(protocol.ErrInvalidAmount)
	}

	// Resolve both scaled figures before any state moves so every failure
	// past this point has a clean undo.
	fullRepay := !debtCovered.Lt(userDebt)
	scaledDebt := debtRec.ScaledDebt
	if !fullRepay {
		scaledDebt, err = fpmath.RayDiv(debtCovered, debtReserve.VariableBorrowIndex)
		if err != nil {
			return nil, p.rejectLiquidation(err)
		}
		scaledDebt = fpmath.Min(scaledDebt, debtRec.ScaledDebt)
	}
	fullSeize := !seized.Lt(userCollateral)
	scaledSeized := collateralRec.ScaledDeposit
	if !fullSeize {
		scaledSeized, err = fpmath.RayDiv(seized, collateralReserve.LiquidityIndex)
		if err != nil {
			return nil, p.rejectLiquidation(err)
		}
		scaledSeized = fpmath.Min(scaledSeized, collateralRec.ScaledDeposit)
	}

	// Liquidator pays the debt from their wallet.
	if err := p.balances.Debit(liquidator, debtAsset, debtCovered); err != nil {
		return nil, p.rejectLiquidation(err)
	}

	// Debt side: retire the covered share.
	if err := p.positions.DebitDebt(user, debtAsset, scaledDebt); err != nil {
		p.unwind(func() error { return p.balances.Credit(liquidator, debtAsset, debtCovered) })
		return nil, p.rejectLiquidation(err)
	}
	if err := debtReserve.RemoveDebt(scaledDebt); err != nil {
		p.unwind(
			func() error { return p.positions.CreditDebt(user, debtAsset, scaledDebt) },
			func() error { return p.balances.Credit(liquidator, debtAsset, debtCovered) },
		)
		return nil, p.rejectLiquidation(err)
	}

	// Collateral side: move the seized scaled deposit to the liquidator.
	// Reserve totals are untouched so no liquidity constraint applies.
	if err := p.positions.DebitDeposit(user, collateralAsset, scaledSeized); err != nil {
		p.unwind(
			func() error { return debtReserve.AddDebt(scaledDebt, debtCovered) },
			func() error { return p.positions.CreditDebt(user, debtAsset, scaledDebt) },
			func() error { return p.balances.Credit(liquidator, debtAsset, debtCovered) },
		)
		return nil, p.rejectLiquidation(err)
	}
	if err := p.positions.CreditDeposit(liquidator, collateralAsset, scaledSeized); err != nil {
		p.unwind(
			func() error { return p.positions.CreditDeposit(user, collateralAsset, scaledSeized) },
			func() error { return debtReserve.AddDebt(scaledDebt, debtCovered) },
			func() error { return p.positions.CreditDebt(user, debtAsset, scaledDebt) },
			func() error { return p.balances.Credit(liquidator, debtAsset, debtCovered) },
		)
		return nil, p.rejectLiquidation(err)
	}

	p.scores.OnLiquidation(user, p.borrowUtilization(user), now)
	p.touchScore(liquidator, now)

	receipt, err := p.commit(event.OperationTypeLiquidation, user, debtAsset, now, debtCovered, event.LiquidationApplied{
		Liquidator:       liquidator,
		CollateralAsset:  collateralAsset,
		DebtCovered:      debtCovered.Dec(),
		CollateralSeized: seized.Dec(),
		HealthFactor:     data.HealthFactor.Dec(),
	})
	if err != nil {
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.LiquidationsExecuted.WithLabelValues(collateralAsset, debtAsset).Inc()
	}
	p.observe(event.OperationTypeLiquidation, debtAsset, debtReserve, start)
	p.log.Info().
		Str("liquidator", liquidator.String()).
		Str("user", user.String()).
		Str("collateral_asset", collateralAsset).
		Str("debt_asset", debtAsset).
		Str("debt_covered", debtCovered.Dec()).
		Str("collateral_seized", seized.Dec()).
		Int64("sequence", receipt.Sequence).
		Msg("liquidation applied")

	return &LiquidationResult{
		Receipt:          receipt,
		DebtCovered:      debtCovered,
		CollateralSeized: seized,
	}, nil
}

// collateralFor converts covered debt into seized collateral at the bonus:
// debt value * bonus, repriced into the collateral asset.
func (p *Pool) collateralFor(debtCovered *uint256.Int, collateralAsset, debtAsset string, bonus *uint256.Int) (*uint256.Int, error) {
	debtPrice, err := p.prices.GetAssetPrice(debtAsset)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := p.prices.GetAssetPrice(collateralAsset)
	if err != nil {
		return nil, err
	}
	value, err := fpmath.WadMul(debtCovered, debtPrice)
	if err != nil {
		return nil, err
	}
	value, err = fpmath.WadMul(value, bonus)
	if err != nil {
		return nil, err
	}
	return fpmath.WadDiv(value, collateralPrice)
}

// debtFor is the inverse of collateralFor: how much debt a given amount of
// seized collateral pays for.
func (p *Pool) debtFor(seized *uint256.Int, collateralAsset, debtAsset string, bonus *uint256.Int) (*uint256.Int, error) {
	debtPrice, err := p.prices.GetAssetPrice(debtAsset)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := p.prices.GetAssetPrice(collateralAsset)
	if err != nil {
		return nil, err
	}
	value, err := fpmath.WadMul(seized, collateralPrice)
	if err != nil {
		return nil, err
	}
	value, err = fpmath.WadDiv(value, bonus)
	if err != nil {
		return nil, err
	}
	return fpmath.WadDiv(value, debtPrice)
}

func (p *Pool) rejectLiquidation(err error) error {
	if p.metrics != nil {
		p.metrics.LiquidationsRejected.WithLabelValues(protocol.CodeOf(err)).Inc()
	}
	return p.reject(event.OperationTypeLiquidation, err)
}

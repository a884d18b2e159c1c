package reserve

import (
	fpmath "github.com/sumit-mahajan/refi/internal/math"

	"github.com/holiman/uint256"
)

// RateStrategy holds the parameters of the piecewise-linear interest rate
// curve for one reserve. All fields are rays.
type RateStrategy struct {
	BaseRate           *uint256.Int // rate at zero utilization
	Slope1             *uint256.Int // rate increase up to optimal utilization
	Slope2             *uint256.Int // rate increase past optimal utilization
	OptimalUtilization *uint256.Int
}

// ComputeRates returns the variable borrow rate and the deposit (liquidity)
// rate for the given utilization. Pure: no reserve state is read.
//
// Below the optimal point the borrow rate climbs by Slope1 proportionally to
// U/Uopt; above it, by Slope2 proportionally to (U-Uopt)/(1-Uopt). The
// liquidity rate is the borrow rate scaled by utilization and by one minus
// the reserve factor.
func (s RateStrategy) ComputeRates(utilization, reserveFactor *uint256.Int) (borrowRate, liquidityRate *uint256.Int, err error) {
	borrowRate = new(uint256.Int).Set(s.BaseRate)

	if utilization.Gt(s.OptimalUtilization) {
		excess := new(uint256.Int).Sub(utilization, s.OptimalUtilization)
		span := new(uint256.Int).Sub(fpmath.Ray, s.OptimalUtilization)
		excessRatio, derr := fpmath.RayDiv(excess, span)
		if derr != nil {
			return nil, nil, derr
		}
		steep, merr := fpmath.RayMul(s.Slope2, excessRatio)
		if merr != nil {
			return nil, nil, merr
		}
		borrowRate.Add(borrowRate, s.Slope1)
		borrowRate.Add(borrowRate, steep)
	} else {
		ratio, derr := fpmath.RayDiv(utilization, s.OptimalUtilization)
		if derr != nil {
			return nil, nil, derr
		}
		gentle, merr := fpmath.RayMul(s.Slope1, ratio)
		if merr != nil {
			return nil, nil, merr
		}
		borrowRate.Add(borrowRate, gentle)
	}

	// liquidityRate = borrowRate * U * (1 - reserveFactor)
	liquidityRate, err = fpmath.RayMul(borrowRate, utilization)
	if err != nil {
		return nil, nil, err
	}
	factorRay, err := fpmath.WadToRay(reserveFactor)
	if err != nil {
		return nil, nil, err
	}
	keep := new(uint256.Int).Sub(fpmath.Ray, factorRay)
	liquidityRate, err = fpmath.RayMul(liquidityRate, keep)
	if err != nil {
		return nil, nil, err
	}

	return borrowRate, liquidityRate, nil
}

package math

import "github.com/holiman/uint256"

// SecondsPerYear is the rate denominator: per-second rates are derived as
// annualRate / SecondsPerYear.
const SecondsPerYear = 31_536_000

// LinearInterest returns the cumulating multiplier 1 + rate*dt/secondsPerYear
// as a ray. Used for the liquidity index, where per-second compounding is not
// worth its cost.
func LinearInterest(rate *uint256.Int, elapsedSeconds int64) (*uint256.Int, error) {
	if elapsedSeconds <= 0 {
		return new(uint256.Int).Set(Ray), nil
	}

	out := new(uint256.Int)
	if _, overflow := out.MulOverflow(rate, uint256.NewInt(uint64(elapsedSeconds))); overflow {
		return nil, ErrOverflow
	}
	out.Div(out, uint256.NewInt(SecondsPerYear))

	if _, overflow := out.AddOverflow(out, Ray); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// CompoundedInterest approximates (1 + rate/secondsPerYear)^elapsedSeconds as
// a ray using the binomial expansion truncated after the quadratic term:
//
//	1 + r*t + t*(t-1)/2 * r^2        with r = rate/secondsPerYear
//
// The truncation undershoots true compounding; for realistic rates the error
// stays below the bound asserted in the interest tests (on the order of r^3*t^3
// relative). Exact exponentiation is deliberately not used. Used for the
// variable borrow index, where undershooting favors the borrower.
func CompoundedInterest(rate *uint256.Int, elapsedSeconds int64) (*uint256.Int, error) {
	if elapsedSeconds <= 0 {
		return new(uint256.Int).Set(Ray), nil
	}

	t := uint64(elapsedSeconds)
	ratePerSecond := new(uint256.Int).Div(rate, uint256.NewInt(SecondsPerYear))

	// r*t
	firstTerm := new(uint256.Int)
	if _, overflow := firstTerm.MulOverflow(ratePerSecond, uint256.NewInt(t)); overflow {
		return nil, ErrOverflow
	}

	// t*(t-1)/2 * r^2
	ratePow2, err := RayMul(ratePerSecond, ratePerSecond)
	if err != nil {
		return nil, err
	}
	secondTerm := new(uint256.Int)
	if _, overflow := secondTerm.MulOverflow(ratePow2, uint256.NewInt(t)); overflow {
		return nil, ErrOverflow
	}
	if _, overflow := secondTerm.MulOverflow(secondTerm, uint256.NewInt(t-1)); overflow {
		return nil, ErrOverflow
	}
	secondTerm.Div(secondTerm, uint256.NewInt(2))

	out := new(uint256.Int).Set(Ray)
	if _, overflow := out.AddOverflow(out, firstTerm); overflow {
		return nil, ErrOverflow
	}
	if _, overflow := out.AddOverflow(out, secondTerm); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

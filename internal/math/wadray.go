package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// Fixed-point scales used across the ledger. Wad (1e18) is the unit for
// amounts, prices and percentages; ray (1e27) is the unit for interest
// indices and rates.
var (
	Wad = uint256.NewInt(1e18)
	Ray = uint256.MustFromDecimal("1000000000000000000000000000")

	halfWad = uint256.NewInt(5e17)
	halfRay = uint256.MustFromDecimal("500000000000000000000000000")

	// WadRayRatio = Ray / Wad
	wadRayRatio     = uint256.NewInt(1e9)
	halfWadRayRatio = uint256.NewInt(5e8)

	// MaxUint256 doubles as the "entire balance" sentinel on withdraw and
	// repay, matching the infinite-approve convention of the original asset
	// contracts.
	MaxUint256 = new(uint256.Int).Not(uint256.NewInt(0))
)

var (
	ErrOverflow       = errors.New("fixed-point overflow")
	ErrDivisionByZero = errors.New("fixed-point division by zero")
)

// WadMul multiplies two wad values, rounding half-up.
func WadMul(a, b *uint256.Int) (*uint256.Int, error) {
	return scaledMul(a, b, Wad, halfWad)
}

// WadDiv divides two wad values, rounding half-up.
func WadDiv(a, b *uint256.Int) (*uint256.Int, error) {
	return scaledDiv(a, b, Wad)
}

// RayMul multiplies two ray values, rounding half-up.
func RayMul(a, b *uint256.Int) (*uint256.Int, error) {
	return scaledMul(a, b, Ray, halfRay)
}

// RayDiv divides two ray values, rounding half-up.
func RayDiv(a, b *uint256.Int) (*uint256.Int, error) {
	return scaledDiv(a, b, Ray)
}

// WadToRay converts a wad to a ray. Fails only for values within 1e9 of the
// 256-bit ceiling.
func WadToRay(a *uint256.Int) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, overflow := out.MulOverflow(a, wadRayRatio); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// RayToWad converts a ray to a wad, rounding half-up. Cannot overflow.
func RayToWad(a *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Add(a, halfWadRayRatio)
	// Add of half the ratio can wrap only for values no caller produces;
	// guard anyway so the conversion stays total.
	if out.Lt(a) {
		out.Set(a)
	}
	return out.Div(out, wadRayRatio)
}

// scaledMul computes (a*b + half) / scale with overflow detection.
func scaledMul(a, b, scale, half *uint256.Int) (*uint256.Int, error) {
	if a.IsZero() || b.IsZero() {
		return new(uint256.Int), nil
	}
	out := new(uint256.Int)
	if _, overflow := out.MulOverflow(a, b); overflow {
		return nil, ErrOverflow
	}
	if _, overflow := out.AddOverflow(out, half); overflow {
		return nil, ErrOverflow
	}
	return out.Div(out, scale), nil
}

// scaledDiv computes (a*scale + b/2) / b with overflow detection.
func scaledDiv(a, b, scale *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	out := new(uint256.Int)
	if _, overflow := out.MulOverflow(a, scale); overflow {
		return nil, ErrOverflow
	}
	halfB := new(uint256.Int).Rsh(b, 1)
	if _, overflow := out.AddOverflow(out, halfB); overflow {
		return nil, ErrOverflow
	}
	return out.Div(out, b), nil
}

// Min returns the smaller of two values as a fresh copy.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

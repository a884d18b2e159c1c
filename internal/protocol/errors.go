// Package protocol defines the stable machine-readable error codes shared by
// every layer of the lending core. Codes follow the original registry naming:
// VL_* for validation, ET_* for external-token checks, LP_* for pool-level
// rejections, MATH_* for arithmetic faults.
package protocol

import (
	"errors"
	"fmt"
)

// Error is a coded protocol error. Callers match with errors.Is against the
// exported sentinels; the code string is what crosses the API boundary.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes wrapped copies with context match their sentinel by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidAsset  = &Error{Code: "VL_INVALID_ASSET", Message: "asset is not listed or not active"}
	ErrInvalidAmount = &Error{Code: "VL_INVALID_AMOUNT", Message: "amount must be greater than zero"}

	ErrAmountExceedsBalance  = &Error{Code: "ET_AMOUNT_EXCEEDS_BALANCE", Message: "amount exceeds wallet balance"}
	ErrInsufficientLiquidity = &Error{Code: "LP_INSUFFICIENT_LIQUIDITY", Message: "reserve has insufficient available liquidity"}
	ErrNotEnoughUserBalance  = &Error{Code: "VL_NOT_ENOUGH_AVAILABLE_USER_BALANCE", Message: "amount exceeds deposited balance"}
	ErrNoDebt                = &Error{Code: "VL_NO_DEBT", Message: "user has no outstanding debt in this asset"}

	ErrCollateralCannotCoverNewBorrow = &Error{Code: "VL_COLLATERAL_CANNOT_COVER_NEW_BORROW", Message: "collateral cannot cover new borrow"}
	ErrWithdrawalBreachesHealthFactor = &Error{Code: "VL_WITHDRAWAL_WOULD_BREACH_HEALTH_FACTOR", Message: "withdrawal would leave health factor below one"}

	ErrLiquidationNotAllowed = &Error{Code: "LP_LIQUIDATION_NOT_ALLOWED", Message: "health factor is not below the liquidation threshold"}

	ErrOverflow = &Error{Code: "MATH_OVERFLOW", Message: "fixed-point operation overflowed"}
)

// WithContext wraps a sentinel with call-site context while keeping the code
// matchable via errors.Is.
func WithContext(sentinel *Error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{sentinel}, args...)...)
}

// CodeOf extracts the protocol code from err, unwrapping as needed.
// Uncoded errors report as INTERNAL.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return "INTERNAL"
}

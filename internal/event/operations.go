package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Amounts in payloads are wad decimal strings; indices are ray decimal
// strings. Strings keep 256-bit values exact through JSON.

type DepositApplied struct {
	// Depositor is the wallet that funded the deposit; it differs from the
	// envelope user on deposits made on another account's behalf.
	Depositor      uuid.UUID `json:"depositor"`
	Amount         string    `json:"amount"`
	ScaledAmount   string    `json:"scaled_amount"`
	LiquidityIndex string    `json:"liquidity_index"`
}

type WithdrawalApplied struct {
	// Recipient is the wallet the funds were paid out to.
	Recipient      uuid.UUID `json:"recipient"`
	Amount         string    `json:"amount"`
	ScaledAmount   string    `json:"scaled_amount"`
	LiquidityIndex string    `json:"liquidity_index"`
	// FullExit marks a max-sentinel withdrawal that drained the balance.
	FullExit bool `json:"full_exit"`
}

type BorrowApplied struct {
	Amount      string `json:"amount"`
	ScaledDebt  string `json:"scaled_debt"`
	BorrowIndex string `json:"borrow_index"`
	BorrowRate  string `json:"borrow_rate"`
}

type RepaymentApplied struct {
	// Payer is the wallet the retired debt was paid from.
	Payer uuid.UUID `json:"payer"`
	// Amount is what was actually retired; a max-sentinel repay clamps to
	// the outstanding debt.
	Amount      string `json:"amount"`
	ScaledDebt  string `json:"scaled_debt"`
	BorrowIndex string `json:"borrow_index"`
	FullRepay   bool   `json:"full_repay"`
}

type LiquidationApplied struct {
	Liquidator       uuid.UUID `json:"liquidator"`
	CollateralAsset  string    `json:"collateral_asset"`
	DebtCovered      string    `json:"debt_covered"`
	CollateralSeized string    `json:"collateral_seized"`
	HealthFactor     string    `json:"health_factor"`
}

// NewEnvelope assembles a committed operation record. Payload marshaling
// cannot fail for the types above; an error here is a programming bug.
func NewEnvelope(seq int64, opType OperationType, user uuid.UUID, asset string, ts int64, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", opType, err)
	}
	return Envelope{
		Sequence:      seq,
		OperationID:   uuid.New(),
		OperationType: opType,
		Asset:         asset,
		User:          user,
		Timestamp:     ts,
		Payload:       raw,
	}, nil
}

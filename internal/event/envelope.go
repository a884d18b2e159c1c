package event

import (
	"encoding/json"

	"github.com/google/uuid"
)

// OperationType discriminator for operation payloads
type OperationType int32

const (
	OperationTypeUnknown OperationType = iota
	OperationTypeDeposit
	OperationTypeWithdraw
	OperationTypeBorrow
	OperationTypeRepay
	OperationTypeLiquidation
)

func (ot OperationType) String() string {
	switch ot {
	case OperationTypeDeposit:
		return "Deposit"
	case OperationTypeWithdraw:
		return "Withdraw"
	case OperationTypeBorrow:
		return "Borrow"
	case OperationTypeRepay:
		return "Repay"
	case OperationTypeLiquidation:
		return "Liquidation"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject fragment for the operation type.
func (ot OperationType) Subject() string {
	switch ot {
	case OperationTypeDeposit:
		return "deposit"
	case OperationTypeWithdraw:
		return "withdraw"
	case OperationTypeBorrow:
		return "borrow"
	case OperationTypeRepay:
		return "repay"
	case OperationTypeLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

// Envelope wraps every committed operation in the log
type Envelope struct {
	// Global monotonic sequence assigned by the pool
	Sequence int64

	// Stable operation identity for dedup on replay
	OperationID uuid.UUID

	OperationType OperationType

	// Principal asset of the operation. For liquidations this is the debt
	// asset; the collateral asset lives in the payload.
	Asset string

	User uuid.UUID

	// Versioned input timestamp in unix seconds (never wall-clock)
	Timestamp int64

	// JSON-encoded operation-specific data
	Payload json.RawMessage
}

package wallet

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Bridge converts between the native asset and its wrapped form inside the
// ledger, backing the pool's native asset gateway.
type Bridge struct {
	ledger  *Ledger
	native  string
	wrapped string
}

func NewBridge(ledger *Ledger, native, wrapped string) *Bridge {
	return &Bridge{ledger: ledger, native: native, wrapped: wrapped}
}

func (b *Bridge) Wrap(user uuid.UUID, amount *uint256.Int) error {
	if err := b.ledger.Debit(user, b.native, amount); err != nil {
		return err
	}
	if err := b.ledger.Credit(user, b.wrapped, amount); err != nil {
		b.ledger.Credit(user, b.native, amount)
		return err
	}
	return nil
}

func (b *Bridge) Unwrap(user uuid.UUID, amount *uint256.Int) error {
	if err := b.ledger.Debit(user, b.wrapped, amount); err != nil {
		return err
	}
	if err := b.ledger.Credit(user, b.native, amount); err != nil {
		b.ledger.Credit(user, b.wrapped, amount)
		return err
	}
	return nil
}

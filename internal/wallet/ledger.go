package wallet

import (
	"sync"

	"github.com/sumit-mahajan/refi/internal/protocol"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type accountKey struct {
	user  uuid.UUID
	asset string
}

// Ledger maintains in-memory custodial wallet balances, the funds users hold
// outside their pool positions. The pool debits it on deposit and repay and
// credits it on withdraw and borrow.
type Ledger struct {
	mu       sync.Mutex
	balances map[accountKey]*uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[accountKey]*uint256.Int),
	}
}

// Fund credits an account directly, the entry point for external transfers.
func (l *Ledger) Fund(user uuid.UUID, asset string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit(user, asset, amount)
}

// BalanceOf returns a copy of the current balance.
func (l *Ledger) BalanceOf(user uuid.UUID, asset string) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if bal, ok := l.balances[accountKey{user, asset}]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// Debit removes amount from the account, failing when the balance is short.
func (l *Ledger) Debit(user uuid.UUID, asset string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := accountKey{user, asset}
	bal, ok := l.balances[key]
	if !ok || bal.Lt(amount) {
		return protocol.WithContext(protocol.ErrAmountExceedsBalance,
			"wallet %s/%s", user, asset)
	}
	bal.Sub(bal, amount)
	return nil
}

// Credit adds amount to the account.
func (l *Ledger) Credit(user uuid.UUID, asset string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit(user, asset, amount)
}

func (l *Ledger) credit(user uuid.UUID, asset string, amount *uint256.Int) error {
	key := accountKey{user, asset}
	bal, ok := l.balances[key]
	if !ok {
		bal = new(uint256.Int)
		l.balances[key] = bal
	}
	if _, overflow := bal.AddOverflow(bal, amount); overflow {
		return protocol.WithContext(protocol.ErrOverflow, "wallet %s/%s", user, asset)
	}
	return nil
}

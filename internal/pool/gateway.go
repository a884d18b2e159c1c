package pool

import (
	"github.com/sumit-mahajan/refi/internal/protocol"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// NativeWrapper converts the native asset to and from its wrapped, listed
// form. Implementations sit at the chain boundary; the pool itself only ever
// sees the wrapped symbol.
type NativeWrapper interface {
	Wrap(user uuid.UUID, amount *uint256.Int) error
	Unwrap(user uuid.UUID, amount *uint256.Int) error
}

// NativeAssetGateway fronts the pool for native-asset flows: wrap before
// money enters, unwrap after money leaves. A pool failure after a wrap is
// compensated by unwrapping so the user is never left holding wrapped funds
// they did not ask for.
type NativeAssetGateway struct {
	pool          *Pool
	wrapper       NativeWrapper
	wrappedSymbol string
}

func NewNativeAssetGateway(p *Pool, w NativeWrapper, wrappedSymbol string) *NativeAssetGateway {
	return &NativeAssetGateway{pool: p, wrapper: w, wrappedSymbol: wrappedSymbol}
}

// WrappedSymbol returns the listed symbol the gateway deposits into.
func (g *NativeAssetGateway) WrappedSymbol() string { return g.wrappedSymbol }

// DepositNative wraps amount and deposits it.
func (g *NativeAssetGateway) DepositNative(user uuid.UUID, amount *uint256.Int) (*Receipt, error) {
	if isMax(amount) {
		return nil, protocol.WithContext(protocol.ErrInvalidAmount, "native deposit requires a concrete amount")
	}
	if err := g.wrapper.Wrap(user, amount); err != nil {
		return nil, err
	}
	receipt, err := g.pool.Deposit(user, g.wrappedSymbol, amount)
	if err != nil {
		g.unwindWrap(user, amount)
		return nil, err
	}
	return receipt, nil
}

// WithdrawNative withdraws from the wrapped reserve and unwraps the
// proceeds. The max sentinel passes through for full exits.
func (g *NativeAssetGateway) WithdrawNative(user uuid.UUID, amount *uint256.Int) (*Receipt, error) {
	receipt, err := g.pool.Withdraw(user, g.wrappedSymbol, amount)
	if err != nil {
		return nil, err
	}
	if err := g.wrapper.Unwrap(user, receipt.Amount); err != nil {
		return nil, err
	}
	return receipt, nil
}

// BorrowNative draws from the wrapped reserve and unwraps the proceeds.
func (g *NativeAssetGateway) BorrowNative(user uuid.UUID, amount *uint256.Int) (*Receipt, error) {
	receipt, err := g.pool.Borrow(user, g.wrappedSymbol, amount)
	if err != nil {
		return nil, err
	}
	if err := g.wrapper.Unwrap(user, receipt.Amount); err != nil {
		return nil, err
	}
	return receipt, nil
}

// RepayNative wraps amount and repays with it. The pool clamps to the
// outstanding debt; any unspent remainder is unwrapped back to the user.
func (g *NativeAssetGateway) RepayNative(user uuid.UUID, amount *uint256.Int) (*Receipt, error) {
	if isMax(amount) {
		return nil, protocol.WithContext(protocol.ErrInvalidAmount, "native repay requires a concrete amount")
	}
	if err := g.wrapper.Wrap(user, amount); err != nil {
		return nil, err
	}
	receipt, err := g.pool.Repay(user, g.wrappedSymbol, amount)
	if err != nil {
		g.unwindWrap(user, amount)
		return nil, err
	}
	if receipt.Amount.Lt(amount) {
		refund := new(uint256.Int).Sub(amount, receipt.Amount)
		g.unwindWrap(user, refund)
	}
	return receipt, nil
}

func (g *NativeAssetGateway) unwindWrap(user uuid.UUID, amount *uint256.Int) {
	if err := g.wrapper.Unwrap(user, amount); err != nil {
		g.pool.log.Error().
			Err(err).
			Str("user", user.String()).
			Str("amount", amount.Dec()).
			Msg("failed to unwind wrap after rejected operation")
	}
}

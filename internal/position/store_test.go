package position_test

import (
	"errors"
	"testing"

	"github.com/sumit-mahajan/refi/internal/position"
	"github.com/sumit-mahajan/refi/internal/protocol"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func u(dec string) *uint256.Int { return uint256.MustFromDecimal(dec) }

// ============================================================================
// Test: Store
// ============================================================================

func TestStore_UntouchedUserIsZero(t *testing.T) {
	s := position.NewStore()
	rec := s.Get(uuid.New(), "DAI")
	if !rec.ScaledDeposit.IsZero() || !rec.ScaledDebt.IsZero() {
		t.Error("untouched record should have zero balances")
	}
	if rec.UsageAsCollateralEnabled || rec.IsBorrowing {
		t.Error("untouched record should have no flags set")
	}
}

func TestStore_DepositFlagFollowsBalance(t *testing.T) {
	s := position.NewStore()
	user := uuid.New()

	if err := s.CreditDeposit(user, "WETH", u("100")); err != nil {
		t.Fatalf("CreditDeposit: %v", err)
	}
	if rec := s.Get(user, "WETH"); !rec.UsageAsCollateralEnabled {
		t.Error("collateral flag should be set after deposit")
	}

	if err := s.DebitDeposit(user, "WETH", u("40")); err != nil {
		t.Fatalf("DebitDeposit: %v", err)
	}
	if rec := s.Get(user, "WETH"); !rec.UsageAsCollateralEnabled {
		t.Error("partial withdrawal must keep the collateral flag")
	}

	if err := s.DebitDeposit(user, "WETH", u("60")); err != nil {
		t.Fatalf("DebitDeposit: %v", err)
	}
	rec := s.Get(user, "WETH")
	if !rec.ScaledDeposit.IsZero() {
		t.Errorf("balance after full exit = %s, want exactly 0", rec.ScaledDeposit)
	}
	if rec.UsageAsCollateralEnabled {
		t.Error("full exit must clear the collateral flag")
	}
}

func TestStore_BorrowFlagFollowsBalance(t *testing.T) {
	s := position.NewStore()
	user := uuid.New()

	if err := s.CreditDebt(user, "DAI", u("500")); err != nil {
		t.Fatalf("CreditDebt: %v", err)
	}
	if rec := s.Get(user, "DAI"); !rec.IsBorrowing {
		t.Error("borrowing flag should be set after borrow")
	}

	if err := s.DebitDebt(user, "DAI", u("500")); err != nil {
		t.Fatalf("DebitDebt: %v", err)
	}
	rec := s.Get(user, "DAI")
	if rec.IsBorrowing {
		t.Error("full repay must clear the borrowing flag")
	}
	if !rec.ScaledDebt.IsZero() {
		t.Errorf("debt after full repay = %s, want exactly 0", rec.ScaledDebt)
	}
}

func TestStore_OverDebitRejected(t *testing.T) {
	s := position.NewStore()
	user := uuid.New()

	if err := s.CreditDeposit(user, "DAI", u("100")); err != nil {
		t.Fatalf("CreditDeposit: %v", err)
	}
	err := s.DebitDeposit(user, "DAI", u("101"))
	if !errors.Is(err, protocol.ErrNotEnoughUserBalance) {
		t.Errorf("over-debit deposit err = %v, want ErrNotEnoughUserBalance", err)
	}

	err = s.DebitDebt(user, "DAI", u("1"))
	if !errors.Is(err, protocol.ErrNoDebt) {
		t.Errorf("debit with no debt err = %v, want ErrNoDebt", err)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := position.NewStore()
	user := uuid.New()
	if err := s.CreditDeposit(user, "LINK", u("100")); err != nil {
		t.Fatalf("CreditDeposit: %v", err)
	}

	rec := s.Get(user, "LINK")
	rec.ScaledDeposit.SetUint64(1)

	if fresh := s.Get(user, "LINK"); !fresh.ScaledDeposit.Eq(u("100")) {
		t.Error("mutating a Get result must not touch stored state")
	}
}

func TestStore_AssetsSortedAndSticky(t *testing.T) {
	s := position.NewStore()
	user := uuid.New()

	if s.Assets(user) != nil {
		t.Error("unknown user should have no asset list")
	}

	for _, a := range []string{"WETH", "DAI", "LINK"} {
		if err := s.CreditDeposit(user, a, u("10")); err != nil {
			t.Fatalf("CreditDeposit %s: %v", a, err)
		}
	}
	if err := s.DebitDeposit(user, "DAI", u("10")); err != nil {
		t.Fatalf("DebitDeposit: %v", err)
	}

	got := s.Assets(user)
	want := []string{"DAI", "LINK", "WETH"}
	if len(got) != len(want) {
		t.Fatalf("Assets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Assets = %v, want %v", got, want)
		}
	}
}

package position

import (
	"sort"

	"github.com/sumit-mahajan/refi/internal/protocol"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// UserReserveData is one user's standing in one reserve. Balances are scaled:
// multiply by the matching reserve index to get the interest-inclusive value.
// The usage flags are derived, never set directly; they flip with the
// balances they describe.
type UserReserveData struct {
	ScaledDeposit *uint256.Int
	ScaledDebt    *uint256.Int

	UsageAsCollateralEnabled bool
	IsBorrowing              bool
}

type key struct {
	user  uuid.UUID
	asset string
}

// Store holds every user's per-reserve state. Not self-synchronized: the
// pool serializes access. Records are zeroed on full exit, never deleted,
// so a returning user keeps a stable record.
type Store struct {
	records map[key]*UserReserveData
	// assets tracks, per user, every reserve the user has ever touched.
	assets map[uuid.UUID]map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		records: make(map[key]*UserReserveData),
		assets:  make(map[uuid.UUID]map[string]struct{}),
	}
}

// Get returns the user's record for an asset, zero-valued if the user never
// touched the reserve. The returned struct is a copy.
func (s *Store) Get(user uuid.UUID, asset string) UserReserveData {
	if rec, ok := s.records[key{user, asset}]; ok {
		return UserReserveData{
			ScaledDeposit:            new(uint256.Int).Set(rec.ScaledDeposit),
			ScaledDebt:               new(uint256.Int).Set(rec.ScaledDebt),
			UsageAsCollateralEnabled: rec.UsageAsCollateralEnabled,
			IsBorrowing:              rec.IsBorrowing,
		}
	}
	return UserReserveData{
		ScaledDeposit: new(uint256.Int),
		ScaledDebt:    new(uint256.Int),
	}
}

// Assets returns, in deterministic order, every asset the user has a record
// for, including zeroed ones.
func (s *Store) Assets(user uuid.UUID) []string {
	touched, ok := s.assets[user]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(touched))
	for a := range touched {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (s *Store) record(user uuid.UUID, asset string) *UserReserveData {
	k := key{user, asset}
	rec, ok := s.records[k]
	if !ok {
		rec = &UserReserveData{
			ScaledDeposit: new(uint256.Int),
			ScaledDebt:    new(uint256.Int),
		}
		s.records[k] = rec
		touched, ok := s.assets[user]
		if !ok {
			touched = make(map[string]struct{})
			s.assets[user] = touched
		}
		touched[asset] = struct{}{}
	}
	return rec
}

// CreditDeposit adds scaled units to the user's deposit balance and enables
// collateral usage.
func (s *Store) CreditDeposit(user uuid.UUID, asset string, scaledDelta *uint256.Int) error {
	rec := s.record(user, asset)
	if _, overflow := rec.ScaledDeposit.AddOverflow(rec.ScaledDeposit, scaledDelta); overflow {
		return protocol.WithContext(protocol.ErrOverflow, "deposit balance for %s/%s", user, asset)
	}
	rec.UsageAsCollateralEnabled = !rec.ScaledDeposit.IsZero()
	return nil
}

// DebitDeposit removes scaled units from the user's deposit balance. A debit
// beyond the balance is the caller's bug surfaced as an error, not a clamp.
// Draining the balance clears the collateral flag.
func (s *Store) DebitDeposit(user uuid.UUID, asset string, scaledDelta *uint256.Int) error {
	rec := s.record(user, asset)
	if scaledDelta.Gt(rec.ScaledDeposit) {
		return protocol.WithContext(protocol.ErrNotEnoughUserBalance,
			"user %s asset %s: debit %s exceeds scaled deposit %s", user, asset, scaledDelta, rec.ScaledDeposit)
	}
	rec.ScaledDeposit.Sub(rec.ScaledDeposit, scaledDelta)
	rec.UsageAsCollateralEnabled = !rec.ScaledDeposit.IsZero()
	return nil
}

// CreditDebt adds scaled units to the user's debt balance and raises the
// borrowing flag.
func (s *Store) CreditDebt(user uuid.UUID, asset string, scaledDelta *uint256.Int) error {
	rec := s.record(user, asset)
	if _, overflow := rec.ScaledDebt.AddOverflow(rec.ScaledDebt, scaledDelta); overflow {
		return protocol.WithContext(protocol.ErrOverflow, "debt balance for %s/%s", user, asset)
	}
	rec.IsBorrowing = !rec.ScaledDebt.IsZero()
	return nil
}

// DebitDebt removes scaled units from the user's debt balance. Draining the
// balance clears the borrowing flag.
func (s *Store) DebitDebt(user uuid.UUID, asset string, scaledDelta *uint256.Int) error {
	rec := s.record(user, asset)
	if scaledDelta.Gt(rec.ScaledDebt) {
		return protocol.WithContext(protocol.ErrNoDebt,
			"user %s asset %s: debit %s exceeds scaled debt %s", user, asset, scaledDelta, rec.ScaledDebt)
	}
	rec.ScaledDebt.Sub(rec.ScaledDebt, scaledDelta)
	rec.IsBorrowing = !rec.ScaledDebt.IsZero()
	return nil
}

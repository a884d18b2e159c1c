package pool

import (
	"math/big"
	"sync"
	"time"

	"github.com/sumit-mahajan/refi/internal/event"
	"github.com/sumit-mahajan/refi/internal/health"
	fpmath "github.com/sumit-mahajan/refi/internal/math"
	"github.com/sumit-mahajan/refi/internal/observability"
	"github.com/sumit-mahajan/refi/internal/position"
	"github.com/sumit-mahajan/refi/internal/protocol"
	"github.com/sumit-mahajan/refi/internal/reserve"
	"github.com/sumit-mahajan/refi/internal/score"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Clock supplies versioned timestamps in unix seconds. The pool never calls
// time.Now for accounting; wall-clock time is used for metrics only.
type Clock interface {
	Now() int64
}

// BalanceProvider moves wallet-side funds in and out of the pool. Debit
// pulls from the user's wallet, Credit pays out to it.
type BalanceProvider interface {
	Debit(user uuid.UUID, asset string, amount *uint256.Int) error
	Credit(user uuid.UUID, asset string, amount *uint256.Int) error
}

// Params are the pool-wide risk knobs. Per-asset risk lives in the reserve
// configs.
type Params struct {
	// CloseFactor caps how much of a position's debt one liquidation call
	// may retire. Wad; 0.5e18 means half.
	CloseFactor *uint256.Int
}

func DefaultParams() Params {
	return Params{
		CloseFactor: uint256.MustFromDecimal("500000000000000000"),
	}
}

// Receipt describes a committed operation.
type Receipt struct {
	Sequence    int64
	OperationID uuid.UUID
	// Amount is what was actually moved; sentinel requests resolve to the
	// real figure here.
	Amount *uint256.Int
}

// Deps are the pool's collaborators, wired once at startup.
type Deps struct {
	Reserves  *reserve.Ledger
	Positions *position.Store
	Health    *health.Engine
	Scores    *score.Engine
	Prices    health.PriceSource
	Balances  BalanceProvider
	Clock     Clock
	Metrics   *observability.Metrics
	Logger    zerolog.Logger

	// PersistChan receives every committed operation with a blocking send:
	// the pool stalls until the persistence worker drains. PublishChan is
	// best-effort; sends drop when full.
	PersistChan chan<- event.Envelope
	PublishChan chan<- event.Envelope
}

// Pool is the single-writer lending core. Every operation runs under one
// mutex: validate, accrue interest, check health on a simulated post-state,
// mutate, then commit to the outbound channels. A failed step before the
// mutation phase leaves no trace.
type Pool struct {
	mu sync.Mutex

	params    Params
	reserves  *reserve.Ledger
	positions *position.Store
	health    *health.Engine
	scores    *score.Engine
	prices    health.PriceSource
	balances  BalanceProvider
	clock     Clock
	metrics   *observability.Metrics
	log       zerolog.Logger

	sequence    int64
	persistChan chan<- event.Envelope
	publishChan chan<- event.Envelope
}

func NewPool(params Params, startSequence int64, deps Deps) *Pool {
	return &Pool{
		params:      params,
		reserves:    deps.Reserves,
		positions:   deps.Positions,
		health:      deps.Health,
		scores:      deps.Scores,
		prices:      deps.Prices,
		balances:    deps.Balances,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		log:         deps.Logger,
		sequence:    startSequence,
		persistChan: deps.PersistChan,
		publishChan: deps.PublishChan,
	}
}

// Sequence returns the next sequence number to be assigned.
func (p *Pool) Sequence() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sequence
}

func validAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return protocol.ErrInvalidAmount
	}
	return nil
}

// isMax reports whether amount is the full-balance sentinel.
func isMax(amount *uint256.Int) bool {
	return amount != nil && amount.Eq(fpmath.MaxUint256)
}

// Deposit moves amount from the user's wallet into the reserve. The deposit
// immediately counts as collateral.
func (p *Pool) Deposit(user uuid.UUID, asset string, amount *uint256.Int) (*Receipt, error) {
	return p.DepositFor(user, user, asset, amount)
}

// DepositFor funds a deposit from the depositor's wallet and credits the
// position of onBehalfOf.
func (p *Pool) DepositFor(depositor, onBehalfOf uuid.UUID, asset string, amount *uint256.Int) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()

	r, err := p.reserves.RequireActive(asset)
	if err != nil {
		return nil, p.reject(event.OperationTypeDeposit, err)
	}
	if err := validAmount(amount); err != nil {
		return nil, p.reject(event.OperationTypeDeposit, err)
	}

	now := p.clock.Now()
	if err := r.Accrue(now); err != nil {
		return nil, p.reject(event.OperationTypeDeposit, err)
	}

	scaled, err := fpmath.RayDiv(amount, r.LiquidityIndex)
	if err != nil {
		return nil, p.reject(event.OperationTypeDeposit, err)
	}
	if scaled.IsZero() {
		// dust so small it rounds to no scaled units
		return nil, p.reject(event.OperationTypeDeposit, protocol.ErrInvalidAmount)
	}

	if err := p.balances.Debit(depositor, asset, amount); err != nil {
		return nil, p.reject(event.OperationTypeDeposit, err)
	}

	if err := r.AddDeposit(scaled); err != nil {
		p.unwind(func() error { return p.balances.Credit(depositor, asset, amount) })
		return nil, p.reject(event.OperationTypeDeposit, err)
	}
	if err := p.positions.CreditDeposit(onBehalfOf, asset, scaled); err != nil {
		p.unwind(
			func() error { return r.RemoveDeposit(scaled, amount) },
			func() error { return p.balances.Credit(depositor, asset, amount) },
		)
		return nil, p.reject(event.OperationTypeDeposit, err)
	}
	p.touchScore(onBehalfOf, now)

	receipt, err := p.commit(event.OperationTypeDeposit, onBehalfOf, asset, now, amount, event.DepositApplied{
		Depositor:      depositor,
		Amount:         amount.Dec(),
		ScaledAmount:   scaled.Dec(),
		LiquidityIndex: r.LiquidityIndex.Dec(),
	})
	if err != nil {
		return nil, err
	}

	p.observe(event.OperationTypeDeposit, asset, r, start)
	p.log.Info().
		Str("user", onBehalfOf.String()).
		Str("asset", asset).
		Str("amount", amount.Dec()).
		Int64("sequence", receipt.Sequence).
		Msg("deposit applied")
	return receipt, nil
}

// Withdraw moves deposited funds back to the user's wallet. Passing the max
// sentinel withdraws the full interest-inclusive balance. Withdrawals that
// would leave open debt under-collateralized are rejected before any state
// changes.
func (p *Pool) Withdraw(user uuid.UUID, asset string, amount *uint256.Int) (*Receipt, error) {
	return p.WithdrawTo(user, user, asset, amount)
}

// WithdrawTo debits the user's position and pays the funds out to another
// wallet. The health guard still runs against the position owner.
func (p *Pool) WithdrawTo(user, to uuid.UUID, asset string, amount *uint256.Int) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()

	r, err := p.reserves.RequireActive(asset)
	if err != nil {
		return nil, p.reject(event.OperationTypeWithdraw, err)
	}

	now := p.clock.Now()
	if err := r.Accrue(now); err != nil {
		return nil, p.reject(event.OperationTypeWithdraw, err)
	}

	rec := p.positions.Get(user, asset)
	balance, err := fpmath.RayMul(rec.ScaledDeposit, r.LiquidityIndex)
	if err != nil {
		return nil, p.reject(event.OperationTypeWithdraw, err)
	}

	fullExit := isMax(amount)
	if fullExit {
		amount = balance
	}
	if err := validAmount(amount); err != nil {
		return nil, p.reject(event.OperationTypeWithdraw, err)
	}
	if amount.Gt(balance) {
		return nil, p.reject(event.OperationTypeWithdraw,
			protocol.WithContext(protocol.ErrNotEnoughUserBalance,
				"withdraw %s exceeds balance %s", amount, balance))
	}

	if err := p.health.ValidateWithdraw(user, asset, amount); err != nil {
		return nil, p.reject(event.OperationTypeWithdraw, err)
	}

	// Full exits debit the exact scaled balance so no dust survives.
	scaled := rec.ScaledDeposit
	if !fullExit && !amount.Eq(balance) {
		scaled, err = fpmath.RayDiv(amount, r.LiquidityIndex)
		if err != nil {
			return nil, p.reject(event.OperationTypeWithdraw, err)
		}
		// rounding must never debit more scaled units than the user holds
		scaled = fpmath.Min(scaled, rec.ScaledDeposit)
	}

	if err := r.RemoveDeposit(scaled, amount); err != nil {
		return nil, p.reject(event.OperationTypeWithdraw, err)
	}
	if err := p.positions.DebitDeposit(user, asset, scaled); err != nil {
		p.unwind(func() error { return r.AddDeposit(scaled) })
		return nil, p.reject(event.OperationTypeWithdraw, err)
	}
	if err := p.balances.Credit(to, asset, amount); err != nil {
		p.unwind(
			func() error { return p.positions.CreditDeposit(user, asset, scaled) },
			func() error { return r.AddDeposit(scaled) },
		)
		return nil, p.reject(event.OperationTypeWithdraw, err)
	}
	p.touchScore(user, now)

	receipt, err := p.commit(event.OperationTypeWithdraw, user, asset, now, amount, event.WithdrawalApplied{
		Recipient:      to,
		Amount:         amount.Dec(),
		ScaledAmount:   scaled.Dec(),
		LiquidityIndex: r.LiquidityIndex.Dec(),
		FullExit:       fullExit || amount.Eq(balance),
	})
	if err != nil {
		return nil, err
	}

	p.observe(event.OperationTypeWithdraw, asset, r, start)
	p.log.Info().
		Str("user", user.String()).
		Str("asset", asset).
		Str("amount", amount.Dec()).
		Int64("sequence", receipt.Sequence).
		Msg("withdrawal applied")
	return receipt, nil
}

// Borrow draws amount against the user's collateral and pays it to the
// wallet. The draw is validated against the portfolio LTV before state
// changes.
func (p *Pool) Borrow(user uuid.UUID, asset string, amount *uint256.Int) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()

	r, err := p.reserves.RequireActive(asset)
	if err != nil {
		return nil, p.reject(event.OperationTypeBorrow, err)
	}
	if err := validAmount(amount); err != nil {
		return nil, p.reject(event.OperationTypeBorrow, err)
	}

	now := p.clock.Now()
	if err := r.Accrue(now); err != nil {
		return nil, p.reject(event.OperationTypeBorrow, err)
	}

	if err := p.health.ValidateBorrow(user, asset, amount); err != nil {
		return nil, p.reject(event.OperationTypeBorrow, err)
	}

	scaled, err := fpmath.RayDiv(amount, r.VariableBorrowIndex)
	if err != nil {
		return nil, p.reject(event.OperationTypeBorrow, err)
	}
	if scaled.IsZero() {
		return nil, p.reject(event.OperationTypeBorrow, protocol.ErrInvalidAmount)
	}

	if err := r.AddDebt(scaled, amount); err != nil {
		return nil, p.reject(event.OperationTypeBorrow, err)
	}
	if err := p.positions.CreditDebt(user, asset, scaled); err != nil {
		p.unwind(func() error { return r.RemoveDebt(scaled) })
		return nil, p.reject(event.OperationTypeBorrow, err)
	}
	if err := p.balances.Credit(user, asset, amount); err != nil {
		p.unwind(
			func() error { return p.positions.DebitDebt(user, asset, scaled) },
			func() error { return r.RemoveDebt(scaled) },
		)
		return nil, p.reject(event.OperationTypeBorrow, err)
	}
	p.touchScore(user, now)

	receipt, err := p.commit(event.OperationTypeBorrow, user, asset, now, amount, event.BorrowApplied{
		Amount:      amount.Dec(),
		ScaledDebt:  scaled.Dec(),
		BorrowIndex: r.VariableBorrowIndex.Dec(),
		BorrowRate:  r.CurrentVariableBorrowRate.Dec(),
	})
	if err != nil {
		return nil, err
	}

	p.observe(event.OperationTypeBorrow, asset, r, start)
	p.log.Info().
		Str("user", user.String()).
		Str("asset", asset).
		Str("amount", amount.Dec()).
		Int64("sequence", receipt.Sequence).
		Msg("borrow applied")
	return receipt, nil
}

// Repay retires the user's debt from their wallet. Passing the max sentinel,
// or any amount above the outstanding debt, clamps to the debt so only the
// owed figure is pulled from the wallet.
func (p *Pool) Repay(user uuid.UUID, asset string, amount *uint256.Int) (*Receipt, error) {
	return p.RepayFor(user, user, asset, amount)
}

// RepayFor retires onBehalfOf's debt from the payer's wallet. The clamp
// means only the retired figure is ever pulled from the payer.
func (p *Pool) RepayFor(payer, onBehalfOf uuid.UUID, asset string, amount *uint256.Int) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()

	r, err := p.reserves.RequireActive(asset)
	if err != nil {
		return nil, p.reject(event.OperationTypeRepay, err)
	}

	now := p.clock.Now()
	if err := r.Accrue(now); err != nil {
		return nil, p.reject(event.OperationTypeRepay, err)
	}

	rec := p.positions.Get(onBehalfOf, asset)
	debt, err := fpmath.RayMul(rec.ScaledDebt, r.VariableBorrowIndex)
	if err != nil {
		return nil, p.reject(event.OperationTypeRepay, err)
	}
	if debt.IsZero() {
		return nil, p.reject(event.OperationTypeRepay,
			protocol.WithContext(protocol.ErrNoDebt, "user %s has no %s debt", onBehalfOf, asset))
	}

	fullRepay := isMax(amount)
	if !fullRepay {
		if err := validAmount(amount); err != nil {
			return nil, p.reject(event.OperationTypeRepay, err)
		}
		if !amount.Lt(debt) {
			fullRepay = true
		}
	}
	if fullRepay {
		amount = debt
	}

	if err := p.balances.Debit(payer, asset, amount); err != nil {
		return nil, p.reject(event.OperationTypeRepay, err)
	}

	scaled := rec.ScaledDebt
	if !fullRepay {
		scaled, err = fpmath.RayDiv(amount, r.VariableBorrowIndex)
		if err != nil {
			return nil, p.reject(event.OperationTypeRepay, err)
		}
		scaled = fpmath.Min(scaled, rec.ScaledDebt)
	}

	if err := p.positions.DebitDebt(onBehalfOf, asset, scaled); err != nil {
		p.unwind(func() error { return p.balances.Credit(payer, asset, amount) })
		return nil, p.reject(event.OperationTypeRepay, err)
	}
	if err := r.RemoveDebt(scaled); err != nil {
		p.unwind(
			func() error { return p.positions.CreditDebt(onBehalfOf, asset, scaled) },
			func() error { return p.balances.Credit(payer, asset, amount) },
		)
		return nil, p.reject(event.OperationTypeRepay, err)
	}
	p.touchScore(onBehalfOf, now)

	receipt, err := p.commit(event.OperationTypeRepay, onBehalfOf, asset, now, amount, event.RepaymentApplied{
		Payer:       payer,
		Amount:      amount.Dec(),
		ScaledDebt:  scaled.Dec(),
		BorrowIndex: r.VariableBorrowIndex.Dec(),
		FullRepay:   fullRepay,
	})
	if err != nil {
		return nil, err
	}

	p.observe(event.OperationTypeRepay, asset, r, start)
	p.log.Info().
		Str("user", onBehalfOf.String()).
		Str("asset", asset).
		Str("amount", amount.Dec()).
		Bool("full_repay", fullRepay).
		Int64("sequence", receipt.Sequence).
		Msg("repayment applied")
	return receipt, nil
}

// AccountData returns the user's aggregate position with fresh indices.
func (p *Pool) AccountData(user uuid.UUID) (*health.AccountData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	for _, asset := range p.positions.Assets(user) {
		if r, ok := p.reserves.Get(asset); ok {
			if err := r.Accrue(now); err != nil {
				return nil, err
			}
		}
	}
	return p.health.Compute(user)
}

// ReserveSnapshot returns the reserve state for an asset with fresh indices.
func (p *Pool) ReserveSnapshot(asset string) (*reserve.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.reserves.RequireActive(asset)
	if err != nil {
		return nil, err
	}
	if err := r.Accrue(p.clock.Now()); err != nil {
		return nil, err
	}
	return r.Snapshot()
}

// UserReserve returns the user's interest-inclusive standing in one reserve.
type UserReserve struct {
	Asset                    string
	Deposited                *uint256.Int
	Borrowed                 *uint256.Int
	UsageAsCollateralEnabled bool
	IsBorrowing              bool
}

func (p *Pool) UserReserveData(user uuid.UUID, asset string) (*UserReserve, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.reserves.RequireActive(asset)
	if err != nil {
		return nil, err
	}
	if err := r.Accrue(p.clock.Now()); err != nil {
		return nil, err
	}
	rec := p.positions.Get(user, asset)
	deposited, err := fpmath.RayMul(rec.ScaledDeposit, r.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	borrowed, err := fpmath.RayMul(rec.ScaledDebt, r.VariableBorrowIndex)
	if err != nil {
		return nil, err
	}
	return &UserReserve{
		Asset:                    asset,
		Deposited:                deposited,
		Borrowed:                 borrowed,
		UsageAsCollateralEnabled: rec.UsageAsCollateralEnabled,
		IsBorrowing:              rec.IsBorrowing,
	}, nil
}

// CreditProfile is a read-only view of a user's score standing. Score is in
// whole points, 300 to 900.
type CreditProfile struct {
	Score int64
	Class string
}

func (p *Pool) CreditProfile(user uuid.UUID) (*CreditProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// accrue score up to now so long-idle users read fresh
	p.touchScore(user, p.clock.Now())
	return &CreditProfile{
		Score: p.scores.Score(user),
		Class: p.scores.Class(user).String(),
	}, nil
}

// Assets returns the listed reserve symbols.
func (p *Pool) Assets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserves.Symbols()
}

// borrowUtilization is the user's debt as a fraction of borrow capacity,
// wad. Saturates at 1 when capacity is exhausted or zero while debt is open.
func (p *Pool) borrowUtilization(user uuid.UUID) *uint256.Int {
	data, err := p.health.Compute(user)
	if err != nil {
		// score accrual freezes at 0% utilization until pricing recovers
		p.log.Warn().Err(err).Str("user", user.String()).Msg("borrow utilization unavailable")
		return new(uint256.Int)
	}
	if data.TotalDebtValue.IsZero() {
		return new(uint256.Int)
	}
	capacity, err := fpmath.WadMul(data.TotalCollateralValue, data.AvgLTV)
	if err != nil || capacity.IsZero() {
		return new(uint256.Int).Set(fpmath.Wad)
	}
	u, err := fpmath.WadDiv(data.TotalDebtValue, capacity)
	if err != nil || u.Gt(fpmath.Wad) {
		return new(uint256.Int).Set(fpmath.Wad)
	}
	return u
}

func (p *Pool) touchScore(user uuid.UUID, now int64) {
	p.scores.Touch(user, p.borrowUtilization(user), now)
}

// commit assigns a sequence, sends the envelope downstream, and builds the
// receipt. The persist send blocks on backpressure; the publish send drops.
func (p *Pool) commit(opType event.OperationType, user uuid.UUID, asset string, ts int64, amount *uint256.Int, payload any) (*Receipt, error) {
	env, err := event.NewEnvelope(p.sequence, opType, user, asset, ts, payload)
	if err != nil {
		return nil, err
	}
	p.sequence++

	if p.persistChan != nil {
		select {
		case p.persistChan <- env:
		default:
			if p.metrics != nil {
				p.metrics.PersistBackpressure.Inc()
			}
			p.persistChan <- env
		}
	}
	if p.publishChan != nil {
		select {
		case p.publishChan <- env:
		default:
			if p.metrics != nil {
				p.metrics.PublishDrops.Inc()
			}
		}
	}

	if p.metrics != nil {
		p.metrics.PoolSequence.Set(float64(p.sequence))
	}
	return &Receipt{
		Sequence:    env.Sequence,
		OperationID: env.OperationID,
		Amount:      new(uint256.Int).Set(amount),
	}, nil
}

// unwind reverts already-applied mutations after a mid-operation failure,
// restoring the all-or-nothing contract. Each undo reverses an exact amount
// that was just moved, so a failing undo means the ledger is unbalanced and
// the process must not continue.
func (p *Pool) unwind(undos ...func() error) {
	for _, undo := range undos {
		if err := undo(); err != nil {
			p.log.Fatal().Err(err).Msg("mutation rollback failed, ledger unbalanced")
		}
	}
}

// reject counts the rejection and passes the error through.
func (p *Pool) reject(opType event.OperationType, err error) error {
	if p.metrics != nil {
		p.metrics.OpsRejected.WithLabelValues(opType.String(), protocol.CodeOf(err)).Inc()
	}
	return err
}

// observe records post-commit operation and reserve metrics.
func (p *Pool) observe(opType event.OperationType, asset string, r *reserve.Reserve, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.OpsApplied.WithLabelValues(opType.String(), asset).Inc()
	p.metrics.OpDuration.WithLabelValues(opType.String()).Observe(time.Since(start).Seconds())

	if utilization, err := r.Utilization(); err == nil {
		p.metrics.ReserveUtilization.WithLabelValues(asset).Set(rayToFloat(utilization))
	}
	p.metrics.ReserveBorrowRate.WithLabelValues(asset).Set(rayToFloat(r.CurrentVariableBorrowRate))
	p.metrics.ReserveLiquidityIdx.WithLabelValues(asset).Set(rayToFloat(r.LiquidityIndex))
	p.metrics.ReserveBorrowIdx.WithLabelValues(asset).Set(rayToFloat(r.VariableBorrowIndex))
}

// rayToFloat is for gauges only; precision loss is fine there.
func rayToFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f / 1e27
}

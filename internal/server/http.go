package server

import (
	"strings"
	"time"

	"github.com/sumit-mahajan/refi/internal/health"
	fpmath "github.com/sumit-mahajan/refi/internal/math"
	"github.com/sumit-mahajan/refi/internal/observability"
	"github.com/sumit-mahajan/refi/internal/pool"
	"github.com/sumit-mahajan/refi/internal/protocol"
	"github.com/sumit-mahajan/refi/internal/reserve"
	"github.com/sumit-mahajan/refi/internal/wallet"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Server exposes the pool over HTTP/JSON. All write routes funnel into the
// pool's single-writer lock, so the server adds no ordering of its own.
// PriceSink is the admin write surface for the price table.
type PriceSink interface {
	SetAssetPrice(asset string, price *uint256.Int) error
}

type Server struct {
	app     *fiber.App
	pool    *pool.Pool
	gateway *pool.NativeAssetGateway
	wallet  *wallet.Ledger
	prices  PriceSink
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(p *pool.Pool, gateway *pool.NativeAssetGateway, w *wallet.Ledger, prices PriceSink, metrics *observability.Metrics) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "refi",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	s := &Server{
		app:     app,
		pool:    p,
		gateway: gateway,
		wallet:  w,
		prices:  prices,
		metrics: metrics,
		log:     observability.NewLogger("http"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(s.instrument)

	v1 := s.app.Group("/v1")

	v1.Post("/deposit", s.handleDeposit)
	v1.Post("/withdraw", s.handleWithdraw)
	v1.Post("/borrow", s.handleBorrow)
	v1.Post("/repay", s.handleRepay)
	v1.Post("/liquidate", s.handleLiquidate)

	v1.Get("/reserves", s.handleListReserves)
	v1.Get("/reserves/:asset", s.handleGetReserve)
	v1.Get("/users/:user/account", s.handleGetAccount)
	v1.Get("/users/:user/reserves/:asset", s.handleGetUserReserve)
	v1.Get("/users/:user/credit", s.handleGetCredit)

	admin := v1.Group("/admin")
	admin.Post("/prices", s.handleSetPrice)
	admin.Post("/fund", s.handleFund)
}

// Listen starts the server (blocking).
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) instrument(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	if s.metrics != nil {
		route := c.Route().Path
		status := fiber.StatusInternalServerError
		if err == nil {
			status = c.Response().StatusCode()
		}
		s.metrics.HTTPRequests.WithLabelValues(route, statusLabel(status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
	return err
}

func statusLabel(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// ============================================================================
// Write routes
// ============================================================================

type operationRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	// OnBehalfOf addresses deposits and repayments to another account's
	// position; To pays withdrawals out to another wallet. Both default
	// to user_id.
	OnBehalfOf string `json:"on_behalf_of,omitempty"`
	To         string `json:"to,omitempty"`
	Native     bool   `json:"native,omitempty"`
}

// operationCall is a decoded operationRequest. onBehalfOf and to fall back
// to user when the request leaves them out.
type operationCall struct {
	user       uuid.UUID
	onBehalfOf uuid.UUID
	to         uuid.UUID
	asset      string
	amount     *uint256.Int
	native     bool
}

type liquidationRequest struct {
	LiquidatorID    string `json:"liquidator_id"`
	UserID          string `json:"user_id"`
	CollateralAsset string `json:"collateral_asset"`
	DebtAsset       string `json:"debt_asset"`
	DebtToCover     string `json:"debt_to_cover"`
}

func (s *Server) handleDeposit(c fiber.Ctx) error {
	call, err := s.bindOperation(c)
	if err != nil {
		return err
	}
	var receipt *pool.Receipt
	if call.native {
		if s.gateway == nil {
			return badRequest(c, "native deposits are not enabled")
		}
		receipt, err = s.gateway.DepositNative(call.user, call.amount)
	} else {
		receipt, err = s.pool.DepositFor(call.user, call.onBehalfOf, call.asset, call.amount)
	}
	if err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(receiptBody(receipt))
}

func (s *Server) handleWithdraw(c fiber.Ctx) error {
	call, err := s.bindOperation(c)
	if err != nil {
		return err
	}
	var receipt *pool.Receipt
	if call.native {
		if s.gateway == nil {
			return badRequest(c, "native withdrawals are not enabled")
		}
		receipt, err = s.gateway.WithdrawNative(call.user, call.amount)
	} else {
		receipt, err = s.pool.WithdrawTo(call.user, call.to, call.asset, call.amount)
	}
	if err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(receiptBody(receipt))
}

func (s *Server) handleBorrow(c fiber.Ctx) error {
	call, err := s.bindOperation(c)
	if err != nil {
		return err
	}
	// Borrowing against another account needs a credit delegation the
	// protocol does not have, so borrows always bind to the caller.
	if call.onBehalfOf != call.user {
		return badRequest(c, "borrow does not support on_behalf_of addressing")
	}
	var receipt *pool.Receipt
	if call.native {
		if s.gateway == nil {
			return badRequest(c, "native borrows are not enabled")
		}
		receipt, err = s.gateway.BorrowNative(call.user, call.amount)
	} else {
		receipt, err = s.pool.Borrow(call.user, call.asset, call.amount)
	}
	if err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(receiptBody(receipt))
}

func (s *Server) handleRepay(c fiber.Ctx) error {
	call, err := s.bindOperation(c)
	if err != nil {
		return err
	}
	var receipt *pool.Receipt
	if call.native {
		if s.gateway == nil {
			return badRequest(c, "native repayments are not enabled")
		}
		receipt, err = s.gateway.RepayNative(call.user, call.amount)
	} else {
		receipt, err = s.pool.RepayFor(call.user, call.onBehalfOf, call.asset, call.amount)
	}
	if err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(receiptBody(receipt))
}

func (s *Server) handleLiquidate(c fiber.Ctx) error {
	var req liquidationRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	liquidator, err := uuid.Parse(req.LiquidatorID)
	if err != nil {
		return badRequest(c, "invalid liquidator_id")
	}
	user, err := uuid.Parse(req.UserID)
	if err != nil {
		return badRequest(c, "invalid user_id")
	}
	debtToCover, err := parseAmount(req.DebtToCover)
	if err != nil {
		return badRequest(c, "invalid debt_to_cover")
	}

	res, err := s.pool.Liquidate(liquidator, user, req.CollateralAsset, req.DebtAsset, debtToCover)
	if err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"sequence":          res.Receipt.Sequence,
		"operation_id":      res.Receipt.OperationID.String(),
		"debt_covered":      res.DebtCovered.Dec(),
		"collateral_seized": res.CollateralSeized.Dec(),
	})
}

func (s *Server) bindOperation(c fiber.Ctx) (operationCall, error) {
	var req operationRequest
	if err := c.Bind().Body(&req); err != nil {
		return operationCall{}, badRequest(c, "invalid request body")
	}
	user, err := uuid.Parse(req.UserID)
	if err != nil {
		return operationCall{}, badRequest(c, "invalid user_id")
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return operationCall{}, badRequest(c, "invalid amount")
	}
	call := operationCall{
		user:       user,
		onBehalfOf: user,
		to:         user,
		asset:      req.Asset,
		amount:     amount,
		native:     req.Native,
	}
	if req.OnBehalfOf != "" {
		if call.onBehalfOf, err = uuid.Parse(req.OnBehalfOf); err != nil {
			return operationCall{}, badRequest(c, "invalid on_behalf_of")
		}
	}
	if req.To != "" {
		if call.to, err = uuid.Parse(req.To); err != nil {
			return operationCall{}, badRequest(c, "invalid to")
		}
	}
	if call.native && (call.onBehalfOf != user || call.to != user) {
		return operationCall{}, badRequest(c, "native operations do not support addressing")
	}
	return call, nil
}

// parseAmount accepts a base-unit decimal string, or "max" for the
// full-balance sentinel.
func parseAmount(s string) (*uint256.Int, error) {
	if strings.EqualFold(s, "max") {
		return fpmath.MaxUint256, nil
	}
	return uint256.FromDecimal(s)
}

func receiptBody(r *pool.Receipt) fiber.Map {
	return fiber.Map{
		"sequence":     r.Sequence,
		"operation_id": r.OperationID.String(),
		"amount":       r.Amount.Dec(),
	}
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// operationError maps protocol codes onto HTTP statuses. Unknown assets are
// 404, malformed input 400, every business rejection 422.
func (s *Server) operationError(c fiber.Ctx, err error) error {
	code := protocol.CodeOf(err)

	status := fiber.StatusUnprocessableEntity
	switch code {
	case protocol.ErrInvalidAsset.Code:
		status = fiber.StatusNotFound
	case protocol.ErrInvalidAmount.Code:
		status = fiber.StatusBadRequest
	case protocol.ErrOverflow.Code, "INTERNAL":
		status = fiber.StatusInternalServerError
		s.log.Error().Err(err).Str("route", c.Route().Path).Msg("operation failed")
	}

	return c.Status(status).JSON(fiber.Map{
		"code":  code,
		"error": err.Error(),
	})
}

// ============================================================================
// Read routes
// ============================================================================

func (s *Server) handleListReserves(c fiber.Ctx) error {
	assets := s.pool.Assets()
	reserves := make([]fiber.Map, 0, len(assets))
	for _, asset := range assets {
		snap, err := s.pool.ReserveSnapshot(asset)
		if err != nil {
			continue
		}
		reserves = append(reserves, snapshotBody(snap))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"reserves": reserves})
}

func (s *Server) handleGetReserve(c fiber.Ctx) error {
	snap, err := s.pool.ReserveSnapshot(c.Params("asset"))
	if err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(snapshotBody(snap))
}

func (s *Server) handleGetAccount(c fiber.Ctx) error {
	user, err := uuid.Parse(c.Params("user"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}
	data, err := s.pool.AccountData(user)
	if err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(accountBody(data))
}

func (s *Server) handleGetUserReserve(c fiber.Ctx) error {
	user, err := uuid.Parse(c.Params("user"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}
	ur, err := s.pool.UserReserveData(user, c.Params("asset"))
	if err != nil {
		return s.operationError(c, err)
	}
	data, err := s.pool.AccountData(user)
	if err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"deposited":                   ur.Deposited.Dec(),
		"borrowed":                    ur.Borrowed.Dec(),
		"usage_as_collateral_enabled": ur.UsageAsCollateralEnabled,
		"is_borrowing":                ur.IsBorrowing,
		"health_factor":               data.HealthFactor.Dec(),
	})
}

func (s *Server) handleGetCredit(c fiber.Ctx) error {
	user, err := uuid.Parse(c.Params("user"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}
	profile, err := s.pool.CreditProfile(user)
	if err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"score": profile.Score,
		"class": profile.Class,
	})
}

// ============================================================================
// Admin routes
// ============================================================================

type priceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (s *Server) handleSetPrice(c fiber.Ctx) error {
	var req priceRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	price, err := uint256.FromDecimal(req.Price)
	if err != nil {
		return badRequest(c, "invalid price")
	}
	if err := s.prices.SetAssetPrice(req.Asset, price); err != nil {
		return s.operationError(c, err)
	}
	s.log.Info().Str("asset", req.Asset).Str("price", price.Dec()).Msg("price updated")
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"asset": req.Asset, "price": price.Dec()})
}

func (s *Server) handleFund(c fiber.Ctx) error {
	call, err := s.bindOperation(c)
	if err != nil {
		return err
	}
	if err := s.wallet.Fund(call.user, call.asset, call.amount); err != nil {
		return s.operationError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"balance": s.wallet.BalanceOf(call.user, call.asset).Dec(),
	})
}

func snapshotBody(snap *reserve.Snapshot) fiber.Map {
	return fiber.Map{
		"asset":                 snap.Symbol,
		"liquidity_index":       snap.LiquidityIndex.Dec(),
		"variable_borrow_index": snap.VariableBorrowIndex.Dec(),
		"liquidity_rate":        snap.CurrentLiquidityRate.Dec(),
		"variable_borrow_rate":  snap.CurrentVariableBorrowRate.Dec(),
		"total_scaled_deposit":  snap.TotalScaledDeposit.Dec(),
		"total_scaled_debt":     snap.TotalScaledDebt.Dec(),
		"utilization":           snap.Utilization.Dec(),
		"available_liquidity":   snap.AvailableLiquidity.Dec(),
		"last_update_timestamp": snap.LastUpdateTimestamp,
	}
}

func accountBody(data *health.AccountData) fiber.Map {
	return fiber.Map{
		"total_collateral_value":    data.TotalCollateralValue.Dec(),
		"total_debt_value":          data.TotalDebtValue.Dec(),
		"available_borrows_value":   data.AvailableBorrowsValue.Dec(),
		"avg_ltv":                   data.AvgLTV.Dec(),
		"avg_liquidation_threshold": data.AvgLiquidationThreshold.Dec(),
		"health_factor":             data.HealthFactor.Dec(),
	}
}

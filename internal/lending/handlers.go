package lending

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/limits"
	"github.com/atmx/lending-risk/internal/metrics"
	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/reserve"
	"github.com/atmx/lending-risk/internal/risk"
	"github.com/atmx/lending-risk/internal/store"
)

// LevelHeader names the limit level of the caller. It is set by the
// gateway in front of this service; requests without it use the default.
const LevelHeader = "X-Account-Level"

// Routes registers the lending API on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/reserves", s.ListReserves)
	r.Put("/reserves", s.UpsertReserve)
	r.Put("/prices/{symbol}", s.PutPrice)

	r.Route("/accounts/{userID}", func(r chi.Router) {
		r.Get("/", s.GetAccount)
		r.Get("/history", s.GetHistory)
		r.Get("/targets", s.GetTargets)
		r.Post("/supply", s.HandleAction(model.ActionSupply))
		r.Post("/withdraw", s.HandleAction(model.ActionWithdraw))
		r.Post("/borrow", s.HandleAction(model.ActionBorrow))
		r.Post("/repay", s.HandleAction(model.ActionRepay))
		r.Post("/collateral", s.PostCollateral)
		r.Post("/stress-test", s.PostStressTest)
		r.Post("/estimate-repay", s.PostEstimateRepay)
		r.Post("/validate", s.PostValidate)
	})
}

// --- Request/Response types ---

// PriceRequest is the JSON body for PUT /prices/{symbol}.
type PriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// CollateralRequest is the JSON body for POST /accounts/{userID}/collateral.
type CollateralRequest struct {
	Symbol          string `json:"symbol"`
	UseAsCollateral bool   `json:"use_as_collateral"`
}

// StressRequest is the JSON body for POST /accounts/{userID}/stress-test.
// Omitted shocks mean the default drawdowns.
type StressRequest struct {
	Shocks []decimal.Decimal `json:"shocks,omitempty"`
}

// StressResponse is returned from the stress test.
type StressResponse struct {
	UserID    string              `json:"user_id"`
	Current   risk.Account        `json:"current"`
	Scenarios []risk.StressResult `json:"scenarios"`
}

// EstimateRepayRequest is the JSON body for POST /accounts/{userID}/estimate-repay.
type EstimateRepayRequest struct {
	RepayUSD decimal.Decimal `json:"repay_usd"`
}

// EstimateResponse pairs an account with its projection.
type EstimateResponse struct {
	UserID    string       `json:"user_id"`
	Current   risk.Account `json:"current"`
	Projected risk.Account `json:"projected"`
}

// TargetsResponse is returned from GET /accounts/{userID}/targets.
type TargetsResponse struct {
	UserID           string          `json:"user_id"`
	TargetHF         decimal.Decimal `json:"target_hf"`
	HealthFactor     decimal.Decimal `json:"health_factor"`
	RepayUSD         decimal.Decimal `json:"repay_usd"`
	AddCollateralUSD decimal.Decimal `json:"add_collateral_usd"`
	Advice           string          `json:"advice"`
}

// --- HTTP Handlers ---

// ListReserves handles GET /api/v1/reserves
func (s *Service) ListReserves(w http.ResponseWriter, r *http.Request) {
	reserves, err := s.store.ListReserves(r.Context())
	if err != nil {
		writeError(w, "failed to list reserves", http.StatusInternalServerError)
		return
	}
	if reserves == nil {
		reserves = []model.Reserve{}
	}
	writeJSON(w, http.StatusOK, reserves)
}

// UpsertReserve handles PUT /api/v1/reserves
func (s *Service) UpsertReserve(w http.ResponseWriter, r *http.Request) {
	var req model.Reserve
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res, err := reserve.Validate(req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpsertReserve(r.Context(), res); err != nil {
		writeError(w, "failed to save reserve", http.StatusInternalServerError)
		return
	}

	slog.Info("reserve upserted",
		"symbol", res.Symbol,
		"ltv", res.LTV.String(),
		"liq_threshold", res.LiquidationThreshold.String(),
	)
	writeJSON(w, http.StatusOK, res)
}

// PutPrice handles PUT /api/v1/prices/{symbol}
func (s *Service) PutPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	symbol, err := s.SetPrice(r.Context(), chi.URLParam(r, "symbol"), req.Price)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "price": req.Price})
}

// GetAccount handles GET /api/v1/accounts/{userID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	view, err := s.Evaluate(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetHistory handles GET /api/v1/accounts/{userID}/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetLedgerEntriesByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to get history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleAction returns the handler for POST /api/v1/accounts/{userID}/{action}.
func (s *Service) HandleAction(action model.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		req.Action = action

		res, err := s.Execute(r.Context(), chi.URLParam(r, "userID"), s.levelFor(r), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// PostCollateral handles POST /api/v1/accounts/{userID}/collateral
func (s *Service) PostCollateral(w http.ResponseWriter, r *http.Request) {
	var req CollateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	v, err := s.SetCollateral(r.Context(), chi.URLParam(r, "userID"), req.Symbol, req.UseAsCollateral)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// PostStressTest handles POST /api/v1/accounts/{userID}/stress-test
// An empty body runs the default shocks.
func (s *Service) PostStressTest(w http.ResponseWriter, r *http.Request) {
	var req StressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID := chi.URLParam(r, "userID")
	sn, err := s.load(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	current := sn.evaluate()
	scenarios := risk.StressTestHF(sn.supplies, sn.borrows, sn.prices, req.Shocks, current.Tier)
	metrics.StressTests.Inc()

	slog.Info("stress test run",
		"user", userID,
		"scenarios", len(scenarios),
		"health_factor", current.HealthFactor.StringFixed(4),
	)

	writeJSON(w, http.StatusOK, StressResponse{
		UserID:    userID,
		Current:   current,
		Scenarios: scenarios,
	})
}

// PostEstimateRepay handles POST /api/v1/accounts/{userID}/estimate-repay
func (s *Service) PostEstimateRepay(w http.ResponseWriter, r *http.Request) {
	var req EstimateRepayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RepayUSD.IsNegative() {
		writeError(w, "repay_usd must not be negative", http.StatusBadRequest)
		return
	}

	userID := chi.URLParam(r, "userID")
	sn, err := s.load(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	current := sn.evaluate()
	writeJSON(w, http.StatusOK, EstimateResponse{
		UserID:    userID,
		Current:   current,
		Projected: risk.EstimateAfterRepay(current, req.RepayUSD),
	})
}

// PostValidate handles POST /api/v1/accounts/{userID}/validate
// It reports the verdict on an action without applying it.
func (s *Service) PostValidate(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	v, err := s.Check(r.Context(), chi.URLParam(r, "userID"), s.levelFor(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetTargets handles GET /api/v1/accounts/{userID}/targets?target=1.5
func (s *Service) GetTargets(w http.ResponseWriter, r *http.Request) {
	target := s.targetHF
	if q := r.URL.Query().Get("target"); q != "" {
		t, err := decimal.NewFromString(q)
		if err != nil || !t.IsPositive() {
			writeError(w, "target must be a positive number", http.StatusBadRequest)
			return
		}
		target = t
	}

	userID := chi.URLParam(r, "userID")
	sn, err := s.load(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	a := sn.evaluate()
	writeJSON(w, http.StatusOK, TargetsResponse{
		UserID:           userID,
		TargetHF:         target,
		HealthFactor:     a.HealthFactor,
		RepayUSD:         risk.RepayToTargetHF(a.CollateralUSD, a.LiqThresholdWeighted, a.DebtUSD, target),
		AddCollateralUSD: risk.AddCollateralToTargetHF(a.CollateralUSD, a.LiqThresholdWeighted, a.DebtUSD, target),
		Advice:           risk.Advice(a, target),
	})
}

func (s *Service) levelFor(r *http.Request) limits.Level {
	if lvl := r.Header.Get(LevelHeader); lvl != "" {
		return limits.Level(lvl)
	}
	return s.level
}

// writeServiceError maps service errors to HTTP statuses. Rejections carry
// the full validation so clients can show the projected account.
func writeServiceError(w http.ResponseWriter, err error) {
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      rejected.Error(),
			"validation": rejected.Validation,
		})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrNoPrice):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, reserve.ErrInvalidSymbol),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrUnknownAction):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrBorrowDisabled),
		errors.Is(err, ErrCollateralDisabled),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrNoDebt):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

/*
handlers.go - HTTP API handlers for the coupon and credit engine

PURPOSE:
  Exposes the credit ledger, coupon lifecycle and redemption engine via
  REST. Handles HTTP request/response, JSON serialization, and delegates
  to domain logic.

ENDPOINTS:
  Credits:
    POST   /api/credits/requests               Submit credit request (tenant)
    GET    /api/credits/requests/pending       List pending requests (operator)
    POST   /api/credits/requests/{id}/approve  Approve and credit (operator)
    POST   /api/credits/requests/{id}/reject   Reject with reason (operator)
    GET    /api/credits/balance                Tenant balance
    GET    /api/credits/transactions           Tenant ledger history

  Coupons:
    POST   /api/coupons/batches                Issue one batch (debits credits)
    POST   /api/coupons/batches/multi          Issue several batches atomically
    POST   /api/coupons/batches/{id}/print     draft -> printed
    POST   /api/coupons/batches/{id}/activate  printed -> active
    GET    /api/coupons/batches/{id}           Coupons of a batch
    GET    /api/coupons/batches/{id}/export    CSV export
    GET    /api/coupons?status=...             List by status
    GET    /api/coupons/{code}                 Coupon detail
    POST   /api/coupons/{code}/deactivate      Manual deactivation

  Scanning:
    POST   /api/scan                           Internal scan (tenant headers)

  External (X-API-Key gated):
    POST   /api/external/scan                  Scan bound to the calling app
    GET    /api/external/points/{customer}     Customer points balance
    POST   /api/external/points/redeem         Spend points on a product

  Apps:
    POST   /api/apps                           Register a verification app

REQUEST FLOW:
  1. Parse HTTP request
  2. Structural validation (shape, date formats)
  3. Call domain logic
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Domain errors carry sentinel values; writeDomainError maps them:
  - 400: Validation errors, invalid input
  - 401: Missing or unknown API key
  - 402: Insufficient credit
  - 403: Disabled app, cross-app access, wrong role
  - 404: Not found
  - 409: Lifecycle conflicts (already used, wrong state, expired, duplicates)
  - 503: Transient store failures (retryable)
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Principal and API-key plumbing
  - server.go: Router setup
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/loyalty-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     engine.TxStore
	Ledger    *engine.CreditLedger
	Points    *engine.PointsLedger
	Requests  *engine.RequestService
	Issuer    *engine.Issuer
	Lifecycle *engine.Lifecycle
	Redeemer  *engine.Redeemer
	Gate      *engine.Gate
	Log       *logrus.Logger
}

// NewHandler wires the domain services on top of a single store.
func NewHandler(store engine.TxStore, notifier engine.Notifier, log *logrus.Logger) *Handler {
	if notifier == nil {
		notifier = engine.NopNotifier{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:     store,
		Ledger:    engine.NewCreditLedger(store),
		Points:    engine.NewPointsLedger(store),
		Requests:  engine.NewRequestService(store, notifier),
		Issuer:    engine.NewIssuer(store),
		Lifecycle: engine.NewLifecycle(store, notifier),
		Redeemer:  engine.NewRedeemer(store),
		Gate:      engine.NewGate(store),
		Log:       log,
	}
}

// =============================================================================
// CREDIT ENDPOINTS
// =============================================================================

func (h *Handler) SubmitCreditRequest(w http.ResponseWriter, r *http.Request) {
	var req RequestCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cr, err := h.Requests.Request(r.Context(), principalFrom(r), engine.NewCredits(req.Amount), req.Justification)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditRequestDTO(cr))
}

func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Requests.ListPending(r.Context(), principalFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CreditRequestDTO, len(reqs))
	for i := range reqs {
		dtos[i] = toCreditRequestDTO(&reqs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id := engine.RequestID(chi.URLParam(r, "id"))
	cr, err := h.Requests.Approve(r.Context(), principalFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditRequestDTO(cr))
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var req RejectRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := engine.RequestID(chi.URLParam(r, "id"))
	cr, err := h.Requests.Reject(r.Context(), principalFrom(r), id, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditRequestDTO(cr))
}

func (h *Handler) GetCreditBalance(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if p.TenantID == "" {
		writeError(w, http.StatusBadRequest, "X-Tenant-ID header required", nil)
		return
	}
	bal, err := h.Ledger.Balance(r.Context(), p.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

func (h *Handler) GetCreditTransactions(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if p.TenantID == "" {
		writeError(w, http.StatusBadRequest, "X-Tenant-ID header required", nil)
		return
	}
	txs, err := h.Ledger.Transactions(r.Context(), p.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COUPON ENDPOINTS
// =============================================================================

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	spec, err := toBatchSpec(req.BatchSpecRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	p := principalFrom(r)
	result, err := h.Issuer.CreateBatch(r.Context(), p.TenantID, engine.AppID(req.VerificationAppID), p.UserID, spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIssueResultDTO(result))
}

func (h *Handler) CreateMultiBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateMultiBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	specs := make([]engine.BatchSpec, len(req.Batches))
	for i, b := range req.Batches {
		spec, err := toBatchSpec(b)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("batch %d: %s", i, err), nil)
			return
		}
		specs[i] = spec
	}

	p := principalFrom(r)
	result, err := h.Issuer.CreateMultiBatch(r.Context(), p.TenantID, engine.AppID(req.VerificationAppID), p.UserID, specs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIssueResultDTO(result))
}

func (h *Handler) PrintBatch(w http.ResponseWriter, r *http.Request) {
	var req PrintBatchRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	p := principalFrom(r)
	batchID := engine.BatchID(chi.URLParam(r, "id"))
	count, err := h.Lifecycle.PrintBatch(r.Context(), p.TenantID, batchID, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": string(batchID), "printed": count})
}

func (h *Handler) ActivateBatch(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	batchID := engine.BatchID(chi.URLParam(r, "id"))
	count, err := h.Lifecycle.ActivateBatch(r.Context(), p.TenantID, batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": string(batchID), "activated": count})
}

func (h *Handler) ListBatchCoupons(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	batchID := engine.BatchID(chi.URLParam(r, "id"))
	coupons, err := h.Store.ListCouponsByBatch(r.Context(), p.TenantID, batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CouponDTO, len(coupons))
	for i, c := range coupons {
		dtos[i] = toCouponDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ExportBatch(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	batchID := engine.BatchID(chi.URLParam(r, "id"))

	// Buffered so a lookup failure still gets a proper error status.
	var buf bytes.Buffer
	if err := engine.ExportBatchCSV(r.Context(), h.Store, p.TenantID, batchID, &buf); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=batch-%s.csv", batchID))
	w.Write(buf.Bytes())
}

func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	status := engine.CouponStatus(r.URL.Query().Get("status"))
	if status == "" {
		writeError(w, http.StatusBadRequest, "status query parameter required", nil)
		return
	}
	coupons, err := h.Store.ListCouponsByStatus(r.Context(), p.TenantID, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CouponDTO, len(coupons))
	for i, c := range coupons {
		dtos[i] = toCouponDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	coupon, err := h.Lifecycle.CouponByCode(r.Context(), p.TenantID, chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDTO(*coupon))
}

func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	var req DeactivateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p := principalFrom(r)
	coupon, err := h.Lifecycle.Deactivate(r.Context(), p.TenantID, chi.URLParam(r, "code"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDTO(*coupon))
}

// =============================================================================
// SCAN ENDPOINTS
// =============================================================================

func (h *Handler) ScanCoupon(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p := principalFrom(r)
	result, err := h.Redeemer.Scan(r.Context(), p.TenantID, req.CouponCode, engine.CustomerID(req.CustomerID), engine.ScanContext{
		Location:   req.Location,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScanResultDTO(result))
}

func (h *Handler) ExternalScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	access := accessFrom(r)
	result, err := h.Redeemer.Scan(r.Context(), access.TenantID, req.CouponCode, engine.CustomerID(req.CustomerID), engine.ScanContext{
		VerificationAppID: access.VerificationAppID,
		Access:            &access,
		Location:          req.Location,
		DeviceInfo:        req.DeviceInfo,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScanResultDTO(result))
}

// =============================================================================
// POINTS ENDPOINTS (external, API-key gated)
// =============================================================================

func (h *Handler) GetPointsBalance(w http.ResponseWriter, r *http.Request) {
	access := accessFrom(r)
	customer := engine.CustomerID(chi.URLParam(r, "customer"))
	bal, err := h.Points.Balance(r.Context(), access.TenantID, customer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPointsBalanceDTO(bal))
}

func (h *Handler) RedeemProduct(w http.ResponseWriter, r *http.Request) {
	var req RedeemProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Points <= 0 {
		writeError(w, http.StatusBadRequest, "points must be positive", nil)
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required", nil)
		return
	}

	access := accessFrom(r)
	bal, _, err := h.Points.Spend(r.Context(), access.TenantID, engine.CustomerID(req.CustomerID), engine.NewPoints(req.Points), engine.Reference{
		ID:          req.ProductID,
		Type:        engine.RefProductRedeem,
		Description: fmt.Sprintf("Product redemption %s", req.ProductID),
		Actor:       access.AppCode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPointsBalanceDTO(bal))
}

// =============================================================================
// APP REGISTRATION
// =============================================================================

// CreateAppRequest registers a verification app for the caller's tenant.
type CreateAppRequest struct {
	AppCode string `json:"app_code"`
}

func (h *Handler) CreateApp(w http.ResponseWriter, r *http.Request) {
	var req CreateAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AppCode == "" {
		writeError(w, http.StatusBadRequest, "app_code is required", nil)
		return
	}
	p := principalFrom(r)
	if p.TenantID == "" {
		writeError(w, http.StatusBadRequest, "X-Tenant-ID header required", nil)
		return
	}

	app := engine.VerificationApp{
		ID:       engine.AppID(uuid.NewString()),
		TenantID: p.TenantID,
		AppCode:  req.AppCode,
		APIKey:   uuid.NewString(),
		Active:   true,
	}
	if err := h.Store.SaveVerificationApp(r.Context(), app); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":       string(app.ID),
		"app_code": app.AppCode,
		"api_key":  app.APIKey,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func toBatchSpec(req BatchSpecRequest) (engine.BatchSpec, error) {
	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		return engine.BatchSpec{}, fmt.Errorf("invalid expiry_date format (use YYYY-MM-DD)")
	}
	// Coupons stay valid through the whole expiry day.
	expiry = expiry.Add(24*time.Hour - time.Nanosecond)

	return engine.BatchSpec{
		Description:   req.Description,
		DiscountValue: engine.NewAmountFromDecimal(decimal.NewFromInt(req.DiscountValue), engine.UnitCredits),
		DiscountType:  engine.DiscountType(req.DiscountType),
		Quantity:      req.Quantity,
		UsageLimit:    req.UsageLimit,
		CouponPoints:  engine.NewPoints(req.CouponPoints),
		ExpiryDate:    expiry.UTC(),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine sentinel errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrBelowMinimum):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, engine.ErrInsufficientCredit), errors.Is(err, engine.ErrInsufficientPoints):
		status = http.StatusPaymentRequired
	case errors.Is(err, engine.ErrForbidden),
		errors.Is(err, engine.ErrCrossAppAccess),
		errors.Is(err, engine.ErrAppMismatch):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, engine.ErrCouponNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrMustPrintFirst),
		errors.Is(err, engine.ErrAlreadyPrinted),
		errors.Is(err, engine.ErrCouponExpired),
		errors.Is(err, engine.ErrCouponNotActive),
		errors.Is(err, engine.ErrAlreadyUsed),
		errors.Is(err, engine.ErrUsageLimitExceeded),
		errors.Is(err, engine.ErrDuplicatePendingRequest):
		status = http.StatusConflict
	case engine.IsRetryable(err):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error(), nil)
}

/*
handlers_test.go - HTTP-level tests for the API surface

Tests for:
- Credit request workflow over HTTP
- Batch issuance, lifecycle and CSV export
- Scanning and the API-key gated external surface
- Domain error to HTTP status mapping
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/engine"
	"github.com/warp/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter(t *testing.T) (http.Handler, *Handler) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	h := NewHandler(store, nil, log)
	return NewRouter(h), h
}

type header map[string]string

func tenantHeaders(tenant string) header {
	return header{"X-Tenant-ID": tenant, "X-User-ID": "user-1", "X-Role": "tenant"}
}

func operatorHeaders() header {
	return header{"X-User-ID": "ops-1", "X-Role": "operator"}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, hdr header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

// grantCredits walks a credit request through approval over HTTP.
func grantCredits(t *testing.T, router http.Handler, tenant string, amount int64) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/credits/requests",
		RequestCreditsRequest{Amount: amount, Justification: "test funding"}, tenantHeaders(tenant))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreditRequestDTO](t, rec)

	rec = doJSON(t, router, http.MethodPost, "/api/credits/requests/"+created.ID+"/approve", nil, operatorHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// issueActiveBatch issues, prints and activates a batch, returning the result.
func issueActiveBatch(t *testing.T, router http.Handler, tenant string, quantity int) IssueResultDTO {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/coupons/batches", CreateBatchRequest{
		VerificationAppID: "app-1",
		BatchSpecRequest: BatchSpecRequest{
			Description:   "promo",
			DiscountValue: 50,
			DiscountType:  "fixed",
			Quantity:      quantity,
			UsageLimit:    1,
			CouponPoints:  10,
			ExpiryDate:    "2030-12-31",
		},
	}, tenantHeaders(tenant))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[IssueResultDTO](t, rec)
	require.Len(t, result.BatchIDs, 1)

	batchID := result.BatchIDs[0]
	rec = doJSON(t, router, http.MethodPost, "/api/coupons/batches/"+batchID+"/print", PrintBatchRequest{Note: "run 1"}, tenantHeaders(tenant))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doJSON(t, router, http.MethodPost, "/api/coupons/batches/"+batchID+"/activate", nil, tenantHeaders(tenant))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	return result
}

// =============================================================================
// CREDIT WORKFLOW TESTS
// =============================================================================

func TestAPI_CreditWorkflow(t *testing.T) {
	// GIVEN: A tenant submitting a credit request over HTTP
	// WHEN: The operator approves it
	// THEN: The balance endpoint reports the credited amount

	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/credits/requests",
		RequestCreditsRequest{Amount: 500, Justification: "campaign"}, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[CreditRequestDTO](t, rec)
	assert.Equal(t, "pending", created.Status)

	rec = doJSON(t, router, http.MethodGet, "/api/credits/requests/pending", nil, operatorHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]CreditRequestDTO](t, rec)
	require.Len(t, pending, 1)

	rec = doJSON(t, router, http.MethodPost, "/api/credits/requests/"+created.ID+"/approve", nil, operatorHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	approved := decode[CreditRequestDTO](t, rec)
	assert.Equal(t, "approved", approved.Status)

	rec = doJSON(t, router, http.MethodGet, "/api/credits/balance", nil, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[BalanceDTO](t, rec)
	assert.Equal(t, "500", bal.Balance)

	rec = doJSON(t, router, http.MethodGet, "/api/credits/transactions", nil, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]TransactionDTO](t, rec)
	require.Len(t, txs, 1)
	assert.Equal(t, "CREDIT", txs[0].Type)
}

func TestAPI_CreditWorkflow_StatusMapping(t *testing.T) {
	router, _ := newTestRouter(t)

	// Below minimum -> 400
	rec := doJSON(t, router, http.MethodPost, "/api/credits/requests",
		RequestCreditsRequest{Amount: 10}, tenantHeaders("tenant-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Operator submitting -> 403
	rec = doJSON(t, router, http.MethodPost, "/api/credits/requests",
		RequestCreditsRequest{Amount: 500}, operatorHeaders())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Duplicate pending -> 409
	rec = doJSON(t, router, http.MethodPost, "/api/credits/requests",
		RequestCreditsRequest{Amount: 500}, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/api/credits/requests",
		RequestCreditsRequest{Amount: 500}, tenantHeaders("tenant-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Reject without reason -> 400
	pendingRec := doJSON(t, router, http.MethodGet, "/api/credits/requests/pending", nil, operatorHeaders())
	pending := decode[[]CreditRequestDTO](t, pendingRec)
	require.NotEmpty(t, pending)
	rec = doJSON(t, router, http.MethodPost, "/api/credits/requests/"+pending[0].ID+"/reject",
		RejectRequestRequest{}, operatorHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Approve unknown request -> 404
	rec = doJSON(t, router, http.MethodPost, "/api/credits/requests/no-such-id/approve", nil, operatorHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// COUPON LIFECYCLE TESTS
// =============================================================================

func TestAPI_BatchIssuanceAndLifecycle(t *testing.T) {
	// GIVEN: A tenant with 500 credits
	// WHEN: Issuing a batch of 6 coupons at discount 50 and walking it to active
	// THEN: 300 credits are spent and all 6 coupons are active

	router, _ := newTestRouter(t)
	grantCredits(t, router, "tenant-1", 500)

	result := issueActiveBatch(t, router, "tenant-1", 6)
	assert.Equal(t, "300", result.CreditCost)
	assert.Equal(t, "200", result.NewBalance)
	assert.Len(t, result.Coupons, 6)

	rec := doJSON(t, router, http.MethodGet, "/api/coupons?status=active", nil, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[[]CouponDTO](t, rec)
	assert.Len(t, active, 6)

	// Coupon detail by code
	rec = doJSON(t, router, http.MethodGet, "/api/coupons/"+result.Coupons[0].Code, nil, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	coupon := decode[CouponDTO](t, rec)
	assert.Equal(t, "active", coupon.Status)
}

func TestAPI_InsufficientCredit_402(t *testing.T) {
	router, _ := newTestRouter(t)
	grantCredits(t, router, "tenant-1", 100)

	rec := doJSON(t, router, http.MethodPost, "/api/coupons/batches", CreateBatchRequest{
		VerificationAppID: "app-1",
		BatchSpecRequest: BatchSpecRequest{
			DiscountValue: 50, DiscountType: "fixed", Quantity: 6, ExpiryDate: "2030-12-31",
		},
	}, tenantHeaders("tenant-1"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestAPI_ActivateBeforePrint_409(t *testing.T) {
	router, _ := newTestRouter(t)
	grantCredits(t, router, "tenant-1", 500)

	rec := doJSON(t, router, http.MethodPost, "/api/coupons/batches", CreateBatchRequest{
		VerificationAppID: "app-1",
		BatchSpecRequest: BatchSpecRequest{
			DiscountValue: 50, DiscountType: "fixed", Quantity: 2, ExpiryDate: "2030-12-31",
		},
	}, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	result := decode[IssueResultDTO](t, rec)

	rec = doJSON(t, router, http.MethodPost, "/api/coupons/batches/"+result.BatchIDs[0]+"/activate", nil, tenantHeaders("tenant-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_ExportBatchCSV(t *testing.T) {
	router, _ := newTestRouter(t)
	grantCredits(t, router, "tenant-1", 500)
	result := issueActiveBatch(t, router, "tenant-1", 3)

	rec := doJSON(t, router, http.MethodGet, "/api/coupons/batches/"+result.BatchIDs[0]+"/export", nil, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Reference,Code,Discount Value,Discount Type,Points,Status,Expiry Date", lines[0])
}

// =============================================================================
// SCAN TESTS
// =============================================================================

func TestAPI_ScanCoupon(t *testing.T) {
	router, _ := newTestRouter(t)
	grantCredits(t, router, "tenant-1", 500)
	result := issueActiveBatch(t, router, "tenant-1", 1)

	rec := doJSON(t, router, http.MethodPost, "/api/scan", ScanRequest{
		CouponCode: result.Coupons[0].Code,
		CustomerID: "cust-1",
		Location:   "store 12",
	}, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	scan := decode[ScanResultDTO](t, rec)
	assert.Equal(t, "10", scan.PointsAwarded)
	assert.Equal(t, "used", scan.Coupon.Status)

	// Second scan of the single-use coupon -> 409
	rec = doJSON(t, router, http.MethodPost, "/api/scan", ScanRequest{
		CouponCode: result.Coupons[0].Code,
		CustomerID: "cust-2",
	}, tenantHeaders("tenant-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// EXTERNAL SURFACE TESTS
// =============================================================================

func TestAPI_ExternalSurface(t *testing.T) {
	// GIVEN: A registered verification app with an API key
	// WHEN: Scanning through the external surface and spending the points
	// THEN: The key scopes every call to the app's tenant

	router, _ := newTestRouter(t)
	grantCredits(t, router, "tenant-1", 500)

	rec := doJSON(t, router, http.MethodPost, "/api/apps", CreateAppRequest{AppCode: "pos-1"}, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	app := decode[map[string]string](t, rec)
	apiKey := app["api_key"]
	require.NotEmpty(t, apiKey)

	// Issue a batch bound to this app
	rec = doJSON(t, router, http.MethodPost, "/api/coupons/batches", CreateBatchRequest{
		VerificationAppID: app["id"],
		BatchSpecRequest: BatchSpecRequest{
			DiscountValue: 50, DiscountType: "fixed", Quantity: 1,
			UsageLimit: 1, CouponPoints: 25, ExpiryDate: "2030-12-31",
		},
	}, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	result := decode[IssueResultDTO](t, rec)
	batchID := result.BatchIDs[0]

	rec = doJSON(t, router, http.MethodPost, "/api/coupons/batches/"+batchID+"/print", nil, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/api/coupons/batches/"+batchID+"/activate", nil, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	// Missing key -> 401
	rec = doJSON(t, router, http.MethodPost, "/api/external/scan", ScanRequest{
		CouponCode: result.Coupons[0].Code, CustomerID: "cust-1",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid key -> scan succeeds and awards points
	rec = doJSON(t, router, http.MethodPost, "/api/external/scan", ScanRequest{
		CouponCode: result.Coupons[0].Code, CustomerID: "cust-1",
	}, header{"X-API-Key": apiKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	scan := decode[ScanResultDTO](t, rec)
	assert.Equal(t, "25", scan.PointsAwarded)

	// Points balance through the gate
	rec = doJSON(t, router, http.MethodGet, "/api/external/points/cust-1", nil, header{"X-API-Key": apiKey})
	require.Equal(t, http.StatusOK, rec.Code)
	points := decode[PointsBalanceDTO](t, rec)
	assert.Equal(t, "25", points.Balance)

	// Spend points on a product
	rec = doJSON(t, router, http.MethodPost, "/api/external/points/redeem", RedeemProductRequest{
		CustomerID: "cust-1", ProductID: "prod-7", Points: 20,
	}, header{"X-API-Key": apiKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	points = decode[PointsBalanceDTO](t, rec)
	assert.Equal(t, "5", points.Balance)

	// Overspend -> 402
	rec = doJSON(t, router, http.MethodPost, "/api/external/points/redeem", RedeemProductRequest{
		CustomerID: "cust-1", ProductID: "prod-7", Points: 100,
	}, header{"X-API-Key": apiKey})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestAPI_ExternalScan_OtherAppsCoupon_403(t *testing.T) {
	// GIVEN: Two verification apps and a coupon bound to the first
	// WHEN: The second app's key scans it
	// THEN: 403, the coupon is untouched

	router, _ := newTestRouter(t)
	grantCredits(t, router, "tenant-1", 500)

	rec := doJSON(t, router, http.MethodPost, "/api/apps", CreateAppRequest{AppCode: "pos-1"}, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[map[string]string](t, rec)

	rec = doJSON(t, router, http.MethodPost, "/api/apps", CreateAppRequest{AppCode: "pos-2"}, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[map[string]string](t, rec)

	rec = doJSON(t, router, http.MethodPost, "/api/coupons/batches", CreateBatchRequest{
		VerificationAppID: first["id"],
		BatchSpecRequest: BatchSpecRequest{
			DiscountValue: 50, DiscountType: "fixed", Quantity: 1, ExpiryDate: "2030-12-31",
		},
	}, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	result := decode[IssueResultDTO](t, rec)
	batchID := result.BatchIDs[0]

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/coupons/batches/%s/print", batchID), nil, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/coupons/batches/%s/activate", batchID), nil, tenantHeaders("tenant-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/external/scan", ScanRequest{
		CouponCode: result.Coupons[0].Code, CustomerID: "cust-1",
	}, header{"X-API-Key": second["api_key"]})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// MISC TESTS
// =============================================================================

func TestAPI_Health(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_InvalidJSONBody_400(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/credits/requests", strings.NewReader("{not json"))
	for k, v := range tenantHeaders("tenant-1") {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_EngineErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{engine.ErrValidation, http.StatusBadRequest},
		{engine.ErrUnauthorized, http.StatusUnauthorized},
		{engine.ErrInsufficientCredit, http.StatusPaymentRequired},
		{engine.ErrForbidden, http.StatusForbidden},
		{engine.ErrCrossAppAccess, http.StatusForbidden},
		{engine.ErrCouponNotFound, http.StatusNotFound},
		{engine.ErrAlreadyUsed, http.StatusConflict},
		{engine.ErrCouponExpired, http.StatusConflict},
		{engine.ErrRetryable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		assert.Equal(t, tc.want, rec.Code, "error %v", tc.err)
	}
}

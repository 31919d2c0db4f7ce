/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Structural validation (JSON shape, date formats) happens in handlers;
  business validation lives in the engine services.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/loyalty-engine/engine"
)

// =============================================================================
// CREDITS
// =============================================================================

// BalanceDTO reports the tenant's credit aggregate.
type BalanceDTO struct {
	TenantID      string `json:"tenant_id"`
	Balance       string `json:"balance"`
	TotalReceived string `json:"total_received"`
	TotalSpent    string `json:"total_spent"`
	LastUpdated   string `json:"last_updated,omitempty"`
}

func toBalanceDTO(b *engine.CreditBalance) BalanceDTO {
	dto := BalanceDTO{
		TenantID:      string(b.TenantID),
		Balance:       b.Balance.Value.String(),
		TotalReceived: b.TotalReceived.Value.String(),
		TotalSpent:    b.TotalSpent.Value.String(),
	}
	if !b.LastUpdated.IsZero() {
		dto.LastUpdated = b.LastUpdated.Format(time.RFC3339)
	}
	return dto
}

// TransactionDTO is one credit ledger entry.
type TransactionDTO struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
	Description   string `json:"description,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toTransactionDTO(tx engine.CreditTransaction) TransactionDTO {
	return TransactionDTO{
		ID:            string(tx.ID),
		Type:          string(tx.Type),
		Amount:        tx.Amount.Value.String(),
		BalanceBefore: tx.BalanceBefore.Value.String(),
		BalanceAfter:  tx.BalanceAfter.Value.String(),
		ReferenceID:   tx.ReferenceID,
		ReferenceType: string(tx.ReferenceType),
		Description:   tx.Description,
		CreatedBy:     tx.CreatedBy,
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
	}
}

// RequestCreditsRequest is the body of POST /api/credits/requests.
type RequestCreditsRequest struct {
	Amount        int64  `json:"amount"`
	Justification string `json:"justification"`
}

// RejectRequestRequest carries the mandatory rejection reason.
type RejectRequestRequest struct {
	Reason string `json:"reason"`
}

// CreditRequestDTO represents a credit request in responses.
type CreditRequestDTO struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	RequestedAmount string `json:"requested_amount"`
	Justification   string `json:"justification,omitempty"`
	Status          string `json:"status"`
	RequestedAt     string `json:"requested_at"`
	ProcessedAt     string `json:"processed_at,omitempty"`
	ProcessedBy     string `json:"processed_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func toCreditRequestDTO(r *engine.CreditRequest) CreditRequestDTO {
	dto := CreditRequestDTO{
		ID:              string(r.ID),
		TenantID:        string(r.TenantID),
		RequestedAmount: r.RequestedAmount.Value.String(),
		Justification:   r.Justification,
		Status:          string(r.Status),
		RequestedAt:     r.RequestedAt.Format(time.RFC3339),
		ProcessedBy:     r.ProcessedBy,
		RejectionReason: r.RejectionReason,
	}
	if r.ProcessedAt != nil {
		dto.ProcessedAt = r.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// COUPONS
// =============================================================================

// BatchSpecRequest describes one batch to issue.
type BatchSpecRequest struct {
	Description   string `json:"description"`
	DiscountValue int64  `json:"discount_value"`
	DiscountType  string `json:"discount_type"`
	Quantity      int    `json:"quantity"`
	UsageLimit    int    `json:"usage_limit"`
	CouponPoints  int64  `json:"coupon_points"`
	ExpiryDate    string `json:"expiry_date"` // YYYY-MM-DD
}

// CreateBatchRequest is the body of POST /api/coupons/batches.
type CreateBatchRequest struct {
	VerificationAppID string `json:"verification_app_id"`
	BatchSpecRequest
}

// CreateMultiBatchRequest is the body of POST /api/coupons/batches/multi.
type CreateMultiBatchRequest struct {
	VerificationAppID string             `json:"verification_app_id"`
	Batches           []BatchSpecRequest `json:"batches"`
}

// PrintBatchRequest carries the optional print note.
type PrintBatchRequest struct {
	Note string `json:"note"`
}

// DeactivateCouponRequest carries the mandatory deactivation reason.
type DeactivateCouponRequest struct {
	Reason string `json:"reason"`
}

// CouponDTO represents a coupon in responses.
type CouponDTO struct {
	Code          string `json:"code"`
	BatchID       string `json:"batch_id"`
	AppID         string `json:"verification_app_id,omitempty"`
	DiscountValue string `json:"discount_value"`
	DiscountType  string `json:"discount_type"`
	Status        string `json:"status"`
	UsageLimit    int    `json:"usage_limit"`
	CouponPoints  string `json:"coupon_points"`
	ExpiryDate    string `json:"expiry_date"`
	CreatedAt     string `json:"created_at"`
}

func toCouponDTO(c engine.Coupon) CouponDTO {
	return CouponDTO{
		Code:          c.Code,
		BatchID:       string(c.BatchID),
		AppID:         string(c.VerificationAppID),
		DiscountValue: c.DiscountValue.Value.String(),
		DiscountType:  string(c.DiscountType),
		Status:        string(c.Status),
		UsageLimit:    c.UsageLimit,
		CouponPoints:  c.CouponPoints.Value.String(),
		ExpiryDate:    c.ExpiryDate.Format("2006-01-02"),
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
	}
}

// IssueResultDTO is the response of batch issuance.
type IssueResultDTO struct {
	BatchIDs   []string    `json:"batch_ids"`
	Coupons    []CouponDTO `json:"coupons"`
	CreditCost string      `json:"credit_cost"`
	NewBalance string      `json:"new_balance"`
}

func toIssueResultDTO(r *engine.IssueResult) IssueResultDTO {
	dto := IssueResultDTO{
		CreditCost: r.CreditCost.Value.String(),
		NewBalance: r.NewBalance.Value.String(),
	}
	for _, b := range r.Batches {
		dto.BatchIDs = append(dto.BatchIDs, string(b.ID))
	}
	for _, c := range r.Coupons {
		dto.Coupons = append(dto.Coupons, toCouponDTO(c))
	}
	return dto
}

// =============================================================================
// SCAN
// =============================================================================

// ScanRequest is the body of POST /api/scan and POST /api/external/scan.
type ScanRequest struct {
	CouponCode string `json:"coupon_code"`
	CustomerID string `json:"customer_id"`
	Location   string `json:"location,omitempty"`
	DeviceInfo string `json:"device_info,omitempty"`
}

// ScanResultDTO is the response of a successful redemption.
type ScanResultDTO struct {
	ScanID        string    `json:"scan_id"`
	Coupon        CouponDTO `json:"coupon"`
	PointsAwarded string    `json:"points_awarded"`
	PointsBalance string    `json:"points_balance"`
}

func toScanResultDTO(r *engine.ScanResult) ScanResultDTO {
	return ScanResultDTO{
		ScanID:        string(r.ScanID),
		Coupon:        toCouponDTO(r.Coupon),
		PointsAwarded: r.PointsAwarded.Value.String(),
		PointsBalance: r.PointsBalance.Value.String(),
	}
}

// =============================================================================
// POINTS
// =============================================================================

// PointsBalanceDTO reports a customer's reward balance.
type PointsBalanceDTO struct {
	TenantID    string `json:"tenant_id"`
	CustomerID  string `json:"customer_id"`
	Balance     string `json:"balance"`
	TotalEarned string `json:"total_earned"`
	TotalSpent  string `json:"total_spent"`
}

func toPointsBalanceDTO(b *engine.PointsBalance) PointsBalanceDTO {
	return PointsBalanceDTO{
		TenantID:    string(b.TenantID),
		CustomerID:  string(b.CustomerID),
		Balance:     b.Balance.Value.String(),
		TotalEarned: b.TotalEarned.Value.String(),
		TotalSpent:  b.TotalSpent.Value.String(),
	}
}

// RedeemProductRequest is the body of POST /api/external/points/redeem.
type RedeemProductRequest struct {
	CustomerID string `json:"customer_id"`
	ProductID  string `json:"product_id"`
	Points     int64  `json:"points"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

/*
request.go - Credit request workflow

PURPOSE:
  Tenants request additional prepaid credit; a platform operator approves or
  rejects. On approval the credit ledger is credited inside the same store
  transaction that flips the request to approved, then a notification is
  emitted fire-and-forget.

REQUEST FLOW:
  tenant submits ──▶ pending ──▶ approved  (ledger +amount, notify)
                         └─────▶ rejected  (reason recorded, no ledger touch)

  Both outcomes are terminal. A tenant may hold at most one pending request
  at a time; a new request is allowed immediately after resolution.

ROLE GATING:
  Only a tenant-scoped actor may request; only the platform operator may
  approve or reject. The operator never requests on a tenant's behalf.

SEE ALSO:
  - ledger.go: ApplyDelta invoked on approval
  - notifier.go: Event emission
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MinCreditRequest is the platform-wide minimum for a single request.
var MinCreditRequest = NewCredits(100)

// =============================================================================
// CREDIT REQUEST
// =============================================================================

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

type CreditRequest struct {
	ID              RequestID
	TenantID        TenantID
	RequestedAmount Amount
	Justification   string
	Status          RequestStatus
	RequestedAt     time.Time
	ProcessedAt     *time.Time
	ProcessedBy     string
	RejectionReason string
}

// =============================================================================
// REQUEST SERVICE
// =============================================================================

type RequestService struct {
	Store    TxStore
	Notifier Notifier
	Clock    func() time.Time
}

func NewRequestService(store TxStore, notifier Notifier) *RequestService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &RequestService{Store: store, Notifier: notifier, Clock: time.Now}
}

// Request creates a pending credit request for the actor's tenant.
func (rs *RequestService) Request(ctx context.Context, actor Principal, amount Amount, justification string) (*CreditRequest, error) {
	if actor.Role != RoleTenant {
		return nil, fmt.Errorf("%w: only tenant actors may request credits", ErrForbidden)
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if amount.LessThan(MinCreditRequest) {
		return nil, fmt.Errorf("%w: requested %v, minimum %v",
			ErrBelowMinimum, amount.Value, MinCreditRequest.Value)
	}

	req := CreditRequest{
		ID:              RequestID(uuid.NewString()),
		TenantID:        actor.TenantID,
		RequestedAmount: amount,
		Justification:   justification,
		Status:          RequestPending,
		RequestedAt:     rs.now(),
	}

	// The pending-uniqueness check and the insert share one transaction so
	// two racing requests cannot both observe "no pending row".
	err := rs.Store.WithTx(ctx, func(s Store) error {
		pending, err := s.HasPendingCreditRequest(ctx, actor.TenantID)
		if err != nil {
			return err
		}
		if pending {
			return ErrDuplicatePendingRequest
		}
		return s.InsertCreditRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Approve resolves a pending request, credits the tenant's ledger, and
// emits a notification. The ledger credit and the status flip commit
// together; notification failure never rolls back the approval.
func (rs *RequestService) Approve(ctx context.Context, actor Principal, id RequestID) (*CreditRequest, error) {
	if actor.Role != RoleOperator {
		return nil, fmt.Errorf("%w: only the platform operator may approve", ErrForbidden)
	}

	var approved CreditRequest
	now := rs.now()
	err := rs.Store.WithTx(ctx, func(s Store) error {
		req, err := s.GetCreditRequest(ctx, id)
		if err != nil {
			return err
		}
		if req == nil || req.Status != RequestPending {
			return fmt.Errorf("%w: no pending credit request %s", ErrNotFound, id)
		}

		if _, _, err := applyCreditDelta(ctx, s, now, req.TenantID, req.RequestedAmount, Reference{
			ID:          string(req.ID),
			Type:        RefCreditRequest,
			Description: "credit request approved",
			Actor:       actor.UserID,
		}); err != nil {
			return err
		}

		req.Status = RequestApproved
		req.ProcessedAt = &now
		req.ProcessedBy = actor.UserID
		if err := s.UpdateCreditRequest(ctx, *req); err != nil {
			return err
		}
		approved = *req
		return nil
	})
	if err != nil {
		return nil, err
	}

	rs.Notifier.Notify(Event{
		Type:     EventCreditRequestApproved,
		TenantID: approved.TenantID,
		Subject:  fmt.Sprintf("Credit request for %v credits approved", approved.RequestedAmount.Value),
		Detail: map[string]string{
			"request_id": string(approved.ID),
			"amount":     approved.RequestedAmount.Value.String(),
		},
		OccurredAt: now,
	})
	return &approved, nil
}

// Reject resolves a pending request without touching the ledger. A reason
// is mandatory and is recorded on the request.
func (rs *RequestService) Reject(ctx context.Context, actor Principal, id RequestID, reason string) (*CreditRequest, error) {
	if actor.Role != RoleOperator {
		return nil, fmt.Errorf("%w: only the platform operator may reject", ErrForbidden)
	}
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}

	var rejected CreditRequest
	now := rs.now()
	err := rs.Store.WithTx(ctx, func(s Store) error {
		req, err := s.GetCreditRequest(ctx, id)
		if err != nil {
			return err
		}
		if req == nil || req.Status != RequestPending {
			return fmt.Errorf("%w: no pending credit request %s", ErrNotFound, id)
		}

		req.Status = RequestRejected
		req.ProcessedAt = &now
		req.ProcessedBy = actor.UserID
		req.RejectionReason = reason
		if err := s.UpdateCreditRequest(ctx, *req); err != nil {
			return err
		}
		rejected = *req
		return nil
	})
	if err != nil {
		return nil, err
	}

	rs.Notifier.Notify(Event{
		Type:     EventCreditRequestRejected,
		TenantID: rejected.TenantID,
		Subject:  "Credit request rejected",
		Detail: map[string]string{
			"request_id": string(rejected.ID),
			"reason":     reason,
		},
		OccurredAt: now,
	})
	return &rejected, nil
}

// ListPending returns every pending request across tenants, oldest first.
// Operator-facing.
func (rs *RequestService) ListPending(ctx context.Context, actor Principal) ([]CreditRequest, error) {
	if actor.Role != RoleOperator {
		return nil, fmt.Errorf("%w: only the platform operator may list pending requests", ErrForbidden)
	}
	return rs.Store.ListPendingCreditRequests(ctx)
}

func (rs *RequestService) now() time.Time {
	if rs.Clock != nil {
		return rs.Clock()
	}
	return time.Now()
}

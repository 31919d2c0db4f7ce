/*
notifier.go - Fire-and-forget event emission

PURPOSE:
  Decouples notification side effects from the transactional path. Services
  emit events AFTER their store transaction commits; delivery failure is the
  sink's problem and never rolls back or fails the originating operation.

SEE ALSO:
  - notify/: Outbox dispatcher with log and SMTP sinks
*/
package engine

import "time"

type EventType string

const (
	EventCreditRequestApproved EventType = "credit_request.approved"
	EventCreditRequestRejected EventType = "credit_request.rejected"
	EventBatchPrinted          EventType = "coupon_batch.printed"
	EventBatchActivated        EventType = "coupon_batch.activated"
)

// Event is the payload handed to the notification collaborator.
type Event struct {
	Type       EventType
	TenantID   TenantID
	Subject    string
	Detail     map[string]string
	OccurredAt time.Time
}

// Notifier delivers events. Implementations must not block the caller and
// must swallow delivery errors (logging them is their business).
type Notifier interface {
	Notify(event Event)
}

// NopNotifier discards events. Default when no sink is wired.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

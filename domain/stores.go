package domain

import (
	"context"
	"time"
)

// ReservationStore is the durable collection of reservation records.
// All mutations are single-document atomic updates.
type ReservationStore interface {
	Insert(ctx context.Context, reservation *Reservation) (*Reservation, error)
	Get(ctx context.Context, id string) (*Reservation, error)
	// GetActiveByProduct returns every reservation for the product whose
	// status is in the active set, legacy spellings included.
	GetActiveByProduct(ctx context.Context, productID string) ([]*Reservation, error)
	GetByOrder(ctx context.Context, orderID string) ([]*Reservation, error)
	// ListFaults returns reservations needing manual follow-up: marked with a
	// validation fault, or still unvalidated and created before the cutoff.
	ListFaults(ctx context.Context, createdBefore time.Time) ([]*Reservation, error)
	MarkValidated(ctx context.Context, id string, at time.Time) error
	MarkRejected(ctx context.Context, id string, conflictingID string, at time.Time) error
	MarkValidationFault(ctx context.Context, id string, message string) error
	SetStatus(ctx context.Context, id string, status ReservationStatus, at time.Time) error
}

type OrderStore interface {
	Insert(ctx context.Context, order *Order) (*Order, error)
	Get(ctx context.Context, id string) (*Order, error)
	// GetByAsaasPaymentID finds the single order whose payment.asaasId matches.
	GetByAsaasPaymentID(ctx context.Context, paymentID string) (*Order, error)
	MarkRejected(ctx context.Context, id string, reason string) error
	// ApplyWebhookEvent sets the order status and raw provider event, replaces
	// the last-event marker and appends to the audit log in one update.
	ApplyWebhookEvent(ctx context.Context, id string, status OrderStatus, rawEvent string, record WebhookEventRecord) error
}

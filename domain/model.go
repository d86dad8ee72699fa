package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ReservationStatus string

const (
	StatusPending         ReservationStatus = "pending"
	StatusPendingApproval ReservationStatus = "pending_approval"
	StatusApproved        ReservationStatus = "approved"
	StatusConfirmed       ReservationStatus = "confirmed"
	StatusRented          ReservationStatus = "rented"
	StatusRejected        ReservationStatus = "rejected"
	StatusCancelled       ReservationStatus = "cancelled"
	StatusFinalized       ReservationStatus = "finalized"
)

// The old storefront wrote statuses in a mix of English and Portuguese.
// Legacy spellings are mapped to the canonical set when documents are read
// or accepted from clients, so no other package branches on raw strings.
var legacyStatusAliases = map[string]ReservationStatus{
	"pendente":   StatusPending,
	"aprovada":   StatusApproved,
	"confirmada": StatusConfirmed,
	"alugado":    StatusRented,
	"rejeitada":  StatusRejected,
	"cancelada":  StatusCancelled,
	"finalizada": StatusFinalized,
}

func NormalizeStatus(raw string) ReservationStatus {
	if canonical, ok := legacyStatusAliases[raw]; ok {
		return canonical
	}
	return ReservationStatus(raw)
}

// activeStatuses is the single definition of which reservations hold their
// date range against new bookings. Both the conflict scan and the webhook
// cascade filter use it.
var activeStatuses = map[ReservationStatus]bool{
	StatusPending:         true,
	StatusPendingApproval: true,
	StatusApproved:        true,
	StatusConfirmed:       true,
	StatusRented:          true,
}

func (s ReservationStatus) Active() bool {
	return activeStatuses[NormalizeStatus(string(s))]
}

// ActiveStatusValues lists every raw status value (canonical and legacy) that
// counts as active, for use in store-level "$in" predicates.
func ActiveStatusValues() []string {
	values := make([]string, 0, len(activeStatuses)+len(legacyStatusAliases))
	for status := range activeStatuses {
		values = append(values, string(status))
	}
	for raw, canonical := range legacyStatusAliases {
		if activeStatuses[canonical] {
			values = append(values, raw)
		}
	}
	return values
}

const (
	RejectionConflictDates       = "conflict_dates"
	RejectionReservationConflict = "reservation_conflict"
)

type Reservation struct {
	ID                       primitive.ObjectID `bson:"_id" json:"id"`
	ProductID                string             `bson:"productId" json:"productId"`
	DateStart                time.Time          `bson:"dateStart" json:"dateStart"`
	DateEnd                  time.Time          `bson:"dateEnd" json:"dateEnd"`
	Status                   ReservationStatus  `bson:"status" json:"status"`
	Validated                bool               `bson:"validated" json:"validated"`
	ValidatedAt              *time.Time         `bson:"validatedAt,omitempty" json:"validatedAt,omitempty"`
	ValidationError          bool               `bson:"validationError,omitempty" json:"validationError,omitempty"`
	ValidationErrorMessage   string             `bson:"validationErrorMessage,omitempty" json:"validationErrorMessage,omitempty"`
	RejectionReason          string             `bson:"rejectionReason,omitempty" json:"rejectionReason,omitempty"`
	ConflictingReservationID string             `bson:"conflictingReservationId,omitempty" json:"conflictingReservationId,omitempty"`
	OrderID                  string             `bson:"orderId,omitempty" json:"orderId,omitempty"`
	CreatedAt                time.Time          `bson:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt                time.Time          `bson:"updatedAt,omitempty" json:"updatedAt"`
}

// ValidateDates rejects reversed ranges instead of silently swapping them.
func (r *Reservation) ValidateDates() error {
	if r.DateStart.IsZero() || r.DateEnd.IsZero() {
		return ErrInvalidDateRange
	}
	if r.DateEnd.Before(r.DateStart) {
		return ErrInvalidDateRange
	}
	return nil
}

// Overlaps reports whether two closed date intervals share at least one
// calendar day. Touching boundaries count: a same-day handover is a conflict.
func (r *Reservation) Overlaps(other *Reservation) bool {
	return !r.DateStart.After(other.DateEnd) && !r.DateEnd.Before(other.DateStart)
}

type OrderStatus string

const (
	OrderStatusPendingApproval  OrderStatus = "pending_approval"
	OrderStatusPaymentConfirmed OrderStatus = "payment_confirmed"
	OrderStatusPaymentReceived  OrderStatus = "payment_received"
	OrderStatusOverdue          OrderStatus = "overdue"
	OrderStatusCancelled        OrderStatus = "cancelled"
	OrderStatusRefunded         OrderStatus = "refunded"
	OrderStatusRejected         OrderStatus = "rejected"
)

type OrderItem struct {
	ProductID string  `bson:"productId" json:"productId"`
	Name      string  `bson:"name,omitempty" json:"name,omitempty"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Price     float64 `bson:"price" json:"price"`
}

type OrderPayment struct {
	AsaasID     string  `bson:"asaasId,omitempty" json:"asaasId,omitempty"`
	BillingType string  `bson:"billingType,omitempty" json:"billingType,omitempty"`
	Value       float64 `bson:"value,omitempty" json:"value,omitempty"`
}

// WebhookEventRecord is one applied provider event. The order keeps the most
// recent one in lastWebhookEvent and the full history in webhookLog.
type WebhookEventRecord struct {
	Event      string                 `bson:"event" json:"event"`
	ReceivedAt time.Time              `bson:"receivedAt" json:"receivedAt"`
	Payment    map[string]interface{} `bson:"paymentData,omitempty" json:"paymentData,omitempty"`
}

type Order struct {
	ID               primitive.ObjectID   `bson:"_id" json:"id"`
	CustomerID       string               `bson:"customerId,omitempty" json:"customerId,omitempty"`
	Status           OrderStatus          `bson:"status" json:"status"`
	PaymentStatus    string               `bson:"paymentStatus,omitempty" json:"paymentStatus,omitempty"`
	RejectionReason  string               `bson:"rejectionReason,omitempty" json:"rejectionReason,omitempty"`
	Payment          OrderPayment         `bson:"payment,omitempty" json:"payment,omitempty"`
	Items            []OrderItem          `bson:"items,omitempty" json:"items,omitempty"`
	LastWebhookEvent *WebhookEventRecord  `bson:"lastWebhookEvent,omitempty" json:"lastWebhookEvent,omitempty"`
	WebhookLog       []WebhookEventRecord `bson:"webhookLog,omitempty" json:"webhookLog,omitempty"`
	CreatedAt        time.Time            `bson:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt        time.Time            `bson:"updatedAt,omitempty" json:"updatedAt"`
}

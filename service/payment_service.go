package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentals_service/cache"
	"rentals_service/domain"
)

var ErrMissingPaymentID = errors.New("webhook payment id is missing")

// webhookStatusMap translates Asaas event names into order statuses. Events
// outside the map are acknowledged and ignored.
var webhookStatusMap = map[string]domain.OrderStatus{
	"PAYMENT_CONFIRMED":        domain.OrderStatusPaymentConfirmed,
	"PAYMENT_RECEIVED":         domain.OrderStatusPaymentReceived,
	"PAYMENT_OVERDUE":          domain.OrderStatusOverdue,
	"PAYMENT_DELETED":          domain.OrderStatusCancelled,
	"PAYMENT_REFUND_REQUESTED": domain.OrderStatusCancelled,
	"PAYMENT_REFUNDED":         domain.OrderStatusRefunded,
}

func MapWebhookEvent(event string) (domain.OrderStatus, bool) {
	status, ok := webhookStatusMap[event]
	return status, ok
}

// PaymentService reconciles asynchronous payment-provider events into order
// and reservation state, and issues charges against the provider.
type PaymentService struct {
	orders       domain.OrderStore
	reservations domain.ReservationStore
	gateway      AsaasGateway
	events       *cache.EventCache
	tracer       trace.Tracer
	logger       *logrus.Logger

	// the order may not be indexed yet when the provider calls back,
	// so the lookup gets a short grace window before a 404
	lookupAttempts int
	lookupDelay    time.Duration
}

func NewPaymentService(orders domain.OrderStore, reservations domain.ReservationStore, gateway AsaasGateway, events *cache.EventCache, tracer trace.Tracer, logger *logrus.Logger) *PaymentService {
	return &PaymentService{
		orders:         orders,
		reservations:   reservations,
		gateway:        gateway,
		events:         events,
		tracer:         tracer,
		logger:         logger,
		lookupAttempts: 3,
		lookupDelay:    200 * time.Millisecond,
	}
}

// WebhookOutcome summarizes what one provider event did.
type WebhookOutcome struct {
	Event           string
	Ignored         bool
	OrderID         string
	NewStatus       domain.OrderStatus
	ConfirmedCount  int
	CascadeFailures int
}

type webhookPayment struct {
	ID string `mapstructure:"id"`
}

// ProcessEvent applies one webhook event. Re-delivery of the same event is a
// no-op in effect: every write is an absolute set, never an increment.
func (service *PaymentService) ProcessEvent(ctx context.Context, event string, payment map[string]interface{}) (*WebhookOutcome, error) {
	ctx, span := service.tracer.Start(ctx, "PaymentService.ProcessEvent")
	defer span.End()

	var decoded webhookPayment
	if err := mapstructure.Decode(payment, &decoded); err != nil {
		return nil, ErrMissingPaymentID
	}
	if decoded.ID == "" {
		return nil, ErrMissingPaymentID
	}

	log := service.logger.WithField("event", event).WithField("paymentId", decoded.ID)

	newStatus, mapped := MapWebhookEvent(event)
	if !mapped {
		log.Info("unhandled webhook event, acknowledging without changes")
		return &WebhookOutcome{Event: event, Ignored: true}, nil
	}

	order, err := service.lookupOrder(ctx, decoded.ID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	orderID := order.ID.Hex()

	service.noteDelivery(decoded.ID, event, log)

	record := domain.WebhookEventRecord{
		Event:      event,
		ReceivedAt: time.Now(),
		Payment:    payment,
	}
	if err := service.orders.ApplyWebhookEvent(ctx, orderID, newStatus, event, record); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	log.WithField("orderId", orderID).Infof("order status updated to %s", newStatus)

	outcome := &WebhookOutcome{Event: event, OrderID: orderID, NewStatus: newStatus}

	// Only a confirmed payment flips the linked reservations; every other
	// status change stops at the order.
	if newStatus == domain.OrderStatusPaymentConfirmed || newStatus == domain.OrderStatusPaymentReceived {
		confirmed, failed := service.cascadeConfirmation(ctx, orderID, log)
		outcome.ConfirmedCount = confirmed
		outcome.CascadeFailures = failed
	}

	return outcome, nil
}

func (service *PaymentService) lookupOrder(ctx context.Context, paymentID string) (*domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < service.lookupAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(service.lookupDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		order, err := service.orders.GetByAsaasPaymentID(ctx, paymentID)
		if err == nil {
			return order, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
	}
	return nil, lastErr
}

// cascadeConfirmation sets every reservation of the order to confirmed. A
// failure on one reservation never blocks the remaining ones.
func (service *PaymentService) cascadeConfirmation(ctx context.Context, orderID string, log *logrus.Entry) (confirmed, failed int) {
	reservations, err := service.reservations.GetByOrder(ctx, orderID)
	if err != nil {
		log.WithError(err).Error("could not list reservations for confirmation cascade")
		return 0, 0
	}

	now := time.Now()
	for _, reservation := range reservations {
		id := reservation.ID.Hex()
		if err := service.reservations.SetStatus(ctx, id, domain.StatusConfirmed, now); err != nil {
			failed++
			log.WithError(err).WithField("reservationId", id).Error("could not confirm reservation")
			continue
		}
		confirmed++
	}
	log.Infof("%d reserva(s) confirmada(s)", confirmed)
	return confirmed, failed
}

func (service *PaymentService) noteDelivery(paymentID, event string, log *logrus.Entry) {
	if service.events == nil {
		return
	}
	last, err := service.events.GetLastEvent(paymentID)
	if err == nil && last == event {
		log.Warn("duplicate webhook delivery detected")
	}
	if err := service.events.SetLastEvent(paymentID, event); err != nil {
		log.WithError(err).Debug("could not record webhook event in cache")
	}
}

// ChargeInput mirrors the storefront checkout request for a new charge.
type ChargeInput struct {
	Valor          float64
	CpfCnpj        string
	Nome           string
	FormaPagamento string
}

// ChargeResult carries the provider identifiers the storefront needs to show
// the payment link to the customer.
type ChargeResult struct {
	ID          string `json:"id"`
	InvoiceURL  string `json:"invoiceUrl"`
	BankSlipURL string `json:"bankSlipUrl"`
}

const chargeDescription = "Locação de Equipamentos - EXS Solutions"

// CreateCharge finds or creates the Asaas customer for the given document
// number and issues a charge due in three days.
func (service *PaymentService) CreateCharge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	ctx, span := service.tracer.Start(ctx, "PaymentService.CreateCharge")
	defer span.End()

	log := service.logger.WithField("cpfCnpj", input.CpfCnpj)

	customerID, err := service.gateway.FindCustomerByCpfCnpj(ctx, input.CpfCnpj)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if customerID == "" {
		log.Info("customer not found at provider, creating")
		customerID, err = service.gateway.CreateCustomer(ctx, input.Nome, input.CpfCnpj)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	dueDate := time.Now().AddDate(0, 0, 3)
	charge, err := service.gateway.CreateCharge(ctx, AsaasChargeRequest{
		Customer:          customerID,
		BillingType:       input.FormaPagamento,
		Value:             input.Valor,
		DueDate:           dueDate.Format("2006-01-02"),
		Description:       chargeDescription,
		ExternalReference: uuid.NewString(),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	log.WithField("chargeId", charge.ID).Info("charge created at provider")
	return &ChargeResult{
		ID:          charge.ID,
		InvoiceURL:  charge.InvoiceURL,
		BankSlipURL: charge.BankSlipURL,
	}, nil
}

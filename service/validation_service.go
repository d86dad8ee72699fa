package application

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentals_service/domain"
)

// productLockCount fixes the size of the lock pool, so memory stays bounded
// however many distinct products show up.
const productLockCount = 64

// ValidationService runs the date-conflict check for newly created
// reservations and answers on-demand conflict queries.
type ValidationService struct {
	reservations domain.ReservationStore
	orders       domain.OrderStore
	mailer       *Mailer
	tracer       trace.Tracer
	logger       *logrus.Logger

	// striped by productId hash so two near-simultaneous creations for the
	// same product are validated one at a time within this process
	productLocks [productLockCount]sync.Mutex
}

func NewValidationService(reservations domain.ReservationStore, orders domain.OrderStore, mailer *Mailer, tracer trace.Tracer, logger *logrus.Logger) *ValidationService {
	return &ValidationService{
		reservations: reservations,
		orders:       orders,
		mailer:       mailer,
		tracer:       tracer,
		logger:       logger,
	}
}

// ValidationOutcome is the persisted result of one trigger invocation.
type ValidationOutcome struct {
	ReservationID string
	AlreadyDone   bool
	Rejected      bool
	ConflictingID string
	Fault         bool
	FaultMessage  string
}

// HandleReservationCreated is the trigger entry point, invoked once per
// created reservation with at-least-once delivery. It never returns an error:
// infrastructural failures are recorded on the reservation itself so the
// trigger pipeline is never poisoned, and the record surfaces in the
// administrative fault listing instead.
func (service *ValidationService) HandleReservationCreated(ctx context.Context, created *domain.Reservation) *ValidationOutcome {
	ctx, span := service.tracer.Start(ctx, "ValidationService.HandleReservationCreated")
	defer span.End()

	reservationID := created.ID.Hex()
	log := service.logger.WithField("reservationId", reservationID).WithField("productId", created.ProductID)

	unlock := service.lockProduct(created.ProductID)
	defer unlock()

	outcome, err := service.validate(ctx, reservationID, log)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("reservation validation failed, recording fault")

		message := err.Error()
		if faultErr := service.reservations.MarkValidationFault(ctx, reservationID, message); faultErr != nil {
			// Nothing left to record the evidence on; the fault listing
			// still catches the reservation through the validated=false cutoff.
			log.WithError(faultErr).Error("could not persist validation fault")
		}
		service.alertOps(reservationID, message, log)
		return &ValidationOutcome{ReservationID: reservationID, Fault: true, FaultMessage: message}
	}
	return outcome
}

func (service *ValidationService) validate(ctx context.Context, reservationID string, log *logrus.Entry) (*ValidationOutcome, error) {
	// Re-read inside the product lock so redeliveries and racing creations
	// always see the freshest state.
	reservation, err := service.reservations.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if reservation.Validated {
		log.Info("reservation already validated, skipping")
		return &ValidationOutcome{ReservationID: reservationID, AlreadyDone: true}, nil
	}

	if reservation.ProductID == "" {
		return nil, domain.ErrProductRequired
	}
	if err := reservation.ValidateDates(); err != nil {
		return nil, err
	}

	conflictingID, err := service.firstConflict(ctx, reservation)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if conflictingID != "" {
		if err := service.reservations.MarkRejected(ctx, reservationID, conflictingID, now); err != nil {
			return nil, err
		}
		log.WithField("conflictingReservationId", conflictingID).Warn("reservation rejected: date conflict")

		// The reservation rejection is the source of truth; a failed order
		// update is logged and left for reconciliation, not propagated.
		if reservation.OrderID != "" {
			if err := service.orders.MarkRejected(ctx, reservation.OrderID, domain.RejectionReservationConflict); err != nil {
				log.WithError(err).WithField("orderId", reservation.OrderID).Error("could not cascade rejection to order")
			}
		}
		return &ValidationOutcome{ReservationID: reservationID, Rejected: true, ConflictingID: conflictingID}, nil
	}

	if err := service.reservations.MarkValidated(ctx, reservationID, now); err != nil {
		return nil, err
	}
	log.Info("reservation approved: no conflicts")
	return &ValidationOutcome{ReservationID: reservationID}, nil
}

// firstConflict returns the id of the first active reservation for the same
// product whose closed date interval overlaps the candidate's, or "".
func (service *ValidationService) firstConflict(ctx context.Context, candidate *domain.Reservation) (string, error) {
	active, err := service.reservations.GetActiveByProduct(ctx, candidate.ProductID)
	if err != nil {
		return "", err
	}

	candidateID := candidate.ID.Hex()
	for _, existing := range active {
		if existing.ID.Hex() == candidateID {
			continue
		}
		if candidate.Overlaps(existing) {
			return existing.ID.Hex(), nil
		}
	}
	return "", nil
}

// ConflictReport is the response of the on-demand validation endpoint.
type ConflictReport struct {
	ReservaID   string   `json:"reservaId"`
	HasConflict bool     `json:"hasConflict"`
	Conflicts   []string `json:"conflicts"`
	Message     string   `json:"message"`
}

// CheckConflicts runs the same overlap scan as the trigger but never mutates
// anything, and reports every conflicting id rather than the first one. Safe
// to call on already validated or rejected reservations.
func (service *ValidationService) CheckConflicts(ctx context.Context, reservaID string) (*ConflictReport, error) {
	ctx, span := service.tracer.Start(ctx, "ValidationService.CheckConflicts")
	defer span.End()

	reservation, err := service.reservations.Get(ctx, reservaID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := reservation.ValidateDates(); err != nil {
		return nil, err
	}

	active, err := service.reservations.GetActiveByProduct(ctx, reservation.ProductID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	conflicts := []string{}
	for _, existing := range active {
		if existing.ID.Hex() == reservaID {
			continue
		}
		if reservation.Overlaps(existing) {
			conflicts = append(conflicts, existing.ID.Hex())
		}
	}

	message := "Sem conflitos detectados"
	if len(conflicts) > 0 {
		message = fmt.Sprintf("Encontrados %d conflito(s)", len(conflicts))
	}

	return &ConflictReport{
		ReservaID:   reservaID,
		HasConflict: len(conflicts) > 0,
		Conflicts:   conflicts,
		Message:     message,
	}, nil
}

// ListFaults backs the administrative follow-up view required by the
// fail-open trigger design.
func (service *ValidationService) ListFaults(ctx context.Context, grace time.Duration) ([]*domain.Reservation, error) {
	ctx, span := service.tracer.Start(ctx, "ValidationService.ListFaults")
	defer span.End()

	return service.reservations.ListFaults(ctx, time.Now().Add(-grace))
}

func (service *ValidationService) lockProduct(productID string) func() {
	h := fnv.New32a()
	h.Write([]byte(productID))
	mu := &service.productLocks[h.Sum32()%productLockCount]
	mu.Lock()
	return mu.Unlock
}

func (service *ValidationService) alertOps(reservationID, message string, log *logrus.Entry) {
	if service.mailer == nil {
		return
	}
	if err := service.mailer.SendValidationAlert(reservationID, message); err != nil {
		log.WithError(err).Warn("could not send validation alert mail")
	}
}

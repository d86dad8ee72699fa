package inmemory

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"rentals_service/domain"
)

// ReservationStore is a mutex-guarded map implementation used for local runs
// without a document database and as a fixture in tests.
type ReservationStore struct {
	mu    sync.RWMutex
	items map[string]domain.Reservation
}

func NewReservationStore() *ReservationStore {
	return &ReservationStore{
		items: make(map[string]domain.Reservation),
	}
}

func (s *ReservationStore) Insert(ctx context.Context, reservation *domain.Reservation) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reservation.ID.IsZero() {
		reservation.ID = primitive.NewObjectID()
	}
	reservation.Status = domain.NormalizeStatus(string(reservation.Status))

	stored := *reservation
	s.items[stored.ID.Hex()] = stored
	return reservation, nil
}

func (s *ReservationStore) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservation, ok := s.items[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	copied := reservation
	return &copied, nil
}

func (s *ReservationStore) GetActiveByProduct(ctx context.Context, productID string) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Reservation
	for _, reservation := range s.items {
		if reservation.ProductID != productID {
			continue
		}
		if !reservation.Status.Active() {
			continue
		}
		copied := reservation
		result = append(result, &copied)
	}
	return result, nil
}

func (s *ReservationStore) GetByOrder(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Reservation
	for _, reservation := range s.items {
		if reservation.OrderID != orderID {
			continue
		}
		copied := reservation
		result = append(result, &copied)
	}
	return result, nil
}

func (s *ReservationStore) ListFaults(ctx context.Context, createdBefore time.Time) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Reservation
	for _, reservation := range s.items {
		if reservation.ValidationError || (!reservation.Validated && reservation.CreatedAt.Before(createdBefore)) {
			copied := reservation
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *ReservationStore) MarkValidated(ctx context.Context, id string, at time.Time) error {
	return s.update(id, func(r *domain.Reservation) {
		r.Validated = true
		r.ValidatedAt = &at
		r.UpdatedAt = at
	})
}

func (s *ReservationStore) MarkRejected(ctx context.Context, id string, conflictingID string, at time.Time) error {
	return s.update(id, func(r *domain.Reservation) {
		r.Status = domain.StatusRejected
		r.RejectionReason = domain.RejectionConflictDates
		r.ConflictingReservationID = conflictingID
		r.Validated = true
		r.ValidatedAt = &at
		r.UpdatedAt = at
	})
}

func (s *ReservationStore) MarkValidationFault(ctx context.Context, id string, message string) error {
	return s.update(id, func(r *domain.Reservation) {
		r.ValidationError = true
		r.ValidationErrorMessage = message
		r.UpdatedAt = time.Now()
	})
}

func (s *ReservationStore) SetStatus(ctx context.Context, id string, status domain.ReservationStatus, at time.Time) error {
	return s.update(id, func(r *domain.Reservation) {
		r.Status = status
		r.UpdatedAt = at
	})
}

func (s *ReservationStore) update(id string, apply func(*domain.Reservation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, ok := s.items[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	apply(&reservation)
	s.items[id] = reservation
	return nil
}

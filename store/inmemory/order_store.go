package inmemory

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"rentals_service/domain"
)

type OrderStore struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{
		items: make(map[string]domain.Order),
	}
}

func (s *OrderStore) Insert(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	stored := *order
	s.items[stored.ID.Hex()] = stored
	return order, nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.items[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copied := order
	return &copied, nil
}

func (s *OrderStore) GetByAsaasPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.items {
		if order.Payment.AsaasID == paymentID {
			copied := order
			return &copied, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *OrderStore) MarkRejected(ctx context.Context, id string, reason string) error {
	return s.update(id, func(o *domain.Order) {
		o.Status = domain.OrderStatusRejected
		o.RejectionReason = reason
		o.UpdatedAt = time.Now()
	})
}

func (s *OrderStore) ApplyWebhookEvent(ctx context.Context, id string, status domain.OrderStatus, rawEvent string, record domain.WebhookEventRecord) error {
	return s.update(id, func(o *domain.Order) {
		o.Status = status
		o.PaymentStatus = rawEvent
		o.LastWebhookEvent = &record
		o.WebhookLog = append(o.WebhookLog, record)
		o.UpdatedAt = record.ReceivedAt
	})
}

func (s *OrderStore) update(id string, apply func(*domain.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	apply(&order)
	s.items[id] = order
	return nil
}

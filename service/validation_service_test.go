package application

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"rentals_service/domain"
	"rentals_service/store/inmemory"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func newValidationFixture() (*ValidationService, *inmemory.ReservationStore, *inmemory.OrderStore) {
	reservations := inmemory.NewReservationStore()
	orders := inmemory.NewOrderStore()
	service := NewValidationService(reservations, orders, nil, testTracer(), testLogger())
	return service, reservations, orders
}

func insertReservation(t *testing.T, store *inmemory.ReservationStore, reservation *domain.Reservation) *domain.Reservation {
	t.Helper()
	created, err := store.Insert(context.Background(), reservation)
	require.NoError(t, err)
	return created
}

func pendingReservation(productID, start, end string) *domain.Reservation {
	return &domain.Reservation{
		ProductID: productID,
		DateStart: day(start),
		DateEnd:   day(end),
		Status:    domain.StatusPending,
		CreatedAt: time.Now(),
	}
}

func TestHandleReservationCreated_NoConflict(t *testing.T) {
	service, reservations, _ := newValidationFixture()

	created := insertReservation(t, reservations, pendingReservation("prod-1", "2026-03-10", "2026-03-15"))

	outcome := service.HandleReservationCreated(context.Background(), created)

	require.False(t, outcome.Fault)
	assert.False(t, outcome.Rejected)

	stored, err := reservations.Get(context.Background(), created.ID.Hex())
	require.NoError(t, err)
	assert.True(t, stored.Validated)
	require.NotNil(t, stored.ValidatedAt)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Empty(t, stored.ConflictingReservationID)
}

func TestHandleReservationCreated_RejectsOnConflict(t *testing.T) {
	service, reservations, orders := newValidationFixture()

	order, err := orders.Insert(context.Background(), &domain.Order{Status: domain.OrderStatusPendingApproval})
	require.NoError(t, err)

	existing := insertReservation(t, reservations, &domain.Reservation{
		ProductID: "prod-1",
		DateStart: day("2026-03-10"),
		DateEnd:   day("2026-03-20"),
		Status:    domain.StatusApproved,
		Validated: true,
	})

	candidate := pendingReservation("prod-1", "2026-03-18", "2026-03-25")
	candidate.OrderID = order.ID.Hex()
	created := insertReservation(t, reservations, candidate)

	outcome := service.HandleReservationCreated(context.Background(), created)

	require.False(t, outcome.Fault)
	require.True(t, outcome.Rejected)
	assert.Equal(t, existing.ID.Hex(), outcome.ConflictingID)

	stored, err := reservations.Get(context.Background(), created.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.Status)
	assert.Equal(t, domain.RejectionConflictDates, stored.RejectionReason)
	assert.Equal(t, existing.ID.Hex(), stored.ConflictingReservationID)
	assert.True(t, stored.Validated)

	// the rejection reaches the linked order too
	storedOrder, err := orders.Get(context.Background(), order.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, storedOrder.Status)
	assert.Equal(t, domain.RejectionReservationConflict, storedOrder.RejectionReason)

	// the existing reservation is untouched
	untouched, err := reservations.Get(context.Background(), existing.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, untouched.Status)
}

func TestHandleReservationCreated_OtherProductDoesNotConflict(t *testing.T) {
	service, reservations, _ := newValidationFixture()

	insertReservation(t, reservations, &domain.Reservation{
		ProductID: "prod-other",
		DateStart: day("2026-03-10"),
		DateEnd:   day("2026-03-20"),
		Status:    domain.StatusApproved,
		Validated: true,
	})

	created := insertReservation(t, reservations, pendingReservation("prod-1", "2026-03-12", "2026-03-15"))

	outcome := service.HandleReservationCreated(context.Background(), created)
	assert.False(t, outcome.Rejected)
	assert.False(t, outcome.Fault)
}

func TestHandleReservationCreated_InactiveStatusesDoNotBlock(t *testing.T) {
	service, reservations, _ := newValidationFixture()

	for _, status := range []domain.ReservationStatus{domain.StatusRejected, domain.StatusCancelled, domain.StatusFinalized} {
		insertReservation(t, reservations, &domain.Reservation{
			ProductID: "prod-1",
			DateStart: day("2026-03-10"),
			DateEnd:   day("2026-03-20"),
			Status:    status,
			Validated: true,
		})
	}

	created := insertReservation(t, reservations, pendingReservation("prod-1", "2026-03-12", "2026-03-15"))

	outcome := service.HandleReservationCreated(context.Background(), created)
	assert.False(t, outcome.Rejected)
	assert.False(t, outcome.Fault)
}

// countingReservationStore counts state-changing calls to prove the trigger is
// idempotent under redelivery.
type countingReservationStore struct {
	*inmemory.ReservationStore
	mu            sync.Mutex
	markValidated int
}

func (s *countingReservationStore) MarkValidated(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	s.markValidated++
	s.mu.Unlock()
	return s.ReservationStore.MarkValidated(ctx, id, at)
}

func TestHandleReservationCreated_RedeliveryIsNoOp(t *testing.T) {
	reservations := &countingReservationStore{ReservationStore: inmemory.NewReservationStore()}
	service := NewValidationService(reservations, inmemory.NewOrderStore(), nil, testTracer(), testLogger())

	created := insertReservation(t, reservations.ReservationStore, pendingReservation("prod-1", "2026-03-10", "2026-03-15"))

	first := service.HandleReservationCreated(context.Background(), created)
	second := service.HandleReservationCreated(context.Background(), created)

	assert.False(t, first.AlreadyDone)
	assert.True(t, second.AlreadyDone)
	assert.Equal(t, 1, reservations.markValidated)
}

// faultyReservationStore fails the overlap scan to exercise the fail-open path.
type faultyReservationStore struct {
	*inmemory.ReservationStore
}

func (s *faultyReservationStore) GetActiveByProduct(ctx context.Context, productID string) ([]*domain.Reservation, error) {
	return nil, errors.New("store unavailable")
}

func TestHandleReservationCreated_RecordsFaultOnStoreError(t *testing.T) {
	reservations := &faultyReservationStore{ReservationStore: inmemory.NewReservationStore()}
	service := NewValidationService(reservations, inmemory.NewOrderStore(), nil, testTracer(), testLogger())

	created := insertReservation(t, reservations.ReservationStore, pendingReservation("prod-1", "2026-03-10", "2026-03-15"))

	outcome := service.HandleReservationCreated(context.Background(), created)

	require.True(t, outcome.Fault)
	assert.Contains(t, outcome.FaultMessage, "store unavailable")

	stored, err := reservations.Get(context.Background(), created.ID.Hex())
	require.NoError(t, err)
	assert.True(t, stored.ValidationError)
	assert.Contains(t, stored.ValidationErrorMessage, "store unavailable")
	assert.False(t, stored.Validated)

	// a fault is not a rejection
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestHandleReservationCreated_InvalidDatesRecordFault(t *testing.T) {
	service, reservations, _ := newValidationFixture()

	created := insertReservation(t, reservations, pendingReservation("prod-1", "2026-03-20", "2026-03-10"))

	outcome := service.HandleReservationCreated(context.Background(), created)

	require.True(t, outcome.Fault)

	stored, err := reservations.Get(context.Background(), created.ID.Hex())
	require.NoError(t, err)
	assert.True(t, stored.ValidationError)
}

func TestHandleReservationCreated_ConcurrentCreationsNeverBothApproved(t *testing.T) {
	service, reservations, _ := newValidationFixture()

	first := insertReservation(t, reservations, pendingReservation("prod-1", "2026-03-10", "2026-03-15"))
	second := insertReservation(t, reservations, pendingReservation("prod-1", "2026-03-14", "2026-03-18"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		service.HandleReservationCreated(context.Background(), first)
	}()
	go func() {
		defer wg.Done()
		service.HandleReservationCreated(context.Background(), second)
	}()
	wg.Wait()

	storedFirst, err := reservations.Get(context.Background(), first.ID.Hex())
	require.NoError(t, err)
	storedSecond, err := reservations.Get(context.Background(), second.ID.Hex())
	require.NoError(t, err)

	assert.True(t, storedFirst.Validated)
	assert.True(t, storedSecond.Validated)

	rejected := 0
	if storedFirst.Status == domain.StatusRejected {
		rejected++
	}
	if storedSecond.Status == domain.StatusRejected {
		rejected++
	}
	assert.Equal(t, 1, rejected, "exactly one of two racing overlapping reservations must be rejected")
}

func TestLockProductSerializesSameProduct(t *testing.T) {
	service, _, _ := newValidationFixture()

	unlock := service.lockProduct("prod-1")

	acquired := make(chan struct{})
	go func() {
		second := service.lockProduct("prod-1")
		second()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock for the same product acquired twice")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock never released to the waiting holder")
	}
}

func TestCheckConflicts(t *testing.T) {
	service, reservations, _ := newValidationFixture()

	existing := insertReservation(t, reservations, &domain.Reservation{
		ProductID: "prod-1",
		DateStart: day("2026-03-10"),
		DateEnd:   day("2026-03-20"),
		Status:    domain.StatusApproved,
		Validated: true,
	})
	candidate := insertReservation(t, reservations, &domain.Reservation{
		ProductID: "prod-1",
		DateStart: day("2026-03-15"),
		DateEnd:   day("2026-03-25"),
		Status:    domain.StatusRejected,
		Validated: true,
	})

	report, err := service.CheckConflicts(context.Background(), candidate.ID.Hex())
	require.NoError(t, err)

	assert.True(t, report.HasConflict)
	assert.Equal(t, []string{existing.ID.Hex()}, report.Conflicts)
	assert.Equal(t, "Encontrados 1 conflito(s)", report.Message)

	// read-only: the rejected candidate stays rejected
	stored, err := reservations.Get(context.Background(), candidate.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.Status)
}

func TestCheckConflicts_Clean(t *testing.T) {
	service, reservations, _ := newValidationFixture()

	candidate := insertReservation(t, reservations, pendingReservation("prod-1", "2026-03-10", "2026-03-15"))

	report, err := service.CheckConflicts(context.Background(), candidate.ID.Hex())
	require.NoError(t, err)

	assert.False(t, report.HasConflict)
	assert.Empty(t, report.Conflicts)
	assert.Equal(t, "Sem conflitos detectados", report.Message)
}

func TestCheckConflicts_NotFound(t *testing.T) {
	service, _, _ := newValidationFixture()

	_, err := service.CheckConflicts(context.Background(), "ffffffffffffffffffffffff")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestListFaults(t *testing.T) {
	service, reservations, _ := newValidationFixture()

	faulted := insertReservation(t, reservations, pendingReservation("prod-1", "2026-03-10", "2026-03-15"))
	require.NoError(t, reservations.MarkValidationFault(context.Background(), faulted.ID.Hex(), "boom"))

	stale := pendingReservation("prod-2", "2026-04-01", "2026-04-05")
	stale.CreatedAt = time.Now().Add(-time.Hour)
	staleCreated := insertReservation(t, reservations, stale)

	healthy := insertReservation(t, reservations, pendingReservation("prod-3", "2026-05-01", "2026-05-05"))
	require.NoError(t, reservations.MarkValidated(context.Background(), healthy.ID.Hex(), time.Now()))

	faults, err := service.ListFaults(context.Background(), 10*time.Minute)
	require.NoError(t, err)

	ids := make([]string, 0, len(faults))
	for _, fault := range faults {
		ids = append(ids, fault.ID.Hex())
	}
	assert.ElementsMatch(t, []string{faulted.ID.Hex(), staleCreated.ID.Hex()}, ids)
}

package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentals_service/domain"
)

const (
	DATABASE                = "rentals"
	RESERVATIONS_COLLECTION = "reservations"
)

type ReservationMongoDBStore struct {
	reservations *mongo.Collection
	tracer       trace.Tracer
}

func NewReservationMongoDBStore(client *mongo.Client, tracer trace.Tracer) domain.ReservationStore {
	reservations := client.Database(DATABASE).Collection(RESERVATIONS_COLLECTION)
	return &ReservationMongoDBStore{
		reservations: reservations,
		tracer:       tracer,
	}
}

// Collection exposes the underlying collection for the change-stream watcher.
func (store *ReservationMongoDBStore) Collection() *mongo.Collection {
	return store.reservations
}

func (store *ReservationMongoDBStore) Insert(ctx context.Context, reservation *domain.Reservation) (*domain.Reservation, error) {
	ctx, span := store.tracer.Start(ctx, "ReservationMongoDBStore.Insert")
	defer span.End()

	if reservation.ID.IsZero() {
		reservation.ID = primitive.NewObjectID()
	}
	reservation.Status = domain.NormalizeStatus(string(reservation.Status))

	result, err := store.reservations.InsertOne(ctx, reservation)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	reservation.ID = result.InsertedID.(primitive.ObjectID)
	return reservation, nil
}

func (store *ReservationMongoDBStore) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := store.tracer.Start(ctx, "ReservationMongoDBStore.Get")
	defer span.End()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrReservationNotFound
	}

	return store.filterOne(ctx, bson.M{"_id": objectID})
}

func (store *ReservationMongoDBStore) GetActiveByProduct(ctx context.Context, productID string) ([]*domain.Reservation, error) {
	ctx, span := store.tracer.Start(ctx, "ReservationMongoDBStore.GetActiveByProduct")
	defer span.End()

	filter := bson.M{
		"productId": productID,
		"status":    bson.M{"$in": domain.ActiveStatusValues()},
	}
	return store.filter(ctx, filter)
}

func (store *ReservationMongoDBStore) GetByOrder(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	ctx, span := store.tracer.Start(ctx, "ReservationMongoDBStore.GetByOrder")
	defer span.End()

	filter := bson.M{"orderId": orderID}
	return store.filter(ctx, filter)
}

func (store *ReservationMongoDBStore) ListFaults(ctx context.Context, createdBefore time.Time) ([]*domain.Reservation, error) {
	ctx, span := store.tracer.Start(ctx, "ReservationMongoDBStore.ListFaults")
	defer span.End()

	filter := bson.M{"$or": bson.A{
		bson.M{"validationError": true},
		bson.M{"validated": false, "createdAt": bson.M{"$lt": createdBefore}},
	}}
	return store.filter(ctx, filter)
}

func (store *ReservationMongoDBStore) MarkValidated(ctx context.Context, id string, at time.Time) error {
	ctx, span := store.tracer.Start(ctx, "ReservationMongoDBStore.MarkValidated")
	defer span.End()

	update := bson.M{"$set": bson.M{
		"validated":   true,
		"validatedAt": at,
		"updatedAt":   at,
	}}
	return store.updateOne(ctx, id, update)
}

func (store *ReservationMongoDBStore) MarkRejected(ctx context.Context, id string, conflictingID string, at time.Time) error {
	ctx, span := store.tracer.Start(ctx, "ReservationMongoDBStore.MarkRejected")
	defer span.End()

	update := bson.M{"$set": bson.M{
		"status":                   domain.StatusRejected,
		"rejectionReason":          domain.RejectionConflictDates,
		"conflictingReservationId": conflictingID,
		"validated":                true,
		"validatedAt":              at,
		"updatedAt":                at,
	}}
	return store.updateOne(ctx, id, update)
}

func (store *ReservationMongoDBStore) MarkValidationFault(ctx context.Context, id string, message string) error {
	ctx, span := store.tracer.Start(ctx, "ReservationMongoDBStore.MarkValidationFault")
	defer span.End()

	update := bson.M{"$set": bson.M{
		"validationError":        true,
		"validationErrorMessage": message,
		"updatedAt":              time.Now(),
	}}
	return store.updateOne(ctx, id, update)
}

func (store *ReservationMongoDBStore) SetStatus(ctx context.Context, id string, status domain.ReservationStatus, at time.Time) error {
	ctx, span := store.tracer.Start(ctx, "ReservationMongoDBStore.SetStatus")
	defer span.End()

	update := bson.M{"$set": bson.M{
		"status":    status,
		"updatedAt": at,
	}}
	return store.updateOne(ctx, id, update)
}

func (store *ReservationMongoDBStore) updateOne(ctx context.Context, id string, update bson.M) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrReservationNotFound
	}

	result, err := store.reservations.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (store *ReservationMongoDBStore) filter(ctx context.Context, filter interface{}) ([]*domain.Reservation, error) {
	cursor, err := store.reservations.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	return decodeReservations(ctx, cursor)
}

func (store *ReservationMongoDBStore) filterOne(ctx context.Context, filter interface{}) (*domain.Reservation, error) {
	var reservation domain.Reservation
	err := store.reservations.FindOne(ctx, filter).Decode(&reservation)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	reservation.Status = domain.NormalizeStatus(string(reservation.Status))
	return &reservation, nil
}

func decodeReservations(ctx context.Context, cursor *mongo.Cursor) (reservations []*domain.Reservation, err error) {
	for cursor.Next(ctx) {
		var reservation domain.Reservation
		err = cursor.Decode(&reservation)
		if err != nil {
			return
		}
		// Legacy documents still carry Portuguese status spellings.
		reservation.Status = domain.NormalizeStatus(string(reservation.Status))
		reservations = append(reservations, &reservation)
	}
	err = cursor.Err()
	return
}

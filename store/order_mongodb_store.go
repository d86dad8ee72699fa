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

const ORDERS_COLLECTION = "orders"

type OrderMongoDBStore struct {
	orders *mongo.Collection
	tracer trace.Tracer
}

func NewOrderMongoDBStore(client *mongo.Client, tracer trace.Tracer) domain.OrderStore {
	orders := client.Database(DATABASE).Collection(ORDERS_COLLECTION)
	return &OrderMongoDBStore{
		orders: orders,
		tracer: tracer,
	}
}

func (store *OrderMongoDBStore) Insert(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	ctx, span := store.tracer.Start(ctx, "OrderMongoDBStore.Insert")
	defer span.End()

	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	result, err := store.orders.InsertOne(ctx, order)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	order.ID = result.InsertedID.(primitive.ObjectID)
	return order, nil
}

func (store *OrderMongoDBStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := store.tracer.Start(ctx, "OrderMongoDBStore.Get")
	defer span.End()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrOrderNotFound
	}
	return store.filterOne(ctx, bson.M{"_id": objectID})
}

func (store *OrderMongoDBStore) GetByAsaasPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	ctx, span := store.tracer.Start(ctx, "OrderMongoDBStore.GetByAsaasPaymentID")
	defer span.End()

	return store.filterOne(ctx, bson.M{"payment.asaasId": paymentID})
}

func (store *OrderMongoDBStore) MarkRejected(ctx context.Context, id string, reason string) error {
	ctx, span := store.tracer.Start(ctx, "OrderMongoDBStore.MarkRejected")
	defer span.End()

	update := bson.M{"$set": bson.M{
		"status":          domain.OrderStatusRejected,
		"rejectionReason": reason,
		"updatedAt":       time.Now(),
	}}
	return store.updateOne(ctx, id, update)
}

func (store *OrderMongoDBStore) ApplyWebhookEvent(ctx context.Context, id string, status domain.OrderStatus, rawEvent string, record domain.WebhookEventRecord) error {
	ctx, span := store.tracer.Start(ctx, "OrderMongoDBStore.ApplyWebhookEvent")
	defer span.End()

	// The last-event marker is replaced, the audit log only ever grows.
	update := bson.M{
		"$set": bson.M{
			"status":           status,
			"paymentStatus":    rawEvent,
			"lastWebhookEvent": record,
			"updatedAt":        record.ReceivedAt,
		},
		"$push": bson.M{"webhookLog": record},
	}
	return store.updateOne(ctx, id, update)
}

func (store *OrderMongoDBStore) updateOne(ctx context.Context, id string, update bson.M) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrOrderNotFound
	}

	result, err := store.orders.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (store *OrderMongoDBStore) filterOne(ctx context.Context, filter interface{}) (*domain.Order, error) {
	var order domain.Order
	err := store.orders.FindOne(ctx, filter).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

package application

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentals_service/domain"
)

// ReservationWatcher tails the reservations change stream and feeds every
// inserted document to the validator. Delivery is at-least-once: a replayed
// insert is harmless because the validator guards on the validated flag.
type ReservationWatcher struct {
	reservations *mongo.Collection
	validator    *ValidationService
	logger       *logrus.Logger
}

func NewReservationWatcher(reservations *mongo.Collection, validator *ValidationService, logger *logrus.Logger) *ReservationWatcher {
	return &ReservationWatcher{
		reservations: reservations,
		validator:    validator,
		logger:       logger,
	}
}

// Run blocks until the context is cancelled or the stream fails.
func (w *ReservationWatcher) Run(ctx context.Context) error {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}

	stream, err := w.reservations.Watch(ctx, pipeline, options.ChangeStream())
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	w.logger.Info("reservation watcher started")

	for stream.Next(ctx) {
		var event struct {
			FullDocument domain.Reservation `bson:"fullDocument"`
		}
		if err := stream.Decode(&event); err != nil {
			w.logger.WithError(err).Warn("could not decode change stream event")
			continue
		}

		outcome := w.validator.HandleReservationCreated(ctx, &event.FullDocument)
		if outcome.Fault {
			w.logger.WithField("reservationId", outcome.ReservationID).Warn("reservation left unvalidated after fault")
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

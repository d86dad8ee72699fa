package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cristalhq/jwt/v4"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentals_service/domain"
	application "rentals_service/service"
)

// faultGrace is how long a reservation may sit unvalidated before it shows up
// in the administrative fault listing.
const faultGrace = 10 * time.Minute

type ReservationHandler struct {
	service  *application.ValidationService
	store    domain.ReservationStore
	verifier *jwt.HSAlg
	validate *validator.Validate
	tracer   trace.Tracer
	logger   *logrus.Logger

	// set when the store has no change stream to drive the trigger,
	// so creation kicks validation asynchronously itself
	validateOnCreate bool
}

func NewReservationHandler(service *application.ValidationService, store domain.ReservationStore, jwtSecret []byte, validateOnCreate bool, tracer trace.Tracer, logger *logrus.Logger) *ReservationHandler {
	verifier, err := jwt.NewVerifierHS(jwt.HS256, jwtSecret)
	if err != nil {
		logger.Fatalf("invalid JWT secret: %v", err)
	}
	return &ReservationHandler{
		service:          service,
		store:            store,
		verifier:         verifier,
		validate:         validator.New(),
		tracer:           tracer,
		logger:           logger,
		validateOnCreate: validateOnCreate,
	}
}

func (handler *ReservationHandler) Init(router *mux.Router) {
	router.HandleFunc("/reservations", handler.CreateReservation).Methods("POST")
	router.HandleFunc("/reservations/validate", handler.ValidateReservation).Methods("POST")
	router.HandleFunc("/admin/reservations/faults", handler.ListFaults).Methods("GET")
	router.HandleFunc("/reservations/{id}", handler.GetReservation).Methods("GET")
}

type CreateReservationRequest struct {
	ProductID string `json:"productId" validate:"required"`
	DateStart string `json:"dateStart" validate:"required"`
	DateEnd   string `json:"dateEnd" validate:"required"`
	Status    string `json:"status"`
	OrderID   string `json:"orderId"`
}

func (handler *ReservationHandler) CreateReservation(writer http.ResponseWriter, req *http.Request) {
	ctx, span := handler.tracer.Start(req.Context(), "ReservationHandler.CreateReservation")
	defer span.End()

	if err := authorizeRequest(req, handler.verifier); err != nil {
		http.Error(writer, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var request CreateReservationRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		http.Error(writer, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := handler.validate.Struct(request); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	dateStart, err := parseDate(request.DateStart)
	if err != nil {
		http.Error(writer, "invalid dateStart", http.StatusBadRequest)
		return
	}
	dateEnd, err := parseDate(request.DateEnd)
	if err != nil {
		http.Error(writer, "invalid dateEnd", http.StatusBadRequest)
		return
	}

	status := domain.StatusPending
	if request.Status != "" {
		status = domain.NormalizeStatus(request.Status)
	}

	reservation := &domain.Reservation{
		ProductID: request.ProductID,
		DateStart: dateStart,
		DateEnd:   dateEnd,
		Status:    status,
		OrderID:   request.OrderID,
		Validated: false,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := reservation.ValidateDates(); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := handler.store.Insert(ctx, reservation)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handler.logger.WithError(err).Error("could not insert reservation")
		http.Error(writer, "error creating reservation", http.StatusInternalServerError)
		return
	}
	handler.logger.WithField("reservationId", created.ID.Hex()).Info("reservation created")

	if handler.validateOnCreate {
		// detached from the request context: validation must outlive the response
		go handler.service.HandleReservationCreated(trace.ContextWithSpan(context.Background(), span), created)
	}

	writer.WriteHeader(http.StatusCreated)
	jsonResponse(created, writer)
}

type ValidateReservationRequest struct {
	ReservaID string `json:"reservaId"`
}

// ValidateReservation is the on-demand, read-only conflict check. It never
// mutates the reservation, whatever state it is in.
func (handler *ReservationHandler) ValidateReservation(writer http.ResponseWriter, req *http.Request) {
	ctx, span := handler.tracer.Start(req.Context(), "ReservationHandler.ValidateReservation")
	defer span.End()

	if err := authorizeRequest(req, handler.verifier); err != nil {
		http.Error(writer, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var request ValidateReservationRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		http.Error(writer, "invalid request body", http.StatusBadRequest)
		return
	}
	if request.ReservaID == "" {
		http.Error(writer, "reservaId is required", http.StatusBadRequest)
		return
	}

	report, err := handler.service.CheckConflicts(ctx, request.ReservaID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrReservationNotFound) {
			http.Error(writer, "reservation not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, domain.ErrInvalidDateRange) {
			http.Error(writer, err.Error(), http.StatusBadRequest)
			return
		}
		handler.logger.WithError(err).Error("on-demand validation failed")
		http.Error(writer, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResponse(report, writer)
}

func (handler *ReservationHandler) GetReservation(writer http.ResponseWriter, req *http.Request) {
	ctx, span := handler.tracer.Start(req.Context(), "ReservationHandler.GetReservation")
	defer span.End()

	vars := mux.Vars(req)
	id, ok := vars["id"]
	if !ok {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	reservation, err := handler.store.Get(ctx, id)
	if err != nil {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	jsonResponse(reservation, writer)
}

// ListFaults exposes reservations stuck in a fault state to the back office;
// route access is restricted to administrators by the authorization policy.
func (handler *ReservationHandler) ListFaults(writer http.ResponseWriter, req *http.Request) {
	ctx, span := handler.tracer.Start(req.Context(), "ReservationHandler.ListFaults")
	defer span.End()

	faults, err := handler.service.ListFaults(ctx, faultGrace)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	if faults == nil {
		faults = []*domain.Reservation{}
	}
	jsonResponse(faults, writer)
}

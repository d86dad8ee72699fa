package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentals_service/domain"
	application "rentals_service/service"
)

type WebhookHandler struct {
	payments *application.PaymentService
	tracer   trace.Tracer
	logger   *logrus.Logger
}

func NewWebhookHandler(payments *application.PaymentService, tracer trace.Tracer, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		payments: payments,
		tracer:   tracer,
		logger:   logger,
	}
}

func (handler *WebhookHandler) Init(router *mux.Router) {
	// no Methods() filter here: the contract answers 405 itself
	router.HandleFunc("/webhook/asaas", handler.HandleAsaasWebhook)
}

type asaasWebhookBody struct {
	Event   string                 `json:"event"`
	Payment map[string]interface{} `json:"payment"`
}

type webhookResponse struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"orderId"`
	NewStatus string `json:"newStatus"`
}

type webhookErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleAsaasWebhook receives payment lifecycle callbacks from the provider.
// It must stay fast and idempotent: the provider retries on anything but 2xx.
func (handler *WebhookHandler) HandleAsaasWebhook(writer http.ResponseWriter, req *http.Request) {
	ctx, span := handler.tracer.Start(req.Context(), "WebhookHandler.HandleAsaasWebhook")
	defer span.End()

	if req.Method != http.MethodPost {
		http.Error(writer, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var body asaasWebhookBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(writer, "Invalid webhook payload", http.StatusBadRequest)
		return
	}
	if body.Event == "" || body.Payment == nil {
		handler.logger.Warn("webhook rejected: missing event or payment")
		http.Error(writer, "Invalid webhook payload", http.StatusBadRequest)
		return
	}

	outcome, err := handler.payments.ProcessEvent(ctx, body.Event, body.Payment)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, application.ErrMissingPaymentID):
			http.Error(writer, "Invalid webhook payload", http.StatusBadRequest)
		case errors.Is(err, domain.ErrOrderNotFound):
			handler.logger.WithField("event", body.Event).Warn("webhook for unknown order")
			http.Error(writer, "Order not found", http.StatusNotFound)
		default:
			handler.logger.WithError(err).Error("webhook processing failed")
			writer.WriteHeader(http.StatusInternalServerError)
			jsonResponse(webhookErrorResponse{
				Error:   "Internal server error",
				Message: err.Error(),
			}, writer)
		}
		return
	}

	if outcome.Ignored {
		writer.WriteHeader(http.StatusOK)
		writer.Write([]byte("Event ignored"))
		return
	}

	jsonResponse(webhookResponse{
		Success:   true,
		OrderID:   outcome.OrderID,
		NewStatus: string(outcome.NewStatus),
	}, writer)
}

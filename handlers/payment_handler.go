package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cristalhq/jwt/v4"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	application "rentals_service/service"
)

type PaymentHandler struct {
	payments *application.PaymentService
	verifier *jwt.HSAlg
	validate *validator.Validate
	tracer   trace.Tracer
	logger   *logrus.Logger
}

func NewPaymentHandler(payments *application.PaymentService, jwtSecret []byte, tracer trace.Tracer, logger *logrus.Logger) *PaymentHandler {
	verifier, err := jwt.NewVerifierHS(jwt.HS256, jwtSecret)
	if err != nil {
		logger.Fatalf("invalid JWT secret: %v", err)
	}
	return &PaymentHandler{
		payments: payments,
		verifier: verifier,
		validate: validator.New(),
		tracer:   tracer,
		logger:   logger,
	}
}

func (handler *PaymentHandler) Init(router *mux.Router) {
	router.HandleFunc("/payments/charges", handler.CreateCharge).Methods("POST")
}

// CreateChargeRequest keeps the field names the storefront checkout already
// sends.
type CreateChargeRequest struct {
	Valor          float64 `json:"valor" validate:"required,gt=0"`
	CpfCnpj        string  `json:"cpfCnpj" validate:"required"`
	Nome           string  `json:"nome" validate:"required"`
	FormaPagamento string  `json:"formaPagamento" validate:"required"`
}

type CreateChargeResponse struct {
	Success     bool   `json:"success"`
	ID          string `json:"id"`
	InvoiceURL  string `json:"invoiceUrl"`
	BankSlipURL string `json:"bankSlipUrl,omitempty"`
}

func (handler *PaymentHandler) CreateCharge(writer http.ResponseWriter, req *http.Request) {
	ctx, span := handler.tracer.Start(req.Context(), "PaymentHandler.CreateCharge")
	defer span.End()

	if err := authorizeRequest(req, handler.verifier); err != nil {
		http.Error(writer, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var request CreateChargeRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		http.Error(writer, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := handler.validate.Struct(request); err != nil {
		http.Error(writer, "Campos obrigatórios: valor, cpfCnpj, nome, formaPagamento", http.StatusBadRequest)
		return
	}

	result, err := handler.payments.CreateCharge(ctx, application.ChargeInput{
		Valor:          request.Valor,
		CpfCnpj:        request.CpfCnpj,
		Nome:           request.Nome,
		FormaPagamento: request.FormaPagamento,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handler.logger.WithError(err).Error("charge creation failed")
		if asaasErr, ok := err.(*application.AsaasError); ok {
			http.Error(writer, "Erro no Asaas: "+asaasErr.Description, http.StatusBadGateway)
			return
		}
		http.Error(writer, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResponse(CreateChargeResponse{
		Success:     true,
		ID:          result.ID,
		InvoiceURL:  result.InvoiceURL,
		BankSlipURL: result.BankSlipURL,
	}, writer)
}

package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// AsaasGateway is what the payment service needs from the provider API.
type AsaasGateway interface {
	FindCustomerByCpfCnpj(ctx context.Context, cpfCnpj string) (string, error)
	CreateCustomer(ctx context.Context, name, cpfCnpj string) (string, error)
	CreateCharge(ctx context.Context, req AsaasChargeRequest) (*AsaasCharge, error)
}

type AsaasChargeRequest struct {
	Customer          string  `json:"customer"`
	BillingType       string  `json:"billingType"`
	Value             float64 `json:"value"`
	DueDate           string  `json:"dueDate"`
	Description       string  `json:"description"`
	ExternalReference string  `json:"externalReference,omitempty"`
}

type AsaasCharge struct {
	ID          string `json:"id"`
	InvoiceURL  string `json:"invoiceUrl"`
	BankSlipURL string `json:"bankSlipUrl"`
}

// AsaasError carries the provider's own error description so callers can
// surface it to the storefront.
type AsaasError struct {
	StatusCode  int
	Description string
}

func (e *AsaasError) Error() string {
	return fmt.Sprintf("asaas returned %d: %s", e.StatusCode, e.Description)
}

type AsaasClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

func NewAsaasClient(baseURL, apiKey string, logger *logrus.Logger) *AsaasClient {
	return &AsaasClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		cb:      CircuitBreaker("asaasClient"),
		logger:  logger,
	}
}

type asaasCustomer struct {
	ID string `json:"id"`
}

type asaasCustomerList struct {
	Data []asaasCustomer `json:"data"`
}

func (c *AsaasClient) FindCustomerByCpfCnpj(ctx context.Context, cpfCnpj string) (string, error) {
	endpoint := fmt.Sprintf("%s/customers?cpfCnpj=%s", c.baseURL, url.QueryEscape(cpfCnpj))

	var list asaasCustomerList
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		return "", err
	}
	if len(list.Data) == 0 {
		return "", nil
	}
	return list.Data[0].ID, nil
}

func (c *AsaasClient) CreateCustomer(ctx context.Context, name, cpfCnpj string) (string, error) {
	endpoint := fmt.Sprintf("%s/customers", c.baseURL)
	body := map[string]string{"name": name, "cpfCnpj": cpfCnpj}

	var customer asaasCustomer
	if err := c.do(ctx, http.MethodPost, endpoint, body, &customer); err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (c *AsaasClient) CreateCharge(ctx context.Context, req AsaasChargeRequest) (*AsaasCharge, error) {
	endpoint := fmt.Sprintf("%s/payments", c.baseURL)

	var charge AsaasCharge
	if err := c.do(ctx, http.MethodPost, endpoint, req, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

func (c *AsaasClient) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(payload)
		}

		request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		request.Header.Set("access_token", c.apiKey)
		request.Header.Set("Content-Type", "application/json")

		response, err := c.client.Do(request)
		if err != nil {
			return nil, err
		}
		defer response.Body.Close()

		raw, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, err
		}

		if response.StatusCode >= 400 {
			c.logger.WithField("status", response.StatusCode).Warn("asaas request failed")
			return nil, &AsaasError{
				StatusCode:  response.StatusCode,
				Description: extractAsaasError(raw),
			}
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// extractAsaasError digs the first human-readable description out of the
// provider's error envelope.
func extractAsaasError(raw []byte) string {
	var envelope struct {
		Errors []struct {
			Description string `json:"description"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Errors) > 0 {
		return envelope.Errors[0].Description
	}
	return string(raw)
}

func CircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(
		gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			Interval:    0,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 2
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logrus.Infof("Circuit Breaker '%s' changed from '%s' to '%s'", name, from, to)
			},
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				// Provider-side validation errors are business outcomes,
				// not availability problems; they must not trip the breaker.
				asaasErr, ok := err.(*AsaasError)
				return ok && asaasErr.StatusCode >= 400 && asaasErr.StatusCode < 500
			},
		},
	)
}

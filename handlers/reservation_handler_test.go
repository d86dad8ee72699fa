package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentals_service/domain"
	application "rentals_service/service"
	"rentals_service/store/inmemory"
)

func newReservationFixture(t *testing.T) (*mux.Router, *inmemory.ReservationStore) {
	t.Helper()

	reservations := inmemory.NewReservationStore()
	orders := inmemory.NewOrderStore()
	service := application.NewValidationService(reservations, orders, nil, testTracer(), testLogger())

	router := mux.NewRouter()
	NewReservationHandler(service, reservations, testJWTSecret, false, testTracer(), testLogger()).Init(router)
	return router, reservations
}

func doRequest(handler http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestCreateReservation(t *testing.T) {
	router, reservations := newReservationFixture(t)
	token := signTestToken(t, "Client")

	body := `{"productId": "prod-1", "dateStart": "2026-03-10", "dateEnd": "2026-03-15"}`
	recorder := doRequest(router, http.MethodPost, "/reservations", body, token)

	require.Equal(t, http.StatusCreated, recorder.Code)

	var created domain.Reservation
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))
	assert.False(t, created.ID.IsZero())
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.False(t, created.Validated)

	stored, err := reservations.Get(context.Background(), created.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "prod-1", stored.ProductID)
}

func TestCreateReservation_NormalizesLegacyStatus(t *testing.T) {
	router, _ := newReservationFixture(t)
	token := signTestToken(t, "Client")

	body := `{"productId": "prod-1", "dateStart": "2026-03-10", "dateEnd": "2026-03-15", "status": "pendente"}`
	recorder := doRequest(router, http.MethodPost, "/reservations", body, token)

	require.Equal(t, http.StatusCreated, recorder.Code)

	var created domain.Reservation
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))
	assert.Equal(t, domain.StatusPending, created.Status)
}

func TestCreateReservation_BadInput(t *testing.T) {
	router, _ := newReservationFixture(t)
	token := signTestToken(t, "Client")

	testCases := []struct {
		name string
		body string
	}{
		{"missing product", `{"dateStart": "2026-03-10", "dateEnd": "2026-03-15"}`},
		{"missing dates", `{"productId": "prod-1"}`},
		{"unparseable date", `{"productId": "prod-1", "dateStart": "10/03/2026", "dateEnd": "2026-03-15"}`},
		{"reversed range", `{"productId": "prod-1", "dateStart": "2026-03-15", "dateEnd": "2026-03-10"}`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := doRequest(router, http.MethodPost, "/reservations", testCase.body, token)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
		})
	}
}

func TestCreateReservation_Unauthenticated(t *testing.T) {
	router, _ := newReservationFixture(t)

	body := `{"productId": "prod-1", "dateStart": "2026-03-10", "dateEnd": "2026-03-15"}`
	recorder := doRequest(router, http.MethodPost, "/reservations", body, "")

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestValidateReservation(t *testing.T) {
	router, reservations := newReservationFixture(t)
	token := signTestToken(t, "Client")

	existing, err := reservations.Insert(context.Background(), &domain.Reservation{
		ProductID: "prod-1",
		DateStart: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
		Status:    domain.StatusApproved,
		Validated: true,
	})
	require.NoError(t, err)

	candidate, err := reservations.Insert(context.Background(), &domain.Reservation{
		ProductID: "prod-1",
		DateStart: time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC),
		Status:    domain.StatusPending,
	})
	require.NoError(t, err)

	body := `{"reservaId": "` + candidate.ID.Hex() + `"}`
	recorder := doRequest(router, http.MethodPost, "/reservations/validate", body, token)

	require.Equal(t, http.StatusOK, recorder.Code)

	var report application.ConflictReport
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	assert.True(t, report.HasConflict)
	assert.Equal(t, []string{existing.ID.Hex()}, report.Conflicts)
	assert.Equal(t, "Encontrados 1 conflito(s)", report.Message)

	// the endpoint is read-only
	stored, err := reservations.Get(context.Background(), candidate.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.False(t, stored.Validated)
}

func TestValidateReservation_MissingID(t *testing.T) {
	router, _ := newReservationFixture(t)
	token := signTestToken(t, "Client")

	recorder := doRequest(router, http.MethodPost, "/reservations/validate", `{}`, token)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestValidateReservation_NotFound(t *testing.T) {
	router, _ := newReservationFixture(t)
	token := signTestToken(t, "Client")

	body := `{"reservaId": "ffffffffffffffffffffffff"}`
	recorder := doRequest(router, http.MethodPost, "/reservations/validate", body, token)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestValidateReservation_StoredReversedRange(t *testing.T) {
	router, reservations := newReservationFixture(t)
	token := signTestToken(t, "Client")

	// legacy documents can carry reversed ranges that predate creation checks
	broken, err := reservations.Insert(context.Background(), &domain.Reservation{
		ProductID: "prod-1",
		DateStart: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Status:    domain.StatusPending,
	})
	require.NoError(t, err)

	body := `{"reservaId": "` + broken.ID.Hex() + `"}`
	recorder := doRequest(router, http.MethodPost, "/reservations/validate", body, token)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestValidateReservation_Unauthenticated(t *testing.T) {
	router, _ := newReservationFixture(t)

	recorder := doRequest(router, http.MethodPost, "/reservations/validate", `{"reservaId": "x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestGetReservation(t *testing.T) {
	router, reservations := newReservationFixture(t)

	created, err := reservations.Insert(context.Background(), &domain.Reservation{
		ProductID: "prod-1",
		DateStart: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Status:    domain.StatusPending,
	})
	require.NoError(t, err)

	recorder := doRequest(router, http.MethodGet, "/reservations/"+created.ID.Hex(), "", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	var fetched domain.Reservation
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	recorder = doRequest(router, http.MethodGet, "/reservations/ffffffffffffffffffffffff", "", "")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestListFaults(t *testing.T) {
	router, reservations := newReservationFixture(t)

	faulted, err := reservations.Insert(context.Background(), &domain.Reservation{
		ProductID: "prod-1",
		DateStart: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Status:    domain.StatusPending,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, reservations.MarkValidationFault(context.Background(), faulted.ID.Hex(), "boom"))

	recorder := doRequest(router, http.MethodGet, "/admin/reservations/faults", "", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	var faults []domain.Reservation
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &faults))
	require.Len(t, faults, 1)
	assert.Equal(t, faulted.ID, faults[0].ID)
	assert.Equal(t, "boom", faults[0].ValidationErrorMessage)
}

func TestListFaults_EmptyIsJSONArray(t *testing.T) {
	router, _ := newReservationFixture(t)

	recorder := doRequest(router, http.MethodGet, "/admin/reservations/faults", "", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "[]", strings.TrimSpace(recorder.Body.String()))
}

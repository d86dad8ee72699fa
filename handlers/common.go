package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cristalhq/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var errUnauthenticated = errors.New("unauthenticated")

func jsonResponse(value interface{}, writer http.ResponseWriter) {
	writer.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(writer).Encode(value)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusInternalServerError)
	}
}

// authorizeRequest checks the bearer token; the endpoint contracts require an
// authenticated caller before any input validation happens.
func authorizeRequest(req *http.Request, verifier jwt.Verifier) error {
	bearer := req.Header.Get("Authorization")
	if bearer == "" {
		return errUnauthenticated
	}

	bearerToken := strings.Split(bearer, "Bearer ")
	if len(bearerToken) != 2 {
		return errUnauthenticated
	}

	if _, err := jwt.Parse([]byte(bearerToken[1]), verifier); err != nil {
		return errUnauthenticated
	}
	return nil
}

// parseDate accepts both plain calendar dates and full timestamps, since the
// legacy storefront stored reservation dates as "YYYY-MM-DD" strings.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func ExtractTraceInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func MiddlewareContentTypeSet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, h *http.Request) {
		rw.Header().Add("Content-Type", "application/json")
		next.ServeHTTP(rw, h)
	})
}

package handlers

import (
	"io"
	"testing"

	"github.com/cristalhq/jwt/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

var testJWTSecret = []byte("test-secret")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

// signTestToken issues a bearer token the way the auth collaborator does:
// string claims only, with the role in userType.
func signTestToken(t *testing.T, userType string) string {
	t.Helper()

	signer, err := jwt.NewSignerHS(jwt.HS256, testJWTSecret)
	require.NoError(t, err)

	token, err := jwt.NewBuilder(signer).Build(map[string]string{
		"sub":      "test-user",
		"userType": userType,
	})
	require.NoError(t, err)
	return token.String()
}

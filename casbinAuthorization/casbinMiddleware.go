package casbinAuthorization

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/casbin/casbin"
	"github.com/cristalhq/jwt/v4"
)

func parseToken(tokenString string, verifier *jwt.HSAlg) (*jwt.Token, error) {
	token, err := jwt.Parse([]byte(tokenString), verifier)
	if err != nil {
		log.Println(err)
		return nil, err
	}
	return token, nil
}

// extractUserType resolves the caller's role for the policy check. Requests
// without a bearer token act as the Unauthenticated role, which the policy
// only lets through to the webhook endpoint.
func extractUserType(r *http.Request, verifier *jwt.HSAlg) (string, error) {
	bearer := r.Header.Get("Authorization")
	if bearer == "" {
		return "Unauthenticated", nil
	}

	bearerToken := strings.Split(bearer, "Bearer ")
	if len(bearerToken) != 2 {
		return "", errors.New("invalid token format")
	}

	tokenString := bearerToken[1]
	token, err := parseToken(tokenString, verifier)
	if err != nil {
		log.Println("Error parsing token:", err)
		return "", err
	}

	claims := extractClaims(token, verifier)
	userType, ok := claims["userType"]
	if !ok {
		log.Println("userType claim not found in token")
		return "", errors.New("userType claim not found in token")
	}

	return userType, nil
}

func extractClaims(token *jwt.Token, verifier *jwt.HSAlg) map[string]string {
	var claims map[string]string

	err := jwt.ParseClaims(token.Bytes(), verifier, &claims)
	if err != nil {
		log.Println(err)
	}

	return claims
}

func CasbinMiddleware(e *casbin.Enforcer, jwtSecret []byte) func(http.Handler) http.Handler {
	verifier, err := jwt.NewVerifierHS(jwt.HS256, jwtSecret)
	if err != nil {
		log.Fatalf("invalid SECRET_KEY: %v", err)
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			userRole, err := extractUserType(r, verifier)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := e.EnforceSafe(userRole, r.URL.Path, r.Method)
			if err != nil {
				log.Println("enforce error:", err)
				http.Error(w, "unauthorized user", http.StatusUnauthorized)
				return
			}

			if res {
				next.ServeHTTP(w, r)
			} else {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		return http.HandlerFunc(fn)
	}
}

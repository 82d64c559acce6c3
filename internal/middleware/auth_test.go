package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, claims Claims, key any) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(subject, role string) Claims {
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "storefront",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

// run passes one request through AuthMiddleware and RequireRole when role is set.
func run(t *testing.T, authHeader, role string) (string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var seen string
	h := func(c echo.Context) error {
		seen = UserID(c)
		return nil
	}
	if role != "" {
		h = RequireRole(role)(h)
	}
	err := AuthMiddleware(config.Auth{JWTSecret: testSecret, Issuer: "storefront"})(h)(c)
	return seen, err
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, validClaims("u1", ""), []byte(testSecret))

	userID, err := run(t, "Bearer "+token, "")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	expired := validClaims("u1", "")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims("u1", "")
	noExpiry.ExpiresAt = nil

	wrongIssuer := validClaims("u1", "")
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "missing bearer token"},
		{"not bearer", "Basic dTE6cGFzcw==", "missing bearer token"},
		{"garbage", "Bearer not-a-jwt", "invalid token"},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, validClaims("u1", ""), []byte("other")), "invalid token"},
		{"wrong algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS384, validClaims("u1", ""), []byte(testSecret)), "invalid token"},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, expired, []byte(testSecret)), "token expired"},
		{"no expiry", "Bearer " + signToken(t, jwt.SigningMethodHS256, noExpiry, []byte(testSecret)), "invalid token"},
		{"wrong issuer", "Bearer " + signToken(t, jwt.SigningMethodHS256, wrongIssuer, []byte(testSecret)), "invalid token"},
		{"no subject", "Bearer " + signToken(t, jwt.SigningMethodHS256, validClaims("", ""), []byte(testSecret)), "token has no subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.header, "")
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
			assert.Equal(t, tt.message, apperr.PublicMessage(err))
		})
	}
}

func TestRequireRole(t *testing.T) {
	admin := signToken(t, jwt.SigningMethodHS256, validClaims("ops", RoleAdmin), []byte(testSecret))
	customer := signToken(t, jwt.SigningMethodHS256, validClaims("u1", ""), []byte(testSecret))

	userID, err := run(t, "Bearer "+admin, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "ops", userID)

	_, err = run(t, "Bearer "+customer, RoleAdmin)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
}

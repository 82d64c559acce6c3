package middleware

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/config"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"

	RoleAdmin = "admin"
)

type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware accepts HS256 bearer tokens and stores the subject and role on the context.
func AuthMiddleware(cfg config.Auth) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	secret := []byte(cfg.JWTSecret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				return apperr.Unauthorized("missing bearer token")
			}

			claims := &Claims{}
			_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					return apperr.Unauthorized("token expired")
				}
				return apperr.Unauthorized("invalid token")
			}
			if claims.Subject == "" {
				return apperr.Unauthorized("token has no subject")
			}

			c.Set(ContextUserID, claims.Subject)
			c.Set(ContextRole, claims.Role)
			return next(c)
		}
	}
}

func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if got, _ := c.Get(ContextRole).(string); got != role {
				return apperr.Forbidden("insufficient role")
			}
			return next(c)
		}
	}
}

// UserID returns the authenticated subject, or "" outside AuthMiddleware.
func UserID(c echo.Context) string {
	id, _ := c.Get(ContextUserID).(string)
	return id
}

package handler

import (
	"github.com/labstack/echo/v4"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/dto"
	"storefront-payments/internal/middleware"
)

// bind decodes the body into req and runs its Validate.
func bind(c echo.Context, req dto.Validator) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	return nil
}

// actingUser returns the token subject. A body userId naming someone else is rejected.
func actingUser(c echo.Context, bodyUserID string) (string, error) {
	userID := middleware.UserID(c)
	if userID == "" {
		return "", apperr.Unauthorized("authentication required")
	}
	if bodyUserID != "" && bodyUserID != userID {
		return "", apperr.Forbidden("userId does not match the authenticated user")
	}
	return userID, nil
}

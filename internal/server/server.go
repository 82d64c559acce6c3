package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/config"
	"storefront-payments/internal/dto"
	"storefront-payments/internal/handler"
	"storefront-payments/internal/middleware"
)

type Handlers struct {
	Checkout *handler.CheckoutHandler
	Webhook  *handler.WebhookHandler
	Cart     *handler.CartHandler
	Order    *handler.OrderHandler
	Admin    *handler.AdminHandler
}

type Server struct {
	echo     *echo.Echo
	handlers Handlers
	cfg      *config.Config
	logger   *zap.Logger
}

func NewServer(cfg *config.Config, handlers Handlers, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		handlers: handlers,
		cfg:      cfg,
		logger:   logger,
	}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- provider callbacks (signature checked, no bearer token) --------
	api.POST("/webhooks/payment", s.handlers.Webhook.PaymentWebhook, echomw.BodyLimit(s.cfg.HTTP.BodyLimit))

	auth := api.Group("", middleware.AuthMiddleware(s.cfg.Auth))

	// -------- checkout --------
	auth.POST("/payments/intent", s.handlers.Checkout.CreateIntent)
	auth.POST("/checkout/sessions", s.handlers.Checkout.CreateSession)
	auth.POST("/checkout/confirm", s.handlers.Checkout.Confirm)

	// -------- cart --------
	auth.GET("/cart", s.handlers.Cart.View)
	auth.POST("/cart/items", s.handlers.Cart.AddItem)
	auth.PATCH("/cart/items/:productId", s.handlers.Cart.UpdateItem)
	auth.DELETE("/cart/items/:productId", s.handlers.Cart.RemoveItem)

	// -------- orders --------
	auth.POST("/orders", s.handlers.Order.Create)
	auth.GET("/orders/:id", s.handlers.Order.Get)

	// -------- admin --------
	admin := auth.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.GET("/settings/shipping", s.handlers.Admin.GetShipping)
	admin.PUT("/settings/shipping", s.handlers.Admin.UpdateShipping)
}

// errorHandler renders every error as {"error": {"code", "message"}}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := dto.ErrorResponse{Error: dto.ErrorBody{
		Code:    string(apperr.KindInternal),
		Message: "internal server error",
	}}

	var httpErr *echo.HTTPError
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		status = apperr.HTTPStatus(appErr.Kind)
		body.Error.Code = string(appErr.Kind)
		body.Error.Message = apperr.PublicMessage(err)
	case errors.As(err, &httpErr):
		status = httpErr.Code
		body.Error.Code = http.StatusText(status)
		body.Error.Message = fmt.Sprint(httpErr.Message)
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Error("write error response", zap.Error(err))
	}
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

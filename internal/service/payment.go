package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/client"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

var tracer = otel.Tracer("storefront-payments/service")

type IntentCommand struct {
	UserID  string
	OrderID string
}

type IntentResult struct {
	ClientSecret string
	IntentID     string
	Total        int64
	Currency     string
}

// OrderData is what the client believes it is paying for. Only OrderID and Language are used.
type OrderData struct {
	OrderID  string
	Total    *int64
	Language string
}

type SessionCommand struct {
	UserID        string
	PaymentMethod string
	SuccessURL    string
	CancelURL     string
	OrderData     OrderData
}

type SessionResult struct {
	SessionID string
	URL       string
	Total     int64
	Currency  string
}

type PaymentService interface {
	CreateIntent(ctx context.Context, cmd IntentCommand) (*IntentResult, error)
	CreateCheckoutSession(ctx context.Context, cmd SessionCommand) (*SessionResult, error)
}

type paymentServiceImpl struct {
	gateways    *client.Gateways
	pricer      Pricer
	orderRepo   repository.OrderRepository
	sessionRepo repository.PaymentSessionRepository
	logger      *zap.Logger
}

func NewPaymentService(
	gateways *client.Gateways,
	pricer Pricer,
	orderRepo repository.OrderRepository,
	sessionRepo repository.PaymentSessionRepository,
	logger *zap.Logger,
) PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &paymentServiceImpl{
		gateways:    gateways,
		pricer:      pricer,
		orderRepo:   orderRepo,
		sessionRepo: sessionRepo,
		logger:      logger,
	}
}

func (s *paymentServiceImpl) CreateIntent(ctx context.Context, cmd IntentCommand) (*IntentResult, error) {
	ctx, span := tracer.Start(ctx, "payment.CreateIntent")
	defer span.End()

	frozen, err := s.freeze(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if frozen.Total <= 0 {
		return nil, apperr.Validation("order total must be positive for an in-page payment")
	}

	gw := s.gateways.Default()
	frozen.Provider = gw.Name()
	frozen.Mode = model.ModeIntent
	span.SetAttributes(
		attribute.String("payment.provider", frozen.Provider),
		attribute.String("payment.session_id", frozen.PaymentSessionID),
		attribute.Int64("payment.total", frozen.Total),
	)

	res, err := gw.CreateIntent(ctx, client.IntentRequest{
		Amount:         frozen.Total,
		Currency:       frozen.Currency,
		Description:    "Order for " + frozen.UserID,
		Metadata:       EncodeMetadata(frozen),
		IdempotencyKey: frozen.PaymentSessionID,
	})
	if err != nil {
		s.logger.Error("create payment intent failed",
			zap.String("provider", frozen.Provider),
			zap.String("user_id", frozen.UserID),
			zap.Error(err),
		)
		span.RecordError(err)
		return nil, apperr.Provider(err, "payment provider rejected the request")
	}

	frozen.Reference = res.ID
	if err := s.persist(ctx, frozen); err != nil {
		return nil, err
	}

	return &IntentResult{
		ClientSecret: res.ClientSecret,
		IntentID:     res.ID,
		Total:        frozen.Total,
		Currency:     frozen.Currency,
	}, nil
}

func (s *paymentServiceImpl) CreateCheckoutSession(ctx context.Context, cmd SessionCommand) (*SessionResult, error) {
	ctx, span := tracer.Start(ctx, "payment.CreateCheckoutSession")
	defer span.End()

	gw, err := s.gatewayFor(cmd.PaymentMethod)
	if err != nil {
		return nil, err
	}

	frozen, err := s.freeze(ctx, cmd.UserID, cmd.OrderData.OrderID)
	if err != nil {
		return nil, err
	}
	if cmd.OrderData.Language != "" {
		frozen.Language = strings.ToLower(cmd.OrderData.Language)
	}
	if gw.Name() == client.ProviderPaypal && frozen.Total <= 0 {
		return nil, apperr.Validation("order total must be positive for PayPal")
	}
	if cmd.OrderData.Total != nil && *cmd.OrderData.Total != frozen.Total {
		s.logger.Warn("client total differs from server total, charging server total",
			zap.String("user_id", cmd.UserID),
			zap.Int64("client_total", *cmd.OrderData.Total),
			zap.Int64("server_total", frozen.Total),
		)
	}

	frozen.Provider = gw.Name()
	frozen.Mode = model.ModeSession
	span.SetAttributes(
		attribute.String("payment.provider", frozen.Provider),
		attribute.String("payment.session_id", frozen.PaymentSessionID),
		attribute.Int64("payment.total", frozen.Total),
	)

	items := make([]client.LineItem, 0, len(frozen.Items))
	for _, line := range frozen.Items {
		items = append(items, client.LineItem{
			Name:       line.Name,
			SKU:        line.ProductID,
			UnitAmount: line.UnitPrice,
			Quantity:   line.Quantity,
		})
	}

	res, err := gw.CreateSession(ctx, client.SessionRequest{
		Currency:        frozen.Currency,
		Items:           items,
		ShippingAmount:  frozen.ShippingCost,
		DiscountAmount:  frozen.Discount.Amount,
		DiscountLabel:   discountLabel(frozen.Discount),
		Total:           frozen.Total,
		SuccessURL:      cmd.SuccessURL,
		CancelURL:       cmd.CancelURL,
		ClientReference: frozen.PaymentSessionID,
		Locale:          frozen.Language,
		Metadata:        EncodeMetadata(frozen),
		IdempotencyKey:  frozen.PaymentSessionID,
	})
	if err != nil {
		s.logger.Error("create checkout session failed",
			zap.String("provider", frozen.Provider),
			zap.String("user_id", frozen.UserID),
			zap.Error(err),
		)
		span.RecordError(err)
		return nil, apperr.Provider(err, "payment provider rejected the request")
	}

	frozen.Reference = res.ID
	if err := s.persist(ctx, frozen); err != nil {
		return nil, err
	}

	return &SessionResult{
		SessionID: res.ID,
		URL:       res.URL,
		Total:     frozen.Total,
		Currency:  frozen.Currency,
	}, nil
}

// freeze prices the cart, or re-freezes a pre-created pending order owned by userID.
func (s *paymentServiceImpl) freeze(ctx context.Context, userID, orderID string) (*model.FrozenCheckout, error) {
	if orderID == "" {
		return s.pricer.Quote(ctx, userID)
	}

	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.UserID != userID {
		return nil, apperr.Forbidden("order belongs to another user")
	}
	if order.Status != model.OrderPending {
		return nil, apperr.Validation("order %s is %s and cannot be paid", order.ID, order.Status)
	}
	return frozenFromOrder(order), nil
}

// persist records the frozen checkout after the provider accepted it. The
// provider metadata still carries the breakdown if this write fails.
func (s *paymentServiceImpl) persist(ctx context.Context, frozen *model.FrozenCheckout) error {
	snapshot, err := json.Marshal(frozen)
	if err != nil {
		return apperr.Internal(err, "encode checkout snapshot")
	}

	err = s.sessionRepo.Create(ctx, &model.PaymentSession{
		ID:        frozen.PaymentSessionID,
		Provider:  frozen.Provider,
		Mode:      frozen.Mode,
		Reference: frozen.Reference,
		UserID:    frozen.UserID,
		OrderID:   frozen.OrderID,
		Snapshot:  string(snapshot),
		Total:     frozen.Total,
		Status:    model.PaymentSessionOpen,
	})
	if err != nil {
		s.logger.Error("store payment session failed",
			zap.String("payment_session_id", frozen.PaymentSessionID),
			zap.String("reference", frozen.Reference),
			zap.Error(err),
		)
		return apperr.Internal(err, "store payment session")
	}

	if frozen.OrderID != "" {
		ok, err := s.orderRepo.SetPaymentReference(ctx, nil, frozen.OrderID, frozen.Reference, frozen.Provider, frozen.PaymentSessionID)
		if err != nil {
			return apperr.Internal(err, "attach payment reference")
		}
		if !ok {
			s.logger.Warn("order left pending before payment reference was attached",
				zap.String("order_id", frozen.OrderID))
		}
	}

	s.logger.Info("payment session opened",
		zap.String("payment_session_id", frozen.PaymentSessionID),
		zap.String("provider", frozen.Provider),
		zap.String("mode", frozen.Mode),
		zap.String("reference", frozen.Reference),
		zap.Int64("total", frozen.Total),
	)
	return nil
}

func (s *paymentServiceImpl) gatewayFor(paymentMethod string) (client.PaymentGateway, error) {
	switch strings.ToLower(strings.TrimSpace(paymentMethod)) {
	case "":
		return s.gateways.Default(), nil
	case "card", client.ProviderStripe:
		if gw, err := s.gateways.Get(client.ProviderStripe); err == nil {
			return gw, nil
		}
		return s.gateways.Default(), nil
	case client.ProviderPaypal:
		gw, err := s.gateways.Get(client.ProviderPaypal)
		if err != nil {
			return nil, apperr.Validation("paypal is not available")
		}
		return gw, nil
	}
	return nil, apperr.Validation("unsupported payment method %q", paymentMethod)
}

func discountLabel(d model.AppliedDiscount) string {
	if !d.Applied() {
		return ""
	}
	if d.Type == model.DiscountPercentage {
		return d.Percentage.String() + "% account discount"
	}
	return "Account credit"
}

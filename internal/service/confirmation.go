package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/client"
	"storefront-payments/internal/lock"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

const confirmLockTTL = 30 * time.Second

// ErrNoOrder is returned when a checkout has no order and its outcome does not warrant one.
var ErrNoOrder = errors.New("service: checkout has no order to confirm")

// ConfirmationService reconciles provider checkout state into orders. The
// webhook worker and the customer's return both land here.
type ConfirmationService interface {
	ConfirmCheckout(ctx context.Context, state client.CheckoutState) (order *model.Order, changed bool, err error)
	ConfirmDirect(ctx context.Context, userID, reference string) (*model.Order, error)
}

type confirmationServiceImpl struct {
	gateways    *client.Gateways
	orders      OrderService
	orderRepo   repository.OrderRepository
	sessionRepo repository.PaymentSessionRepository
	locker      lock.Locker
	logger      *zap.Logger
}

func NewConfirmationService(
	gateways *client.Gateways,
	orders OrderService,
	orderRepo repository.OrderRepository,
	sessionRepo repository.PaymentSessionRepository,
	locker lock.Locker,
	logger *zap.Logger,
) ConfirmationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &confirmationServiceImpl{
		gateways:    gateways,
		orders:      orders,
		orderRepo:   orderRepo,
		sessionRepo: sessionRepo,
		locker:      locker,
		logger:      logger,
	}
}

func (s *confirmationServiceImpl) ConfirmCheckout(ctx context.Context, state client.CheckoutState) (*model.Order, bool, error) {
	ctx, span := tracer.Start(ctx, "confirmation.ConfirmCheckout")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", state.Provider),
		attribute.String("payment.reference", state.Reference),
		attribute.String("payment.outcome", string(state.Outcome)),
	)

	key := state.CorrelationKey()
	if key == "" {
		return nil, false, apperr.Validation("checkout state carries no reference")
	}

	release, err := s.locker.Acquire(ctx, "checkout:"+key, confirmLockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("lock checkout %s: %w", key, err)
	}
	defer release()

	order, err := s.findOrder(ctx, state)
	if err != nil {
		return nil, false, err
	}

	if order != nil {
		s.checkAmount(order, state)
		return s.orders.Confirm(ctx, order.ID, state.Outcome)
	}

	if !state.Outcome.Materializable() {
		if state.Outcome == model.OutcomeFailed || state.Outcome == model.OutcomeCancelled {
			if session := s.findSession(ctx, state); session != nil {
				if err := s.sessionRepo.MarkFailed(ctx, nil, session.ID); err != nil {
					return nil, false, err
				}
			}
		}
		s.logger.Info("checkout has no order and is not paid",
			zap.String("reference", state.Reference),
			zap.String("outcome", string(state.Outcome)),
		)
		return nil, false, ErrNoOrder
	}

	frozen, err := s.loadFrozen(ctx, state)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	frozen.Reference = state.Reference
	frozen.Provider = state.Provider
	if frozen.Mode == "" {
		frozen.Mode = state.Mode
	}
	if state.AmountTotal > 0 && state.AmountTotal != frozen.Total {
		s.logger.Warn("provider amount differs from frozen total",
			zap.String("payment_session_id", frozen.PaymentSessionID),
			zap.Int64("provider_amount", state.AmountTotal),
			zap.Int64("frozen_total", frozen.Total),
		)
	}

	return s.orders.ConfirmFrozen(ctx, *frozen, state.Outcome)
}

func (s *confirmationServiceImpl) ConfirmDirect(ctx context.Context, userID, reference string) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "confirmation.ConfirmDirect")
	defer span.End()

	if reference == "" {
		return nil, apperr.Validation("payment reference is required")
	}

	gw, err := s.gatewayForReference(ctx, userID, reference)
	if err != nil {
		return nil, err
	}

	state, err := gw.Retrieve(ctx, reference)
	if err != nil {
		s.logger.Error("retrieve checkout failed",
			zap.String("provider", gw.Name()),
			zap.String("reference", reference),
			zap.Error(err),
		)
		span.RecordError(err)
		return nil, apperr.Provider(err, "could not verify payment with provider")
	}
	if state.UserID != "" && state.UserID != userID {
		return nil, apperr.Forbidden("payment belongs to another user")
	}

	order, _, err := s.ConfirmCheckout(ctx, *state)
	if errors.Is(err, ErrNoOrder) {
		return nil, apperr.Validation("payment not completed")
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.Forbidden("order belongs to another user")
	}
	return order, nil
}

func (s *confirmationServiceImpl) gatewayForReference(ctx context.Context, userID, reference string) (client.PaymentGateway, error) {
	session, err := s.sessionRepo.FindByReference(ctx, nil, reference)
	switch {
	case err == nil:
		if session.UserID != userID {
			return nil, apperr.Forbidden("payment belongs to another user")
		}
		if gw, err := s.gateways.Get(session.Provider); err == nil {
			return gw, nil
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("load payment session: %w", err)
	}

	order, err := s.orderRepo.FindByCorrelation(ctx, nil, reference)
	switch {
	case err == nil:
		if order.UserID != userID {
			return nil, apperr.Forbidden("order belongs to another user")
		}
		if gw, err := s.gateways.Get(order.Provider); err == nil {
			return gw, nil
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("load order: %w", err)
	}

	gw, err := s.gateways.ForReference(reference)
	if err != nil {
		return nil, apperr.Validation("unrecognized payment reference")
	}
	return gw, nil
}

// findOrder tries the order id, our session id, the session row and finally the provider reference.
func (s *confirmationServiceImpl) findOrder(ctx context.Context, state client.CheckoutState) (*model.Order, error) {
	lookups := []func() (*model.Order, error){
		func() (*model.Order, error) {
			if state.OrderID == "" {
				return nil, repository.ErrNotFound
			}
			return s.orderRepo.FindByID(ctx, nil, state.OrderID)
		},
		func() (*model.Order, error) {
			if state.PaymentSessionID == "" {
				return nil, repository.ErrNotFound
			}
			return s.orderRepo.FindByCorrelation(ctx, nil, state.PaymentSessionID)
		},
		func() (*model.Order, error) {
			session := s.findSession(ctx, state)
			if session == nil || session.OrderID == "" {
				return nil, repository.ErrNotFound
			}
			return s.orderRepo.FindByID(ctx, nil, session.OrderID)
		},
		func() (*model.Order, error) {
			if state.Reference == "" {
				return nil, repository.ErrNotFound
			}
			return s.orderRepo.FindByCorrelation(ctx, nil, state.Reference)
		},
	}

	for _, lookup := range lookups {
		order, err := lookup()
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find order: %w", err)
		}
	}
	return nil, nil
}

func (s *confirmationServiceImpl) findSession(ctx context.Context, state client.CheckoutState) *model.PaymentSession {
	if state.PaymentSessionID != "" {
		if session, err := s.sessionRepo.FindByID(ctx, nil, state.PaymentSessionID); err == nil {
			return session
		}
	}
	if state.Reference != "" {
		if session, err := s.sessionRepo.FindByReference(ctx, nil, state.Reference); err == nil {
			return session
		}
	}
	return nil
}

// loadFrozen reads the breakdown captured at payment initiation, from our own
// row when we have it, else from provider metadata.
func (s *confirmationServiceImpl) loadFrozen(ctx context.Context, state client.CheckoutState) (*model.FrozenCheckout, error) {
	if session := s.findSession(ctx, state); session != nil && session.Snapshot != "" {
		var frozen model.FrozenCheckout
		if err := json.Unmarshal([]byte(session.Snapshot), &frozen); err == nil && frozen.Validate() == nil {
			return &frozen, nil
		}
		s.logger.Warn("stored checkout snapshot unreadable, falling back to provider metadata",
			zap.String("payment_session_id", session.ID))
	}

	frozen, err := DecodeMetadata(state.Metadata)
	if err != nil {
		s.logger.Error("checkout cannot be materialized",
			zap.String("reference", state.Reference),
			zap.Error(err),
		)
		return nil, apperr.Internal(err, "paid checkout carries no usable breakdown")
	}
	return frozen, nil
}

func (s *confirmationServiceImpl) checkAmount(order *model.Order, state client.CheckoutState) {
	if state.AmountTotal > 0 && state.AmountTotal != order.Total {
		s.logger.Warn("provider amount differs from order total",
			zap.String("order_id", order.ID),
			zap.Int64("provider_amount", state.AmountTotal),
			zap.Int64("order_total", order.Total),
		)
	}
}

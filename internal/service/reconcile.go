package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"storefront-payments/internal/client"
	"storefront-payments/internal/config"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

// Open sessions still pending after this long are abandoned.
const abandonSessionAfter = 24 * time.Hour

type SweepResult struct {
	OrdersChecked   int
	SessionsChecked int
	Changed         int
	Abandoned       int
	Failures        int
}

// Reconciler polls the provider for checkouts whose webhook never arrived or failed.
type Reconciler struct {
	gateways    *client.Gateways
	confirm     ConfirmationService
	orderRepo   repository.OrderRepository
	sessionRepo repository.PaymentSessionRepository
	cfg         config.Reconcile
	clock       Clock
	logger      *zap.Logger
}

func NewReconciler(
	gateways *client.Gateways,
	confirm ConfirmationService,
	orderRepo repository.OrderRepository,
	sessionRepo repository.PaymentSessionRepository,
	cfg config.Reconcile,
	clock Clock,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Reconciler{
		gateways:    gateways,
		confirm:     confirm,
		orderRepo:   orderRepo,
		sessionRepo: sessionRepo,
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if r.cfg.Interval <= 0 {
		r.logger.Info("reconciliation disabled")
		return
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep re-reads stale non-terminal orders and open payment sessions from the provider.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Sweep")
	defer span.End()

	var res SweepResult
	cutoff := r.clock.now().Add(-r.cfg.StaleAfter)

	orders, err := r.orderRepo.ListStale(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	for _, order := range orders {
		res.OrdersChecked++
		gw, err := r.gatewayFor(order.Provider, order.PaymentReference)
		if err != nil {
			r.logger.Warn("stale order has no usable provider", zap.String("order_id", order.ID), zap.Error(err))
			res.Failures++
			continue
		}
		_, changed, err := r.refresh(ctx, gw, order.PaymentReference, order.ID, order.PaymentSessionID)
		if err != nil {
			r.logger.Error("reconcile order failed", zap.String("order_id", order.ID), zap.Error(err))
			res.Failures++
			continue
		}
		if changed {
			res.Changed++
		}
	}

	sessions, err := r.sessionRepo.ListOpen(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	for _, session := range sessions {
		res.SessionsChecked++
		gw, err := r.gatewayFor(session.Provider, session.Reference)
		if err != nil {
			res.Failures++
			continue
		}
		outcome, changed, err := r.refresh(ctx, gw, session.Reference, session.OrderID, session.ID)
		switch {
		case errors.Is(err, ErrNoOrder), err == nil && outcome == model.OutcomePending:
			// sessions for pre-created orders never report ErrNoOrder
			if r.abandoned(session) {
				if err := r.sessionRepo.MarkFailed(ctx, nil, session.ID); err == nil {
					res.Abandoned++
				}
			}
			if changed {
				res.Changed++
			}
		case err != nil:
			r.logger.Error("reconcile payment session failed", zap.String("payment_session_id", session.ID), zap.Error(err))
			res.Failures++
		case changed:
			res.Changed++
		}
	}

	r.logger.Info("reconciliation sweep finished",
		zap.Int("orders_checked", res.OrdersChecked),
		zap.Int("sessions_checked", res.SessionsChecked),
		zap.Int("changed", res.Changed),
		zap.Int("abandoned", res.Abandoned),
		zap.Int("failures", res.Failures),
	)
	return res, nil
}

func (r *Reconciler) refresh(ctx context.Context, gw client.PaymentGateway, reference, orderID, paymentSessionID string) (model.PaymentOutcome, bool, error) {
	state, err := gw.Retrieve(ctx, reference)
	if err != nil {
		return "", false, err
	}
	if state.OrderID == "" {
		state.OrderID = orderID
	}
	if state.PaymentSessionID == "" {
		state.PaymentSessionID = paymentSessionID
	}
	_, changed, err := r.confirm.ConfirmCheckout(ctx, *state)
	return state.Outcome, changed, err
}

func (r *Reconciler) gatewayFor(provider, reference string) (client.PaymentGateway, error) {
	if gw, err := r.gateways.Get(provider); err == nil {
		return gw, nil
	}
	return r.gateways.ForReference(reference)
}

func (r *Reconciler) abandoned(session *model.PaymentSession) bool {
	return r.clock.now().Sub(session.CreatedAt) > abandonSessionAfter
}

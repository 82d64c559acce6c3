package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/config"
	"storefront-payments/internal/model"
)

// reconciler sweeps as if an hour had passed since the rows were written.
func (f *fixture) reconciler() *Reconciler {
	clock := Clock(func() time.Time { return time.Now().Add(time.Hour) })
	cfg := config.Reconcile{Interval: time.Minute, StaleAfter: 30 * time.Minute, BatchSize: 10}
	return NewReconciler(f.gateways, f.confirm, f.orderRepo, f.sessionRepo, cfg, clock, nil)
}

func TestSweepCompletesPaidSessionWithoutWebhook(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "hoodie_zip", 1)
	ref := f.openSession("u1")
	f.gw.setOutcome(ref, model.OutcomePaid)

	res, err := f.reconciler().Sweep(f.ctx)
	require.NoError(t, err)
	f.effects.Wait()

	assert.Equal(t, 1, res.SessionsChecked)
	assert.Equal(t, 1, res.Changed)
	assert.Zero(t, res.Failures)

	order, err := f.orderRepo.FindByCorrelation(f.ctx, nil, ref)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)

	// a second sweep finds nothing left to do
	res, err = f.reconciler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.SessionsChecked)
	assert.Zero(t, res.OrdersChecked)
}

func TestSweepAdvancesStaleProcessingOrder(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "hoodie_zip", 1)
	ref := f.openSession("u1")
	f.gw.setOutcome(ref, model.OutcomeProcessing)

	order, _, err := f.confirm.ConfirmCheckout(f.ctx, f.gw.state(ref))
	require.NoError(t, err)
	require.Equal(t, model.OrderProcessing, order.Status)

	f.gw.setOutcome(ref, model.OutcomePaid)
	res, err := f.reconciler().Sweep(f.ctx)
	require.NoError(t, err)
	f.effects.Wait()

	assert.Equal(t, 1, res.OrdersChecked)
	assert.Equal(t, 1, res.Changed)

	reloaded, err := f.orderRepo.FindByID(f.ctx, nil, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, reloaded.Status)
	assert.Equal(t, int64(1), f.countOrders())
}

func TestSweepAbandonsOldUnpaidSessions(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "hoodie_zip", 1)
	fresh := f.openSession("u1")
	old := f.openSession("u1")
	require.NoError(t, f.db.Model(&model.PaymentSession{}).
		Where("reference = ?", old).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	res, err := f.reconciler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SessionsChecked)
	assert.Equal(t, 1, res.Abandoned)
	assert.Zero(t, res.Changed)

	session, err := f.sessionRepo.FindByReference(f.ctx, nil, old)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSessionFailed, session.Status)

	session, err = f.sessionRepo.FindByReference(f.ctx, nil, fresh)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSessionOpen, session.Status)
	assert.Equal(t, int64(0), f.countOrders())
}

func TestSweepCountsProviderFailures(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "hoodie_zip", 1)
	f.openSession("u1")
	f.gw.retrieveErr = errProviderDown

	res, err := f.reconciler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, int64(1), f.countSessions())
}

func TestSweepAbandonsUnpaidSessionForPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "tee_classic", 1)

	pending, err := f.orders.CreatePendingOrder(f.ctx, "u1", "")
	require.NoError(t, err)
	intent, err := f.payments.CreateIntent(f.ctx, IntentCommand{UserID: "u1", OrderID: pending.ID})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&model.PaymentSession{}).
		Where("reference = ?", intent.IntentID).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	res, err := f.reconciler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SessionsChecked)
	assert.Equal(t, 1, res.Abandoned)
	assert.Zero(t, res.Failures)

	session, err := f.sessionRepo.FindByReference(f.ctx, nil, intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSessionFailed, session.Status)

	order, err := f.orderRepo.FindByID(f.ctx, nil, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, order.Status)

	res, err = f.reconciler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.SessionsChecked)
}

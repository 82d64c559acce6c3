package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/model"
)

func webhookRequest(t *testing.T, provider, signature string, hook fakeWebhook) (http.Header, []byte) {
	t.Helper()
	body, err := json.Marshal(hook)
	require.NoError(t, err)
	header := http.Header{}
	header.Set(fakeProviderHeader, provider)
	header.Set(fakeSignatureHeader, signature)
	return header, body
}

func (f *fixture) webhooks() *WebhookProcessor {
	return NewWebhookProcessor(f.gateways, f.confirm, f.eventRepo, 2, 8, nil)
}

func (f *fixture) countEvents() int64 {
	f.t.Helper()
	var n int64
	require.NoError(f.t, f.db.Model(&model.WebhookEvent{}).Count(&n).Error)
	return n
}

func TestWebhookDeliveredTwiceCompletesOnce(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "hoodie_zip", 1)
	ref := f.openSession("u1")
	f.gw.setOutcome(ref, model.OutcomePaid)
	p := f.webhooks()

	header, body := webhookRequest(t, "stripe", "valid", fakeWebhook{ID: "evt_42", Type: "checkout.session.completed", Reference: ref})
	require.NoError(t, p.Receive(f.ctx, header, body))
	require.NoError(t, p.Receive(f.ctx, header, body))
	f.effects.Wait()

	assert.Equal(t, int64(1), f.countOrders())
	order, err := f.orderRepo.FindByCorrelation(f.ctx, nil, ref)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)
	assert.Equal(t, 0, f.cartLines("u1"))

	orders, _, invoices := f.publisher.counts()
	assert.Equal(t, 1, orders)
	assert.Equal(t, 1, invoices)
}

func TestWebhookAndDirectConfirmationAgree(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "hoodie_zip", 1)
	ref := f.openSession("u1")
	f.gw.setOutcome(ref, model.OutcomePaid)
	p := f.webhooks()

	direct, err := f.confirm.ConfirmDirect(f.ctx, "u1", ref)
	require.NoError(t, err)

	// a second event type for the same payment
	header, body := webhookRequest(t, "stripe", "valid", fakeWebhook{ID: "evt_pi", Type: "payment_intent.succeeded", Reference: ref})
	require.NoError(t, p.Receive(f.ctx, header, body))
	f.effects.Wait()

	order, err := f.orderRepo.FindByID(f.ctx, nil, direct.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)
	assert.Equal(t, int64(1), f.countOrders())

	_, _, invoices := f.publisher.counts()
	assert.Equal(t, 1, invoices)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "hoodie_zip", 1)
	ref := f.openSession("u1")
	f.gw.setOutcome(ref, model.OutcomePaid)
	p := f.webhooks()

	header, body := webhookRequest(t, "stripe", "forged", fakeWebhook{ID: "evt_1", Type: "checkout.session.completed", Reference: ref})
	err := p.Receive(f.ctx, header, body)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindSignature))

	err = p.Receive(f.ctx, http.Header{}, body)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindSignature))

	assert.Equal(t, int64(0), f.countEvents())
	assert.Equal(t, int64(0), f.countOrders())
}

func TestWebhookIgnoresIrrelevantEvents(t *testing.T) {
	f := newFixture(t)
	p := f.webhooks()

	header, body := webhookRequest(t, "stripe", "valid", fakeWebhook{ID: "evt_x", Type: "ignored"})
	require.NoError(t, p.Receive(f.ctx, header, body))
	assert.Equal(t, int64(0), f.countEvents())
}

func TestWebhookRefreshReadsProviderState(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "hoodie_zip", 1)
	ref := f.paypalSession("u1")
	f.paypal.setOutcome(ref, model.OutcomePaid)
	p := f.webhooks()

	header, body := webhookRequest(t, "paypal", "valid", fakeWebhook{ID: "WH-1", Type: "CHECKOUT.ORDER.APPROVED", Reference: ref, Outcome: string(model.OutcomeProcessing), Refresh: true})
	require.NoError(t, p.Receive(f.ctx, header, body))
	f.effects.Wait()

	order, err := f.orderRepo.FindByCorrelation(f.ctx, nil, ref)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)
	assert.Equal(t, "paypal", order.Provider)
}

func TestWebhookWorkersDrainOnShutdown(t *testing.T) {
	f := newFixture(t)
	f.addToCart("u1", "hoodie_zip", 1)
	ref := f.openSession("u1")
	f.gw.setOutcome(ref, model.OutcomePaid)

	p := f.webhooks()
	p.Start()

	header, body := webhookRequest(t, "stripe", "valid", fakeWebhook{ID: "evt_async", Type: "checkout.session.completed", Reference: ref})
	require.NoError(t, p.Receive(f.ctx, header, body))

	ctx, cancel := context.WithTimeout(f.ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	f.effects.Wait()

	order, err := f.orderRepo.FindByCorrelation(f.ctx, nil, ref)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)

	var ev model.WebhookEvent
	require.NoError(t, f.db.Where("event_id = ?", "evt_async").First(&ev).Error)
	assert.NotNil(t, ev.ProcessedAt)

	err = p.Receive(f.ctx, header, body)
	assert.NoError(t, err, "already processed events are acknowledged after shutdown")
}

func (f *fixture) paypalSession(userID string) string {
	f.t.Helper()
	res, err := f.payments.CreateCheckoutSession(f.ctx, SessionCommand{UserID: userID, PaymentMethod: "paypal"})
	require.NoError(f.t, err)
	return res.SessionID
}

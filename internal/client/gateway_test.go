package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/config"
)

type stubGateway struct {
	name   string
	prefix string
	header string
	err    error
	calls  int
}

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) Owns(reference string) bool { return strings.HasPrefix(reference, g.prefix) }

func (g *stubGateway) MatchesWebhook(header http.Header) bool { return header.Get(g.header) != "" }

func (g *stubGateway) CreateIntent(context.Context, IntentRequest) (*IntentResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &IntentResult{ID: g.prefix + "1"}, nil
}

func (g *stubGateway) CreateSession(context.Context, SessionRequest) (*SessionResult, error) {
	g.calls++
	return nil, g.err
}

func (g *stubGateway) Retrieve(_ context.Context, reference string) (*CheckoutState, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &CheckoutState{Provider: g.name, Reference: reference}, nil
}

func (g *stubGateway) ParseWebhook(context.Context, http.Header, []byte) (*Event, error) {
	g.calls++
	return nil, g.err
}

func TestGatewaysRouting(t *testing.T) {
	stripeGw := &stubGateway{name: ProviderStripe, prefix: "cs_", header: "Stripe-Signature"}
	paypalGw := &stubGateway{name: ProviderPaypal, prefix: "PP", header: "Paypal-Transmission-Id"}

	gws, err := NewGateways(ProviderStripe, stripeGw, paypalGw, nil)
	require.NoError(t, err)
	assert.Equal(t, stripeGw, gws.Default())

	gw, err := gws.Get(ProviderPaypal)
	require.NoError(t, err)
	assert.Equal(t, paypalGw, gw)

	_, err = gws.Get("adyen")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	gw, err = gws.ForReference("PP123")
	require.NoError(t, err)
	assert.Equal(t, paypalGw, gw)

	_, err = gws.ForReference("ch_1")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	header := http.Header{}
	header.Set("Stripe-Signature", "t=1,v1=abc")
	gw, err = gws.ForWebhook(header)
	require.NoError(t, err)
	assert.Equal(t, stripeGw, gw)

	_, err = gws.ForWebhook(http.Header{})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewGateways(ProviderPaypal, stripeGw)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCheckoutStateCorrelationKey(t *testing.T) {
	assert.Equal(t, "ps-1", CheckoutState{PaymentSessionID: "ps-1", Reference: "cs_1"}.CorrelationKey())
	assert.Equal(t, "cs_1", CheckoutState{Reference: "cs_1"}.CorrelationKey())
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &stubGateway{name: ProviderStripe, prefix: "pi_", err: errors.New("503 from provider")}
	gw := WithCircuitBreaker(inner, config.Breaker{MaxFailures: 3, OpenTimeout: time.Minute}, nil)
	assert.Equal(t, ProviderStripe, gw.Name())

	for i := 0; i < 3; i++ {
		_, err := gw.Retrieve(context.Background(), "pi_1")
		assert.ErrorIs(t, err, inner.err)
	}

	_, err := gw.CreateIntent(context.Background(), IntentRequest{Amount: 100})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls)
}

func TestCircuitBreakerIgnoresSignatureFailures(t *testing.T) {
	inner := &stubGateway{name: ProviderStripe, prefix: "pi_", err: ErrInvalidSignature}
	gw := WithCircuitBreaker(inner, config.Breaker{MaxFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 5; i++ {
		_, err := gw.ParseWebhook(context.Background(), http.Header{}, nil)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	}
	assert.Equal(t, 5, inner.calls)

	inner.err = nil
	res, err := gw.CreateIntent(context.Background(), IntentRequest{Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.ID)
}

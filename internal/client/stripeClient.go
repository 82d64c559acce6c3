package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	stripeclient "github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"storefront-payments/internal/config"
	"storefront-payments/internal/model"
)

const stripeSignatureHeader = "Stripe-Signature"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeCouponAPI interface {
	New(params *stripe.CouponParams) (*stripe.Coupon, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
	coupons  stripeCouponAPI
}

type stripeGateway struct {
	api           stripeClients
	account       string
	webhookSecret string
	logger        *zap.Logger
}

func NewStripeGateway(cfg config.Stripe, logger *zap.Logger) (PaymentGateway, error) {
	apiKey := strings.TrimSpace(cfg.SecretKey)
	if apiKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}

	sc := stripeclient.New(apiKey, nil)
	return newStripeGateway(stripeClients{
		sessions: sc.CheckoutSessions,
		intents:  sc.PaymentIntents,
		coupons:  sc.Coupons,
	}, cfg, logger), nil
}

func newStripeGateway(api stripeClients, cfg config.Stripe, logger *zap.Logger) *stripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &stripeGateway{
		api:           api,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger.Named("stripe"),
	}
}

func (g *stripeGateway) Name() string {
	return ProviderStripe
}

func (g *stripeGateway) Owns(reference string) bool {
	return strings.HasPrefix(reference, "cs_") || strings.HasPrefix(reference, "pi_")
}

func (g *stripeGateway) MatchesWebhook(header http.Header) bool {
	return header.Get(stripeSignatureHeader) != ""
}

func (g *stripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	g.decorate(ctx, &params.Params, req.IdempotencyKey)
	params.Metadata = copyMetadata(req.Metadata)

	intent, err := g.api.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	g.logger.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.Int64("amount", intent.Amount),
	)

	return &IntentResult{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

func (g *stripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	currency := strings.ToLower(req.Currency)

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(withSessionPlaceholder(req.SuccessURL)),
		CancelURL:  stripe.String(req.CancelURL),
	}
	g.decorate(ctx, &params.Params, req.IdempotencyKey)
	if req.ClientReference != "" {
		params.ClientReferenceID = stripe.String(req.ClientReference)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(strings.ToLower(req.Locale))
	}
	params.Metadata = copyMetadata(req.Metadata)
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: copyMetadata(req.Metadata),
	}

	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		params.LineItems = append(params.LineItems, line)
	}

	if req.ShippingAmount > 0 {
		params.ShippingOptions = []*stripe.CheckoutSessionShippingOptionParams{{
			ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
				DisplayName: stripe.String("Standard shipping"),
				Type:        stripe.String("fixed_amount"),
				FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
					Amount:   stripe.Int64(req.ShippingAmount),
					Currency: stripe.String(currency),
				},
			},
		}}
	}

	if req.DiscountAmount > 0 {
		couponID, err := g.createCoupon(ctx, req, currency)
		if err != nil {
			return nil, err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{
			Coupon: stripe.String(couponID),
		}}
	}

	session, err := g.api.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	g.logger.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.Int64("amount_total", session.AmountTotal),
	)

	return &SessionResult{
		ID:  session.ID,
		URL: session.URL,
	}, nil
}

// createCoupon mints a single-redemption coupon worth exactly the frozen discount.
func (g *stripeGateway) createCoupon(ctx context.Context, req SessionRequest, currency string) (string, error) {
	label := req.DiscountLabel
	if label == "" {
		label = "Account discount"
	}

	params := &stripe.CouponParams{
		AmountOff:      stripe.Int64(req.DiscountAmount),
		Currency:       stripe.String(currency),
		Duration:       stripe.String(string(stripe.CouponDurationOnce)),
		MaxRedemptions: stripe.Int64(1),
		Name:           stripe.String(label),
	}
	key := ""
	if req.IdempotencyKey != "" {
		key = req.IdempotencyKey + "-coupon"
	}
	g.decorate(ctx, &params.Params, key)
	if id := req.Metadata[MetaPaymentSessionID]; id != "" {
		params.AddMetadata(MetaPaymentSessionID, id)
	}

	coupon, err := g.api.coupons.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create coupon: %w", err)
	}
	return coupon.ID, nil
}

func (g *stripeGateway) Retrieve(ctx context.Context, reference string) (*CheckoutState, error) {
	switch {
	case strings.HasPrefix(reference, "cs_"):
		params := &stripe.CheckoutSessionParams{}
		g.decorate(ctx, &params.Params, "")
		params.AddExpand("payment_intent")
		session, err := g.api.sessions.Get(reference, params)
		if err != nil {
			return nil, fmt.Errorf("stripe: get checkout session: %w", err)
		}
		return stateFromSession(session), nil
	case strings.HasPrefix(reference, "pi_"):
		params := &stripe.PaymentIntentParams{}
		g.decorate(ctx, &params.Params, "")
		intent, err := g.api.intents.Get(reference, params)
		if err != nil {
			return nil, fmt.Errorf("stripe: get payment intent: %w", err)
		}
		return stateFromIntent(intent), nil
	}
	return nil, fmt.Errorf("%w: stripe reference %q", ErrUnknownProvider, reference)
}

func (g *stripeGateway) ParseWebhook(_ context.Context, header http.Header, body []byte) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(body, header.Get(stripeSignatureHeader), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{
		ID:       event.ID,
		Type:     string(event.Type),
		Provider: ProviderStripe,
	}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		state := stateFromSession(&session)
		switch out.Type {
		case "checkout.session.async_payment_failed":
			state.Outcome = model.OutcomeFailed
		case "checkout.session.expired":
			state.Outcome = model.OutcomeCancelled
		}
		out.State = *state
		out.Relevant = true

	case "payment_intent.succeeded",
		"payment_intent.processing",
		"payment_intent.canceled",
		"payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		state := stateFromIntent(&intent)
		if out.Type == "payment_intent.payment_failed" {
			// the customer may retry with another payment method
			state.Outcome = model.OutcomePending
		}
		out.State = *state
		out.Relevant = true
	}

	return out, nil
}

func (g *stripeGateway) decorate(ctx context.Context, params *stripe.Params, idempotencyKey string) {
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
}

func stateFromSession(session *stripe.CheckoutSession) *CheckoutState {
	state := &CheckoutState{
		Provider:    ProviderStripe,
		Reference:   session.ID,
		Mode:        model.ModeSession,
		Outcome:     model.OutcomePending,
		AmountTotal: session.AmountTotal,
		Currency:    strings.ToLower(string(session.Currency)),
	}
	applyMetadata(state, session.Metadata)

	switch {
	case session.Status == stripe.CheckoutSessionStatusExpired:
		state.Outcome = model.OutcomeCancelled
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		state.Outcome = model.OutcomePaid
	case session.Status == stripe.CheckoutSessionStatusComplete:
		// completed but awaiting an asynchronous payment method
		state.Outcome = model.OutcomeProcessing
	}
	return state
}

func stateFromIntent(intent *stripe.PaymentIntent) *CheckoutState {
	state := &CheckoutState{
		Provider:    ProviderStripe,
		Reference:   intent.ID,
		Mode:        model.ModeIntent,
		Outcome:     model.OutcomePending,
		AmountTotal: intent.Amount,
		Currency:    strings.ToLower(string(intent.Currency)),
	}
	applyMetadata(state, intent.Metadata)

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		state.Outcome = model.OutcomePaid
	case stripe.PaymentIntentStatusProcessing:
		state.Outcome = model.OutcomeProcessing
	case stripe.PaymentIntentStatusCanceled:
		state.Outcome = model.OutcomeCancelled
	}
	return state
}

func applyMetadata(state *CheckoutState, metadata map[string]string) {
	state.Metadata = copyMetadata(metadata)
	state.PaymentSessionID = metadata[MetaPaymentSessionID]
	state.OrderID = metadata[MetaOrderID]
	state.UserID = metadata[MetaUserID]
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// withSessionPlaceholder makes sure the success redirect carries the session id back to the client.
func withSessionPlaceholder(successURL string) string {
	if successURL == "" || strings.Contains(successURL, "{CHECKOUT_SESSION_ID}") {
		return successURL
	}
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id={CHECKOUT_SESSION_ID}"
}

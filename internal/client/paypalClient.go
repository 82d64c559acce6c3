package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-payments/internal/config"
	"storefront-payments/internal/model"
)

const paypalTransmissionIDHeader = "Paypal-Transmission-Id"

type paypalClientImpl struct {
	httpClient         *http.Client
	baseApiURL         string
	paypalClientID     string
	paypalClientSecret string
	webhookID          string
	logger             *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPaypalGateway(paypalCfg config.Paypal, logger *zap.Logger) PaymentGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &paypalClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL:         strings.TrimRight(paypalCfg.BaseApiURL, "/"),
		paypalClientID:     paypalCfg.ClientID,
		paypalClientSecret: paypalCfg.ClientSecret,
		webhookID:          paypalCfg.WebhookID,
		logger:             logger.Named("paypal"),
	}
}

func (c *paypalClientImpl) Name() string {
	return ProviderPaypal
}

// Owns matches PayPal order ids, which are upper-case alphanumerics.
func (c *paypalClientImpl) Owns(reference string) bool {
	if reference == "" {
		return false
	}
	for _, r := range reference {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func (c *paypalClientImpl) MatchesWebhook(header http.Header) bool {
	return header.Get(paypalTransmissionIDHeader) != ""
}

// CreateIntent creates a PayPal order for the JS SDK; the order id doubles as the client secret.
func (c *paypalClientImpl) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	order, err := c.createOrder(ctx, map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []model.PaypalPurchaseUnit{{
			ReferenceID: req.Metadata[MetaPaymentSessionID],
			CustomID:    req.Metadata[MetaPaymentSessionID],
			Amount: &model.PaypalAmount{
				Currency: strings.ToUpper(req.Currency),
				Value:    formatMinor(req.Amount),
			},
		}},
	}, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	return &IntentResult{
		ID:           order.ID,
		ClientSecret: order.ID,
	}, nil
}

func (c *paypalClientImpl) CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	currency := strings.ToUpper(req.Currency)
	money := func(v int64) *model.PaypalMoney {
		return &model.PaypalMoney{Currency: currency, Value: formatMinor(v)}
	}

	var itemTotal int64
	items := make([]model.PaypalItem, 0, len(req.Items))
	for _, item := range req.Items {
		itemTotal += item.UnitAmount * item.Quantity
		items = append(items, model.PaypalItem{
			Name:       item.Name,
			SKU:        item.SKU,
			Quantity:   strconv.FormatInt(item.Quantity, 10),
			UnitAmount: *money(item.UnitAmount),
		})
	}

	breakdown := &model.PaypalBreakdown{
		ItemTotal: money(itemTotal),
		Shipping:  money(req.ShippingAmount),
	}
	if req.DiscountAmount > 0 {
		breakdown.Discount = money(req.DiscountAmount)
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []model.PaypalPurchaseUnit{{
			ReferenceID: req.Metadata[MetaPaymentSessionID],
			CustomID:    req.Metadata[MetaPaymentSessionID],
			Amount: &model.PaypalAmount{
				Currency:  currency,
				Value:     formatMinor(req.Total),
				Breakdown: breakdown,
			},
			Items: items,
		}},
		"application_context": map[string]string{
			"return_url":          req.SuccessURL,
			"cancel_url":          req.CancelURL,
			"shipping_preference": "GET_FROM_FILE",
			"user_action":         "PAY_NOW",
		},
	}

	order, err := c.createOrder(ctx, payload, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	return &SessionResult{
		ID:  order.ID,
		URL: extractApproveURL(order.Links),
	}, nil
}

// Retrieve loads the order, capturing it first if the buyer has approved it.
func (c *paypalClientImpl) Retrieve(ctx context.Context, reference string) (*CheckoutState, error) {
	order, err := c.getOrder(ctx, reference)
	if err != nil {
		return nil, err
	}

	if order.Status == "APPROVED" {
		captured, err := c.captureOrder(ctx, reference)
		if err != nil {
			c.logger.Warn("capture approved order failed, re-reading order",
				zap.String("paypal_order_id", reference), zap.Error(err))
			if order, err = c.getOrder(ctx, reference); err != nil {
				return nil, err
			}
		} else {
			order = captured
		}
	}

	return stateFromPaypalOrder(order), nil
}

func (c *paypalClientImpl) ParseWebhook(ctx context.Context, header http.Header, body []byte) (*Event, error) {
	if err := c.verifyWebhookSignature(ctx, header, body); err != nil {
		return nil, err
	}

	var event model.PaypalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("paypal: decode webhook event: %w", err)
	}

	out := &Event{
		ID:       event.ID,
		Type:     event.EventType,
		Provider: ProviderPaypal,
	}
	res := event.Resource

	switch event.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		// approval alone moves no money; the worker re-reads and captures
		out.State = CheckoutState{
			Provider:  ProviderPaypal,
			Reference: res.ID,
			Mode:      model.ModeSession,
			Outcome:   model.OutcomeProcessing,
		}
		if len(res.PurchaseUnits) > 0 {
			out.State.PaymentSessionID = res.PurchaseUnits[0].CustomID
		}
		out.Relevant = true
		out.Refresh = true

	case "CHECKOUT.ORDER.VOIDED":
		out.State = CheckoutState{
			Provider:  ProviderPaypal,
			Reference: res.ID,
			Mode:      model.ModeSession,
			Outcome:   model.OutcomeCancelled,
		}
		if len(res.PurchaseUnits) > 0 {
			out.State.PaymentSessionID = res.PurchaseUnits[0].CustomID
		}
		out.Relevant = true

	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.PENDING", "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		out.State = CheckoutState{
			Provider:         ProviderPaypal,
			Reference:        res.SupplementaryData.RelatedIDs.OrderID,
			Mode:             model.ModeSession,
			Outcome:          captureOutcome(res.Status),
			PaymentSessionID: res.CustomID,
		}
		if res.Amount != nil {
			out.State.AmountTotal = parseMinor(res.Amount.Value)
			out.State.Currency = strings.ToLower(res.Amount.Currency)
		}
		out.Relevant = out.State.Reference != ""
	}

	if out.State.PaymentSessionID != "" {
		out.State.Metadata = map[string]string{MetaPaymentSessionID: out.State.PaymentSessionID}
	}
	return out, nil
}

func (c *paypalClientImpl) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	auth := base64.StdEncoding.EncodeToString(
		[]byte(c.paypalClientID + ":" + c.paypalClientSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("paypal token error %d: %s", resp.StatusCode, string(b))
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}

	c.accessToken = res.AccessToken
	// refresh a minute early
	c.tokenExpiry = time.Now().Add(time.Duration(res.ExpiresIn)*time.Second - time.Minute)

	return c.accessToken, nil
}

func (c *paypalClientImpl) createOrder(ctx context.Context, payload map[string]interface{}, requestID string) (*model.PaypalOrder, error) {
	var order model.PaypalOrder
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, requestID, &order); err != nil {
		return nil, fmt.Errorf("paypal: create order: %w", err)
	}

	c.logger.Info("paypal order created", zap.String("paypal_order_id", order.ID), zap.String("status", order.Status))
	return &order, nil
}

func (c *paypalClientImpl) getOrder(ctx context.Context, orderID string) (*model.PaypalOrder, error) {
	var order model.PaypalOrder
	if err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+orderID, nil, "", &order); err != nil {
		return nil, fmt.Errorf("paypal: get order: %w", err)
	}
	return &order, nil
}

func (c *paypalClientImpl) captureOrder(ctx context.Context, orderID string) (*model.PaypalOrder, error) {
	var order model.PaypalOrder
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	if err := c.do(ctx, http.MethodPost, path, map[string]interface{}{}, "capture-"+orderID, &order); err != nil {
		return nil, fmt.Errorf("paypal: capture order: %w", err)
	}

	c.logger.Info("paypal order captured", zap.String("paypal_order_id", orderID), zap.String("status", order.Status))
	return &order, nil
}

func (c *paypalClientImpl) verifyWebhookSignature(ctx context.Context, header http.Header, body []byte) error {
	transmissionID := header.Get(paypalTransmissionIDHeader)
	if transmissionID == "" || c.webhookID == "" {
		return fmt.Errorf("%w: missing transmission id or webhook id", ErrInvalidSignature)
	}

	payload := map[string]interface{}{
		"auth_algo":         header.Get("Paypal-Auth-Algo"),
		"cert_url":          header.Get("Paypal-Cert-Url"),
		"transmission_id":   transmissionID,
		"transmission_sig":  header.Get("Paypal-Transmission-Sig"),
		"transmission_time": header.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.webhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var res struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, "", &res); err != nil {
		return fmt.Errorf("paypal: verify webhook signature: %w", err)
	}
	if res.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: verification status %q", ErrInvalidSignature, res.VerificationStatus)
	}
	return nil
}

func (c *paypalClientImpl) do(ctx context.Context, method, path string, payload interface{}, requestID string, out interface{}) error {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get paypal access token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal req payload: %w", err)
		}
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, body)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("paypal error %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode paypal response: %w", err)
	}
	return nil
}

func stateFromPaypalOrder(order *model.PaypalOrder) *CheckoutState {
	state := &CheckoutState{
		Provider:  ProviderPaypal,
		Reference: order.ID,
		Mode:      model.ModeSession,
		Outcome:   model.OutcomePending,
	}

	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		state.PaymentSessionID = unit.CustomID
		if unit.Amount != nil {
			state.AmountTotal = parseMinor(unit.Amount.Value)
			state.Currency = strings.ToLower(unit.Amount.Currency)
		}
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			state.Outcome = captureOutcome(unit.Payments.Captures[0].Status)
		}
	}
	if state.PaymentSessionID != "" {
		state.Metadata = map[string]string{MetaPaymentSessionID: state.PaymentSessionID}
	}

	switch order.Status {
	case "COMPLETED":
		if state.Outcome == model.OutcomePending {
			state.Outcome = model.OutcomePaid
		}
	case "VOIDED":
		state.Outcome = model.OutcomeCancelled
	case "APPROVED":
		state.Outcome = model.OutcomeProcessing
	}
	return state
}

func captureOutcome(status string) model.PaymentOutcome {
	switch status {
	case "COMPLETED":
		return model.OutcomePaid
	case "PENDING":
		return model.OutcomeProcessing
	case "DECLINED", "DENIED", "FAILED":
		return model.OutcomeFailed
	}
	return model.OutcomePending
}

func extractApproveURL(links []model.PaypalLink) string {
	for _, link := range links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

// formatMinor renders cents as a PayPal amount string, e.g. 1999 -> "19.99".
func formatMinor(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}

func parseMinor(value string) int64 {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0
	}
	return d.Shift(2).Round(0).IntPart()
}

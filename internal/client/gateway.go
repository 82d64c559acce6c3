package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"storefront-payments/internal/model"
)

const (
	ProviderStripe = "stripe"
	ProviderPaypal = "paypal"
)

// Metadata keys written to provider objects at checkout creation.
const (
	MetaPaymentSessionID = "payment_session_id"
	MetaOrderID          = "order_id"
	MetaUserID           = "user_id"
)

var (
	ErrInvalidSignature = errors.New("client: invalid webhook signature")
	ErrUnsupported      = errors.New("client: operation not supported by provider")
	ErrUnknownProvider  = errors.New("client: unknown payment provider")
)

type IntentRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type IntentResult struct {
	ID           string
	ClientSecret string
}

type LineItem struct {
	Name       string
	SKU        string
	UnitAmount int64
	Quantity   int64
}

type SessionRequest struct {
	Currency        string
	Items           []LineItem
	ShippingAmount  int64
	DiscountAmount  int64
	DiscountLabel   string
	Total           int64
	SuccessURL      string
	CancelURL       string
	ClientReference string
	Locale          string
	Metadata        map[string]string
	IdempotencyKey  string
}

type SessionResult struct {
	ID  string
	URL string
}

// CheckoutState is a provider checkout normalized to what confirmation needs.
type CheckoutState struct {
	Provider         string
	Reference        string
	Mode             string
	Outcome          model.PaymentOutcome
	AmountTotal      int64
	Currency         string
	PaymentSessionID string
	OrderID          string
	UserID           string
	Metadata         map[string]string
}

// CorrelationKey identifies the checkout attempt across both confirmation paths.
func (s CheckoutState) CorrelationKey() string {
	if s.PaymentSessionID != "" {
		return s.PaymentSessionID
	}
	return s.Reference
}

type Event struct {
	ID       string
	Type     string
	Provider string
	// Relevant is false for event types that never move an order.
	Relevant bool
	// Refresh asks the processor to re-read the checkout from the provider before confirming.
	Refresh bool
	State   CheckoutState
}

type PaymentGateway interface {
	Name() string
	// Owns reports whether a provider reference was issued by this gateway.
	Owns(reference string) bool
	MatchesWebhook(header http.Header) bool
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
	CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error)
	Retrieve(ctx context.Context, reference string) (*CheckoutState, error)
	ParseWebhook(ctx context.Context, header http.Header, body []byte) (*Event, error)
}

// Gateways is the set of configured providers with one default.
type Gateways struct {
	byName      map[string]PaymentGateway
	defaultName string
}

func NewGateways(defaultName string, gateways ...PaymentGateway) (*Gateways, error) {
	g := &Gateways{
		byName:      make(map[string]PaymentGateway, len(gateways)),
		defaultName: defaultName,
	}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		g.byName[gw.Name()] = gw
	}
	if _, ok := g.byName[defaultName]; !ok {
		return nil, fmt.Errorf("%w: default %q not configured", ErrUnknownProvider, defaultName)
	}
	return g, nil
}

func (g *Gateways) Default() PaymentGateway {
	return g.byName[g.defaultName]
}

func (g *Gateways) Get(name string) (PaymentGateway, error) {
	gw, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return gw, nil
}

func (g *Gateways) ForWebhook(header http.Header) (PaymentGateway, error) {
	for _, name := range g.names() {
		if gw := g.byName[name]; gw.MatchesWebhook(header) {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: no provider recognizes webhook headers", ErrInvalidSignature)
}

func (g *Gateways) ForReference(reference string) (PaymentGateway, error) {
	for _, name := range g.names() {
		if gw := g.byName[name]; gw.Owns(reference) {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: reference %q", ErrUnknownProvider, reference)
}

func (g *Gateways) names() []string {
	names := make([]string, 0, len(g.byName))
	for name := range g.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

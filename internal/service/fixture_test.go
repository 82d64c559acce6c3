package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"storefront-payments/internal/client"
	"storefront-payments/internal/lock"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
	"storefront-payments/internal/testutil"
)

const (
	fakeSignatureHeader = "X-Fake-Signature"
	fakeProviderHeader  = "X-Fake-Provider"
)

// fakeGateway is an in-memory provider. Checkouts start pending and are
// moved with setOutcome.
type fakeGateway struct {
	name string

	mu          sync.Mutex
	seq         int
	states      map[string]*client.CheckoutState
	createErr   error
	retrieveErr error
	lastIntent  client.IntentRequest
	lastSession client.SessionRequest
	retrieves   int
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, states: map[string]*client.CheckoutState{}}
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Owns(reference string) bool {
	return strings.HasPrefix(reference, g.name+"_")
}

func (g *fakeGateway) MatchesWebhook(header http.Header) bool {
	return header.Get(fakeProviderHeader) == g.name
}

func (g *fakeGateway) CreateIntent(_ context.Context, req client.IntentRequest) (*client.IntentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.lastIntent = req
	id := g.store(model.ModeIntent, "pi", req.Amount, req.Currency, req.Metadata)
	return &client.IntentResult{ID: id, ClientSecret: id + "_secret"}, nil
}

func (g *fakeGateway) CreateSession(_ context.Context, req client.SessionRequest) (*client.SessionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.lastSession = req
	id := g.store(model.ModeSession, "cs", req.Total, req.Currency, req.Metadata)
	return &client.SessionResult{ID: id, URL: "https://pay.example.test/" + id}, nil
}

func (g *fakeGateway) store(mode, prefix string, amount int64, currency string, metadata map[string]string) string {
	g.seq++
	id := fmt.Sprintf("%s_%s_%d", g.name, prefix, g.seq)
	g.states[id] = &client.CheckoutState{
		Provider:         g.name,
		Reference:        id,
		Mode:             mode,
		Outcome:          model.OutcomePending,
		AmountTotal:      amount,
		Currency:         currency,
		PaymentSessionID: metadata[client.MetaPaymentSessionID],
		OrderID:          metadata[client.MetaOrderID],
		UserID:           metadata[client.MetaUserID],
		Metadata:         maps.Clone(metadata),
	}
	return id
}

func (g *fakeGateway) Retrieve(_ context.Context, reference string) (*client.CheckoutState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieves++
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	st, ok := g.states[reference]
	if !ok {
		return nil, fmt.Errorf("no such checkout %s", reference)
	}
	cp := *st
	cp.Metadata = maps.Clone(st.Metadata)
	return &cp, nil
}

type fakeWebhook struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Outcome   string `json:"outcome"`
	Refresh   bool   `json:"refresh"`
}

func (g *fakeGateway) ParseWebhook(ctx context.Context, header http.Header, body []byte) (*client.Event, error) {
	if header.Get(fakeSignatureHeader) != "valid" {
		return nil, fmt.Errorf("%w: bad fake signature", client.ErrInvalidSignature)
	}
	var hook fakeWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, err
	}
	ev := &client.Event{
		ID:       hook.ID,
		Type:     hook.Type,
		Provider: g.name,
		Relevant: hook.Type != "ignored",
		Refresh:  hook.Refresh,
	}
	if !ev.Relevant {
		return ev, nil
	}
	st, err := g.Retrieve(ctx, hook.Reference)
	if err != nil {
		return nil, err
	}
	if hook.Outcome != "" {
		st.Outcome = model.PaymentOutcome(hook.Outcome)
	}
	ev.State = *st
	return ev, nil
}

func (g *fakeGateway) setOutcome(reference string, outcome model.PaymentOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[reference].Outcome = outcome
}

func (g *fakeGateway) state(reference string) client.CheckoutState {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *g.states[reference]
	cp.Metadata = maps.Clone(g.states[reference].Metadata)
	return cp
}

// recordingPublisher collects notifications and invoice requests.
type recordingPublisher struct {
	mu        sync.Mutex
	orders    []model.OrderNotification
	discounts []model.DiscountEvent
	invoices  []model.InvoiceRequest
	fail      error
}

func (p *recordingPublisher) NotifyOrder(_ context.Context, n model.OrderNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, n)
	return p.fail
}

func (p *recordingPublisher) NotifyDiscount(_ context.Context, ev model.DiscountEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discounts = append(p.discounts, ev)
	return p.fail
}

func (p *recordingPublisher) GenerateInvoice(_ context.Context, req model.InvoiceRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoices = append(p.invoices, req)
	if p.fail != nil {
		return "", p.fail
	}
	return "inv_" + req.OrderID, nil
}

func (p *recordingPublisher) counts() (orders, discounts, invoices int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders), len(p.discounts), len(p.invoices)
}

// staticSettings is a SettingsProvider with fixed values.
type staticSettings struct {
	mu          sync.Mutex
	settings    model.ShippingSettings
	err         error
	invalidated int
}

func (s *staticSettings) ShippingSettings(context.Context) (model.ShippingSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, s.err
}

func (s *staticSettings) Invalidate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
	return nil
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	now time.Time

	db          *gorm.DB
	gw          *fakeGateway
	paypal      *fakeGateway
	gateways    *client.Gateways
	publisher   *recordingPublisher
	settings    *staticSettings
	effects     *Effects
	cartRepo    repository.CartRepository
	userRepo    repository.UserRepository
	orderRepo   repository.OrderRepository
	sessionRepo repository.PaymentSessionRepository
	eventRepo   repository.WebhookEventRepository

	cart     CartService
	pricer   Pricer
	orders   OrderService
	payments PaymentService
	confirm  ConfirmationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		now:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		db:        testutil.NewDB(t),
		gw:        newFakeGateway("stripe"),
		paypal:    newFakeGateway("paypal"),
		publisher: &recordingPublisher{},
		settings:  &staticSettings{settings: model.ShippingSettings{FreeThreshold: 5000, StandardRate: 500}},
	}

	var err error
	f.gateways, err = client.NewGateways("stripe", f.gw, f.paypal)
	require.NoError(t, err)

	productRepo := repository.NewProductRepository(f.db)
	require.NoError(t, productRepo.Seed(f.ctx))
	f.cartRepo = repository.NewCartRepository(f.db)
	f.userRepo = repository.NewUserRepository(f.db)
	f.orderRepo = repository.NewOrderRepository(f.db)
	f.sessionRepo = repository.NewPaymentSessionRepository(f.db)
	f.eventRepo = repository.NewWebhookEventRepository(f.db)

	logger := zap.NewNop()
	clock := Clock(func() time.Time { return f.now })
	f.cart = NewCartService(f.cartRepo, productRepo, "usd")
	discounts := NewDiscountEngine(f.userRepo, logger)
	shipping := NewShippingCalculator(f.settings, model.ShippingSettings{StandardRate: 500}, logger)
	f.pricer = NewPricer(f.cart, f.userRepo, discounts, shipping, clock)
	f.effects = NewEffects(f.publisher, f.publisher, logger)
	f.orders = NewOrderService(f.db, f.orderRepo, f.cartRepo, f.sessionRepo, f.cart, f.pricer, discounts, f.effects, clock, logger)
	f.payments = NewPaymentService(f.gateways, f.pricer, f.orderRepo, f.sessionRepo, logger)
	f.confirm = NewConfirmationService(f.gateways, f.orders, f.orderRepo, f.sessionRepo, lock.NewMemoryLocker(), logger)

	return f
}

func (f *fixture) addUser(u model.User) {
	f.t.Helper()
	if u.Language == "" {
		u.Language = "en"
	}
	if u.DiscountType == "" {
		u.DiscountType = model.DiscountFixed
	}
	if u.DiscountUsageType == "" {
		u.DiscountUsageType = model.UsagePermanent
	}
	require.NoError(f.t, f.userRepo.Upsert(f.ctx, &u))
}

func (f *fixture) addToCart(userID, productID string, qty int64) {
	f.t.Helper()
	_, err := f.cart.AddItem(f.ctx, userID, productID, "", qty)
	require.NoError(f.t, err)
}

func (f *fixture) user(id string) *model.User {
	f.t.Helper()
	u, err := f.userRepo.Get(f.ctx, nil, id)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) cartLines(userID string) int {
	f.t.Helper()
	items, err := f.cartRepo.ListByUser(f.ctx, nil, userID)
	require.NoError(f.t, err)
	return len(items)
}

func (f *fixture) countOrders() int64 {
	f.t.Helper()
	var n int64
	require.NoError(f.t, f.db.Model(&model.Order{}).Count(&n).Error)
	return n
}

func (f *fixture) countSessions() int64 {
	f.t.Helper()
	var n int64
	require.NoError(f.t, f.db.Model(&model.PaymentSession{}).Count(&n).Error)
	return n
}

// openSession starts a hosted checkout for userID and returns the provider reference.
func (f *fixture) openSession(userID string) string {
	f.t.Helper()
	res, err := f.payments.CreateCheckoutSession(f.ctx, SessionCommand{
		UserID:     userID,
		SuccessURL: "https://shop.example.test/ok",
		CancelURL:  "https://shop.example.test/cancel",
	})
	require.NoError(f.t, err)
	return res.SessionID
}

func percent(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

var errProviderDown = errors.New("provider down")

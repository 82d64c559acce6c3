package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/client"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

const (
	defaultEnqueueTimeout = 2 * time.Second
	defaultJobTimeout     = 30 * time.Second
)

type webhookJob struct {
	gateway client.PaymentGateway
	event   *client.Event
}

// WebhookProcessor verifies provider notifications, acknowledges them and
// confirms the checkout on a bounded worker pool. Until Start is called,
// events are processed inline.
type WebhookProcessor struct {
	gateways *client.Gateways
	confirm  ConfirmationService
	events   repository.WebhookEventRepository
	logger   *zap.Logger

	workers        int
	queue          chan webhookJob
	enqueueTimeout time.Duration
	jobTimeout     time.Duration

	mu      sync.RWMutex
	running bool
	closed  bool
	wg      sync.WaitGroup
}

func NewWebhookProcessor(
	gateways *client.Gateways,
	confirm ConfirmationService,
	events repository.WebhookEventRepository,
	workers, queueSize int,
	logger *zap.Logger,
) *WebhookProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &WebhookProcessor{
		gateways:       gateways,
		confirm:        confirm,
		events:         events,
		logger:         logger,
		workers:        workers,
		queue:          make(chan webhookJob, queueSize),
		enqueueTimeout: defaultEnqueueTimeout,
		jobTimeout:     defaultJobTimeout,
	}
}

// Receive authenticates one webhook delivery. A nil error means the provider
// should be sent a 2xx.
func (p *WebhookProcessor) Receive(ctx context.Context, header http.Header, body []byte) error {
	ctx, span := tracer.Start(ctx, "webhook.Receive")
	defer span.End()

	gw, err := p.gateways.ForWebhook(header)
	if err != nil {
		p.logger.Warn("webhook from unrecognized sender", zap.Error(err))
		return apperr.Signature(err)
	}

	ev, err := gw.ParseWebhook(ctx, header, body)
	switch {
	case errors.Is(err, client.ErrInvalidSignature):
		p.logger.Warn("webhook signature rejected", zap.String("provider", gw.Name()), zap.Error(err))
		return apperr.Signature(err)
	case errors.Is(err, gobreaker.ErrOpenState):
		return apperr.Provider(err, "payment provider unavailable")
	case err != nil:
		p.logger.Error("parse webhook failed", zap.String("provider", gw.Name()), zap.Error(err))
		return apperr.Provider(err, "could not read webhook")
	}

	span.SetAttributes(
		attribute.String("webhook.provider", ev.Provider),
		attribute.String("webhook.type", ev.Type),
		attribute.String("webhook.id", ev.ID),
	)

	if !ev.Relevant {
		p.logger.Debug("ignoring webhook event", zap.String("provider", ev.Provider), zap.String("type", ev.Type))
		return nil
	}

	seen, err := p.events.Record(ctx, &model.WebhookEvent{
		EventID:   ev.ID,
		Provider:  ev.Provider,
		EventType: ev.Type,
	})
	if err != nil {
		return apperr.Internal(err, "record webhook event")
	}
	if seen {
		p.logger.Info("duplicate webhook event", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		return nil
	}

	return p.enqueue(ctx, webhookJob{gateway: gw, event: ev})
}

func (p *WebhookProcessor) enqueue(ctx context.Context, job webhookJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return apperr.Internal(errors.New("webhook processor stopped"), "webhook processor stopped")
	}
	if !p.running {
		return p.Process(ctx, job.gateway, job.event)
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()

	select {
	case p.queue <- job:
		return nil
	case <-timer.C:
		p.logger.Error("webhook queue full", zap.String("event_id", job.event.ID))
		return apperr.Internal(errors.New("webhook queue full"), "webhook queue full")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process confirms the checkout behind one event and marks the event done.
// Events that fail stay unprocessed so a redelivery runs them again.
func (p *WebhookProcessor) Process(ctx context.Context, gw client.PaymentGateway, ev *client.Event) error {
	ctx, span := tracer.Start(ctx, "webhook.Process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	logger := p.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("provider", ev.Provider),
		zap.String("reference", ev.State.Reference),
	)

	state := ev.State
	if ev.Refresh {
		fresh, err := gw.Retrieve(ctx, state.Reference)
		if err != nil {
			logger.Error("refresh checkout failed", zap.Error(err))
			span.RecordError(err)
			return err
		}
		if fresh.PaymentSessionID == "" {
			fresh.PaymentSessionID = state.PaymentSessionID
		}
		if fresh.OrderID == "" {
			fresh.OrderID = state.OrderID
		}
		state = *fresh
	}

	order, changed, err := p.confirm.ConfirmCheckout(ctx, state)
	switch {
	case errors.Is(err, ErrNoOrder):
		logger.Info("webhook event needs no order", zap.String("outcome", string(state.Outcome)))
	case err != nil:
		logger.Error("confirm checkout from webhook failed", zap.Error(err))
		span.RecordError(err)
		return err
	default:
		logger.Info("webhook event applied",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
			zap.Bool("changed", changed),
		)
	}

	if err := p.events.MarkProcessed(ctx, ev.ID); err != nil {
		logger.Error("mark webhook event processed failed", zap.Error(err))
		return err
	}
	return nil
}

// Start launches the workers. Call once.
func (p *WebhookProcessor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.closed {
		return
	}
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.logger.Info("webhook workers started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.queue)))
}

func (p *WebhookProcessor) work(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.runJob(id, job)
	}
}

func (p *WebhookProcessor) runJob(id int, job webhookJob) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("webhook worker panicked", zap.Int("worker", id), zap.String("event_id", job.event.ID), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()
	_ = p.Process(ctx, job.gateway, job.event)
}

// Shutdown stops accepting events and drains the queue, or gives up when ctx ends.
func (p *WebhookProcessor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("webhook workers drained")
		return nil
	case <-ctx.Done():
		p.logger.Warn("webhook workers did not drain before shutdown deadline", zap.Int("pending", len(p.queue)))
		return ctx.Err()
	}
}

package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"storefront-payments/internal/config"
)

// breakerGateway opens after MaxFailures consecutive provider errors.
type breakerGateway struct {
	next PaymentGateway
	cb   *gobreaker.CircuitBreaker[any]
}

func WithCircuitBreaker(next PaymentGateway, cfg config.Breaker, logger *zap.Logger) PaymentGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	settings := gobreaker.Settings{
		Name:    next.Name(),
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// signature and routing errors do not count against the provider
			return err == nil || errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrUnknownProvider)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payment provider circuit state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &breakerGateway{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

func execute[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (b *breakerGateway) Name() string {
	return b.next.Name()
}

func (b *breakerGateway) Owns(reference string) bool {
	return b.next.Owns(reference)
}

func (b *breakerGateway) MatchesWebhook(header http.Header) bool {
	return b.next.MatchesWebhook(header)
}

func (b *breakerGateway) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	return execute(b.cb, func() (*IntentResult, error) {
		return b.next.CreateIntent(ctx, req)
	})
}

func (b *breakerGateway) CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	return execute(b.cb, func() (*SessionResult, error) {
		return b.next.CreateSession(ctx, req)
	})
}

func (b *breakerGateway) Retrieve(ctx context.Context, reference string) (*CheckoutState, error) {
	return execute(b.cb, func() (*CheckoutState, error) {
		return b.next.Retrieve(ctx, reference)
	})
}

func (b *breakerGateway) ParseWebhook(ctx context.Context, header http.Header, body []byte) (*Event, error) {
	return execute(b.cb, func() (*Event, error) {
		return b.next.ParseWebhook(ctx, header, body)
	})
}

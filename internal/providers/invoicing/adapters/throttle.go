package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
	"github.com/smallbiznis/supplyrail/internal/ratelimit"
	"go.uber.org/zap"
)

// throttledGateway takes a token before every call that reaches the
// provider's stamping quota. Reads and customer sync are not throttled.
type throttledGateway struct {
	invoicing.Gateway

	limiter ratelimit.Limiter
	key     string
	rate    float64
	burst   int
	log     *zap.Logger
}

func throttle(next invoicing.Gateway, limiter ratelimit.Limiter, rate float64, burst int, log *zap.Logger) invoicing.Gateway {
	if limiter == nil || rate <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &throttledGateway{
		Gateway: next,
		limiter: limiter,
		key:     fmt.Sprintf("supplyrail:invoicing:rate:%s", next.Name()),
		rate:    rate,
		burst:   burst,
		log:     log.Named("invoicing.throttle"),
	}
}

func (g *throttledGateway) CreateInvoice(ctx context.Context, req invoicing.InvoiceRequest) (invoicing.Document, error) {
	if err := g.take(ctx, "create_invoice"); err != nil {
		return invoicing.Document{}, err
	}
	return g.Gateway.CreateInvoice(ctx, req)
}

func (g *throttledGateway) CreateComplement(ctx context.Context, req invoicing.ComplementRequest) (invoicing.Document, error) {
	if err := g.take(ctx, "create_complement"); err != nil {
		return invoicing.Document{}, err
	}
	return g.Gateway.CreateComplement(ctx, req)
}

func (g *throttledGateway) Cancel(ctx context.Context, req invoicing.CancelRequest) error {
	if err := g.take(ctx, "cancel"); err != nil {
		return err
	}
	return g.Gateway.Cancel(ctx, req)
}

// take fails open when Redis is unreachable; the provider enforces its own
// quota anyway.
func (g *throttledGateway) take(ctx context.Context, op string) error {
	res, err := g.limiter.Allow(ctx, g.key, g.rate, g.burst)
	if err != nil {
		g.log.Warn("rate limiter unavailable", zap.String("op", op), zap.Error(err))
		return nil
	}
	if res.Allowed {
		return nil
	}
	return &invoicing.ProviderError{
		Provider: g.Gateway.Name(),
		Op:       op,
		Status:   http.StatusTooManyRequests,
		Message:  fmt.Sprintf("local rate limit reached, retry after %s", res.RetryAfter),
	}
}

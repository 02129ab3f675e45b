package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/circuitbreaker"
)

// ProtectedSender wraps a provider sender with a circuit breaker so a
// failing provider fails fast.
type ProtectedSender struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender Sender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedSender) Send(ctx context.Context, d *Delivery) error {
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.sender.Send(ctx, d)
	})
	if err != nil {
		p.logger.Debug("protected send failed",
			zap.String("breaker", p.breaker.Name()),
			zap.String("delivery_id", d.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
			zap.Error(err),
		)
	}
	return err
}

func (p *ProtectedSender) Supports(d *Delivery) bool {
	return p.sender.Supports(d)
}

// Breaker exposes the breaker for stats.
func (p *ProtectedSender) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

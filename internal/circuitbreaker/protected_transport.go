package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/sms"
)

// ProtectedTransport wraps an SMS transport with a CircuitBreaker so a
// dead provider fails fast instead of holding every caller for the full
// request timeout.
type ProtectedTransport struct {
	transport sms.Transport
	breaker   *CircuitBreaker
	logger    *zap.Logger
}

// NewProtectedTransport wraps transport with breaker.
func NewProtectedTransport(transport sms.Transport, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedTransport {
	return &ProtectedTransport{
		transport: transport,
		breaker:   breaker,
		logger:    logger,
	}
}

// Send forwards to the wrapped transport unless the circuit is open.
func (p *ProtectedTransport) Send(ctx context.Context, msg sms.Outbound) (*sms.ProviderResponse, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected sms, failing fast",
			zap.String("breaker", p.breaker.Name()),
			zap.String("recipient", sms.MaskPhone(msg.To)),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, fmt.Errorf("%w: %s provider unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	resp, err := p.transport.Send(ctx, msg)
	if err != nil && ctx.Err() != nil {
		// The caller gave up; that says nothing about the provider.
		p.breaker.RecordCancelled()
		p.logger.Debug("sms abandoned by caller, breaker unchanged",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
		return nil, err
	}
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
		return nil, err
	}

	p.breaker.RecordSuccess()
	return resp, nil
}

// Name reports the wrapped transport's name for metrics.
func (p *ProtectedTransport) Name() string {
	if n, ok := p.transport.(sms.Named); ok {
		return n.Name()
	}
	return p.breaker.Name()
}

// Breaker returns the underlying circuit breaker for the health endpoint.
func (p *ProtectedTransport) Breaker() *CircuitBreaker {
	return p.breaker
}

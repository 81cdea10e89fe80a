package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/sms"
	"github.com/lalithlochan/stationnotify/internal/sqs"
)

// Queue is the inbound request queue.
type Queue interface {
	Receive(ctx context.Context) ([]sqs.Envelope, error)
	Delete(ctx context.Context, receiptHandle string) error
	ExtendVisibility(ctx context.Context, receiptHandle string, seconds int32) error
}

// Listener feeds send requests published by other portal services into the
// coordinator. Each message body is a JSON SendRequest.
type Listener struct {
	queue        Queue
	coordinator  *Coordinator
	logger       *zap.Logger
	errorBackoff time.Duration
}

// NewListener creates a queue listener.
func NewListener(queue Queue, coordinator *Coordinator, logger *zap.Logger) *Listener {
	return &Listener{
		queue:        queue,
		coordinator:  coordinator,
		logger:       logger,
		errorBackoff: 5 * time.Second,
	}
}

// Run polls until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	l.logger.Info("send request listener started")

	for {
		if ctx.Err() != nil {
			l.logger.Info("send request listener stopping")
			return
		}

		msgs, err := l.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			l.logger.Error("failed to receive send requests", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(l.errorBackoff):
			}
			continue
		}

		for _, m := range msgs {
			l.handle(ctx, m)
		}
	}
}

func (l *Listener) handle(ctx context.Context, env sqs.Envelope) {
	var req SendRequest
	if err := json.Unmarshal(env.Body, &req); err != nil || req.To == "" {
		l.logger.Error("discarding malformed send request",
			zap.String("message_id", env.MessageID),
			zap.Error(err),
		)
		l.delete(ctx, env)
		return
	}

	out, err := l.coordinator.Send(ctx, req)
	if errors.Is(err, ErrShuttingDown) {
		// Make it visible again right away for another replica.
		if err := l.queue.ExtendVisibility(context.Background(), env.ReceiptHandle, 0); err != nil {
			l.logger.Warn("failed to release send request", zap.Error(err))
		}
		return
	}

	l.logger.Info("send request handled",
		zap.String("message_id", env.MessageID),
		zap.String("recipient", sms.MaskPhone(req.To)),
		zap.String("status", out.Status),
	)
	l.delete(ctx, env)
}

func (l *Listener) delete(ctx context.Context, env sqs.Envelope) {
	if err := l.queue.Delete(ctx, env.ReceiptHandle); err != nil {
		l.logger.Warn("failed to delete send request",
			zap.String("message_id", env.MessageID),
			zap.Error(err),
		)
	}
}

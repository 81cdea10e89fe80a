package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/metrics"
	"github.com/lalithlochan/stationnotify/internal/sms"
)

// RetryItem is a failed message waiting for another attempt.
type RetryItem struct {
	ID            string      `json:"id"`
	Message       sms.Message `json:"message"`
	Attempts      int         `json:"attempts"`
	MaxAttempts   int         `json:"max_attempts"`
	NextAttemptAt time.Time   `json:"next_attempt_at"`
	LastError     string      `json:"last_error,omitempty"`
}

// SweepReport summarizes one pass over the retry queue.
type SweepReport struct {
	Processed int  `json:"processed"`
	Succeeded int  `json:"succeeded"`
	Requeued  int  `json:"requeued"`
	Dropped   int  `json:"dropped"`
	Remaining int  `json:"remaining"`
	Skipped   bool `json:"skipped,omitempty"`
}

// backoff is the wait before retry attempt n (1-based): base·2^n, so a
// 1s base gives 2s, 4s, 8s between attempts.
func (c *Coordinator) backoff(n int) time.Duration {
	if n > retryAttemptsLimit {
		n = retryAttemptsLimit
	}
	return c.config.RetryBackoffBase * time.Duration(1<<n)
}

func (c *Coordinator) enqueueRetry(msg sms.Message, maxAttempts int, lastErr string) {
	item := &RetryItem{
		ID:            uuid.NewString(),
		Message:       msg,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: c.now().Add(c.backoff(1)),
		LastError:     lastErr,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.retries = append(c.retries, item)
	depth := len(c.retries)
	c.mu.Unlock()

	metrics.SetRetryQueueDepth(depth)
	c.logger.Info("sms queued for retry",
		zap.String("retry_id", item.ID),
		zap.String("recipient", sms.MaskPhone(msg.To)),
		zap.Int("max_attempts", maxAttempts),
	)
}

// RetryQueue returns a snapshot of queued retries.
func (c *Coordinator) RetryQueue() []RetryItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RetryItem, 0, len(c.retries))
	for _, it := range c.retries {
		out = append(out, *it)
	}
	return out
}

// ProcessRetryQueue resends every due item once. A failing item is
// requeued with a 2^attempts backoff until it has used MaxAttempts, then
// dropped; its failures remain visible only in delivery history.
// Overlapping calls are skipped.
func (c *Coordinator) ProcessRetryQueue(ctx context.Context) SweepReport {
	if !c.sweepMu.TryLock() {
		return SweepReport{Skipped: true}
	}
	defer c.sweepMu.Unlock()

	now := c.now()

	c.mu.Lock()
	var due, waiting []*RetryItem
	for _, it := range c.retries {
		if !it.NextAttemptAt.After(now) {
			due = append(due, it)
		} else {
			waiting = append(waiting, it)
		}
	}
	c.retries = waiting
	c.mu.Unlock()

	var rep SweepReport
	var requeue []*RetryItem

	for _, it := range due {
		if ctx.Err() != nil {
			requeue = append(requeue, it)
			continue
		}

		it.Attempts++
		rep.Processed++

		res := c.gateway.Send(ctx, it.Message)
		if res.Success {
			rep.Succeeded++
			c.logger.Info("retry succeeded",
				zap.String("retry_id", it.ID),
				zap.Int("attempt", it.Attempts),
			)
			continue
		}

		it.LastError = res.Error
		if it.Attempts < it.MaxAttempts && retryable(res) {
			it.NextAttemptAt = c.now().Add(c.backoff(it.Attempts + 1))
			requeue = append(requeue, it)
			rep.Requeued++
			continue
		}

		rep.Dropped++
		metrics.RecordRetryDropped()
		c.logger.Warn("retry attempts exhausted, dropping message",
			zap.String("retry_id", it.ID),
			zap.String("recipient", sms.MaskPhone(it.Message.To)),
			zap.Int("attempts", it.Attempts),
			zap.String("last_error", it.LastError),
		)
	}

	c.mu.Lock()
	if !c.closed {
		c.retries = append(c.retries, requeue...)
	}
	rep.Remaining = len(c.retries)
	c.mu.Unlock()

	metrics.SetRetryQueueDepth(rep.Remaining)
	return rep
}

// RunSweeper processes the retry queue every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("retry sweeper stopping")
			return
		case <-ticker.C:
			rep := c.ProcessRetryQueue(ctx)
			if rep.Processed > 0 {
				c.logger.Info("retry sweep finished",
					zap.Int("processed", rep.Processed),
					zap.Int("succeeded", rep.Succeeded),
					zap.Int("requeued", rep.Requeued),
					zap.Int("dropped", rep.Dropped),
				)
			}
		}
	}
}

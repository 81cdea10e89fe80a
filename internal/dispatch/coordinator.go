// Package dispatch layers scheduling, retries and bulk jobs over the SMS gateway.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/sms"
)

const (
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusScheduled = "scheduled"
)

var (
	ErrShuttingDown = errors.New("dispatcher is shutting down")
	ErrJobNotFound  = errors.New("bulk job not found")
	ErrJobFinished  = errors.New("bulk job already finished")
)

// Sender is the gateway as seen by the coordinator.
type Sender interface {
	Send(ctx context.Context, msg sms.Message) sms.DeliveryResult
}

// retryAttemptsLimit bounds MaxRetryAttempts and keeps the backoff shift
// well inside a time.Duration.
const retryAttemptsLimit = 10

// Config tunes the coordinator.
type Config struct {
	BulkSendDelay    time.Duration // spacing between bulk messages
	RetryBackoffBase time.Duration // delay unit for 2^attempts backoff
	MaxRetryAttempts int           // cap on caller-requested retry attempts
	JobRetention     time.Duration // finished bulk jobs older than this are forgotten
}

// SendRequest asks for one message, optionally deferred and optionally retried.
type SendRequest struct {
	sms.Message
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	RetryAttempts int        `json:"retry_attempts,omitempty"`
}

// SendOutcome reports what happened to a SendRequest.
type SendOutcome struct {
	Status      string              `json:"status"`
	ScheduleID  string              `json:"schedule_id,omitempty"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"`
	RetryQueued bool                `json:"retry_queued,omitempty"`
	Result      *sms.DeliveryResult `json:"result,omitempty"`
}

// Coordinator owns the in-process retry queue, scheduled-send timers and
// bulk jobs. None of this state survives a restart.
type Coordinator struct {
	gateway Sender
	config  Config
	logger  *zap.Logger
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	scheduled map[string]*time.Timer
	retries   []*RetryItem
	jobs      map[string]*bulkJob

	sweepMu sync.Mutex
}

// New creates a coordinator.
func New(gateway Sender, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = time.Second
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.MaxRetryAttempts > retryAttemptsLimit {
		cfg.MaxRetryAttempts = retryAttemptsLimit
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		gateway:   gateway,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		baseCtx:   ctx,
		cancel:    cancel,
		scheduled: make(map[string]*time.Timer),
		jobs:      make(map[string]*bulkJob),
	}
}

// Send delivers req now, or arms a timer when ScheduledAt is in the future.
// A scheduled send returns immediately with status "scheduled".
func (c *Coordinator) Send(ctx context.Context, req SendRequest) (SendOutcome, error) {
	if req.ScheduledAt != nil && req.ScheduledAt.After(c.now()) {
		return c.schedule(req)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return SendOutcome{}, ErrShuttingDown
	}

	return c.deliver(ctx, req), nil
}

func (c *Coordinator) schedule(req SendRequest) (SendOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return SendOutcome{}, ErrShuttingDown
	}

	id := uuid.NewString()
	delay := req.ScheduledAt.Sub(c.now())
	c.scheduled[id] = time.AfterFunc(delay, func() { c.fireScheduled(id, req) })

	c.logger.Info("sms scheduled",
		zap.String("schedule_id", id),
		zap.String("recipient", sms.MaskPhone(req.To)),
		zap.Time("scheduled_at", *req.ScheduledAt),
	)

	at := *req.ScheduledAt
	return SendOutcome{Status: StatusScheduled, ScheduleID: id, ScheduledAt: &at}, nil
}

func (c *Coordinator) fireScheduled(id string, req SendRequest) {
	c.mu.Lock()
	if _, ok := c.scheduled[id]; !ok || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.scheduled, id)
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()

	out := c.deliver(c.baseCtx, req)
	c.logger.Info("scheduled sms processed",
		zap.String("schedule_id", id),
		zap.String("status", out.Status),
	)
}

// CancelScheduled stops a pending scheduled send. It returns false when the
// id is unknown or the send already fired.
func (c *Coordinator) CancelScheduled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.scheduled[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(c.scheduled, id)

	c.logger.Info("scheduled sms cancelled", zap.String("schedule_id", id))
	return true
}

// PendingScheduled returns the number of armed timers.
func (c *Coordinator) PendingScheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scheduled)
}

func (c *Coordinator) deliver(ctx context.Context, req SendRequest) SendOutcome {
	res := c.gateway.Send(ctx, req.Message)

	out := SendOutcome{Status: StatusSent, Result: &res}
	if res.Success {
		return out
	}

	out.Status = StatusFailed
	if req.RetryAttempts > 0 && retryable(res) {
		attempts := req.RetryAttempts
		if attempts > c.config.MaxRetryAttempts {
			attempts = c.config.MaxRetryAttempts
		}
		c.enqueueRetry(req.Message, attempts, res.Error)
		out.RetryQueued = true
	}
	return out
}

// Only provider failures are worth retrying; validation, quota and
// configuration rejections would fail the same way again.
func retryable(res sms.DeliveryResult) bool {
	return errors.Is(res.Err, sms.ErrProviderError)
}

// Shutdown stops pending timers, cancels running bulk jobs and waits for
// in-flight work to finish or ctx to expire. Queued retries are dropped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, t := range c.scheduled {
		t.Stop()
		delete(c.scheduled, id)
	}
	pending := len(c.retries)
	c.retries = nil
	for _, j := range c.jobs {
		if j.Status == JobPending || j.Status == JobProcessing {
			j.cancel()
		}
	}
	c.mu.Unlock()

	c.cancel()

	if pending > 0 {
		c.logger.Warn("dropping queued retries on shutdown", zap.Int("count", pending))
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

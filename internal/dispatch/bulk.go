package dispatch

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/stationnotify/internal/metrics"
	"github.com/lalithlochan/stationnotify/internal/sms"
)

const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobCancelled  = "cancelled"
)

// BulkJob is a snapshot of a bulk send. For a completed job
// SentMessages+FailedMessages equals TotalMessages.
type BulkJob struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	TotalMessages  int        `json:"total_messages"`
	SentMessages   int        `json:"sent_messages"`
	FailedMessages int        `json:"failed_messages"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type bulkJob struct {
	BulkJob
	cancel context.CancelFunc
}

func (j *bulkJob) finished() bool {
	return j.Status == JobCompleted || j.Status == JobCancelled
}

// SubmitBulk registers a job and sends its messages in the background, one
// at a time, spaced by BulkSendDelay.
func (c *Coordinator) SubmitBulk(msgs []sms.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrShuttingDown
	}

	c.pruneJobsLocked()

	ctx, cancel := context.WithCancel(c.baseCtx)
	job := &bulkJob{
		BulkJob: BulkJob{
			ID:            uuid.NewString(),
			Status:        JobPending,
			TotalMessages: len(msgs),
			CreatedAt:     c.now(),
		},
		cancel: cancel,
	}
	c.jobs[job.ID] = job

	batch := make([]sms.Message, len(msgs))
	copy(batch, msgs)

	c.wg.Add(1)
	go c.runBulk(ctx, job, batch)

	c.logger.Info("bulk job submitted",
		zap.String("job_id", job.ID),
		zap.Int("total", len(msgs)),
	)
	return job.ID, nil
}

func (c *Coordinator) runBulk(ctx context.Context, job *bulkJob, msgs []sms.Message) {
	defer c.wg.Done()
	defer job.cancel()

	limit := rate.Inf
	if c.config.BulkSendDelay > 0 {
		limit = rate.Every(c.config.BulkSendDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	c.mu.Lock()
	if job.Status == JobPending {
		job.Status = JobProcessing
	}
	c.mu.Unlock()

	for _, msg := range msgs {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		// Cancellation is honored between messages only; a message already
		// handed to the provider finishes and is counted.
		res := c.gateway.Send(context.WithoutCancel(ctx), msg)

		c.mu.Lock()
		if res.Success {
			job.SentMessages++
		} else {
			job.FailedMessages++
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if job.Status != JobCancelled {
		if ctx.Err() != nil {
			job.Status = JobCancelled
		} else {
			job.Status = JobCompleted
		}
	}
	done := c.now()
	job.CompletedAt = &done
	metrics.RecordBulkJob(job.Status)

	c.logger.Info("bulk job finished",
		zap.String("job_id", job.ID),
		zap.String("status", job.Status),
		zap.Int("sent", job.SentMessages),
		zap.Int("failed", job.FailedMessages),
		zap.Int("total", job.TotalMessages),
	)
}

// JobStatus returns a copy of the job.
func (c *Coordinator) JobStatus(id string) (BulkJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[id]
	if !ok {
		return BulkJob{}, false
	}
	return job.snapshot(), true
}

// Jobs lists known jobs, newest first.
func (c *Coordinator) Jobs() []BulkJob {
	c.mu.Lock()
	out := make([]BulkJob, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j.snapshot())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// CancelJob stops a pending or running job after its current message.
func (c *Coordinator) CancelJob(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.finished() {
		return ErrJobFinished
	}

	job.Status = JobCancelled
	job.cancel()

	c.logger.Info("bulk job cancelled", zap.String("job_id", id))
	return nil
}

func (j *bulkJob) snapshot() BulkJob {
	s := j.BulkJob
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// pruneJobsLocked forgets finished jobs past the retention window.
func (c *Coordinator) pruneJobsLocked() {
	cutoff := c.now().Add(-c.config.JobRetention)
	for id, j := range c.jobs {
		if j.finished() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(c.jobs, id)
		}
	}
}

// Package history appends delivery records and aggregates them for reporting.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/db"
	"github.com/lalithlochan/stationnotify/internal/metrics"
)

// Store is the persistence behind the recorder.
type Store interface {
	InsertDeliveryRecord(ctx context.Context, rec *db.DeliveryRecord) error
	CountSentSince(ctx context.Context, since time.Time) (int, error)
	LatestSentForLicense(ctx context.Context, licenseID uuid.UUID) (*db.DeliveryRecord, error)
	ListDeliveryRecords(ctx context.Context, from, to *time.Time) ([]*db.DeliveryRecord, error)
}

// EventPublisher forwards stored records to downstream consumers.
type EventPublisher interface {
	PublishDelivery(ctx context.Context, rec *db.DeliveryRecord) (string, error)
}

// Recorder is the single write path into delivery history.
type Recorder struct {
	store  Store
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
	loc    *time.Location
}

// NewRecorder creates a recorder. events may be nil. loc sets the day
// boundary used by analytics.
func NewRecorder(store Store, events EventPublisher, loc *time.Location, logger *zap.Logger) *Recorder {
	if loc == nil {
		loc = time.Local
	}
	return &Recorder{
		store:  store,
		events: events,
		logger: logger,
		now:    time.Now,
		loc:    loc,
	}
}

// Record appends rec, filling in its id and timestamp when unset.
// Records are never updated afterwards.
func (r *Recorder) Record(ctx context.Context, rec *db.DeliveryRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = r.now()
	}

	if err := r.store.InsertDeliveryRecord(ctx, rec); err != nil {
		return err
	}

	if r.events != nil {
		if _, err := r.events.PublishDelivery(ctx, rec); err != nil {
			r.logger.Warn("failed to publish delivery event",
				zap.String("record_id", rec.ID.String()),
				zap.Error(err),
			)
			metrics.RecordEventPublished("error")
		} else {
			metrics.RecordEventPublished("ok")
		}
	}

	return nil
}

// CountSuccessfulSince counts sent records at or after since.
func (r *Recorder) CountSuccessfulSince(ctx context.Context, since time.Time) (int, error) {
	return r.store.CountSentSince(ctx, since)
}

// LatestSentForLicense returns the newest successful alert for a license,
// or nil when there is none.
func (r *Recorder) LatestSentForLicense(ctx context.Context, licenseID uuid.UUID) (*db.DeliveryRecord, error) {
	return r.store.LatestSentForLicense(ctx, licenseID)
}

// DateRange bounds an analytics query. Nil ends are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Analytics aggregates records within rng.
func (r *Recorder) Analytics(ctx context.Context, rng DateRange) (*Report, error) {
	records, err := r.store.ListDeliveryRecords(ctx, rng.From, rng.To)
	if err != nil {
		return nil, err
	}
	return Aggregate(records, r.now().In(r.loc)), nil
}

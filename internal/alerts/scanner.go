package alerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/db"
	"github.com/lalithlochan/stationnotify/internal/metrics"
	"github.com/lalithlochan/stationnotify/internal/sms"
)

// ErrScanInProgress is returned when another scan holds the scan lock.
var ErrScanInProgress = errors.New("alert scan already in progress")

const (
	scanLockName   = "alert-scan"
	defaultLockTTL = 10 * time.Minute
	expiryLayout   = "2006-01-02"
)

// Registry is the read side of the license database.
type Registry interface {
	ListActiveLicenses(ctx context.Context) ([]*db.License, error)
	GetLicense(ctx context.Context, id uuid.UUID) (*db.License, error)
	ListActiveContacts(ctx context.Context) ([]*db.Contact, error)
	ListActiveAlertSettings(ctx context.Context) ([]*db.AlertSetting, error)
}

// History is used for dedup and for auditing sends the gateway refused.
type History interface {
	LatestSentForLicense(ctx context.Context, licenseID uuid.UUID) (*db.DeliveryRecord, error)
	Record(ctx context.Context, rec *db.DeliveryRecord) error
}

// Gateway sends one SMS.
type Gateway interface {
	Send(ctx context.Context, msg sms.Message) sms.DeliveryResult
}

// Locker serialises scans across replicas.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// Marks claims a license for a calendar day so two replicas scanning the
// same day alert it once.
type Marks interface {
	Claim(ctx context.Context, licenseID string, day time.Time) (bool, error)
	Release(ctx context.Context, licenseID string, day time.Time) error
}

// Options holds the optional collaborators of a Scheduler.
type Options struct {
	Locker   Locker
	Marks    Marks
	Location *time.Location
	LockTTL  time.Duration
}

// ScanReport summarises one scan.
type ScanReport struct {
	Licenses       int           `json:"licenses"`
	Settings       int           `json:"settings"`
	Eligible       int           `json:"eligible"`
	Expired        int           `json:"expired"`
	SkippedRecent  int           `json:"skipped_recent"`
	SkippedClaimed int           `json:"skipped_claimed"`
	NoContacts     int           `json:"no_contacts"`
	Sent           int           `json:"sent"`
	Failed         int           `json:"failed"`
	Duration       time.Duration `json:"duration_ns"`
}

// Scheduler finds licenses nearing expiry and texts the station contacts.
type Scheduler struct {
	registry Registry
	history  History
	gateway  Gateway
	locker   Locker
	marks    Marks
	lockTTL  time.Duration
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewScheduler creates an alert scheduler.
func NewScheduler(registry Registry, history History, gateway Gateway, opts Options, logger *zap.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &Scheduler{
		registry: registry,
		history:  history,
		gateway:  gateway,
		locker:   opts.Locker,
		marks:    opts.Marks,
		lockTTL:  opts.LockTTL,
		loc:      opts.Location,
		logger:   logger,
		now:      time.Now,
	}
}

// Scan runs one pass over every active license and alert setting.
func (s *Scheduler) Scan(ctx context.Context) (ScanReport, error) {
	if !s.mu.TryLock() {
		return ScanReport{}, ErrScanInProgress
	}
	defer s.mu.Unlock()

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, scanLockName, s.lockTTL)
		switch {
		case err != nil:
			s.logger.Warn("scan lock unavailable, scanning without it", zap.Error(err))
		case !ok:
			return ScanReport{}, ErrScanInProgress
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("failed to release scan lock", zap.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	report, err := s.scan(ctx)
	report.Duration = time.Since(start)

	if err != nil {
		metrics.RecordAlertScan("error", report.Duration)
		s.logger.Error("alert scan aborted", zap.Error(err))
		return report, err
	}

	metrics.RecordAlertScan("ok", report.Duration)
	s.logger.Info("alert scan complete",
		zap.Int("licenses", report.Licenses),
		zap.Int("eligible", report.Eligible),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("expired", report.Expired),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *Scheduler) scan(ctx context.Context) (ScanReport, error) {
	var report ScanReport

	settings, err := s.registry.ListActiveAlertSettings(ctx)
	if err != nil {
		return report, fmt.Errorf("load alert settings: %w", err)
	}
	licenses, err := s.registry.ListActiveLicenses(ctx)
	if err != nil {
		return report, fmt.Errorf("load licenses: %w", err)
	}
	contacts, err := s.registry.ListActiveContacts(ctx)
	if err != nil {
		return report, fmt.Errorf("load contacts: %w", err)
	}

	report.Licenses = len(licenses)
	report.Settings = len(settings)
	now := s.now()

	for _, license := range licenses {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		days := DaysUntilExpiry(license.ExpiryDate, now)
		if days <= 0 {
			report.Expired++
			metrics.RecordAlert("expired")
			continue
		}

		for _, setting := range settings {
			if days > setting.DaysBeforeExpiry {
				continue
			}
			if !s.dueForAlert(ctx, license, setting, now) {
				report.SkippedRecent++
				metrics.RecordAlert("deduplicated")
				continue
			}

			recipients := ContactsForStation(contacts, license.Station)
			if len(recipients) == 0 {
				report.NoContacts++
				metrics.RecordAlert("no_contacts")
				s.logger.Warn("no active contacts for station",
					zap.String("license_id", license.ID.String()),
					zap.String("station", license.Station),
				)
				continue
			}

			day := sms.StartOfDay(now, s.loc)
			if !s.claim(ctx, license.ID, day) {
				report.SkippedClaimed++
				metrics.RecordAlert("claimed")
				continue
			}

			report.Eligible++
			sent, total := s.alertContacts(ctx, license, setting.MessageTemplate, sms.PriorityHigh, recipients, days)
			report.Sent += sent
			report.Failed += total - sent

			if sent == 0 {
				s.unclaim(ctx, license.ID, day)
			}
		}
	}

	return report, nil
}

// dueForAlert checks the latest successful send against the setting's
// frequency. Lookup errors send anyway.
func (s *Scheduler) dueForAlert(ctx context.Context, license *db.License, setting *db.AlertSetting, now time.Time) bool {
	latest, err := s.history.LatestSentForLicense(ctx, license.ID)
	if err != nil {
		s.logger.Warn("alert dedup lookup failed, sending anyway",
			zap.String("license_id", license.ID.String()),
			zap.Error(err),
		)
		return true
	}
	if latest == nil {
		return true
	}
	return DaysSince(latest.SentAt, now) >= setting.AlertFrequencyDays
}

func (s *Scheduler) claim(ctx context.Context, licenseID uuid.UUID, day time.Time) bool {
	if s.marks == nil {
		return true
	}
	ok, err := s.marks.Claim(ctx, licenseID.String(), day)
	if err != nil {
		s.logger.Warn("alert mark unavailable", zap.String("license_id", licenseID.String()), zap.Error(err))
		return true
	}
	return ok
}

func (s *Scheduler) unclaim(ctx context.Context, licenseID uuid.UUID, day time.Time) {
	if s.marks == nil {
		return
	}
	if err := s.marks.Release(ctx, licenseID.String(), day); err != nil {
		s.logger.Warn("failed to release alert mark", zap.String("license_id", licenseID.String()), zap.Error(err))
	}
}

// alertContacts sends the rendered template to every recipient and returns
// how many sends succeeded.
func (s *Scheduler) alertContacts(ctx context.Context, license *db.License, template, priority string, recipients []*db.Contact, days int) (sent, total int) {
	values := Placeholders(license, days)

	for _, contact := range recipients {
		licenseID, contactID := license.ID, contact.ID
		msg := sms.Message{
			To:           contact.Phone,
			Body:         template,
			Priority:     priority,
			Placeholders: values,
			LicenseID:    &licenseID,
			ContactID:    &contactID,
		}

		res := s.gateway.Send(ctx, msg)
		total++
		if res.Success {
			sent++
			metrics.RecordAlert("sent")
			continue
		}

		metrics.RecordAlert("failed")
		s.logger.Warn("alert send failed",
			zap.String("license_id", license.ID.String()),
			zap.String("contact_id", contact.ID.String()),
			zap.String("error", res.Error),
		)

		if res.Rejected() {
			s.recordRejected(ctx, msg, res)
		}
	}

	return sent, total
}

// recordRejected writes the failed attempt the gateway refused before
// reaching the provider, so every contact attempt shows up in history.
func (s *Scheduler) recordRejected(ctx context.Context, msg sms.Message, res sms.DeliveryResult) {
	body, _ := sms.Render(msg.Body, msg.Placeholders)
	errMsg := res.Error
	rec := &db.DeliveryRecord{
		Recipient: msg.To,
		Body:      body,
		Status:    db.StatusFailed,
		Error:     &errMsg,
		LicenseID: msg.LicenseID,
		ContactID: msg.ContactID,
	}
	if err := s.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("failed to record rejected alert", zap.Error(err))
	}
}

// DaysUntilExpiry rounds the time left up to whole days. Zero or less
// means the license has expired.
func DaysUntilExpiry(expiry, now time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

// DaysSince counts whole days elapsed since t.
func DaysSince(t, now time.Time) int {
	return int(math.Floor(now.Sub(t).Hours() / 24))
}

// ContactsForStation returns the active contacts assigned to station or to
// every station.
func ContactsForStation(contacts []*db.Contact, station string) []*db.Contact {
	var out []*db.Contact
	for _, c := range contacts {
		if !c.IsActive {
			continue
		}
		if c.Station == station || c.Station == db.StationAll {
			out = append(out, c)
		}
	}
	return out
}

// Placeholders returns the template values for a license alert.
func Placeholders(license *db.License, days int) map[string]string {
	return map[string]string{
		"license_name":   license.Name,
		"license_number": license.Number,
		"category":       license.Category,
		"station":        license.Station,
		"expiry_date":    license.ExpiryDate.Format(expiryLayout),
		"days_remaining": strconv.Itoa(days),
	}
}

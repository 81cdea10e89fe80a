package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/db"
	"github.com/lalithlochan/stationnotify/internal/sms"
)

var (
	ErrLicenseNotFound  = errors.New("license not found")
	ErrNoActiveContacts = errors.New("no active contacts for station")
)

const (
	urgentTemplate  = "URGENT: {license_name} ({license_number}) at {station} expires on {expiry_date}, {days_remaining} day(s) left. Please renew immediately."
	expiredTemplate = "URGENT: {license_name} ({license_number}) at {station} expired on {expiry_date}. Please renew immediately."
)

// TriggerResult is the outcome of a manual alert.
type TriggerResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Sent    int    `json:"sent"`
	Total   int    `json:"total"`

	Err error `json:"-"`
}

// TriggerLicense sends an urgent alert for one license to every contact at
// its station, ignoring the dedup window.
func (s *Scheduler) TriggerLicense(ctx context.Context, licenseID uuid.UUID) TriggerResult {
	license, err := s.registry.GetLicense(ctx, licenseID)
	if errors.Is(err, db.ErrNotFound) {
		return TriggerResult{Message: "License not found", Err: ErrLicenseNotFound}
	}
	if err != nil {
		s.logger.Error("manual alert: license lookup failed", zap.String("license_id", licenseID.String()), zap.Error(err))
		return TriggerResult{Message: "Failed to load license", Err: err}
	}

	contacts, err := s.registry.ListActiveContacts(ctx)
	if err != nil {
		s.logger.Error("manual alert: contact lookup failed", zap.Error(err))
		return TriggerResult{Message: "Failed to load contacts", Err: err}
	}

	recipients := ContactsForStation(contacts, license.Station)
	if len(recipients) == 0 {
		return TriggerResult{Message: "No active contacts found for this station", Err: ErrNoActiveContacts}
	}

	days := DaysUntilExpiry(license.ExpiryDate, s.now())
	template := urgentTemplate
	if days <= 0 {
		template = expiredTemplate
	}

	sent, total := s.alertContacts(ctx, license, template, sms.PriorityUrgent, recipients, days)

	s.logger.Info("manual alert sent",
		zap.String("license_id", license.ID.String()),
		zap.Int("sent", sent),
		zap.Int("total", total),
	)

	return TriggerResult{
		Success: sent > 0,
		Message: fmt.Sprintf("Alert sent to %d/%d contacts", sent, total),
		Sent:    sent,
		Total:   total,
	}
}

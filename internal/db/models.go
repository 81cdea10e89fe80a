package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("record not found")

// DeliveryRecord is one send attempt in the SMS history (sms_logs).
// Rows are append-only; nothing in this service updates or deletes them.
type DeliveryRecord struct {
	ID         uuid.UUID  `json:"id"`
	Recipient  string     `json:"recipient"`
	Body       string     `json:"body"`
	Status     string     `json:"status"`
	ProviderID string     `json:"provider_id,omitempty"`
	Cost       float64    `json:"cost"`
	Error      *string    `json:"error,omitempty"`
	LicenseID  *uuid.UUID `json:"license_id,omitempty"`
	ContactID  *uuid.UUID `json:"contact_id,omitempty"`
	SentAt     time.Time  `json:"sent_at"`
}

// Delivery status constants
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Template is a stored SMS body with {key} placeholders.
type Template struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// License status constants
const (
	LicenseActive   = "Active"
	LicenseInactive = "Inactive"
)

// License is an expiring station permit watched by the alert scheduler.
type License struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Number     string    `json:"number"`
	Category   string    `json:"category"`
	ExpiryDate time.Time `json:"expiry_date"`
	Station    string    `json:"station"`
	Status     string    `json:"status"`
}

// StationAll is the contact station wildcard matching every station.
const StationAll = "ALL"

// Contact is an alert recipient.
type Contact struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Phone    string    `json:"phone"`
	Station  string    `json:"station"`
	Role     string    `json:"role"`
	IsActive bool      `json:"is_active"`
}

// AlertSetting is a reminder policy applied to every active license.
type AlertSetting struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	DaysBeforeExpiry   int       `json:"days_before_expiry"`
	AlertFrequencyDays int       `json:"alert_frequency_days"`
	MessageTemplate    string    `json:"message_template"`
	IsActive           bool      `json:"is_active"`
}

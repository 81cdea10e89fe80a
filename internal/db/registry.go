package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// The tables read here are maintained by the portal's CRUD screens.

// GetTemplate loads an active SMS template by id.
func (r *Repository) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	var t Template
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, name, body, is_active, created_at
		FROM sms_templates
		WHERE id = $1 AND is_active = TRUE
	`, id).Scan(&t.ID, &t.Name, &t.Body, &t.IsActive, &t.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	return &t, nil
}

const licenseColumns = `id, name, number, category, expiry_date, station, status`

// ListActiveLicenses returns every license with status Active.
func (r *Repository) ListActiveLicenses(ctx context.Context) ([]*License, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE status = $1 ORDER BY expiry_date ASC`,
		LicenseActive,
	)
	if err != nil {
		return nil, fmt.Errorf("query licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*License
	for rows.Next() {
		var l License
		if err := rows.Scan(&l.ID, &l.Name, &l.Number, &l.Category, &l.ExpiryDate, &l.Station, &l.Status); err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return licenses, nil
}

// GetLicense loads a license by id regardless of status.
func (r *Repository) GetLicense(ctx context.Context, id uuid.UUID) (*License, error) {
	var l License
	err := r.db.Pool().QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &l.Number, &l.Category, &l.ExpiryDate, &l.Station, &l.Status)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("license %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query license: %w", err)
	}
	return &l, nil
}

// ListActiveContacts returns every active alert contact.
func (r *Repository) ListActiveContacts(ctx context.Context) ([]*Contact, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, name, phone, station, role, is_active
		FROM sms_contacts
		WHERE is_active = TRUE
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Station, &c.Role, &c.IsActive); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return contacts, nil
}

// ListActiveAlertSettings returns every active alert policy.
func (r *Repository) ListActiveAlertSettings(ctx context.Context) ([]*AlertSetting, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, name, days_before_expiry, alert_frequency_days, message_template, is_active
		FROM sms_alert_settings
		WHERE is_active = TRUE
		ORDER BY days_before_expiry DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query alert settings: %w", err)
	}
	defer rows.Close()

	var settings []*AlertSetting
	for rows.Next() {
		var s AlertSetting
		if err := rows.Scan(&s.ID, &s.Name, &s.DaysBeforeExpiry, &s.AlertFrequencyDays, &s.MessageTemplate, &s.IsActive); err != nil {
			return nil, fmt.Errorf("scan alert setting: %w", err)
		}
		settings = append(settings, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return settings, nil
}

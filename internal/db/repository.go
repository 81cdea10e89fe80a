package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for the SMS delivery history
// and the read-only registries (templates, licenses, contacts, alert settings).
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const deliveryColumns = `
	id, recipient, body, status, provider_id, cost,
	error_message, license_id, contact_id, sent_at
`

// InsertDeliveryRecord appends a send attempt to sms_logs.
func (r *Repository) InsertDeliveryRecord(ctx context.Context, rec *DeliveryRecord) error {
	query := `
		INSERT INTO sms_logs (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		rec.ID,
		rec.Recipient,
		rec.Body,
		rec.Status,
		rec.ProviderID,
		rec.Cost,
		rec.Error,
		rec.LicenseID,
		rec.ContactID,
		rec.SentAt,
	)
	if err != nil {
		r.logger.Error("failed to insert delivery record",
			zap.Error(err),
			zap.String("record_id", rec.ID.String()),
		)
		return fmt.Errorf("insert delivery record: %w", err)
	}

	return nil
}

// CountSentSince counts successful sends at or after since.
func (r *Repository) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM sms_logs WHERE status = $1 AND sent_at >= $2`,
		StatusSent, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sent messages: %w", err)
	}
	return count, nil
}

// LatestSentForLicense returns the most recent successful alert for a license,
// or (nil, nil) when the license has never been alerted.
func (r *Repository) LatestSentForLicense(ctx context.Context, licenseID uuid.UUID) (*DeliveryRecord, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM sms_logs
		WHERE license_id = $1 AND status = $2
		ORDER BY sent_at DESC
		LIMIT 1
	`

	rec, err := scanDelivery(r.db.Pool().QueryRow(ctx, query, licenseID, StatusSent))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest alert for license %s: %w", licenseID, err)
	}
	return rec, nil
}

// ListDeliveryRecords returns history ordered by sent_at ascending.
// Nil bounds are open.
func (r *Repository) ListDeliveryRecords(ctx context.Context, from, to *time.Time) ([]*DeliveryRecord, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM sms_logs
		WHERE ($1::timestamptz IS NULL OR sent_at >= $1)
		  AND ($2::timestamptz IS NULL OR sent_at <= $2)
		ORDER BY sent_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query delivery records: %w", err)
	}
	defer rows.Close()

	var records []*DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

func scanDelivery(row pgx.Row) (*DeliveryRecord, error) {
	var rec DeliveryRecord
	var providerID *string
	err := row.Scan(
		&rec.ID,
		&rec.Recipient,
		&rec.Body,
		&rec.Status,
		&providerID,
		&rec.Cost,
		&rec.Error,
		&rec.LicenseID,
		&rec.ContactID,
		&rec.SentAt,
	)
	if err != nil {
		return nil, err
	}
	if providerID != nil {
		rec.ProviderID = *providerID
	}
	return &rec, nil
}

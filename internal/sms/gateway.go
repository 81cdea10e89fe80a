package sms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/db"
	"github.com/lalithlochan/stationnotify/internal/metrics"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// E.164: leading +, non-zero country digit, at most 15 digits total.
var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Message is a single SMS request. Body is used as-is unless TemplateID is
// set, in which case the template body replaces it. Placeholders are applied
// to whichever body is used.
type Message struct {
	To           string            `json:"to"`
	Body         string            `json:"body,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	TemplateID   *uuid.UUID        `json:"template_id,omitempty"`
	Placeholders map[string]string `json:"placeholders,omitempty"`
	LicenseID    *uuid.UUID        `json:"license_id,omitempty"`
	ContactID    *uuid.UUID        `json:"contact_id,omitempty"`
}

// DeliveryResult is the outcome of one Send. Failures are reported here,
// never as a Go error.
type DeliveryResult struct {
	Success    bool      `json:"success"`
	ProviderID string    `json:"message_id,omitempty"`
	Cost       float64   `json:"cost,omitempty"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	RecordID   uuid.UUID `json:"record_id,omitempty"`

	// Err wraps one of the package sentinels for errors.Is checks.
	Err error `json:"-"`
}

// Rejected reports whether the message was refused before reaching the
// provider. Rejected sends leave no delivery record.
func (r DeliveryResult) Rejected() bool {
	return !r.Success && r.Err != nil && !errors.Is(r.Err, ErrProviderError)
}

// HistoryStore is the part of delivery history the gateway needs.
type HistoryStore interface {
	Record(ctx context.Context, rec *db.DeliveryRecord) error
	CountSuccessfulSince(ctx context.Context, since time.Time) (int, error)
}

// TemplateStore resolves stored message templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*db.Template, error)
}

// Config holds gateway policy.
type Config struct {
	DailyLimit     int // 0 disables the quota
	RestrictedMode bool
	AllowedNumbers []string
	Location       *time.Location // day boundary for the quota
}

// Client sends SMS through a Transport, enforcing validation, the
// restricted-mode allow list and the daily quota, and records every
// attempt that reaches the provider.
type Client struct {
	transport Transport
	history   HistoryStore
	templates TemplateStore
	config    Config
	allowed   map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time
}

// NewClient creates a gateway client. A nil transport leaves the client
// unconfigured; every send then fails with ErrNotConfigured.
func NewClient(transport Transport, history HistoryStore, templates TemplateStore, cfg Config, logger *zap.Logger) *Client {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedNumbers))
	for _, n := range cfg.AllowedNumbers {
		allowed[n] = struct{}{}
	}

	return &Client{
		transport: transport,
		history:   history,
		templates: templates,
		config:    cfg,
		allowed:   allowed,
		logger:    logger,
		now:       time.Now,
	}
}

// Configured reports whether a transport is available.
func (c *Client) Configured() bool {
	return c.transport != nil
}

// Validate reports whether phone is an E.164 number.
func (c *Client) Validate(phone string) bool {
	return ValidPhone(phone)
}

// ValidPhone reports whether phone is an E.164 number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// Send delivers msg, or explains why it could not.
func (c *Client) Send(ctx context.Context, msg Message) DeliveryResult {
	if c.transport == nil {
		return c.reject(msg, ErrNotConfigured, msgNotConfigured)
	}
	if !ValidPhone(msg.To) {
		return c.reject(msg, ErrInvalidPhoneNumber, msgInvalidPhoneNumber)
	}
	if c.config.RestrictedMode {
		if _, ok := c.allowed[msg.To]; !ok {
			return c.reject(msg, ErrRecipientNotAllowed, msgRecipientNotAllowed)
		}
	}

	body, err := c.resolveBody(ctx, msg)
	if err != nil {
		return c.reject(msg, err, msgTemplateNotFound)
	}

	if c.overQuota(ctx) {
		metrics.RecordQuotaRejection()
		return c.reject(msg, ErrQuotaExceeded, msgQuotaExceeded)
	}

	start := time.Now()
	resp, sendErr := c.transport.Send(ctx, Outbound{To: msg.To, Body: body})
	metrics.RecordTransportLatency(transportName(c.transport), time.Since(start))

	rec := &db.DeliveryRecord{
		Recipient: msg.To,
		Body:      body,
		LicenseID: msg.LicenseID,
		ContactID: msg.ContactID,
	}

	var result DeliveryResult
	if sendErr != nil {
		errMsg := sendErr.Error()
		rec.Status = db.StatusFailed
		rec.Error = &errMsg

		result = DeliveryResult{
			Status: db.StatusFailed,
			Error:  errMsg,
			Err:    fmt.Errorf("%w: %v", ErrProviderError, sendErr),
		}

		c.logger.Warn("sms send failed",
			zap.String("recipient", MaskPhone(msg.To)),
			zap.Error(sendErr),
		)
		metrics.RecordSMSSend(db.StatusFailed, Reason(result.Err))
	} else {
		rec.Status = db.StatusSent
		rec.ProviderID = resp.MessageID
		rec.Cost = resp.Cost

		status := resp.Status
		if status == "" {
			status = db.StatusSent
		}
		result = DeliveryResult{
			Success:    true,
			ProviderID: resp.MessageID,
			Cost:       resp.Cost,
			Status:     status,
		}

		c.logger.Info("sms sent",
			zap.String("recipient", MaskPhone(msg.To)),
			zap.String("message_id", resp.MessageID),
			zap.String("priority", msg.Priority),
		)
		metrics.RecordSMSSend(db.StatusSent, "")
	}

	// The provider has already seen the message, so the record outlives
	// the caller's context.
	if c.history != nil {
		if err := c.history.Record(context.WithoutCancel(ctx), rec); err != nil {
			c.logger.Error("failed to record delivery",
				zap.String("recipient", MaskPhone(msg.To)),
				zap.Error(err),
			)
		} else {
			result.RecordID = rec.ID
		}
	}

	return result
}

func (c *Client) resolveBody(ctx context.Context, msg Message) (string, error) {
	body := msg.Body

	if msg.TemplateID != nil {
		if c.templates == nil {
			return "", ErrTemplateNotFound
		}
		tmpl, err := c.templates.GetTemplate(ctx, *msg.TemplateID)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				c.logger.Error("failed to load template",
					zap.String("template_id", msg.TemplateID.String()),
					zap.Error(err),
				)
			}
			return "", fmt.Errorf("%w: %v", ErrTemplateNotFound, err)
		}
		body = tmpl.Body
	}

	if msg.TemplateID == nil && len(msg.Placeholders) == 0 {
		return body, nil
	}

	rendered, missing := Render(body, msg.Placeholders)
	if len(missing) > 0 {
		c.logger.Warn("unresolved template placeholders",
			zap.Strings("placeholders", missing),
			zap.String("recipient", MaskPhone(msg.To)),
		)
	}
	return rendered, nil
}

// overQuota counts today's successful sends. A failed count lets the
// message through.
func (c *Client) overQuota(ctx context.Context) bool {
	if c.config.DailyLimit <= 0 || c.history == nil {
		return false
	}

	count, err := c.history.CountSuccessfulSince(ctx, StartOfDay(c.now(), c.config.Location))
	if err != nil {
		c.logger.Warn("quota check failed, allowing send", zap.Error(err))
		return false
	}
	return count >= c.config.DailyLimit
}

func (c *Client) reject(msg Message, err error, text string) DeliveryResult {
	c.logger.Info("sms rejected",
		zap.String("recipient", MaskPhone(msg.To)),
		zap.String("reason", Reason(err)),
	)
	metrics.RecordSMSSend("rejected", Reason(err))

	return DeliveryResult{
		Success: false,
		Error:   text,
		Err:     err,
	}
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// MaskPhone hides all but the last four digits of a number.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

package sms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/db"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []Outbound
	err    error
	resp   *ProviderResponse
	onSend func()
}

func (f *fakeTransport) Send(ctx context.Context, msg Outbound) (*ProviderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.onSend != nil {
		f.onSend()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &ProviderResponse{MessageID: "msg-1", Status: "queued", Cost: 0.05}, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeHistory struct {
	mu        sync.Mutex
	records   []*db.DeliveryRecord
	sentToday int
	countErr  error
	since     time.Time
}

// Record fails on a cancelled context the way a pgx insert does.
func (f *fakeHistory) Record(ctx context.Context, rec *db.DeliveryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = uuid.New()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistory) CountSuccessfulSince(ctx context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	return f.sentToday, f.countErr
}

type fakeTemplates map[uuid.UUID]*db.Template

func (f fakeTemplates) GetTemplate(ctx context.Context, id uuid.UUID) (*db.Template, error) {
	if t, ok := f[id]; ok {
		return t, nil
	}
	return nil, db.ErrNotFound
}

func newTestClient(tr Transport, h *fakeHistory, cfg Config) *Client {
	return NewClient(tr, h, fakeTemplates{}, cfg, zap.NewNop())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		phone string
		want  bool
	}{
		{"+12025550123", true},
		{"+447700900123", true},
		{"+12", true},
		{"+123456789012345", true},
		{"+1234567890123456", false},
		{"12025550123", false},
		{"+0123456789", false},
		{"+1 202 555 0123", false},
		{"+1202555012a", false},
		{"", false},
		{"+", false},
	}

	c := newTestClient(&fakeTransport{}, &fakeHistory{}, Config{})
	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Validate(tt.phone))
		})
	}
}

func TestSend_Success(t *testing.T) {
	tr := &fakeTransport{}
	h := &fakeHistory{}
	c := newTestClient(tr, h, Config{DailyLimit: 10})

	licenseID := uuid.New()
	contactID := uuid.New()
	res := c.Send(context.Background(), Message{
		To:        "+12025550123",
		Body:      "Fuel license expires soon",
		LicenseID: &licenseID,
		ContactID: &contactID,
	})

	require.True(t, res.Success)
	assert.Equal(t, "msg-1", res.ProviderID)
	assert.Equal(t, 0.05, res.Cost)
	assert.Equal(t, "queued", res.Status)
	assert.NotEqual(t, uuid.Nil, res.RecordID)

	require.Len(t, h.records, 1)
	rec := h.records[0]
	assert.Equal(t, db.StatusSent, rec.Status)
	assert.Equal(t, "msg-1", rec.ProviderID)
	assert.Equal(t, &licenseID, rec.LicenseID)
	assert.Equal(t, &contactID, rec.ContactID)
	assert.Nil(t, rec.Error)
}

func TestSend_NotConfigured(t *testing.T) {
	h := &fakeHistory{}
	c := NewClient(nil, h, nil, Config{}, zap.NewNop())

	res := c.Send(context.Background(), Message{To: "+12025550123", Body: "hi"})

	assert.False(t, res.Success)
	assert.Equal(t, "SMS service not configured", res.Error)
	assert.ErrorIs(t, res.Err, ErrNotConfigured)
	assert.True(t, res.Rejected())
	assert.Empty(t, h.records)
	assert.False(t, c.Configured())
}

func TestSend_InvalidPhoneNeverReachesTransport(t *testing.T) {
	tr := &fakeTransport{}
	h := &fakeHistory{}
	c := newTestClient(tr, h, Config{})

	res := c.Send(context.Background(), Message{To: "+1234567890123456", Body: "hi"})

	assert.False(t, res.Success)
	assert.Equal(t, "Invalid phone number format", res.Error)
	assert.ErrorIs(t, res.Err, ErrInvalidPhoneNumber)
	assert.Equal(t, 0, tr.calls())
	assert.Empty(t, h.records)
}

func TestSend_QuotaExceeded(t *testing.T) {
	loc := time.FixedZone("station", 3*3600)
	tr := &fakeTransport{}
	h := &fakeHistory{sentToday: 5}
	c := newTestClient(tr, h, Config{DailyLimit: 5, Location: loc})
	c.now = func() time.Time { return time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC) }

	res := c.Send(context.Background(), Message{To: "+12025550123", Body: "hi"})

	assert.False(t, res.Success)
	assert.Equal(t, "Daily SMS limit exceeded", res.Error)
	assert.ErrorIs(t, res.Err, ErrQuotaExceeded)
	assert.Equal(t, 0, tr.calls())
	assert.Empty(t, h.records)

	// 22:30 UTC is 01:30 on the 11th at UTC+3.
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, loc), h.since)
}

func TestSend_BelowQuota(t *testing.T) {
	tr := &fakeTransport{}
	h := &fakeHistory{sentToday: 4}
	c := newTestClient(tr, h, Config{DailyLimit: 5})

	res := c.Send(context.Background(), Message{To: "+12025550123", Body: "hi"})

	assert.True(t, res.Success)
	assert.Equal(t, 1, tr.calls())
}

func TestSend_QuotaCountFailureFailsOpen(t *testing.T) {
	tr := &fakeTransport{}
	h := &fakeHistory{countErr: errors.New("connection refused")}
	c := newTestClient(tr, h, Config{DailyLimit: 1})

	res := c.Send(context.Background(), Message{To: "+12025550123", Body: "hi"})

	assert.True(t, res.Success)
	assert.Equal(t, 1, tr.calls())
}

func TestSend_ProviderErrorIsRecorded(t *testing.T) {
	tr := &fakeTransport{err: errors.New("gateway returned status 503")}
	h := &fakeHistory{}
	c := newTestClient(tr, h, Config{})

	res := c.Send(context.Background(), Message{To: "+12025550123", Body: "hi"})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrProviderError)
	assert.False(t, res.Rejected())
	assert.Contains(t, res.Error, "503")

	require.Len(t, h.records, 1)
	assert.Equal(t, db.StatusFailed, h.records[0].Status)
	require.NotNil(t, h.records[0].Error)
	assert.Contains(t, *h.records[0].Error, "503")
}

func TestSend_RecordedAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTransport{
		resp:   &ProviderResponse{MessageID: "prov-1", Status: "sent"},
		onSend: cancel,
	}
	h := &fakeHistory{}
	c := newTestClient(tr, h, Config{})

	res := c.Send(ctx, Message{To: "+12025550123", Body: "hi"})

	require.True(t, res.Success)
	require.Len(t, h.records, 1)
	assert.Equal(t, "prov-1", h.records[0].ProviderID)
	assert.Equal(t, db.StatusSent, h.records[0].Status)
	assert.Equal(t, h.records[0].ID, res.RecordID)
}

func TestSend_RestrictedMode(t *testing.T) {
	tr := &fakeTransport{}
	h := &fakeHistory{}
	c := newTestClient(tr, h, Config{RestrictedMode: true, AllowedNumbers: []string{"+12025550123"}})

	res := c.Send(context.Background(), Message{To: "+447700900123", Body: "hi"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrRecipientNotAllowed)
	assert.Equal(t, 0, tr.calls())

	res = c.Send(context.Background(), Message{To: "+12025550123", Body: "hi"})
	assert.True(t, res.Success)
	assert.Equal(t, 1, tr.calls())
}

func TestSend_Template(t *testing.T) {
	tmplID := uuid.New()
	tr := &fakeTransport{}
	h := &fakeHistory{}
	c := NewClient(tr, h, fakeTemplates{
		tmplID: {ID: tmplID, Body: "{license_name} at {station} expires {expiry_date}", IsActive: true},
	}, Config{}, zap.NewNop())

	res := c.Send(context.Background(), Message{
		To:           "+12025550123",
		TemplateID:   &tmplID,
		Placeholders: map[string]string{"license_name": "Fire Safety", "station": "North"},
	})

	require.True(t, res.Success)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "Fire Safety at North expires {expiry_date}", tr.sent[0].Body)
}

func TestSend_TemplateNotFound(t *testing.T) {
	missing := uuid.New()
	tr := &fakeTransport{}
	h := &fakeHistory{}
	c := newTestClient(tr, h, Config{})

	res := c.Send(context.Background(), Message{To: "+12025550123", TemplateID: &missing})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrTemplateNotFound)
	assert.Equal(t, 0, tr.calls())
	assert.Empty(t, h.records)
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "********0123", MaskPhone("+12025550123"))
	assert.Equal(t, "***", MaskPhone("+12"))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, "quota_exceeded", Reason(ErrQuotaExceeded))
	assert.Equal(t, "provider_error", Reason(errors.Join(ErrProviderError, errors.New("x"))))
	assert.Equal(t, "unknown", Reason(errors.New("x")))
}

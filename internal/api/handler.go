package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/alerts"
	"github.com/lalithlochan/stationnotify/internal/circuitbreaker"
	"github.com/lalithlochan/stationnotify/internal/dispatch"
	"github.com/lalithlochan/stationnotify/internal/history"
	"github.com/lalithlochan/stationnotify/internal/sms"
)

// Gateway is the SMS gateway surface the API exposes directly.
type Gateway interface {
	Validate(phone string) bool
	Configured() bool
}

// Dispatcher schedules, retries and batches sends.
type Dispatcher interface {
	Send(ctx context.Context, req dispatch.SendRequest) (dispatch.SendOutcome, error)
	CancelScheduled(id string) bool
	SubmitBulk(msgs []sms.Message) (string, error)
	JobStatus(id string) (dispatch.BulkJob, bool)
	Jobs() []dispatch.BulkJob
	CancelJob(id string) error
	RetryQueue() []dispatch.RetryItem
	ProcessRetryQueue(ctx context.Context) dispatch.SweepReport
}

// Analytics reports on delivery history.
type Analytics interface {
	Analytics(ctx context.Context, rng history.DateRange) (*history.Report, error)
}

// Alerts runs license expiry alerts.
type Alerts interface {
	Scan(ctx context.Context) (alerts.ScanReport, error)
	TriggerLicense(ctx context.Context, licenseID uuid.UUID) alerts.TriggerResult
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps holds the collaborators of a Handler. Breakers and Checks may be empty.
type Deps struct {
	Gateway    Gateway
	Dispatcher Dispatcher
	Analytics  Analytics
	Alerts     Alerts
	Breakers   []*circuitbreaker.CircuitBreaker
	Checks     map[string]HealthCheck
	Location   *time.Location
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string   `json:"type"`
	Title  string   `json:"title"`
	Status int      `json:"status"`
	Detail string   `json:"detail,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	validate *validator.Validate
	deps     Deps
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	if deps.Location == nil {
		deps.Location = time.Local
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		logger:   logger,
		validate: v,
		deps:     deps,
	}
}

// MessageRequest is one message in a send or bulk request.
type MessageRequest struct {
	To           string            `json:"to" validate:"required"`
	Body         string            `json:"body" validate:"required_without=TemplateID,max=1600"`
	Priority     string            `json:"priority" validate:"omitempty,oneof=normal high urgent"`
	TemplateID   *uuid.UUID        `json:"template_id"`
	Placeholders map[string]string `json:"placeholders"`
	LicenseID    *uuid.UUID        `json:"license_id"`
	ContactID    *uuid.UUID        `json:"contact_id"`
}

func (m MessageRequest) message() sms.Message {
	priority := m.Priority
	if priority == "" {
		priority = sms.PriorityNormal
	}
	return sms.Message{
		To:           m.To,
		Body:         m.Body,
		Priority:     priority,
		TemplateID:   m.TemplateID,
		Placeholders: m.Placeholders,
		LicenseID:    m.LicenseID,
		ContactID:    m.ContactID,
	}
}

// SendRequest is the body of POST /v1/sms.
type SendRequest struct {
	MessageRequest
	ScheduledAt   *time.Time `json:"scheduled_at"`
	RetryAttempts int        `json:"retry_attempts" validate:"gte=0,lte=10"`
}

// BulkRequest is the body of POST /v1/sms/bulk.
type BulkRequest struct {
	Messages []MessageRequest `json:"messages" validate:"required,min=1,max=1000,dive"`
}

// SendSMS handles POST /v1/sms
func (h *Handler) SendSMS(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !h.decode(w, r, &req) {
		return
	}

	outcome, err := h.deps.Dispatcher.Send(r.Context(), dispatch.SendRequest{
		Message:       req.message(),
		ScheduledAt:   req.ScheduledAt,
		RetryAttempts: req.RetryAttempts,
	})
	if errors.Is(err, dispatch.ErrShuttingDown) {
		h.writeError(w, http.StatusServiceUnavailable, "shutting_down", "Service is shutting down", "")
		return
	}
	if err != nil {
		h.logger.Error("send failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to send SMS", "")
		return
	}

	writeJSON(w, outcomeStatus(outcome), outcome)
}

// outcomeStatus maps a send outcome onto an HTTP status. Rejections keep
// the delivery result in the body.
func outcomeStatus(o dispatch.SendOutcome) int {
	if o.Status == dispatch.StatusScheduled {
		return http.StatusAccepted
	}
	if o.Result == nil || o.Result.Success {
		return http.StatusOK
	}
	if o.RetryQueued {
		return http.StatusAccepted
	}

	switch {
	case errors.Is(o.Result.Err, sms.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(o.Result.Err, sms.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(o.Result.Err, sms.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(o.Result.Err, sms.ErrProviderError):
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// CancelScheduled handles DELETE /v1/sms/scheduled/{id}
func (h *Handler) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.deps.Dispatcher.CancelScheduled(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "Scheduled send not found", "It may already have fired")
		return
	}

	h.logger.Info("scheduled send cancelled", zap.String("schedule_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}

// SubmitBulk handles POST /v1/sms/bulk
func (h *Handler) SubmitBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if !h.decode(w, r, &req) {
		return
	}

	msgs := make([]sms.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = m.message()
	}

	jobID, err := h.deps.Dispatcher.SubmitBulk(msgs)
	if errors.Is(err, dispatch.ErrShuttingDown) {
		h.writeError(w, http.StatusServiceUnavailable, "shutting_down", "Service is shutting down", "")
		return
	}
	if err != nil {
		h.logger.Error("bulk submit failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to submit bulk job", "")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"total":  len(msgs),
	})
}

// ListBulkJobs handles GET /v1/sms/bulk
func (h *Handler) ListBulkJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.deps.Dispatcher.Jobs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  jobs,
		"count": len(jobs),
	})
}

// GetBulkJob handles GET /v1/sms/bulk/{id}
func (h *Handler) GetBulkJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.deps.Dispatcher.JobStatus(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Bulk job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelBulkJob handles DELETE /v1/sms/bulk/{id}
func (h *Handler) CancelBulkJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	switch err := h.deps.Dispatcher.CancelJob(id); {
	case errors.Is(err, dispatch.ErrJobNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Bulk job not found", "")
		return
	case errors.Is(err, dispatch.ErrJobFinished):
		h.writeError(w, http.StatusConflict, "job_finished", "Bulk job already finished", "")
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to cancel bulk job", "")
		return
	}

	job, _ := h.deps.Dispatcher.JobStatus(id)
	writeJSON(w, http.StatusOK, job)
}

// ListRetryQueue handles GET /v1/sms/retry
func (h *Handler) ListRetryQueue(w http.ResponseWriter, r *http.Request) {
	items := h.deps.Dispatcher.RetryQueue()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  items,
		"count": len(items),
	})
}

// SweepRetryQueue handles POST /v1/sms/retry/sweep
func (h *Handler) SweepRetryQueue(w http.ResponseWriter, r *http.Request) {
	report := h.deps.Dispatcher.ProcessRetryQueue(r.Context())
	writeJSON(w, http.StatusOK, report)
}

// GetAnalytics handles GET /v1/sms/analytics?from=...&to=...
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	var rng history.DateRange

	if v := r.URL.Query().Get("from"); v != "" {
		from, err := parseDate(v, h.deps.Location, false)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid from", "use RFC3339 or YYYY-MM-DD")
			return
		}
		rng.From = &from
	}
	if v := r.URL.Query().Get("to"); v != "" {
		to, err := parseDate(v, h.deps.Location, true)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid to", "use RFC3339 or YYYY-MM-DD")
			return
		}
		rng.To = &to
	}
	if rng.From != nil && rng.To != nil && rng.To.Before(*rng.From) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid range", "to must not be before from")
		return
	}

	report, err := h.deps.Analytics.Analytics(r.Context(), rng)
	if err != nil {
		h.logger.Error("failed to build analytics", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load analytics", "")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// parseDate accepts RFC3339 or a bare date. A bare end date covers the
// whole day.
func parseDate(v string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

// ValidatePhone handles GET /v1/sms/validate?phone=...
func (h *Handler) ValidatePhone(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing phone", "phone query parameter is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"phone": phone,
		"valid": h.deps.Gateway.Validate(phone),
	})
}

// RunAlertScan handles POST /v1/alerts/scan
func (h *Handler) RunAlertScan(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Alerts.Scan(r.Context())
	if errors.Is(err, alerts.ErrScanInProgress) {
		h.writeError(w, http.StatusConflict, "scan_in_progress", "Alert scan already running", "")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "scan_failed", "Alert scan failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TriggerLicenseAlert handles POST /v1/alerts/licenses/{id}/trigger
func (h *Handler) TriggerLicenseAlert(w http.ResponseWriter, r *http.Request) {
	licenseID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid license ID", "ID must be a valid UUID")
		return
	}

	res := h.deps.Alerts.TriggerLicense(r.Context(), licenseID)

	status := http.StatusOK
	switch {
	case errors.Is(res.Err, alerts.ErrLicenseNotFound):
		status = http.StatusNotFound
	case errors.Is(res.Err, alerts.ErrNoActiveContacts):
		status = http.StatusUnprocessableEntity
	case res.Err != nil:
		status = http.StatusInternalServerError
	case !res.Success:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps.Checks))
	for name, check := range h.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	breakers := make([]circuitbreaker.Stats, 0, len(h.deps.Breakers))
	for _, cb := range h.deps.Breakers {
		breakers = append(breakers, cb.Stats())
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":         overall,
		"sms_configured": h.deps.Gateway.Configured(),
		"checks":         checks,
		"breakers":       breakers,
	})
}

// decode reads and validates a JSON body, writing the error response itself
// when it fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", err.Error())
			return false
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fieldMessage(fe))
		}
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ErrorResponse{
			Type:   "validation_error",
			Title:  "Validation failed",
			Status: http.StatusBadRequest,
			Fields: fields,
		})
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	field = strings.TrimPrefix(field, "MessageRequest.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_without":
		return field + " is required when template_id is not set"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "min", "max", "gte", "lte":
		return field + " must satisfy " + fe.Tag() + "=" + fe.Param()
	default:
		return field + " is invalid"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

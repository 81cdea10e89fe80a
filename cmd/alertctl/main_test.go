package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	method string
	path   string
	query  string
}

func newGateway(t *testing.T, status int, contentType, body string) (*httptest.Server, *seenRequest) {
	t.Helper()
	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.method = r.Method
		seen.path = r.URL.Path
		seen.query = r.URL.RawQuery
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScan(t *testing.T) {
	srv, seen := newGateway(t, http.StatusOK, "application/json", `{"licenses":3,"sent":2}`)

	out, err := execute(t, "--server", srv.URL, "scan")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, seen.method)
	assert.Equal(t, "/v1/alerts/scan", seen.path)

	var report map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report["sent"])
}

func TestScan_ServerFromEnv(t *testing.T) {
	srv, seen := newGateway(t, http.StatusOK, "application/json", `{}`)
	t.Setenv("ALERTCTL_SERVER", srv.URL)

	_, err := execute(t, "scan")
	require.NoError(t, err)
	assert.Equal(t, "/v1/alerts/scan", seen.path)
}

func TestScan_Conflict(t *testing.T) {
	srv, _ := newGateway(t, http.StatusConflict, "application/problem+json",
		`{"type":"scan_in_progress","title":"Alert scan already running","status":409}`)

	_, err := execute(t, "--server", srv.URL, "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Alert scan already running")
	assert.Contains(t, err.Error(), "409")
}

func TestTrigger(t *testing.T) {
	srv, seen := newGateway(t, http.StatusOK, "application/json",
		`{"success":true,"message":"Alert sent to 2/2 contacts","sent":2,"total":2}`)

	out, err := execute(t, "--server", srv.URL, "trigger", "6f1c2a4e-8a55-4c55-9d1f-2f4bb2d7c1a0")
	require.NoError(t, err)
	assert.Equal(t, "/v1/alerts/licenses/6f1c2a4e-8a55-4c55-9d1f-2f4bb2d7c1a0/trigger", seen.path)
	assert.Equal(t, "Alert sent to 2/2 contacts\n", out)
}

func TestTrigger_NotDelivered(t *testing.T) {
	srv, _ := newGateway(t, http.StatusNotFound, "application/json", `{"success":false,"message":"License not found"}`)

	out, err := execute(t, "--server", srv.URL, "trigger", "6f1c2a4e-8a55-4c55-9d1f-2f4bb2d7c1a0")
	require.Error(t, err)
	assert.Equal(t, "License not found\n", out)
}

func TestTrigger_InvalidID(t *testing.T) {
	_, err := execute(t, "--server", "http://localhost:1", "trigger", "abc")
	assert.ErrorContains(t, err, "UUID")
}

func TestBulkStatus(t *testing.T) {
	srv, seen := newGateway(t, http.StatusOK, "application/json", `{"id":"job-1","status":"processing"}`)

	_, err := execute(t, "--server", srv.URL, "bulk-status", "job-1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, seen.method)
	assert.Equal(t, "/v1/sms/bulk/job-1", seen.path)
}

func TestAnalytics_PassesRange(t *testing.T) {
	srv, seen := newGateway(t, http.StatusOK, "application/json", `{"total_sent":0}`)

	_, err := execute(t, "--server", srv.URL, "analytics", "--from", "2026-03-01", "--to", "2026-03-31")
	require.NoError(t, err)
	assert.Equal(t, "/v1/sms/analytics", seen.path)
	assert.Equal(t, "from=2026-03-01&to=2026-03-31", seen.query)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantOut string
		wantErr bool
	}{
		{"valid", `{"phone":"+12025550123","valid":true}`, "+12025550123 is valid\n", false},
		{"invalid", `{"phone":"12025550123","valid":false}`, "12025550123 is not a valid E.164 number\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, seen := newGateway(t, http.StatusOK, "application/json", tt.body)

			out, err := execute(t, "--server", srv.URL, "validate", "+12025550123")
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantOut, out)
			assert.Equal(t, "phone=%2B12025550123", seen.query)
		})
	}
}

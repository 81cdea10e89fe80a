package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/sms"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}
	cb := New(cfg, zap.NewNop())
	cb.now = clock.now
	return cb, clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsClosedAndAllows(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig("sms-http"))
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAndRejects(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 3, RecoveryTimeout: time.Second})
	trip(cb, 3)

	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("should reject when open")
	}
	if cb.Stats().TotalRejected != 1 {
		t.Fatalf("total_rejected = %d", cb.Stats().TotalRejected)
	}
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	tests := []struct {
		name      string
		probeErr  bool
		wantState State
	}{
		{"probe succeeds", false, StateClosed},
		{"probe fails", true, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(Config{Name: "sms", MaxFailures: 2, RecoveryTimeout: 30 * time.Second})
			trip(cb, 2)

			clock.advance(29 * time.Second)
			if cb.Allow() {
				t.Fatal("should still reject before recovery timeout")
			}

			clock.advance(time.Second)
			if !cb.Allow() {
				t.Fatal("should allow probe after timeout")
			}
			if cb.GetState() != StateHalfOpen {
				t.Fatalf("expected StateHalfOpen, got %s", cb.GetState())
			}
			if cb.Allow() {
				t.Fatal("second half-open request should be rejected")
			}

			if tt.probeErr {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			if cb.GetState() != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, cb.GetState())
			}
		})
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 3})
	trip(cb, 2)
	cb.Allow()
	cb.RecordSuccess()
	trip(cb, 2)
	if cb.GetState() != StateClosed {
		t.Fatal("success should have reset failure count")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 2, RecoveryTimeout: 5 * time.Second})
	trip(cb, 2)
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed after reset, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("should allow after reset")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "stats-test", MaxFailures: 5})
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()

	stats := cb.Stats()
	if stats.Name != "stats-test" {
		t.Fatalf("name = %s", stats.Name)
	}
	if stats.TotalRequests != 3 || stats.TotalSuccesses != 2 || stats.TotalFailures != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.LastFailure == "" {
		t.Fatal("expected last failure timestamp")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

type mockTransport struct {
	err   error
	calls int
}

func (m *mockTransport) Send(ctx context.Context, msg sms.Outbound) (*sms.ProviderResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &sms.ProviderResponse{MessageID: "m-1", Status: "sent"}, nil
}

func (m *mockTransport) Name() string { return "mock" }

var testMsg = sms.Outbound{To: "+12025550123", Body: "license expiring"}

func TestProtectedTransport_PassesThrough(t *testing.T) {
	mock := &mockTransport{}
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 5})
	pt := NewProtectedTransport(mock, cb, zap.NewNop())

	resp, err := pt.Send(context.Background(), testMsg)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if resp.MessageID != "m-1" || mock.calls != 1 {
		t.Fatalf("resp = %+v, calls = %d", resp, mock.calls)
	}
	if pt.Name() != "mock" {
		t.Fatalf("name = %s", pt.Name())
	}
	if cb.Stats().TotalSuccesses != 1 {
		t.Fatal("expected 1 success")
	}
}

func TestProtectedTransport_FullLifecycle(t *testing.T) {
	mock := &mockTransport{}
	cb, clock := newTestBreaker(Config{Name: "lifecycle", MaxFailures: 3, RecoveryTimeout: time.Minute})
	pt := NewProtectedTransport(mock, cb, zap.NewNop())
	ctx := context.Background()

	mock.err = errors.New("gateway returned status 503")
	for i := 0; i < 3; i++ {
		if _, err := pt.Send(ctx, testMsg); err == nil {
			t.Fatalf("send %d should fail", i)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	mock.calls = 0
	_, err := pt.Send(ctx, testMsg)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got: %v", err)
	}
	if mock.calls != 0 {
		t.Fatal("transport should not be called while open")
	}

	clock.advance(time.Minute)
	mock.err = nil
	if _, err := pt.Send(ctx, testMsg); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
}

func TestProtectedTransport_OpenCircuitIsProviderError(t *testing.T) {
	mock := &mockTransport{err: errors.New("down")}
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 1, RecoveryTimeout: time.Hour})
	pt := NewProtectedTransport(mock, cb, zap.NewNop())

	gw := sms.NewClient(pt, nil, nil, sms.Config{}, zap.NewNop())
	gw.Send(context.Background(), sms.Message{To: testMsg.To, Body: testMsg.Body})

	res := gw.Send(context.Background(), sms.Message{To: testMsg.To, Body: testMsg.Body})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, sms.ErrProviderError) {
		t.Fatalf("expected provider error, got %v", res.Err)
	}
	if mock.calls != 1 {
		t.Fatalf("transport called %d times", mock.calls)
	}
}

func TestProtectedTransport_CallerCancellationDoesNotTrip(t *testing.T) {
	mock := &mockTransport{err: context.Canceled}
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 2})
	pt := NewProtectedTransport(mock, cb, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		if _, err := pt.Send(ctx, testMsg); err == nil {
			t.Fatalf("send %d should fail", i)
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
	stats := cb.Stats()
	if stats.TotalFailures != 0 || stats.TotalCancelled != 5 {
		t.Fatalf("failures = %d, cancelled = %d", stats.TotalFailures, stats.TotalCancelled)
	}

	mock.err = errors.New("gateway returned status 503")
	for i := 0; i < 2; i++ {
		_, _ = pt.Send(context.Background(), testMsg)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("provider errors should still open the circuit, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CancelledProbeFreesSlot(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "sms", MaxFailures: 1, RecoveryTimeout: time.Minute, HalfOpenMaxRequests: 1})

	cb.RecordFailure()
	clock.advance(time.Minute)

	if !cb.Allow() {
		t.Fatal("first probe should be allowed")
	}
	if cb.Allow() {
		t.Fatal("second probe should wait while the first is in flight")
	}

	cb.RecordCancelled()
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("abandoned probe should hand its slot back")
	}
}

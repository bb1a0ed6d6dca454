package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockHealthProbe struct {
	name  string
	err   error
	delay time.Duration
	panic bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	if m.panic {
		panic("probe exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			// Keep blocking past the deadline to exercise the timeout path.
			time.Sleep(50 * time.Millisecond)
			return ctx.Err()
		}
	}
	return m.err
}

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.Config.Build.Version = "1.2.3"
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return rec.Code, resp
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := runHealth(t)
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if resp.Status != "healthy" || resp.Version != "1.2.3" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, resp := runHealth(t, &mockHealthProbe{name: "database"}, NewPingProbe("cache", func(context.Context) error { return nil }))
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if resp.Components["database"].Status != "healthy" || resp.Components["cache"].Status != "healthy" {
		t.Errorf("components = %+v", resp.Components)
	}
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	code, resp := runHealth(t,
		&mockHealthProbe{name: "database", err: errors.New("connection refused")},
		&mockHealthProbe{name: "other"},
	)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status field = %q", resp.Status)
	}
	db := resp.Components["database"]
	if db.Status != "unhealthy" || db.Message != "connection refused" {
		t.Errorf("database component = %+v", db)
	}
	if resp.Components["other"].Status != "healthy" {
		t.Errorf("other component = %+v", resp.Components["other"])
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	code, resp := runHealth(t, &mockHealthProbe{name: "database", panic: true})
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if resp.Components["database"].Status != "unhealthy" {
		t.Errorf("database component = %+v", resp.Components["database"])
	}
}

func TestHandleHealth_Timeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health deadline")
	}
	start := time.Now()
	code, resp := runHealth(t, &mockHealthProbe{name: "database", delay: 10 * time.Second})
	if elapsed := time.Since(start); elapsed > healthCheckTimeout+time.Second {
		t.Errorf("health check took %v, expected about %v", elapsed, healthCheckTimeout)
	}
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if resp.Components["database"].Status != "unhealthy" {
		t.Errorf("database component = %+v", resp.Components["database"])
	}
}

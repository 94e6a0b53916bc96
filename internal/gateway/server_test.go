package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/testutil"
)

type fakeCounts []store.StatusCount

func (f fakeCounts) CountByStatus(context.Context) ([]store.StatusCount, error) { return f, nil }

type fakeUsers int64

func (f fakeUsers) Count(context.Context) (int64, error) { return int64(f), nil }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(token string, db Pinger) *Server {
	counts := fakeCounts{
		{ActionType: "send", Status: store.StatusCompleted, Count: 5},
		{ActionType: "send", Status: store.StatusPending, Count: 2},
		{ActionType: "remove", Status: store.StatusFailed, Count: 1},
	}
	collector := NewCollector(counts, fakeUsers(3), "default", time.Now().Add(-time.Minute))
	return NewServer(Config{Listen: "127.0.0.1:0", Token: token}, collector, db)
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		db       Pinger
		wantCode int
		want     string
	}{
		{"healthy", fakePinger{}, http.StatusOK, "healthy"},
		{"database down", fakePinger{err: errors.New("closed")}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newTestServer("", tt.db).Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
			var response map[string]string
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if response["status"] != tt.want {
				t.Errorf("Expected status '%s', got '%s'", tt.want, response["status"])
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	w := httptest.NewRecorder()
	newTestServer("", nil).Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var snap Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(snap.Actions) != 2 || snap.Actions[0].ActionType != "remove" || snap.Actions[1].Total != 7 {
		t.Errorf("actions = %+v", snap.Actions)
	}
	if snap.Totals["completed"] != 5 || snap.Totals["failed"] != 1 {
		t.Errorf("totals = %v", snap.Totals)
	}
	if snap.Users != 3 || snap.Preset != "default" || snap.Uptime == "" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStatusRequiresToken(t *testing.T) {
	h := newTestServer(testutil.FakeBearerToken, nil).Router()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+testutil.FakeBearerToken)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health should stay public, got %d", w.Code)
	}
}

func TestServerStartShutdown(t *testing.T) {
	s := newTestServer("", nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

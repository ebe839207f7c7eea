package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lowkeylabs/acctgate/internal/config"
	"github.com/lowkeylabs/acctgate/internal/events"
	"github.com/lowkeylabs/acctgate/internal/stats"
)

func testDeps(apiKey string, dispatcher http.Handler) Deps {
	return Deps{
		Config: func() config.AppConfig {
			return config.AppConfig{Proxy: config.ProxyConfig{APIKey: apiKey, Port: 0}}
		},
		Stats:       stats.New(),
		Broadcaster: events.NewBroadcaster(),
		Dispatcher:  dispatcher,
		StartedAt:   time.Now(),
	}
}

func TestDispatchRoutesRejectUnauthenticatedRequests(t *testing.T) {
	called := false
	dispatcher := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	srv := New(testDeps("secret", dispatcher))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthenticated dispatch request, got %d", rec.Code)
	}
	if called {
		t.Fatalf("expected the dispatcher to never run for an unauthenticated request")
	}
}

func TestDispatchRoutesAcceptAuthenticatedRequests(t *testing.T) {
	dispatcher := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := New(testDeps("secret", dispatcher))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for authenticated dispatch request, got %d", rec.Code)
	}
}

func TestAdminRoutesStillRejectUnauthenticatedRequests(t *testing.T) {
	srv := New(testDeps("secret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthenticated admin request, got %d", rec.Code)
	}
}

package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lowkeylabs/acctgate/internal/apierr"
	"github.com/lowkeylabs/acctgate/internal/httpapi/middleware"
	"github.com/lowkeylabs/acctgate/internal/tokens"
)

type stubTokenSource struct {
	results   []tokens.Result
	call      int
	cooldowns []string
}

func (s *stubTokenSource) GetToken(ctx context.Context, quotaGroup string, forceRotate bool) (tokens.Result, error) {
	if s.call >= len(s.results) {
		return tokens.Result{}, apierr.PoolEmpty()
	}
	res := s.results[s.call]
	s.call++
	return res, nil
}

func (s *stubTokenSource) MarkCooldown(accountID string, until time.Time) {
	s.cooldowns = append(s.cooldowns, accountID)
}

func TestDispatcherForwardsSuccessfulResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-a" {
			t.Errorf("expected bearer token forwarded, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	src := &stubTokenSource{results: []tokens.Result{{AccountID: "a", AccessToken: "access-a", ProjectID: "proj-a"}}}
	d := New(src, upstream.Client(), upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(middleware.UpstreamHeader) != "a" {
		t.Fatalf("expected upstream header set to account a, got %q", rec.Header().Get(middleware.UpstreamHeader))
	}
}

func TestDispatcherRetriesOnceOn429AndMarksCooldown(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	src := &stubTokenSource{results: []tokens.Result{
		{AccountID: "a", AccessToken: "access-a"},
		{AccountID: "b", AccessToken: "access-b"},
	}}
	d := New(src, upstream.Client(), upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected eventual 200 after retry, got %d", rec.Code)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 upstream calls, got %d", calls)
	}
	if len(src.cooldowns) != 1 || src.cooldowns[0] != "a" {
		t.Fatalf("expected cooldown marked on account a after the 429, got %v", src.cooldowns)
	}
}

func TestDispatcherDoesNotRetryTwice(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	src := &stubTokenSource{results: []tokens.Result{
		{AccountID: "a", AccessToken: "access-a"},
		{AccountID: "b", AccessToken: "access-b"},
	}}
	d := New(src, upstream.Client(), upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected final response to surface the second 429, got %d", rec.Code)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts total (one retry), got %d", calls)
	}
}

func TestDispatcherDoesNotMarkCooldownOn401(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	src := &stubTokenSource{results: []tokens.Result{
		{AccountID: "a", AccessToken: "access-a"},
		{AccountID: "b", AccessToken: "access-b"},
	}}
	d := New(src, upstream.Client(), upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected retry to recover with 200, got %d", rec.Code)
	}
	if len(src.cooldowns) != 0 {
		t.Fatalf("expected no cooldown on a 401, got %v", src.cooldowns)
	}
}

func TestQuotaGroupForSelectsImageGenFromPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/images/generate", nil)
	if got := quotaGroupFor(r); got != "image_gen" {
		t.Fatalf("expected image_gen, got %s", got)
	}
}

func TestQuotaGroupForDefaultsByPrefix(t *testing.T) {
	cases := map[string]string{
		"/v1/messages":      "claude",
		"/v1beta/models/x":  "gemini",
		"/v1/chat/completions": "openai",
	}
	for path, want := range cases {
		r := httptest.NewRequest(http.MethodPost, path, nil)
		if got := quotaGroupFor(r); got != want {
			t.Errorf("path %s: got %s, want %s", path, got, want)
		}
	}
}

// Package dispatch implements spec.md §4.7's Dispatcher glue: it calls the
// TokenManager, attaches credentials, and forwards the request verbatim to
// the single configured vendor backend. Dialect/body transformation
// between API flavors stays out of scope (spec.md §1); this package only
// attaches headers and streams bytes through.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lowkeylabs/acctgate/internal/apierr"
	"github.com/lowkeylabs/acctgate/internal/httpapi/middleware"
	"github.com/lowkeylabs/acctgate/internal/tokens"
)

// TokenSource is the subset of tokens.Manager the dispatcher needs.
type TokenSource interface {
	GetToken(ctx context.Context, quotaGroup string, forceRotate bool) (tokens.Result, error)
	MarkCooldown(accountID string, until time.Time)
}

// cooldownWindow is how long a 429 excludes an account from round-robin.
const cooldownWindow = 60 * time.Second

// Dispatcher forwards ingress requests to the vendor backend on behalf of
// a selected pooled account.
type Dispatcher struct {
	tokens      TokenSource
	httpClient  *http.Client
	vendorBase  string
	now         func() time.Time
}

// New builds a Dispatcher. vendorBaseURL is the single upstream backend
// (config.ProxyConfig.VendorBaseURL) every pooled account forwards to.
func New(tokens TokenSource, httpClient *http.Client, vendorBaseURL string) *Dispatcher {
	return &Dispatcher{
		tokens:     tokens,
		httpClient: httpClient,
		vendorBase: strings.TrimSuffix(vendorBaseURL, "/"),
		now:        time.Now,
	}
}

// ServeHTTP implements the hot path: client → AuthGate → StatsMiddleware →
// Dispatcher → TokenManager.get_token → upstream call → response streamed
// back, per spec.md §2's data flow.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeDispatchErr(w, apierr.BadRequest("unreadable request body"))
		return
	}
	r.Body.Close()

	quotaGroup := quotaGroupFor(r)

	forceRotate := false
	for attempt := 0; attempt < 2; attempt++ {
		resp, accountID, err := d.attempt(r, body, quotaGroup, forceRotate)
		if err != nil {
			writeDispatchErr(w, err)
			return
		}

		if attempt == 0 && isRecoverableUpstreamStatus(resp.StatusCode) {
			if resp.StatusCode == http.StatusTooManyRequests {
				d.tokens.MarkCooldown(accountID, d.now().Add(cooldownWindow))
			}
			resp.Body.Close()
			forceRotate = true
			continue
		}

		w.Header().Set(middleware.UpstreamHeader, accountID)
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		resp.Body.Close()
		return
	}
}

func (d *Dispatcher) attempt(r *http.Request, body []byte, quotaGroup string, forceRotate bool) (*http.Response, string, error) {
	tok, err := d.tokens.GetToken(r.Context(), quotaGroup, forceRotate)
	if err != nil {
		return nil, "", err
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, d.vendorBase+r.URL.Path, strings.NewReader(string(body)))
	if err != nil {
		return nil, tok.AccountID, apierr.Internal(err)
	}
	upstreamReq.URL.RawQuery = r.URL.RawQuery
	copyHeaders(upstreamReq.Header, r.Header)
	upstreamReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if tok.ProjectID != "" {
		upstreamReq.Header.Set("X-Project-Id", tok.ProjectID)
	}

	resp, err := d.httpClient.Do(upstreamReq)
	if err != nil {
		slog.Error("upstream dispatch failed", "accountId", tok.AccountID, "error", err)
		return nil, tok.AccountID, apierr.Internal(err)
	}
	return resp, tok.AccountID, nil
}

func isRecoverableUpstreamStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusTooManyRequests
}

func quotaGroupFor(r *http.Request) string {
	if strings.Contains(r.URL.Path, "image") {
		return "image_gen"
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/v1/messages"):
		return "claude"
	case strings.HasPrefix(r.URL.Path, "/v1beta/models"):
		return "gemini"
	default:
		return "openai"
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if strings.EqualFold(k, "Authorization") || strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func writeDispatchErr(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Internal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Kind.HTTPStatus())
	io.WriteString(w, `{"ok":false,"error":{"code":"`+string(apiErr.Kind)+`","message":"`+apiErr.Message+`"}}`)
}

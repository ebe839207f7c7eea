package httpapi

import (
	"bufio"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lowkeylabs/acctgate/internal/apierr"
	"github.com/lowkeylabs/acctgate/internal/httpapi/middleware"
	"github.com/lowkeylabs/acctgate/internal/stats"
)

func registerAdminRoutes(mux *http.ServeMux, deps *Deps, gate *middleware.AuthGate) {
	auth := gate.Wrap

	mux.HandleFunc("POST /admin/login", func(w http.ResponseWriter, r *http.Request) { handleLogin(w, r, deps) })

	mux.Handle("GET /api/admin/accounts", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleListAccounts(w, r, deps)
	})))
	mux.Handle("POST /api/admin/accounts/reload", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleReloadAccounts(w, r, deps)
	})))
	mux.Handle("POST /api/admin/accounts/pin", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlePinAccount(w, r, deps)
	})))

	mux.Handle("GET /api/admin/stats", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleStats(w, r, deps)
	})))

	mux.Handle("GET /api/admin/requests", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRequests(w, r, deps)
	})))

	mux.Handle("GET /api/admin/logs/stream", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleLogsStream(w, r, deps)
	})))
}

func handleLogin(w http.ResponseWriter, r *http.Request, deps *Deps) {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, apierr.BadRequest("malformed login payload"))
		return
	}

	expected := deps.Config().Proxy.APIKey
	if expected == "" || subtle.ConstantTimeCompare([]byte(body.APIKey), []byte(expected)) != 1 {
		writeErr(w, apierr.Unauthorized())
		return
	}
	writeOK(w, map[string]string{"token": expected})
}

func handleListAccounts(w http.ResponseWriter, r *http.Request, deps *Deps) {
	pinned, hasPin := deps.Tokens.PinnedID()
	writeOK(w, map[string]any{
		"count":      deps.Tokens.Len(),
		"pinned":     pinned,
		"has_pinned": hasPin,
	})
}

func handleReloadAccounts(w http.ResponseWriter, r *http.Request, deps *Deps) {
	count, err := deps.Tokens.Reload()
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	deps.Broadcaster.EmitSystem("info", fmt.Sprintf("accounts reloaded: %d active", count))
	writeOK(w, map[string]int{"count": count})
}

func handlePinAccount(w http.ResponseWriter, r *http.Request, deps *Deps) {
	var body struct {
		AccountID *string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, apierr.BadRequest("malformed pin payload"))
		return
	}
	deps.Tokens.Pin(body.AccountID)
	writeOK(w, map[string]bool{"pinned": body.AccountID != nil})
}

func handleStats(w http.ResponseWriter, r *http.Request, deps *Deps) {
	snap := deps.Stats.Snapshot()
	writeOK(w, struct {
		stats.Snapshot
		UptimeSeconds int64 `json:"uptime_seconds"`
	}{Snapshot: snap, UptimeSeconds: int64(time.Since(deps.StartedAt).Seconds())})
}

func handleRequests(w http.ResponseWriter, r *http.Request, deps *Deps) {
	if deps.Archive == nil {
		writeErr(w, apierr.ArchiveUnavailable())
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	rows, err := deps.Archive.QueryRecent(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	writeOK(w, rows)
}

// handleLogsStream serves spec.md §4.5's broadcast as Server-Sent Events —
// a concrete transport a browser dashboard can consume (SPEC_FULL.md §6).
func handleLogsStream(w http.ResponseWriter, r *http.Request, deps *Deps) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, apierr.Internal(fmt.Errorf("streaming unsupported")))
		return
	}

	id, ch := deps.Broadcaster.Subscribe()
	defer deps.Broadcaster.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)

	ctx := r.Context()
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(bw, entry)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(bw, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(bw *bufio.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(bw, "data: %s\n\n", data)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
		return def
	}
	return n
}

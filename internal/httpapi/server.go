// Package httpapi wires AuthGate, StatsMiddleware, the admin API and the
// dispatcher into one http.Server, in the teacher's net/http.ServeMux
// style (internal/server/server.go) — no third-party router, since the
// teacher's stack never reaches for one either.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lowkeylabs/acctgate/internal/archive"
	"github.com/lowkeylabs/acctgate/internal/config"
	"github.com/lowkeylabs/acctgate/internal/events"
	"github.com/lowkeylabs/acctgate/internal/httpapi/middleware"
	"github.com/lowkeylabs/acctgate/internal/stats"
	"github.com/lowkeylabs/acctgate/internal/tokens"
)

// Deps collects everything the admin handlers and route wiring need.
type Deps struct {
	Config      func() config.AppConfig
	Tokens      *tokens.Manager
	Stats       *stats.Tracker
	Broadcaster *events.Broadcaster
	Archive     *archive.Archive // nil disables /api/admin/requests
	Dispatcher  http.Handler
	StartedAt   time.Time
}

// Server is the proxy's HTTP server.
type Server struct {
	deps Deps
	http *http.Server
}

// New builds a Server bound to cfg.GetBindAddress():cfg.Port.
func New(deps Deps) *Server {
	cfg := deps.Config().Proxy

	gate := middleware.NewAuthGate(func() (string, error) {
		return deps.Config().Proxy.APIKey, nil
	})

	mux := http.NewServeMux()
	registerDispatchRoutes(mux, deps.Dispatcher, gate.Wrap)
	registerAdminRoutes(mux, &deps, gate)

	statsWrap := middleware.Stats(deps.Stats, deps.Broadcaster, archiveAdapter(deps.Archive))

	return &Server{
		deps: deps,
		http: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.GetBindAddress(), cfg.Port),
			Handler:        statsWrap(mux),
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   cfg.RequestTimeout() + 30*time.Second,
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// registerDispatchRoutes gates every proxy route behind auth, same as
// registerAdminRoutes does for the admin API — spec.md §2's hot-path flow
// puts AuthGate first for both the proxy and admin surfaces (spec.md:104,
// :170).
func registerDispatchRoutes(mux *http.ServeMux, dispatcher http.Handler, auth func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/chat/completions", auth(dispatcher))
	mux.Handle("POST /v1/messages", auth(dispatcher))
	mux.Handle("GET /v1beta/models/", auth(dispatcher))
	mux.Handle("POST /v1beta/models/", auth(dispatcher))
}

// Run blocks, serving until a SIGINT/SIGTERM triggers a graceful shutdown,
// per spec.md §5 Startup.
func (s *Server) Run() error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.http.Shutdown(ctx)
	}
}

func archiveAdapter(a *archive.Archive) middleware.ArchiveRecorder {
	if a == nil {
		return nil
	}
	return a
}

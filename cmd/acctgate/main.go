package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lowkeylabs/acctgate/internal/account"
	"github.com/lowkeylabs/acctgate/internal/archive"
	"github.com/lowkeylabs/acctgate/internal/config"
	"github.com/lowkeylabs/acctgate/internal/dispatch"
	"github.com/lowkeylabs/acctgate/internal/events"
	"github.com/lowkeylabs/acctgate/internal/httpapi"
	"github.com/lowkeylabs/acctgate/internal/oauth"
	"github.com/lowkeylabs/acctgate/internal/stats"
	"github.com/lowkeylabs/acctgate/internal/tokens"
	"github.com/lowkeylabs/acctgate/internal/transport"
)

var version = "dev"

func main() {
	mirror := events.NewTextMirror(slog.LevelInfo)
	slog.SetDefault(slog.New(mirror))
	slog.Info("acctgate starting", "version", version)

	if err := config.EnsureDataDir(); err != nil {
		slog.Error("data dir resolution failed", "error", err)
		os.Exit(1)
	}

	cfg, existed, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if !cfg.Proxy.Enabled {
		cfg.Proxy.Enabled = true
	}
	if !existed {
		if err := config.Save(cfg); err != nil {
			slog.Error("config write-back failed", "error", err)
			os.Exit(1)
		}
		slog.Info("wrote default config", "api_key", cfg.Proxy.APIKey)
	}

	accountsDir, err := config.AccountsDir()
	if err != nil {
		slog.Error("accounts dir resolution failed", "error", err)
		os.Exit(1)
	}

	pool := account.NewPool()
	store := account.NewStore(accountsDir)
	if _, err := store.Load(pool); err != nil {
		slog.Warn("account load failed, starting with empty pool", "error", err)
	}
	slog.Info("accounts loaded", "count", pool.Len())

	broadcaster := events.NewBroadcaster()
	tracker := stats.New()

	refresher := oauth.NewRefresher()
	resolver := oauth.NewProjectResolver()
	tokenMgr := tokens.New(pool, store, refresher, resolver)

	transportMgr, err := transport.New(cfg.Proxy)
	if err != nil {
		slog.Error("transport init failed", "error", err)
		os.Exit(1)
	}
	defer transportMgr.Close()

	var requestArchive *archive.Archive
	archivePath, err := config.ArchivePath()
	if err != nil {
		slog.Warn("archive path resolution failed, running without request history", "error", err)
	} else if a, err := archive.Open(archivePath); err != nil {
		slog.Warn("archive init failed, running without request history", "error", err)
	} else {
		requestArchive = a
		defer requestArchive.Close()
	}

	dispatcher := dispatch.New(tokenMgr, transportMgr.Client(), cfg.Proxy.VendorBaseURL)

	srv := httpapi.New(httpapi.Deps{
		Config: func() config.AppConfig {
			cur, _, err := config.Load()
			if err != nil {
				return cfg
			}
			return cur
		},
		Tokens:      tokenMgr,
		Stats:       tracker,
		Broadcaster: broadcaster,
		Archive:     requestArchive,
		Dispatcher:  dispatcher,
		StartedAt:   time.Now(),
	})

	broadcaster.EmitSystem("info", "acctgate ready")
	if err := srv.Run(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// Package transport builds the http.Client the dispatcher uses to reach
// the vendor backend: a Chrome-fingerprinted direct HTTP/2 connection, or
// the same fingerprint tunneled through a single process-wide upstream
// proxy (SOCKS5 or HTTP CONNECT). Generalized from the teacher's
// per-account transport pool (SPEC_FULL.md §4.7) since this design has one
// global ProxyConfig.UpstreamProxy rather than a per-account proxy.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/lowkeylabs/acctgate/internal/config"
)

// Manager hands out the single shared *http.Client built from ProxyConfig.
type Manager struct {
	client *http.Client
}

// New builds the round tripper once at startup per cfg.UpstreamProxy.
func New(cfg config.ProxyConfig) (*Manager, error) {
	rt, err := buildRoundTripper(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		client: &http.Client{
			Transport: rt,
			Timeout:   cfg.RequestTimeout(),
		},
	}, nil
}

// Client returns the shared http.Client.
func (m *Manager) Client() *http.Client { return m.client }

// Close releases pooled connections.
func (m *Manager) Close() {
	if t, ok := m.client.Transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

func buildRoundTripper(cfg config.ProxyConfig) (http.RoundTripper, error) {
	if cfg.UpstreamProxy.Enabled && cfg.UpstreamProxy.URL != "" {
		dial, err := dialerFor(cfg.UpstreamProxy.URL)
		if err != nil {
			return nil, fmt.Errorf("build upstream proxy dialer: %w", err)
		}
		return &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     5 * time.Minute,
			DialTLSContext:      dial,
		}, nil
	}

	return &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialUTLS(ctx, network, addr)
		},
	}, nil
}

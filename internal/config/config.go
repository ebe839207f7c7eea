// Package config loads and persists the proxy's JSON configuration file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// UpstreamProxyConfig describes an optional outbound proxy used when
// dialing the vendor backend.
type UpstreamProxyConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
}

// ProxyConfig is the `proxy` object inside gui_config.json. Field names and
// JSON tags match the documented on-disk format exactly so hand-edited
// config files round-trip.
type ProxyConfig struct {
	Enabled            bool                `json:"enabled"`
	Port               int                 `json:"port"`
	AllowLANAccess     bool                `json:"allow_lan_access"`
	APIKey             string              `json:"api_key"`
	RequestTimeoutSecs int                 `json:"request_timeout"`
	UpstreamProxy      UpstreamProxyConfig `json:"upstream_proxy"`
	AnthropicMapping   map[string]string   `json:"anthropic_mapping"`
	OpenAIMapping      map[string]string   `json:"openai_mapping"`
	CustomMapping      map[string]string   `json:"custom_mapping"`

	// VendorBaseURL is the single upstream backend every pooled account
	// dials. Not named in spec.md's ProxyConfig field list (which assumes a
	// fixed, implicit backend); exposed here so the dispatcher has
	// somewhere to point without hardcoding a vendor hostname.
	VendorBaseURL string `json:"vendor_base_url"`
}

// RequestTimeout returns the configured per-request timeout as a Duration.
func (p ProxyConfig) RequestTimeout() time.Duration {
	if p.RequestTimeoutSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.RequestTimeoutSecs) * time.Second
}

// AppConfig is the full gui_config.json document. Only the `proxy` section
// is consumed by this repo; a GUI-facing fork of this config format would
// carry sibling top-level fields (window geometry, preferences) that are
// out of scope here.
type AppConfig struct {
	Proxy ProxyConfig `json:"proxy"`
}

// GetBindAddress resolves the address the HTTP server should bind to.
// LAN access binds to all interfaces; otherwise the server is loopback-only.
func (p ProxyConfig) GetBindAddress() string {
	if p.AllowLANAccess {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

// DefaultAppConfig returns the configuration written on first run: a fresh
// random API key, proxy enabled, sane defaults for everything else.
func DefaultAppConfig() (AppConfig, error) {
	key, err := generateAPIKey()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Proxy: ProxyConfig{
			Enabled:            true,
			Port:               8787,
			AllowLANAccess:     false,
			APIKey:             key,
			RequestTimeoutSecs: 300,
			UpstreamProxy:      UpstreamProxyConfig{Enabled: false},
			AnthropicMapping:   map[string]string{},
			OpenAIMapping:      map[string]string{},
			CustomMapping:      map[string]string{},
			VendorBaseURL:      "https://api.anthropic.com",
		},
	}, nil
}

func generateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "sk-acctgate-" + hex.EncodeToString(b), nil
}

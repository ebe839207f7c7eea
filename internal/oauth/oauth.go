// Package oauth is a thin stand-in for the out-of-scope OAuth login module
// (spec.md §1): it implements the two opaque external services the core
// consumes — oauth.refresh_access_token and project_resolver.fetch_project_id
// — as real HTTP calls to the vendor backend, just without any browser-based
// login flow or token-acquisition UI.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lowkeylabs/acctgate/internal/tokens"
)

const (
	defaultTokenURL   = "https://api.anthropic.com/oauth/token"
	defaultProjectURL = "https://api.anthropic.com/oauth/project"
)

// Refresher calls the vendor's OAuth token endpoint to mint a fresh access
// token from a refresh token.
type Refresher struct {
	tokenURL string
	client   *http.Client
}

// NewRefresher builds a Refresher against the default vendor token endpoint.
func NewRefresher() *Refresher {
	return &Refresher{tokenURL: defaultTokenURL, client: &http.Client{Timeout: 30 * time.Second}}
}

// RefreshAccessToken implements tokens.Refresher.
func (r *Refresher) RefreshAccessToken(ctx context.Context, refreshToken string) (tokens.TokenResponse, error) {
	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return tokens.TokenResponse{}, fmt.Errorf("marshal refresh payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(string(body)))
	if err != nil {
		return tokens.TokenResponse{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := r.client.Do(req)
	if err != nil {
		return tokens.TokenResponse{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokens.TokenResponse{}, fmt.Errorf("refresh endpoint returned %s", resp.Status)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tokens.TokenResponse{}, fmt.Errorf("decode refresh response: %w", err)
	}

	return tokens.TokenResponse{AccessToken: out.AccessToken, ExpiresIn: out.ExpiresIn}, nil
}

// ProjectResolver calls the vendor's project-lookup endpoint to resolve
// the project id bound to an access token.
type ProjectResolver struct {
	projectURL string
	client     *http.Client
}

// NewProjectResolver builds a ProjectResolver against the default vendor
// project endpoint.
func NewProjectResolver() *ProjectResolver {
	return &ProjectResolver{projectURL: defaultProjectURL, client: &http.Client{Timeout: 30 * time.Second}}
}

// FetchProjectID implements tokens.ProjectResolver.
func (p *ProjectResolver) FetchProjectID(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.projectURL, nil)
	if err != nil {
		return "", fmt.Errorf("build project request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("project request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("project endpoint returned %s", resp.Status)
	}

	var out struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode project response: %w", err)
	}
	if out.ProjectID == "" {
		return "", fmt.Errorf("project endpoint returned empty project_id")
	}
	return out.ProjectID, nil
}

// Package tokens implements spec.md §4.2 TokenManager: the selection
// policy (pinned / sticky-window / round-robin), preemptive OAuth refresh,
// and lazy project-id resolution layered on top of the account pool.
package tokens

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lowkeylabs/acctgate/internal/account"
	"github.com/lowkeylabs/acctgate/internal/apierr"
)

const (
	// stickyWindow is the 60-second interval spec.md §4.2 rule 2 describes.
	stickyWindow = 60 * time.Second
	// refreshSkew is the 5-minute lead time before expiry spec.md §4.2
	// refresh gating uses.
	refreshSkew = 5 * time.Minute
	// imageGenGroup is exempt from sticky reuse to maximise concurrency
	// for independent image jobs.
	imageGenGroup = "image_gen"
)

// TokenResponse is what the external OAuth refresher returns.
type TokenResponse struct {
	AccessToken string
	ExpiresIn   int64 // seconds
}

// Refresher is the opaque oauth.refresh_access_token(refresh_token)
// service spec.md §1 treats as an external collaborator.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (TokenResponse, error)
}

// ProjectResolver is the opaque project_resolver.fetch_project_id(access_token)
// service spec.md §1 treats as an external collaborator.
type ProjectResolver interface {
	FetchProjectID(ctx context.Context, accessToken string) (string, error)
}

// Result is what a successful GetToken call hands to the dispatcher.
type Result struct {
	AccountID   string
	AccessToken string
	ProjectID   string
	Email       string
}

type lastUsed struct {
	mu        sync.Mutex
	accountID string
	at        time.Time
	valid     bool
}

type pinned struct {
	mu        sync.RWMutex
	accountID string
	valid     bool
}

// Manager is spec.md §4.2's TokenManager.
type Manager struct {
	pool     *account.Pool
	store    *account.Store
	refresh  Refresher
	resolver ProjectResolver

	roundRobin atomic.Uint64
	last       lastUsed
	pin        pinned

	// now is overridable for deterministic tests; defaults to time.Now.
	now func() time.Time
}

// New builds a Manager over an already-populated pool.
func New(pool *account.Pool, store *account.Store, refresh Refresher, resolver ProjectResolver) *Manager {
	return &Manager{
		pool:     pool,
		store:    store,
		refresh:  refresh,
		resolver: resolver,
		now:      time.Now,
	}
}

// Load delegates to the account Store.
func (m *Manager) Load() (int, error) {
	return m.store.Load(m.pool)
}

// Reload delegates to the account Store and prunes dangling pin/last_used
// references, per spec.md §4.1 Reload and §3's invariant.
func (m *Manager) Reload() (int, error) {
	count, pruned, err := m.store.Reload(m.pool)
	if err != nil {
		return 0, err
	}
	m.prune(pruned)
	return count, nil
}

func (m *Manager) prune(prunedIDs []string) {
	if len(prunedIDs) == 0 {
		return
	}
	prunedSet := make(map[string]struct{}, len(prunedIDs))
	for _, id := range prunedIDs {
		prunedSet[id] = struct{}{}
	}

	m.last.mu.Lock()
	if m.last.valid {
		if _, ok := prunedSet[m.last.accountID]; ok {
			m.last.valid = false
			m.last.accountID = ""
		}
	}
	m.last.mu.Unlock()

	m.pin.mu.Lock()
	if m.pin.valid {
		if _, ok := prunedSet[m.pin.accountID]; ok {
			m.pin.valid = false
			m.pin.accountID = ""
		}
	}
	m.pin.mu.Unlock()
}

// Len returns the current pool size.
func (m *Manager) Len() int { return m.pool.Len() }

// Pin sets (or, with nil, clears) the pinned account. No validation
// against pool membership happens here — validity is re-checked at
// selection, per spec.md §4.2.
func (m *Manager) Pin(accountID *string) {
	m.pin.mu.Lock()
	defer m.pin.mu.Unlock()
	if accountID == nil {
		m.pin.valid = false
		m.pin.accountID = ""
		return
	}
	m.pin.valid = true
	m.pin.accountID = *accountID
}

// PinnedID returns the currently pinned account id, if any.
func (m *Manager) PinnedID() (string, bool) {
	m.pin.mu.RLock()
	defer m.pin.mu.RUnlock()
	return m.pin.accountID, m.pin.valid
}

// MarkCooldown marks an account as temporarily unavailable for unpinned
// round-robin selection (SPEC_FULL.md §4.2).
func (m *Manager) MarkCooldown(accountID string, until time.Time) {
	if tok := m.pool.Get(accountID); tok != nil {
		tok.MarkCooldown(until.Unix())
	}
}

// GetToken implements the three-rule selection policy, refresh gating and
// project-id resolution of spec.md §4.2.
func (m *Manager) GetToken(ctx context.Context, quotaGroup string, forceRotate bool) (Result, error) {
	tok, err := m.selectToken(quotaGroup, forceRotate)
	if err != nil {
		return Result{}, err
	}

	snap := tok.Snapshot()
	now := m.now()

	if now.Unix() >= snap.ExpiryTimestamp-int64(refreshSkew.Seconds()) {
		refreshed, err := m.doRefresh(ctx, tok, snap, now)
		if err != nil {
			return Result{}, err
		}
		snap = refreshed
	}

	projectID, err := m.ensureProjectID(ctx, tok, snap)
	if err != nil {
		return Result{}, err
	}

	return Result{
		AccountID:   snap.AccountID,
		AccessToken: snap.AccessToken,
		ProjectID:   projectID,
		Email:       snap.Email,
	}, nil
}

// selectToken runs rules 1-3 and updates last_used when rule 2 or 3 fires.
func (m *Manager) selectToken(quotaGroup string, forceRotate bool) (*account.Token, error) {
	// Rule 1: pinned.
	if !forceRotate {
		if id, ok := m.PinnedID(); ok {
			if tok := m.pool.Get(id); tok != nil {
				return tok, nil
			}
			slog.Warn("pinned account not in pool, falling through to rotation", "accountId", id)
		}
	}

	// Rule 2: sticky window.
	if !forceRotate && quotaGroup != imageGenGroup {
		m.last.mu.Lock()
		id, at, valid := m.last.accountID, m.last.at, m.last.valid
		m.last.mu.Unlock()

		if valid && m.now().Sub(at) < stickyWindow {
			if tok := m.pool.Get(id); tok != nil {
				m.touchLastUsed(tok.AccountID)
				return tok, nil
			}
		}
	}

	// Rule 3: round robin.
	tok, err := m.selectRoundRobin()
	if err != nil {
		return nil, err
	}
	if quotaGroup != imageGenGroup {
		m.touchLastUsed(tok.AccountID)
	}
	return tok, nil
}

func (m *Manager) touchLastUsed(accountID string) {
	m.last.mu.Lock()
	defer m.last.mu.Unlock()
	m.last.accountID = accountID
	m.last.at = m.now()
	m.last.valid = true
}

func (m *Manager) selectRoundRobin() (*account.Token, error) {
	ids := m.pool.Ids()
	if len(ids) == 0 {
		return nil, apierr.PoolEmpty()
	}
	sort.Strings(ids)

	nowUnix := m.now().Unix()
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		tok := m.pool.Get(id)
		if tok != nil && !tok.Cooling(nowUnix) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		// Every account is cooling down — fall back to the full set
		// rather than refusing the request outright.
		candidates = ids
	}

	idx := int(m.roundRobin.Add(1)-1) % len(candidates)
	tok := m.pool.Get(candidates[idx])
	if tok == nil {
		// Pool changed concurrently; recompute modulo the live length.
		ids = m.pool.Ids()
		if len(ids) == 0 {
			return nil, apierr.PoolEmpty()
		}
		sort.Strings(ids)
		tok = m.pool.Get(ids[idx%len(ids)])
		if tok == nil {
			return nil, apierr.PoolEmpty()
		}
	}
	return tok, nil
}

func (m *Manager) doRefresh(ctx context.Context, tok *account.Token, snap account.Snapshot, now time.Time) (account.Snapshot, error) {
	resp, err := m.refresh.RefreshAccessToken(ctx, snap.RefreshToken)
	if err != nil {
		slog.Error("token refresh failed", "accountId", snap.AccountID, "error", err)
		return account.Snapshot{}, apierr.RefreshFailed(err)
	}

	expiryTimestamp := now.Unix() + resp.ExpiresIn
	tok.ApplyRefresh(resp.AccessToken, resp.ExpiresIn, expiryTimestamp)

	if m.store != nil {
		if err := m.store.PersistTokenRefresh(snap.AccountPath, resp.AccessToken, resp.ExpiresIn, expiryTimestamp); err != nil {
			slog.Error("persist refreshed token failed", "accountId", snap.AccountID, "error", err)
		}
	}

	return tok.Snapshot(), nil
}

func (m *Manager) ensureProjectID(ctx context.Context, tok *account.Token, snap account.Snapshot) (string, error) {
	if snap.ProjectID != "" {
		return snap.ProjectID, nil
	}

	projectID, err := m.resolver.FetchProjectID(ctx, snap.AccessToken)
	if err != nil {
		slog.Error("project id resolution failed", "accountId", snap.AccountID, "error", err)
		return "", apierr.ProjectResolutionFailed(err)
	}

	tok.ApplyProjectID(projectID)
	if m.store != nil {
		if err := m.store.PersistProjectID(snap.AccountPath, projectID); err != nil {
			slog.Error("persist project id failed", "accountId", snap.AccountID, "error", err)
		}
	}
	return projectID, nil
}

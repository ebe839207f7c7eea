// Package account owns the in-memory upstream account pool: the on-disk
// JSON records under accounts/*.json and the concurrent map they're loaded
// into. The selection state (pin, sticky window, round-robin cursor) is
// layered on top by the tokens package.
package account

import "sync"

// Token is the in-memory record for one upstream identity — spec.md §3's
// Account/ProxyToken. Fields that the OAuth refresh and project-id
// resolution steps mutate live behind mu so a selection call can hand out
// a stable snapshot while another goroutine refreshes the same account.
type Token struct {
	AccountID   string
	Email       string
	AccountPath string

	mu              sync.Mutex
	accessToken     string
	refreshToken    string
	expiresIn       int64
	expiryTimestamp int64
	projectID       string

	// coolingUntil is a private, never-persisted addition (SPEC_FULL.md
	// §4.2 Cooldown hook) used only to narrow the round-robin candidate
	// set after a recoverable upstream failure. It has no on-disk
	// representation and is not part of spec.md's documented file format.
	coolingUntil int64
}

// Snapshot is an immutable copy of a Token's mutable fields, safe to read
// without holding any lock — the "value returned by a selection call is a
// snapshot" invariant from spec.md §3.
type Snapshot struct {
	AccountID       string
	Email           string
	AccessToken     string
	RefreshToken    string
	ExpiresIn       int64
	ExpiryTimestamp int64
	ProjectID       string
	AccountPath     string
}

// NewToken builds a Token from parsed account-file fields.
func NewToken(accountID, email, accessToken, refreshToken string, expiresIn, expiryTimestamp int64, projectID, accountPath string) *Token {
	return &Token{
		AccountID:       accountID,
		Email:           email,
		AccountPath:     accountPath,
		accessToken:     accessToken,
		refreshToken:    refreshToken,
		expiresIn:       expiresIn,
		expiryTimestamp: expiryTimestamp,
		projectID:       projectID,
	}
}

// Snapshot returns a point-in-time copy of the mutable fields.
func (t *Token) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		AccountID:       t.AccountID,
		Email:           t.Email,
		AccessToken:     t.accessToken,
		RefreshToken:    t.refreshToken,
		ExpiresIn:       t.expiresIn,
		ExpiryTimestamp: t.expiryTimestamp,
		ProjectID:       t.projectID,
		AccountPath:     t.AccountPath,
	}
}

// ExpiryTimestamp returns the current expiry without taking a full snapshot.
func (t *Token) ExpiryTimestamp() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiryTimestamp
}

// ApplyRefresh updates the access token and expiry in place after a
// successful OAuth refresh. Concurrent refreshers racing here is allowed
// per spec.md §4.2 — the last writer wins and both wrote a valid token.
func (t *Token) ApplyRefresh(accessToken string, expiresIn, expiryTimestamp int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accessToken = accessToken
	t.expiresIn = expiresIn
	t.expiryTimestamp = expiryTimestamp
}

// ApplyProjectID sets the resolved project id in place.
func (t *Token) ApplyProjectID(projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.projectID = projectID
}

// MarkCooldown excludes this account from unpinned round-robin selection
// until the given unix-seconds deadline (SPEC_FULL.md §4.2).
func (t *Token) MarkCooldown(untilUnix int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if untilUnix > t.coolingUntil {
		t.coolingUntil = untilUnix
	}
}

// Cooling reports whether the account is still within its cooldown window.
func (t *Token) Cooling(nowUnix int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return nowUnix < t.coolingUntil
}

package account

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Store translates the accounts/ directory (one JSON file per account,
// extension .json) into Pool contents and keeps the two in sync — spec.md
// §4.1 AccountStore.
type Store struct {
	dir string
}

// NewStore builds a Store rooted at accountsDir.
func NewStore(accountsDir string) *Store {
	return &Store{dir: accountsDir}
}

// Load reads every *.json file in the accounts directory into pool,
// skipping (with a warning) any file missing a required field. It returns
// the number of accounts loaded. A missing directory is a descriptive
// error, per spec.md §4.1.
func (s *Store) Load(pool *Pool) (int, error) {
	files, err := s.listAccountFiles()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, path := range files {
		tok, ok := s.loadOne(path)
		if !ok {
			continue
		}
		pool.Upsert(tok.AccountID, tok)
		count++
	}
	return count, nil
}

// Reload performs an incremental sync: it builds a candidate set from disk
// exactly as Load does, then prunes from pool any account id absent from
// the candidate set and upserts every candidate. It never produces a
// transient empty pool — removal only ever touches the dangling keys.
// Returns the resulting pool size and the ids that were pruned, so the
// TokenManager can clear any pin/last_used reference to them.
func (s *Store) Reload(pool *Pool) (count int, pruned []string, err error) {
	files, err := s.listAccountFiles()
	if err != nil {
		if os.IsNotExist(err) {
			pruned = pool.Clear()
			return 0, pruned, nil
		}
		return 0, nil, err
	}

	next := make(map[string]*Token, len(files))
	for _, path := range files {
		tok, ok := s.loadOne(path)
		if !ok {
			continue
		}
		next[tok.AccountID] = tok
	}

	pruned = pool.Sync(next)
	return pool.Len(), pruned, nil
}

func (s *Store) listAccountFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("read accounts dir %s: %w", s.dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	return files, nil
}

// loadOne parses a single account file. A parse error or a missing
// required field is logged and treated as "skip", never as a fatal error.
func (s *Store) loadOne(path string) (*Token, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("account file unreadable, skipping", "path", path, "error", err)
		return nil, false
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		slog.Warn("account file is not valid JSON, skipping", "path", path, "error", err)
		return nil, false
	}

	id, ok := doc["id"].(string)
	if !ok || id == "" {
		slog.Warn("account file missing id, skipping", "path", path)
		return nil, false
	}
	email, _ := doc["email"].(string)

	tokenDoc, ok := doc["token"].(map[string]any)
	if !ok {
		slog.Warn("account file missing token object, skipping", "path", path)
		return nil, false
	}

	accessToken, ok := tokenDoc["access_token"].(string)
	if !ok || accessToken == "" {
		slog.Warn("account file missing token.access_token, skipping", "path", path)
		return nil, false
	}
	refreshToken, ok := tokenDoc["refresh_token"].(string)
	if !ok || refreshToken == "" {
		slog.Warn("account file missing token.refresh_token, skipping", "path", path)
		return nil, false
	}
	expiresIn, ok := asInt64(tokenDoc["expires_in"])
	if !ok {
		slog.Warn("account file missing token.expires_in, skipping", "path", path)
		return nil, false
	}
	expiryTimestamp, ok := asInt64(tokenDoc["expiry_timestamp"])
	if !ok {
		slog.Warn("account file missing token.expiry_timestamp, skipping", "path", path)
		return nil, false
	}
	projectID, _ := tokenDoc["project_id"].(string)

	return NewToken(id, email, accessToken, refreshToken, expiresIn, expiryTimestamp, projectID, path), true
}

// PersistTokenRefresh overwrites token.access_token, token.expires_in and
// token.expiry_timestamp in the account file at path, preserving every
// other field verbatim, re-serialized with stable indentation.
func (s *Store) PersistTokenRefresh(path string, accessToken string, expiresIn, expiryTimestamp int64) error {
	return s.rewriteTokenFields(path, func(tokenDoc map[string]any) {
		tokenDoc["access_token"] = accessToken
		tokenDoc["expires_in"] = expiresIn
		tokenDoc["expiry_timestamp"] = expiryTimestamp
	})
}

// PersistProjectID overwrites token.project_id in the account file at path,
// preserving every other field verbatim.
func (s *Store) PersistProjectID(path string, projectID string) error {
	return s.rewriteTokenFields(path, func(tokenDoc map[string]any) {
		tokenDoc["project_id"] = projectID
	})
}

func (s *Store) rewriteTokenFields(path string, mutate func(tokenDoc map[string]any)) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read account file: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse account file: %w", err)
	}

	tokenDoc, ok := doc["token"].(map[string]any)
	if !ok {
		tokenDoc = make(map[string]any)
	}
	mutate(tokenDoc)
	doc["token"] = tokenDoc

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal account file: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}

// asInt64 accepts both JSON numbers (float64 after unmarshal) and strings,
// since hand-edited account files sometimes quote numeric fields.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		var i int64
		_, err := fmt.Sscanf(n, "%d", &i)
		return i, err == nil
	default:
		return 0, false
	}
}

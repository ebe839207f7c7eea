package account

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeAccountFile(t *testing.T, dir, id string, extra map[string]any) string {
	t.Helper()
	doc := map[string]any{
		"id":    id,
		"email": id + "@example.com",
		"token": map[string]any{
			"access_token":     "access-" + id,
			"refresh_token":    "refresh-" + id,
			"expires_in":       3600,
			"expiry_timestamp": 4102444800,
		},
	}
	for k, v := range extra {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestStoreLoadSkipsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "a", nil)

	bad := map[string]any{"id": "b", "token": map[string]any{"access_token": "only-this"}}
	data, _ := json.Marshal(bad)
	if err := os.WriteFile(filepath.Join(dir, "b.json"), data, 0o600); err != nil {
		t.Fatalf("write bad fixture: %v", err)
	}

	s := NewStore(dir)
	pool := NewPool()
	count, err := s.Load(pool)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 loaded account, got %d", count)
	}
	if !pool.Has("a") {
		t.Fatalf("expected account a in pool")
	}
	if pool.Has("b") {
		t.Fatalf("account b should have been skipped")
	}
}

func TestStoreLoadMissingDirErrors(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	_, err := s.Load(NewPool())
	if err == nil {
		t.Fatalf("expected error for missing accounts dir")
	}
}

func TestStoreReloadPrunesDangling(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "a", nil)
	writeAccountFile(t, dir, "b", nil)

	s := NewStore(dir)
	pool := NewPool()
	if _, err := s.Load(pool); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "a.json")); err != nil {
		t.Fatalf("remove fixture: %v", err)
	}

	count, pruned, err := s.Reload(pool)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected pool size 1 after reload, got %d", count)
	}
	if len(pruned) != 1 || pruned[0] != "a" {
		t.Fatalf("expected a to be pruned, got %v", pruned)
	}
	if pool.Has("a") {
		t.Fatalf("a should no longer be in the pool")
	}
	if !pool.Has("b") {
		t.Fatalf("b should remain in the pool")
	}
}

func TestPersistTokenRefreshPreservesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeAccountFile(t, dir, "a", map[string]any{"custom_field": "keep-me"})

	s := NewStore(dir)
	if err := s.PersistTokenRefresh(path, "new-access", 7200, 4200000000); err != nil {
		t.Fatalf("persist token refresh: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse written file: %v", err)
	}

	if doc["custom_field"] != "keep-me" {
		t.Fatalf("expected custom_field preserved, got %v", doc["custom_field"])
	}
	tokenDoc := doc["token"].(map[string]any)
	if tokenDoc["access_token"] != "new-access" {
		t.Fatalf("expected access_token updated, got %v", tokenDoc["access_token"])
	}
	if tokenDoc["refresh_token"] != "refresh-a" {
		t.Fatalf("expected refresh_token preserved, got %v", tokenDoc["refresh_token"])
	}
}

func TestPersistProjectIDPreservesOtherTokenFields(t *testing.T) {
	dir := t.TempDir()
	path := writeAccountFile(t, dir, "a", nil)

	s := NewStore(dir)
	if err := s.PersistProjectID(path, "proj-123"); err != nil {
		t.Fatalf("persist project id: %v", err)
	}

	raw, _ := os.ReadFile(path)
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse written file: %v", err)
	}
	tokenDoc := doc["token"].(map[string]any)
	if tokenDoc["project_id"] != "proj-123" {
		t.Fatalf("expected project_id set, got %v", tokenDoc["project_id"])
	}
	if tokenDoc["access_token"] != "access-a" {
		t.Fatalf("expected access_token untouched, got %v", tokenDoc["access_token"])
	}
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_FileNotExist(t *testing.T) {
	fb := NewFileBackend(filepath.Join(t.TempDir(), "general.json"))

	_, err := fb.Get(context.Background(), "user")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	keys, err := fb.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}

func TestFileBackend_FileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "general.json")
	buf, _ := json.Marshal(map[string]string{"tokenType": "Bearer"})
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatal(err)
	}

	fb := NewFileBackend(path)
	v, err := fb.Get(context.Background(), "tokenType")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "Bearer" {
		t.Errorf("expected Bearer, got %q", v)
	}
}

func TestFileBackend_SavePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "general.json")

	fb := NewFileBackend(path)
	if err := fb.Set(ctx, "cart_state", `{"items":[],"total":0}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := fb.Set(ctx, "authProvider", "password"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := fb.Remove(ctx, "authProvider"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}

	reopened := NewFileBackend(path)
	keys, err := reopened.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "cart_state" {
		t.Errorf("unexpected keys after reopen: %v", keys)
	}
}

func TestFileBackend_CorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "general.json")
	if err := os.WriteFile(path, []byte("not-json"), 0o600); err != nil {
		t.Fatal(err)
	}

	fb := NewFileBackend(path)
	if _, err := fb.Get(ctx, "user"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}

	// Clear recovers by rewriting the file.
	if err := fb.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := fb.Get(ctx, "user"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after Clear, got %v", err)
	}
}

package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadStaticRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.json")
	content := `[
  {"id": 1, "name": "alice", "enrolled_at": 1700000000},
  {"id": 2, "name": "bob", "enrolled_at": 1700000100}
]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write registry file: %v", err)
	}

	registry, err := LoadStaticRegistry(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	if registry.Size() != 2 {
		t.Fatalf("unexpected registry size: %d", registry.Size())
	}

	for _, agentID := range []uint64{1, 2} {
		exists, err := registry.Exists(context.Background(), agentID)
		if err != nil {
			t.Fatalf("exists lookup: %v", err)
		}
		if !exists {
			t.Fatalf("agent %d should be registered", agentID)
		}
	}

	exists, err := registry.Exists(context.Background(), 99)
	if err != nil {
		t.Fatalf("exists lookup: %v", err)
	}
	if exists {
		t.Fatal("agent 99 should not be registered")
	}
}

func TestLoadStaticRegistryErrors(t *testing.T) {
	if _, err := LoadStaticRegistry("   "); err == nil {
		t.Fatal("expected an error for an empty path")
	}
	if _, err := LoadStaticRegistry(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write broken file: %v", err)
	}
	if _, err := LoadStaticRegistry(path); err == nil {
		t.Fatal("expected an error for malformed json")
	}
}

func TestMemoryRegistryRegister(t *testing.T) {
	registry := NewMemoryRegistry()

	exists, err := registry.Exists(context.Background(), 1)
	if err != nil {
		t.Fatalf("exists lookup: %v", err)
	}
	if exists {
		t.Fatal("empty registry should not contain agent 1")
	}

	registry.Register(AgentRecord{ID: 1, Name: "alice", EnrolledAt: 1_700_000_000})
	exists, err = registry.Exists(context.Background(), 1)
	if err != nil {
		t.Fatalf("exists lookup: %v", err)
	}
	if !exists {
		t.Fatal("agent 1 should be registered")
	}
}

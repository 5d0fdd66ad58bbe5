package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codedrill.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("listen %q", cfg.Listen)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("ttl %v", cfg.Cache.TTL)
	}
	if cfg.Retrieval.ChunkSize != 512 || cfg.Retrieval.ChunkOverlap != 128 {
		t.Errorf("chunking %d/%d", cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	}
	if cfg.Provider.DefaultModel != "gpt-4o-mini" {
		t.Errorf("model %q", cfg.Provider.DefaultModel)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
cache:
  ttl: 1h
retrieval:
  chunk_size: 256
  top_k: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("listen %q", cfg.Listen)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("ttl %v", cfg.Cache.TTL)
	}
	if cfg.Retrieval.ChunkSize != 256 || cfg.Retrieval.TopK != 5 {
		t.Errorf("retrieval %+v", cfg.Retrieval)
	}
	// Untouched fields keep their defaults.
	if cfg.Retrieval.ChunkOverlap != 128 {
		t.Errorf("overlap %d", cfg.Retrieval.ChunkOverlap)
	}
	if cfg.DBPath != "codedrill.db" {
		t.Errorf("db path %q", cfg.DBPath)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CODEDRILL_TEST_KEY", "sk-from-env")
	path := writeConfig(t, `
provider:
  api_key: ${CODEDRILL_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("api key %q", cfg.Provider.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for invalid YAML")
	}
}

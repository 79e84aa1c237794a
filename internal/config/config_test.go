package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.URL != "http://127.0.0.1:8000" {
		t.Fatalf("Default().URL = %q", cfg.URL)
	}
	if cfg.Conversation != "default.jsonl" || cfg.FloorCount != 10 {
		t.Fatalf("Default() = %+v", cfg)
	}
}

func TestLoad_MissingFile_UsesDefaults(t *testing.T) {
	t.Setenv("TAVERN_URL", "")
	t.Setenv("TAVERN_TOKEN", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != path {
		t.Fatalf("cfg.Source = %q, want %q", cfg.Source, path)
	}
	if cfg.URL != "http://127.0.0.1:8000" {
		t.Fatalf("cfg.URL = %q", cfg.URL)
	}
}

func TestLoad_FromTOML(t *testing.T) {
	t.Setenv("TAVERN_URL", "")
	t.Setenv("TAVERN_TOKEN", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`
url = "https://example.test"
token = "test-token"
conversation_file = "emma.jsonl"
floor_count = 25
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.URL != "https://example.test" || cfg.Token != "test-token" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Conversation != "emma.jsonl" || cfg.FloorCount != 25 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	t.Setenv("TAVERN_URL", "https://env.test")
	t.Setenv("TAVERN_TOKEN", "env-token")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`
url = "https://file.test"
token = "file-token"
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.URL != "https://env.test" || cfg.Token != "env-token" {
		t.Fatalf("env override lost: %+v", cfg)
	}
}

func TestApplyKVOverrides(t *testing.T) {
	cfg := Default()
	got := ApplyKVOverrides(cfg, []string{
		"url=https://kv.test",
		"conversation=side.jsonl",
		"floors=30",
		"floors=not-a-number",
		"garbage",
	})
	if got.URL != "https://kv.test" {
		t.Fatalf("URL = %q", got.URL)
	}
	if got.Conversation != "side.jsonl" {
		t.Fatalf("Conversation = %q", got.Conversation)
	}
	if got.FloorCount != 30 {
		t.Fatalf("FloorCount = %d", got.FloorCount)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("TAVERN_URL", "")
	t.Setenv("TAVERN_TOKEN", "")

	path := filepath.Join(t.TempDir(), "config.toml")
	in := Config{URL: "https://saved.test", Token: "tk", Conversation: "emma.jsonl", FloorCount: 12}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.URL != in.URL || out.Token != in.Token || out.Conversation != in.Conversation || out.FloorCount != in.FloorCount {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunPing(t *testing.T) {
	t.Setenv("TAVERN_URL", "")
	t.Setenv("TAVERN_TOKEN", "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ping" {
			http.NotFound(w, r)
			return
		}
		if got := strings.TrimSpace(r.Header.Get("Authorization")); got != "Bearer test-key" {
			http.Error(w, "missing auth", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgPath, []byte(`
url = "`+srv.URL+`"
token = "test-key"
`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	if err := runPing(rootArgs{}, []string{"-config", cfgPath}, &out); err != nil {
		t.Fatalf("runPing: %v", err)
	}
	if !strings.Contains(out.String(), "ok: "+srv.URL) {
		t.Fatalf("ping output = %q, want it to include %q", out.String(), "ok: "+srv.URL)
	}
}

func TestRunPing_BadStatus(t *testing.T) {
	t.Setenv("TAVERN_URL", "")
	t.Setenv("TAVERN_TOKEN", "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	err := runPing(rootArgs{}, []string{
		"-config", filepath.Join(t.TempDir(), "config.toml"),
		"-url", srv.URL,
	}, &out)
	if err == nil {
		t.Fatal("runPing should fail on 503")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseYAMLWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
server:
  listen: ":4000"
logging:
  level: DEBUG
  console: true
relay:
  focus_subjects: 6
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":4000" {
		t.Errorf("listen = %q, want :4000", cfg.Server.Listen)
	}
	if cfg.Relay.FocusSubjects != 6 {
		t.Errorf("focus_subjects = %d, want 6", cfg.Relay.FocusSubjects)
	}
	if cfg.Media.UploadDir != "./uploads" {
		t.Errorf("upload_dir default = %q", cfg.Media.UploadDir)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
server:
  listen: ":4000"
  bogus_knob: true
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseJSONTrailingData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"server":{"listen":":4000"}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestDefaultsWhenEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Listen != ":3000" {
		t.Errorf("listen default = %q", cfg.Server.Listen)
	}
	if cfg.Relay.FocusSubjects != 4 {
		t.Errorf("focus_subjects default = %d", cfg.Relay.FocusSubjects)
	}
}

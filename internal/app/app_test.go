package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"studiorelay/internal/config"
	"studiorelay/internal/fiche"
	"studiorelay/internal/state"
)

func writeConfig(t *testing.T, storageDir string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`server:
  listen: "127.0.0.1:0"
logging:
  level: INFO
  console: false
relay:
  focus_subjects: 4
storage:
  driver: file
  path: %q
media:
  upload_dir: %q
`, storageDir, filepath.Join(dir, "uploads"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFlushAndHydrateRoundTrip(t *testing.T) {
	storageDir := t.TempDir()
	cfgPath := writeConfig(t, storageDir)
	ctx := context.Background()

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.state.Set(state.SlotStudio2027, []byte(`{"phase":"gros oeuvre"}`)); err != nil {
		t.Fatalf("set slot: %v", err)
	}
	saved, _ := a.fiches.Upsert(fiche.Fiche{Titre: "Invité"})
	a.flushAll(ctx)
	_ = a.store.Close()

	b, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	defer b.store.Close()
	if err := b.hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if got := string(b.state.Get(state.SlotStudio2027)); !strings.Contains(got, "gros oeuvre") {
		t.Errorf("studio2027 after hydrate = %s", got)
	}
	if _, ok := b.fiches.Get(saved.ID); !ok {
		t.Error("fiche not restored")
	}
	// Non-persistent slots keep their defaults.
	if got := string(b.state.Get(state.SlotContent)); !strings.Contains(got, "En attente...") {
		t.Errorf("content after hydrate = %s", got)
	}
}

func TestHydrateWithoutStorageIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("server:\n  listen: \"127.0.0.1:0\"\nmedia:\n  upload_dir: %q\n",
		filepath.Join(dir, "uploads"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.store != nil {
		t.Fatal("storage should be disabled by default")
	}
	if err := a.hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Relay.FocusSubjects = 4
	if err := validateConfig(context.Background(), cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Storage.SnapshotEvery = "soon"
	if err := validateConfig(context.Background(), cfg); err == nil {
		t.Fatal("bad duration accepted")
	}

	cfg.Storage.SnapshotEvery = "30s"
	cfg.Relay.FocusSubjects = 0
	if err := validateConfig(context.Background(), cfg); err == nil {
		t.Fatal("zero focus_subjects accepted")
	}

	cfg.Relay.FocusSubjects = 4
	cfg.Media.VideoUpstream = "https://example.org/video"
	if err := validateConfig(context.Background(), cfg); err == nil {
		t.Fatal("upstream template without placeholder accepted")
	}
	cfg.Media.VideoUpstream = "https://example.org/fetch/%s"
	if err := validateConfig(context.Background(), cfg); err != nil {
		t.Fatalf("valid upstream template rejected: %v", err)
	}
}

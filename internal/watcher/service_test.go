package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	upserted []string
	versions map[string]int
}

func (f *fakeStore) UpsertPlaybook(_ context.Context, name, _, _ string) (store.Playbook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.versions == nil {
		f.versions = make(map[string]int)
	}
	f.versions[name]++
	f.upserted = append(f.upserted, name)
	return store.Playbook{Name: name, Version: f.versions[name]}, nil
}

func (f *fakeStore) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.upserted...)
}

const validPlaybook = `name: restart-cache
description: Flush and restart the cache tier.
steps:
  - name: settle
    type: wait
    duration_seconds: 5
`

func TestStartLoadsExistingPlaybooks(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "restart-cache.yaml"), []byte(validPlaybook), 0o644); err != nil {
		t.Fatalf("write playbook: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("{{{"), 0o644); err != nil {
		t.Fatalf("write broken: %v", err)
	}

	fake := &fakeStore{}
	service, err := New(dir, fake, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Start(ctx) }()

	waitFor(t, func() bool { return len(fake.names()) == 1 })
	if got := fake.names(); got[0] != "restart-cache" {
		t.Fatalf("unexpected playbooks %v", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned error: %v", err)
	}
}

func TestWatcherPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeStore{}
	service, err := New(dir, fake, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = service.Start(ctx) }()

	// Give the watcher a moment to register the directory before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "drain-node.yml"), []byte("name: drain-node\nsteps:\n  - name: settle\n    type: wait\n    duration_seconds: 1\n"), 0o644); err != nil {
		t.Fatalf("write playbook: %v", err)
	}

	waitFor(t, func() bool {
		for _, name := range fake.names() {
			if name == "drain-node" {
				return true
			}
		}
		return false
	})
}

func TestStartFailsOnMissingDirectory(t *testing.T) {
	service, err := New(filepath.Join(t.TempDir(), "missing"), &fakeStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := service.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

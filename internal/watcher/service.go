// Package watcher hot-loads playbook definitions from a directory. Dropping
// or editing a YAML file registers it without an API call or restart.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/medic-ops/medic/internal/playbook"
	"github.com/medic-ops/medic/internal/store"
)

type playbookStore interface {
	UpsertPlaybook(ctx context.Context, name, description, yamlContent string) (store.Playbook, error)
}

type Service struct {
	root    string
	store   playbookStore
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

func New(root string, playbookStore playbookStore, logger *slog.Logger) (*Service, error) {
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Service{
		root:    root,
		store:   playbookStore,
		logger:  logger,
		watcher: fileWatcher,
	}, nil
}

// Start loads every playbook already present under the root, then blocks
// watching for changes until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	defer s.watcher.Close()

	if err := s.loadExisting(ctx); err != nil {
		return err
	}
	if err := s.watcher.Add(s.root); err != nil {
		return fmt.Errorf("watch path %s: %w", s.root, err)
	}
	s.logger.Info("playbook watcher started", "root", s.root)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("playbook watcher stopped")
			return nil
		case event := <-s.watcher.Events:
			s.handleEvent(ctx, event)
		case err := <-s.watcher.Errors:
			if err != nil {
				s.logger.Error("file watcher error", "error", err)
			}
		}
	}
}

func (s *Service) loadExisting(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read playbook dir %s: %w", s.root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isPlaybookFile(entry.Name()) {
			continue
		}
		s.loadFile(ctx, filepath.Join(s.root, entry.Name()))
	}
	return nil
}

func (s *Service) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !isPlaybookFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
		return
	}
	s.logger.Info("playbook file changed", "path", event.Name, "op", event.Op.String())
	s.loadFile(ctx, event.Name)
}

// loadFile parses and upserts one playbook file. An unparsable file is
// logged and skipped so one bad edit never takes the watcher down.
func (s *Service) loadFile(ctx context.Context, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error("read playbook file", "path", path, "error", err)
		return
	}
	parsed, err := playbook.Parse(string(raw))
	if err != nil {
		s.logger.Error("invalid playbook file", "path", path, "error", err)
		return
	}
	row, err := s.store.UpsertPlaybook(ctx, parsed.Name, parsed.Description, string(raw))
	if err != nil {
		s.logger.Error("store playbook", "path", path, "name", parsed.Name, "error", err)
		return
	}
	s.logger.Info("playbook loaded", "name", row.Name, "version", row.Version, "path", path)
}

func isPlaybookFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

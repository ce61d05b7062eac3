package definition

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch перезагружает определения при изменении файлов в каталоге.
// Блокируется до отмены ctx.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := s.addWatches(w, s.dir); err != nil {
		return err
	}
	s.logger.Info("watching flow definitions", "dir", s.dir, "debounce", s.debounce)

	ticker := time.NewTicker(s.debounce)
	defer ticker.Stop()

	var (
		dirty     bool
		lastEvent time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := s.addWatches(w, event.Name); err != nil {
						s.logger.Warn("watch new directory", "path", event.Name, "error", err)
					}
					dirty, lastEvent = true, time.Now()
					continue
				}
			}
			if isFlowFile(event.Name) {
				s.logger.Debug("flow file changed", "path", event.Name, "op", event.Op.String())
				dirty, lastEvent = true, time.Now()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("flow watcher error", "error", err)

		case <-ticker.C:
			if !dirty || time.Since(lastEvent) < s.debounce {
				continue
			}
			dirty = false
			if err := s.Load(); err != nil {
				s.logger.Error("reload flow definitions", "error", err)
			}
		}
	}
}

func (s *Store) addWatches(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if base := d.Name(); strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func isFlowFile(name string) bool {
	return strings.HasSuffix(name, ".flow.yaml") || strings.HasSuffix(name, ".flow.yml")
}

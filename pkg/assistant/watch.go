package assistant

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch observes the backend root for external writes to the collection
// file and invokes onChange after each one. It blocks until ctx is
// cancelled. Only meaningful with a FileBackend; other backends return nil
// immediately.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	fb, ok := s.backend.(*FileBackend)
	if !ok {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(fb.Root()); err != nil {
		return err
	}
	target := filepath.Join(fb.Root(), collectionFile)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic writes surface as Create (rename) events.
			if ev.Name == target && ev.Op.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil && !strings.Contains(err.Error(), "overflow") {
				s.log.Warn("store watcher", zap.Error(err))
			}
		}
	}
}

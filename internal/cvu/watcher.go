package cvu

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches directories of .cvu files and invokes a reload
// callback when any of them changes. Used in development so user view
// definitions apply without restarting.
type Watcher struct {
	fsw    *fsnotify.Watcher
	onSave func(path string)
	logger *zap.Logger
}

// NewWatcher creates a watcher over the given directories. onSave runs
// on the watcher goroutine for every changed .cvu file.
func NewWatcher(dirs []string, onSave func(path string), logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return &Watcher{fsw: fsw, onSave: onSave, logger: logger}, nil
}

// Run processes events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".cvu") {
				continue
			}
			w.logger.Info("cvu file changed", zap.String("path", ev.Name))
			w.onSave(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("cvu watcher error", zap.Error(err))
		}
	}
}

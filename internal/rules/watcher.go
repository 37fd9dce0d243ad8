package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps a Matcher in sync with a rules file. A reload that fails
// validation keeps the previous matcher.
type Watcher struct {
	path     string
	home     string
	current  atomic.Pointer[Matcher]
	logger   *slog.Logger
	debounce time.Duration
	reloads  atomic.Uint64
}

// NewWatcher loads the rules at path and returns a watcher serving them.
func NewWatcher(path, home string) (*Watcher, error) {
	r, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     path,
		home:     home,
		logger:   slog.Default().With("component", "rules"),
		debounce: 100 * time.Millisecond,
	}
	w.current.Store(Compile(r, home))
	return w, nil
}

// Matcher returns the active matcher.
func (w *Watcher) Matcher() *Matcher {
	return w.current.Load()
}

// Filter applies the active matcher.
func (w *Watcher) Filter(path string) string {
	return w.current.Load().Filter(path)
}

// Reloads returns how many times the rules were successfully reloaded.
func (w *Watcher) Reloads() uint64 {
	return w.reloads.Load()
}

// Reload re-reads the rules file now.
func (w *Watcher) Reload() error {
	r, err := Load(w.path)
	if err != nil {
		return err
	}
	w.current.Store(Compile(r, w.home))
	w.reloads.Add(1)
	w.logger.Info("rules reloaded",
		"path", w.path,
		"exclude", len(r.Exclude),
		"include", len(r.Include),
		"merge", len(r.Merge),
	)
	return nil
}

// Run watches the rules file until ctx is cancelled. The containing
// directory is watched so editors that replace the file are handled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if err := w.Reload(); err != nil {
					w.logger.Warn("rules reload failed; keeping previous rules", "path", w.path, "error", err)
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rules watcher error", "error", err)
		}
	}
}

// Package dropdir watches the folder an operator drops images into.
package dropdir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// Watch calls changed once the files of dir stopped changing for debounce.
// Hidden files and attribute only changes are ignored. Watch blocks until
// ctx is done and then returns nil.
func Watch(ctx context.Context, dir string, debounce time.Duration, changed func(context.Context)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			slog.WarnContext(ctx, "closing watcher failed", slog.String("err", err.Error()))
		}
	}()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	slog.DebugContext(ctx, "watching drop folder", slog.String("dir", dir), slog.Duration("debounce", debounce))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			slog.DebugContext(ctx, "drop folder changed", slog.String("op", ev.Op.String()), slog.String("name", ev.Name))
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				timer.Reset(debounce)
				continue
			}
			slog.WarnContext(ctx, "watcher error", slog.String("err", err.Error()))
		case <-timer.C:
			changed(ctx)
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

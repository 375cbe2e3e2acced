package botlist

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the list whenever path changes, until ctx is done. Editors
// that replace the file trigger Remove/Rename, so the watch is re-added.
func (l *List) Watch(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if _, err := l.LoadFile(path); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				debounce.Stop()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("botlist: watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(reloadDebounce)
				}
			case <-debounce.C:
				n, err := l.Reload()
				if err != nil {
					slog.Error("botlist: reload failed", "path", path, "err", err)
					continue
				}
				slog.Info("botlist: reloaded", "path", path, "entries", n)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("botlist: watch error", "err", err)
			}
		}
	}()
	return nil
}

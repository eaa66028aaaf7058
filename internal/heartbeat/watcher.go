package heartbeat

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DirectiveWatcher fires an event tick when a bot's directive file
// changes, so edits take effect before the next scheduled interval.
type DirectiveWatcher struct {
	hb       *BotHeartbeat
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	started  bool
	done     chan struct{}
}

// NewDirectiveWatcher watches the heartbeat's directive file. The
// parent directory is watched so editor rename-and-replace saves are
// seen too.
func NewDirectiveWatcher(hb *BotHeartbeat) (*DirectiveWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dw := &DirectiveWatcher{
		hb:       hb,
		path:     hb.cfg.DirectivePath,
		debounce: 500 * time.Millisecond,
		watcher:  w,
		done:     make(chan struct{}),
	}
	if err := w.Add(filepath.Dir(dw.path)); err != nil {
		w.Close()
		return nil, err
	}
	return dw, nil
}

// Start consumes filesystem events until the context ends.
func (dw *DirectiveWatcher) Start(ctx context.Context) {
	dw.started = true
	go func() {
		defer close(dw.done)
		var last time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-dw.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(dw.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if time.Since(last) < dw.debounce {
					continue
				}
				last = time.Now()
				slog.Info("directive file changed", "bot", dw.hb.cfg.BotName, "path", dw.path)
				dw.hb.TriggerEvent(ctx, "directive file changed")
			case err, ok := <-dw.watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("directive watcher error", "bot", dw.hb.cfg.BotName, "error", err)
			}
		}
	}()
}

// Close releases the underlying watcher.
func (dw *DirectiveWatcher) Close() error {
	err := dw.watcher.Close()
	if dw.started {
		<-dw.done
	}
	return err
}

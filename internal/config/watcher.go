package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// ApplyFunc receives a freshly loaded Bundle after the config directory
// changed on disk. Returning an error keeps the previous state; the watcher
// logs it and waits for the next change.
type ApplyFunc func(*Bundle) error

// Watcher reloads the library configuration when files under the config
// directory change. Bursts of filesystem events (editor save dances, bulk
// copies) are coalesced into a single reload per debounce window.
type Watcher struct {
	loader   *Loader
	apply    ApplyFunc
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu      sync.Mutex
	started bool
}

// NewWatcher creates a Watcher over the loader's directory. apply is called
// with the reloaded bundle after each settled change.
func NewWatcher(loader *Loader, apply ApplyFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if err := fsw.Add(loader.Dir()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", loader.Dir(), err)
	}
	// The workflows subdirectory may not exist yet; watch it when present.
	if err := fsw.Add(loader.WorkflowsDir()); err != nil {
		logger.Debug("workflows directory not watched", slog.Any("error", err))
	}

	return &Watcher{
		loader:   loader,
		apply:    apply,
		debounce: defaultDebounce,
		logger:   logger.With(slog.String("component", "config-watcher")),
		watcher:  fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The loop runs until Stop is called or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go w.eventLoop(ctx)
	w.logger.Info("config watcher started", slog.String("dir", w.loader.Dir()))
	return nil
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevantOp(event.Op) {
				continue
			}
			w.logger.Debug("config change detected",
				slog.String("path", event.Name), slog.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				pending = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-pending:
			timer = nil
			pending = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) reload() {
	bundle, err := w.loader.Load()
	if err != nil {
		w.logger.Error("config reload failed, keeping previous state", slog.Any("error", err))
		return
	}
	if err := w.apply(bundle); err != nil {
		w.logger.Error("config apply failed, keeping previous state", slog.Any("error", err))
		return
	}
	w.logger.Info("configuration reloaded",
		slog.Int("models", len(bundle.Models)),
		slog.Int("tools", len(bundle.Tools)),
		slog.Int("workflows", len(bundle.Workflows)))

	// A newly created workflows directory will not have been watched at
	// construction time. Re-add is idempotent.
	_ = w.watcher.Add(w.loader.WorkflowsDir())
}

func relevantOp(op fsnotify.Op) bool {
	return op.Has(fsnotify.Create) || op.Has(fsnotify.Write) ||
		op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)
}

package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher implements the Watcher interface using fsnotify. fsnotify
// watches are not recursive, so every directory in the subtree is added
// individually and newly created directories are picked up from the event
// stream.
type FSNotifyWatcher struct {
	watcher      *fsnotify.Watcher
	debouncer    Debouncer
	errorChan    chan error
	config       Config
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	mu           sync.RWMutex
	watchedPaths map[string]bool
	closeOnce    sync.Once
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher.
func NewFSNotifyWatcher(config Config) (*FSNotifyWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FSNotifyWatcher{
		watcher:      fsWatcher,
		debouncer:    NewDebouncer(config.DebounceDelay, config.MaxDebounceDelay, config.BatchSize, config.QueueCapacity),
		errorChan:    make(chan error, 10),
		config:       config,
		ctx:          ctx,
		cancel:       cancel,
		watchedPaths: make(map[string]bool),
	}, nil
}

// Start begins watching the root directory recursively.
func (w *FSNotifyWatcher) Start(ctx context.Context, root string) error {
	w.mu.Lock()
	if err := w.addPathRecursive(root); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to watch root %s: %w", root, err)
	}
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watchLoop(ctx)

	slog.Info("fsnotify watcher started", "root", root)
	return nil
}

// Batches returns the debounced batch channel.
func (w *FSNotifyWatcher) Batches() <-chan []PathEvent {
	return w.debouncer.Batches()
}

// Errors returns the error channel.
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errorChan
}

// Close stops watching and closes the batch channel.
func (w *FSNotifyWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		w.wg.Wait()
		w.debouncer.Close()
		close(w.errorChan)
	})
	return err
}

// watchLoop forwards raw fsnotify events into the debouncer.
func (w *FSNotifyWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errorChan <- err:
			default:
				slog.Warn("watcher error channel full, dropping error", "error", err)
			}
		}
	}
}

// handleEvent records the event and keeps the recursive watch set current.
func (w *FSNotifyWatcher) handleEvent(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			if err := w.addPathRecursive(event.Name); err != nil {
				slog.Warn("failed to watch created directory", "path", event.Name, "error", err)
			}
			w.mu.Unlock()
		}
	}
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.watchedPaths, event.Name)
		w.mu.Unlock()
	}

	w.debouncer.Add(PathEvent{
		Path:  event.Name,
		Flags: uint32(event.Op),
	})
}

// addPathRecursive adds path and every directory beneath it to the watch set
// (mutex held). Unreadable subdirectories are skipped, not fatal.
func (w *FSNotifyWatcher) addPathRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			slog.Warn("skipping unreadable path while watching", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.watchedPaths[p] {
			return nil
		}
		if err := w.watcher.Add(p); err != nil {
			slog.Warn("failed to add watch", "path", p, "error", err)
			return nil
		}
		w.watchedPaths[p] = true
		return nil
	})
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
)

// Operation classifies a filesystem change.
type Operation string

const (
	// OpPut is a created or modified file.
	OpPut Operation = "put"
	// OpDelete is a removed or renamed-away file.
	OpDelete Operation = "delete"
)

// FileSystemEvent represents a filesystem change event.
type FileSystemEvent struct {
	Path      string    `json:"path"`
	Operation Operation `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// FSNotifyWatcher watches a directory tree recursively, skipping hidden
// files, temp files and derived transform folders.
type FSNotifyWatcher struct {
	watcher       *fsnotify.Watcher
	events        chan FileSystemEvent
	logger        adapters.Logger
	debounceDelay time.Duration

	mu        sync.RWMutex
	watching  map[string]bool
	lastEvent map[string]time.Time
	stopChan  chan struct{}
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// FSNotifyWatcherConfig contains configuration options for FSNotifyWatcher.
type FSNotifyWatcherConfig struct {
	Logger        adapters.Logger
	DebounceDelay time.Duration // Default: 100ms
	EventBuffer   int           // Default: 100
}

// NewFSNotifyWatcher creates a new FSNotifyWatcher with the given configuration.
func NewFSNotifyWatcher(config FSNotifyWatcherConfig) (*FSNotifyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 100 * time.Millisecond
	}
	if config.EventBuffer == 0 {
		config.EventBuffer = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &FSNotifyWatcher{
		watcher:       watcher,
		events:        make(chan FileSystemEvent, config.EventBuffer),
		logger:        config.Logger,
		debounceDelay: config.DebounceDelay,
		watching:      make(map[string]bool),
		lastEvent:     make(map[string]time.Time),
		stopChan:      make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Watch starts watching a directory and every directory below it.
func (w *FSNotifyWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return &WatcherError{Op: "watch", Path: path, Err: ErrWatcherStopped}
	}

	path = filepath.Clean(path)
	if w.watching[path] {
		return nil
	}

	if err := w.watcher.Add(path); err != nil {
		return &WatcherError{Op: "watch", Path: path, Err: err}
	}
	w.watching[path] = true
	w.logger.Info(w.ctx, "Started watching path", adapters.Field{Key: "path", Value: path})

	err := filepath.WalkDir(path, func(sub string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn(w.ctx, "Error walking path",
				adapters.Field{Key: "path", Value: sub}, adapters.ErrField(err))
			return nil
		}
		if !d.IsDir() || sub == path {
			return nil
		}
		if ignored(sub) {
			return filepath.SkipDir
		}
		w.addLocked(sub)
		return nil
	})
	if err != nil {
		return &WatcherError{Op: "walk", Path: path, Err: err}
	}
	return nil
}

func (w *FSNotifyWatcher) addLocked(dir string) {
	if w.watching[dir] {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn(w.ctx, "Failed to watch subdirectory",
			adapters.Field{Key: "path", Value: dir}, adapters.ErrField(err))
		return
	}
	w.watching[dir] = true
	w.logger.Debug(w.ctx, "Started watching subdirectory", adapters.Field{Key: "path", Value: dir})
}

// Stop stops the watcher and releases resources. The events channel is
// closed once pending events are drained by processEvents.
func (w *FSNotifyWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopChan)
	w.cancel()

	if err := w.watcher.Close(); err != nil {
		w.logger.Error(w.ctx, "Error closing fsnotify watcher", adapters.ErrField(err))
	}

	w.wg.Wait()
	close(w.events)
	return nil
}

// Events returns the read-only channel of filesystem events.
func (w *FSNotifyWatcher) Events() <-chan FileSystemEvent {
	return w.events
}

func (w *FSNotifyWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(w.ctx, "Filesystem watcher error", adapters.ErrField(err))

		case <-w.stopChan:
			return

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *FSNotifyWatcher) handleEvent(event fsnotify.Event) {
	if ignored(event.Name) {
		return
	}

	op, ok := operation(event.Op)
	if !ok {
		return
	}

	if event.Op.Has(fsnotify.Create) && w.handleCreate(event.Name) {
		return
	}

	if !w.shouldProcess(event.Name, op) {
		return
	}

	select {
	case w.events <- FileSystemEvent{Path: event.Name, Operation: op, Timestamp: time.Now()}:
	default:
		w.logger.Warn(w.ctx, "Event channel full, dropping event",
			adapters.Field{Key: "path", Value: event.Name})
	}
}

func operation(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Create), op.Has(fsnotify.Write):
		return OpPut, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete, true
	}
	return "", false
}

// handleCreate adds watches for new directories and reports whether path
// was one.
func (w *FSNotifyWatcher) handleCreate(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_ = filepath.WalkDir(path, func(sub string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if ignored(sub) {
				return filepath.SkipDir
			}
			w.addLocked(sub)
		}
		return nil
	})
	return true
}

// ignored reports whether path is hidden, a temp file, or inside a derived
// transform folder.
func ignored(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	dir := filepath.Base(filepath.Dir(path))
	return strings.HasPrefix(dir, "_") || (strings.HasPrefix(base, "_") && !strings.Contains(base, "."))
}

// shouldProcess debounces repeated events of the same kind for a path.
func (w *FSNotifyWatcher) shouldProcess(path string, op Operation) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := string(op) + ":" + path
	now := time.Now()
	if last, ok := w.lastEvent[key]; ok && now.Sub(last) < w.debounceDelay {
		return false
	}
	w.lastEvent[key] = now
	return true
}

// WatcherError represents an error from the filesystem watcher.
type WatcherError struct {
	Op   string
	Path string
	Err  error
}

func (e *WatcherError) Error() string {
	return fmt.Sprintf("watcher %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WatcherError) Unwrap() error {
	return e.Err
}

// ErrWatcherStopped is returned when operations are attempted on a stopped watcher.
var ErrWatcherStopped = errors.New("watcher is stopped")

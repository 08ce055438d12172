package incremental

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ariadne/internal/logging"
)

// Watcher wraps a Coordinator in a continuous-watch mode: filesystem
// events on .class files are debounced and coalesced into batched calls to
// Coordinator.Run via an override ChangeDetector that reports exactly the
// settled paths, rather than invoking Run per individual event.
type Watcher struct {
	coordinator *Coordinator
	fsWatcher   *fsnotify.Watcher
	debounceDur time.Duration

	mu          sync.Mutex
	pending     map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	onResult    func(*Result)
}

// NewWatcher builds a Watcher for coordinator; directories to observe are
// added afterwards with Watch.
func NewWatcher(coordinator *Coordinator, debounce time.Duration, onResult func(*Result)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		coordinator: coordinator,
		fsWatcher:   fw,
		debounceDur: debounce,
		pending:     make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		onResult:    onResult,
	}, nil
}

// Watch adds dirs to the underlying fsnotify watch list.
func (w *Watcher) Watch(dirs ...string) error {
	for _, d := range dirs {
		if err := w.fsWatcher.Add(d); err != nil {
			return err
		}
	}
	return nil
}

// Start begins the non-blocking watch loop.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop halts the watch loop and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.fsWatcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warnf(logging.CategoryIncremental, "watch error: %v", err)
		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".class") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, t := range w.pending {
		if now.Sub(t) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}

	w.coordinator.detector = staticDetector(settled)
	result, err := w.coordinator.Run(ctx)
	if err != nil {
		logging.Warnf(logging.CategoryIncremental, "incremental run failed: %v", err)
		return
	}
	if w.onResult != nil {
		w.onResult(result)
	}
}

// staticDetector is a ChangeDetector that always reports a fixed set of
// paths, used to feed the watcher's debounced batch into Coordinator.Run
// without re-hashing files the watcher already knows changed.
type staticDetector []string

func (d staticDetector) Changed(ctx context.Context) ([]string, error) {
	return []string(d), nil
}

// ContentHashDetectorFromPaths wraps an already-known set of changed paths
// as a ChangeDetector, for callers (e.g. the facade's
// RebuildIncremental(changedFiles)) that already know which files changed
// and don't need content hashing to discover it.
func ContentHashDetectorFromPaths(paths []string) ChangeDetector {
	return staticDetector(paths)
}

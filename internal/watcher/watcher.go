// Package watcher notices new or growing transcripts under the projects
// root and triggers a best-effort catalog refresh per project. Staleness is
// still decided by mtime; the watcher only shortens the wait.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches a burst of writes to one project into one trigger.
const DefaultDebounce = 2 * time.Second

// Watcher monitors the transcript root. onProject receives the encoded
// project directory name after the debounce window closes.
type Watcher struct {
	root      string
	debounce  time.Duration
	onProject func(encodedProject string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher over root.
func New(root string, debounce time.Duration, onProject func(encodedProject string)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:      root,
		debounce:  debounce,
		onProject: onProject,
		timers:    make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. A missing root or watch failure is
// logged and tolerated; the daemon works without the watcher.
func (w *Watcher) Run(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[watcher] unavailable: %v", err)
		return
	}
	defer fsw.Close()

	if err := fsw.Add(w.root); err != nil {
		log.Printf("[watcher] cannot watch %s: %v", w.root, err)
		return
	}
	entries, err := os.ReadDir(w.root)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = fsw.Add(filepath.Join(w.root, e.Name()))
			}
		}
	}
	log.Printf("[watcher] watching %s", w.root)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	// New project directory: start watching it.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() &&
			filepath.Dir(ev.Name) == w.root {
			_ = fsw.Add(ev.Name)
			return
		}
	}

	if !strings.HasSuffix(ev.Name, ".jsonl") {
		return
	}
	encoded := filepath.Base(filepath.Dir(ev.Name))
	if encoded == filepath.Base(w.root) {
		return
	}
	w.trigger(encoded)
}

// trigger schedules the project callback after the debounce window; a new
// event inside the window resets the timer.
func (w *Watcher) trigger(encoded string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[encoded]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[encoded] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, encoded)
		w.mu.Unlock()
		if w.onProject != nil {
			w.onProject(encoded)
		}
	})
}

package store

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MTimeTracker implements the plain poll-based auto-reload strategy spec.md
// §9 calls out as "hacky in the source and is": a reader compares the
// file's current mtime against the last-seen value and reloads when it has
// advanced. It needs no background goroutine, which makes it the right
// choice for config.json/registry.json readers that are already polled once
// per orchestration tick.
type MTimeTracker struct {
	mu   sync.Mutex
	seen map[string]int64
}

// NewMTimeTracker returns an empty tracker.
func NewMTimeTracker() *MTimeTracker {
	return &MTimeTracker{seen: make(map[string]int64)}
}

// Changed reports whether path's mtime has advanced since the last call for
// that path (a first call always reports changed if the file exists).
func (t *MTimeTracker) Changed(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	mtime := fi.ModTime().UnixNano()

	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.seen[path]
	t.seen[path] = mtime
	return !ok || mtime != last
}

// Reloader layers an fsnotify watch with a debounce window over the plain
// mtime-poll strategy, for callers that want faster-than-next-tick reload
// notification (an external process editing config.json should not have to
// wait for the next 100ms tick to be noticed). It degrades silently: if the
// underlying fsnotify watch can't be established (e.g. the file doesn't
// exist yet), callers still get correctness from the orchestration loop's
// own MTimeTracker poll — this is a latency optimization, not the source of
// truth.
type Reloader struct {
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewReloader watches paths and calls onChange(path) (debounced per path)
// whenever one of them is written or created.
func NewReloader(paths []string, debounce time.Duration, onChange func(path string)) (*Reloader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		// Best effort: a path that doesn't exist yet simply isn't watched
		// until the next call to Watch.
		_ = w.Add(p)
	}

	r := &Reloader{
		watcher:   w,
		debouncer: newDebouncer(debounce),
		done:      make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop(onChange)
	return r, nil
}

// Watch adds an additional path to the watch set (e.g. once a file that
// didn't exist at construction time has been created).
func (r *Reloader) Watch(path string) error {
	return r.watcher.Add(path)
}

func (r *Reloader) loop(onChange func(path string)) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			path := ev.Name
			r.debouncer.trigger(path, func() { onChange(path) })
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watch loop and releases the fsnotify handle.
func (r *Reloader) Close() error {
	close(r.done)
	r.debouncer.stop()
	return r.watcher.Close()
}

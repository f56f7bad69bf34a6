package incremental

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval coalesces a burst of filesystem events (e.g. a
// writer truncating then rewriting both JSONL files) into one onChange
// call.
const debounceInterval = 500 * time.Millisecond

// Watch monitors dir for changes to elements.jsonl or dependencies.jsonl
// and calls onChange (debounced) whenever either is created, written, or
// renamed into place — e.g. by another process or a git checkout. It is
// a building block a host CLI/daemon wires into its own run loop; this
// package does not run one itself.
func Watch(ctx context.Context, dir string, onChange func()) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	trigger := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceInterval, onChange)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				base := filepath.Base(ev.Name)
				if base != elementsFile && base != dependenciesFile {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					trigger()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() error {
		cancel()
		return nil
	}
	return stop, nil
}

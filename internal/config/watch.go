package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RulesWatcher monitors the cache rules file and invokes the supplied
// callback whenever it changes. Stop must be called to release filesystem
// resources.
type RulesWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *RulesWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchCacheRules wires fsnotify around the cache rules file and reloads the
// rule list on any relevant change. Editors often replace files via rename,
// so the watch is placed on the parent directory and events are filtered to
// the target path.
func WatchCacheRules(ctx context.Context, path string, onChange func([]CacheRuleConfig), onError func(error)) (*RulesWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch cache rules requires a change callback")
	}
	if path == "" {
		return nil, fmt.Errorf("config: no cache rules file configured for watching")
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve cache rules file: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch cache rules: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(target), err)
	}

	done := make(chan struct{})
	w := &RulesWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch cache rules close: %w", err))
			}
		}()

		// Debounce bursts of write events caused by editors saving in chunks.
		var pending *time.Timer
		var pendingMu sync.Mutex
		reload := func() {
			rules, err := LoadCacheRules(target)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(rules)
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pendingMu.Lock()
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(100*time.Millisecond, reload)
				pendingMu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if err != nil && onError != nil {
					onError(fmt.Errorf("config: watch cache rules: %w", err))
				}
			}
		}
	}()

	return w, nil
}

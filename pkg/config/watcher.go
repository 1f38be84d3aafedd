package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 500 * time.Millisecond

// Provider hands out the current policy. The gateway snapshots it once per
// execution, so a mid-execution reload never changes limits under a running script.
type Provider struct {
	mu     sync.RWMutex
	policy Policy
}

// NewProvider creates a provider serving the given initial policy.
func NewProvider(initial Policy) *Provider {
	return &Provider{policy: initial}
}

// Snapshot returns the current policy by value.
func (p *Provider) Snapshot() Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy
}

func (p *Provider) set(policy Policy) {
	p.mu.Lock()
	p.policy = policy
	p.mu.Unlock()
}

// Watch reloads the policy file whenever it changes on disk, debounced so a
// burst of editor writes triggers one reload. It blocks until ctx is done.
func (p *Provider) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving policy path: %w", err)
	}

	// Watch the directory rather than the file: editors replace files on
	// save, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watching policy directory: %w", err)
	}

	var (
		debounceMu    sync.Mutex
		debounceTimer *time.Timer
	)
	reload := func() {
		policy, err := Load(absPath)
		if err != nil {
			slog.Warn("Policy reload failed, keeping previous policy", "path", absPath, "error", err)
			return
		}
		p.set(policy)
		slog.Info("Policy reloaded", "path", absPath)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			eventPath, err := filepath.Abs(event.Name)
			if err != nil || eventPath != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounceMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, reload)
			debounceMu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Policy watcher error", "error", err)
		}
	}
}

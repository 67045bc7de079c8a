package trust

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// PolicyHolder serves the current policy and swaps it atomically on reload.
type PolicyHolder struct {
	current atomic.Pointer[PolicyConfig]
	path    string
	logger  *zap.Logger
}

// NewPolicyHolder loads path, or holds the default policy when path is empty.
func NewPolicyHolder(path string, logger *zap.Logger) (*PolicyHolder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &PolicyHolder{path: path, logger: logger}
	if path == "" {
		h.current.Store(DefaultPolicy())
		return h, nil
	}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// StaticPolicy returns a holder that always serves p.
func StaticPolicy(p *PolicyConfig) *PolicyHolder {
	if p == nil {
		p = DefaultPolicy()
	}
	h := &PolicyHolder{logger: zap.NewNop()}
	h.current.Store(p)
	return h
}

// Current returns the active policy.
func (h *PolicyHolder) Current() *PolicyConfig {
	return h.current.Load()
}

// Reload re-reads the policy file. The previous policy stays active when
// the new file is invalid.
func (h *PolicyHolder) Reload() error {
	if h.path == "" {
		return nil
	}
	p, err := LoadPolicyFile(h.path)
	if err != nil {
		return err
	}
	h.current.Store(p)
	return nil
}

// Watch reloads the policy when its file changes. Blocks until ctx is
// cancelled.
func (h *PolicyHolder) Watch(ctx context.Context) error {
	if h.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", h.path, err)
	}
	target := filepath.Clean(h.path)

	// Debounce: wait 500ms after last write before reloading
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := h.Reload(); err != nil {
						h.logger.Warn("security policy reload failed, keeping previous policy",
							zap.String("path", h.path),
							zap.Error(err),
						)
						return
					}
					h.logger.Info("security policy reloaded", zap.String("path", h.path))
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}

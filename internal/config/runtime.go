package config

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Runtime holds the live view of runtime-resolvable settings.
//
// Most configuration is frozen at process start, but TXT chunking
// parameters are consulted on every ingest so operators can tune them
// without a restart. Watch keeps the live view in sync with the config
// file.
type Runtime struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewRuntime wraps an initial configuration.
func NewRuntime(cfg *Config) *Runtime {
	return &Runtime{cfg: cfg}
}

// Config returns the current configuration snapshot.
func (r *Runtime) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// TXTChunk returns the current TXT sliding-window parameters.
func (r *Runtime) TXTChunk() (size, overlap int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Chunk.TXT.Size, r.cfg.Chunk.TXT.Overlap
}

// SearchOverfetch returns the current overfetch factor.
func (r *Runtime) SearchOverfetch() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Limits.Search.Overfetch
}

// swap replaces the configuration snapshot.
func (r *Runtime) swap(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// Watch re-reads configPath whenever it changes and swaps the live view.
// Reload failures keep the previous snapshot. Watch blocks until ctx is
// cancelled; run it in its own goroutine.
func (r *Runtime) Watch(ctx context.Context, configPath string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(configPath); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadWithFile(configPath)
			if err != nil {
				logger.Warn("config reload failed, keeping previous",
					zap.String("path", configPath),
					zap.Error(err),
				)
				continue
			}
			r.swap(cfg)
			logger.Info("config reloaded",
				zap.String("path", configPath),
				zap.Int("chunk_txt_size", cfg.Chunk.TXT.Size),
				zap.Int("chunk_txt_overlap", cfg.Chunk.TXT.Overlap),
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

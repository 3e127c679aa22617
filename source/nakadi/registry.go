package nakadi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Factory builds a low-level CursorManager (memory, postgres, …).
type Factory func(ctx context.Context, cfg CursorStoreCfg, log *slog.Logger) (CursorManager, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register is called from each store's init().
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// NewCursorManager returns a store by driver name.
func NewCursorManager(ctx context.Context, cfg CursorStoreCfg, log *slog.Logger) (CursorManager, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Driver]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("nakadi: unsupported cursor store %q", cfg.Driver)
	}
	return f(ctx, cfg, log)
}

func init() {
	Register("memory", func(_ context.Context, _ CursorStoreCfg, log *slog.Logger) (CursorManager, error) {
		return NewInMemoryCursorManager(log), nil
	})
}

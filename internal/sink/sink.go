// Package sink contains the downstream consumers of captured oplog entries.
package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/SteelMorgan/oplog-tailer/internal/config"
	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
)

// Sink receives captured entries one at a time, in oplog order
type Sink interface {
	// Handle processes one entry. A returned error ends the tailing session.
	Handle(ctx context.Context, entry *oplog.Entry) error
	// Close releases any resources held by the sink
	Close() error
}

// Flusher is implemented by sinks that buffer entries
type Flusher interface {
	Flush(ctx context.Context) error
}

// Factory builds a sink from configuration
type Factory func(ctx context.Context, cfg *config.Config) (Sink, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register makes a sink factory available under name
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Names returns the registered sink names
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the sink selected by cfg.Sink
func New(ctx context.Context, cfg *config.Config) (Sink, error) {
	registryMu.RLock()
	factory, ok := factories[cfg.Sink]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}

	s, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s sink: %w", cfg.Sink, err)
	}
	return s, nil
}

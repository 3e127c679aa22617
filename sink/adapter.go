package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Record is one event handed to a sink.
type Record struct {
	EventType string
	// Value is the event's JSON, untouched.
	Value []byte
}

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	// Push returns once the record is durably handled; an error stops the
	// pipeline without committing the batch.
	Push(context.Context, *Record) error
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var (
	mu  sync.RWMutex
	reg = map[string]factory{}
)

func Register(name string, f factory) {
	mu.Lock()
	defer mu.Unlock()
	reg[name] = f
}

func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	f, ok := reg[name]
	mu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q (registered: %v)", name, Names())
}

// Names lists the registered sinks.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

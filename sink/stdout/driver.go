// Package stdout prints every record; meant for local debugging.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"tributary/sink"
)

/* ────────── public config ────────── */
type Config struct {
	DelayMS       int  `yaml:"delay_ms"`        // artificial per-record delay
	PrintCounter  bool `yaml:"print_counter"`   // prepend seq#
	PrintValue    bool `yaml:"print_value"`     // print the event JSON
	ValueMaxBytes int  `yaml:"value_max_bytes"` // 0 = no truncation

	// Output defaults to os.Stdout.
	Output io.Writer `yaml:"-"`
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
	seq atomic.Uint64

	mu sync.Mutex // serialises writes
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.DelayMS < 0 || c.ValueMaxBytes < 0 {
		return fmt.Errorf("stdout-sink: negative delay_ms or value_max_bytes")
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Push(ctx context.Context, r *sink.Record) error {
	if d.cfg.DelayMS > 0 {
		t := time.NewTimer(time.Duration(d.cfg.DelayMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	n := d.seq.Add(1)
	line := "[sink] " + r.EventType
	if d.cfg.PrintCounter {
		line = fmt.Sprintf("[sink %06d] %s", n, r.EventType)
	}
	if d.cfg.PrintValue {
		line += " " + truncate(r.Value, d.cfg.ValueMaxBytes)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := fmt.Fprintln(d.cfg.Output, line)
	return err
}

func (d *driver) Close() error { return nil }

func truncate(v []byte, max int) string {
	if max <= 0 || len(v) <= max {
		return string(v)
	}
	return fmt.Sprintf("%s... (%d bytes)", v[:max], len(v))
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}

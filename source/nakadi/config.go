package nakadi

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TRIBUTARY_NAKADI__"

type SubscriptionCfg struct {
	Enabled           bool   `koanf:"enabled"`
	ID                string `koanf:"id"` // skip creation when set
	OwningApplication string `koanf:"owning_application"`
	ConsumerGroup     string `koanf:"consumer_group"`
	ReadFrom          string `koanf:"read_from"` // begin|end
}

type StreamCfg struct {
	BatchLimit           int `koanf:"batch_limit"`
	StreamLimit          int `koanf:"stream_limit"`
	BatchFlushTimeout    int `koanf:"batch_flush_timeout"`
	StreamTimeout        int `koanf:"stream_timeout"`
	StreamKeepAliveLimit int `koanf:"stream_keep_alive_limit"`
	MaxUncommittedEvents int `koanf:"max_uncommitted_events"`
}

type BackoffCfg struct {
	InitialDelay time.Duration `koanf:"initial_delay"`
	Factor       float64       `koanf:"factor"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	MaxRetries   *int          `koanf:"max_retries"` // unset = unlimited
}

type LockCfg struct {
	Partitions         []string          `koanf:"partitions"`
	Offsets            map[string]string `koanf:"offsets"`
	ReapplyOnReconnect *bool             `koanf:"reapply_on_reconnect"`
}

type CursorStoreCfg struct {
	Driver string `koanf:"driver"` // memory|postgres
	DSN    string `koanf:"dsn"`
	Table  string `koanf:"table"`
}

type Config struct {
	BaseURL        string  `koanf:"base_url"`
	AccessToken    string  `koanf:"access_token"`
	EventType      string  `koanf:"event_type"`
	ManagementRate float64 `koanf:"management_rate"`

	Subscription  SubscriptionCfg `koanf:"subscription"`
	Stream        StreamCfg       `koanf:"stream"`
	Backoff       BackoffCfg      `koanf:"backoff"`
	Lock          LockCfg         `koanf:"lock"`
	Cursors       CursorStoreCfg  `koanf:"cursors"`
	PauseInterval time.Duration   `koanf:"pause_interval"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `TRIBUTARY_NAKADI__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("nakadi schema_version %q not supported (want v1)", sv)
	}

	// TRIBUTARY_NAKADI__STREAM__BATCH_LIMIT -> stream.batch_limit
	_ = k.Load(env.Provider(envPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.Backoff.InitialDelay == 0 {
		c.Backoff.InitialDelay = DefaultInitialDelay
	}
	if c.Backoff.Factor == 0 {
		c.Backoff.Factor = DefaultBackoffFactor
	}
	if c.Backoff.MaxDelay == 0 {
		c.Backoff.MaxDelay = DefaultMaxDelay
	}
	if c.Lock.ReapplyOnReconnect == nil {
		reapply := true
		c.Lock.ReapplyOnReconnect = &reapply
	}
	if c.Cursors.Driver == "" {
		c.Cursors.Driver = "memory"
	}
	if c.Subscription.ReadFrom == "" {
		c.Subscription.ReadFrom = "end"
	}
	if c.PauseInterval == 0 {
		c.PauseInterval = DefaultPauseInterval
	}
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("nakadi: base_url %q is not a valid url", c.BaseURL)
	}
	if c.EventType == "" {
		return errors.New("nakadi: event_type is required")
	}
	if err := c.StreamParameters().Validate(); err != nil {
		return fmt.Errorf("nakadi: %w", err)
	}
	if err := c.NewBackoff(nil).validate(); err != nil {
		return fmt.Errorf("nakadi: %w", err)
	}
	if c.Subscription.Enabled && c.Subscription.ID == "" && c.Subscription.OwningApplication == "" {
		return errors.New("nakadi: subscription needs an id or an owning_application")
	}
	if rf := c.Subscription.ReadFrom; rf != "begin" && rf != "end" {
		return fmt.Errorf("nakadi: subscription read_from %q must be begin or end", rf)
	}
	return nil
}

func (c Config) StreamParameters() StreamParameters {
	return StreamParameters{
		BatchLimit:           c.Stream.BatchLimit,
		StreamLimit:          c.Stream.StreamLimit,
		BatchFlushTimeout:    c.Stream.BatchFlushTimeout,
		StreamTimeout:        c.Stream.StreamTimeout,
		StreamKeepAliveLimit: c.Stream.StreamKeepAliveLimit,
		MaxUncommittedEvents: c.Stream.MaxUncommittedEvents,
	}
}

func (c Config) NewBackoff(log *slog.Logger) *ExponentialBackoff {
	b := &ExponentialBackoff{
		InitialDelay: c.Backoff.InitialDelay,
		Factor:       c.Backoff.Factor,
		MaxDelay:     c.Backoff.MaxDelay,
		MaxRetries:   UnlimitedRetries,
		Logger:       log,
	}
	if c.Backoff.MaxRetries != nil {
		b.MaxRetries = *c.Backoff.MaxRetries
	}
	return b
}

// Assignment is nil unless lock partitions are configured.
func (c Config) Assignment() *PartitionAssignment {
	if len(c.Lock.Partitions) == 0 {
		return nil
	}
	return &PartitionAssignment{Partitions: c.Lock.Partitions, Offsets: c.Lock.Offsets}
}

// Policy builds the resume policy. sub is ignored unless subscriptions are
// enabled.
func (c Config) Policy(sub *Subscription) ResumePolicy {
	p := LowLevel(c.EventType)
	if c.Subscription.Enabled && sub != nil {
		p = ForSubscription(*sub)
	}
	if lock := c.Assignment(); lock != nil {
		p = p.WithLock(*lock, c.Lock.ReapplyOnReconnect == nil || *c.Lock.ReapplyOnReconnect)
	}
	return p
}

func (c Config) ClientOptions(log *slog.Logger) ClientOptions {
	return ClientOptions{
		BaseURL:        c.BaseURL,
		AccessToken:    c.AccessToken,
		ManagementRate: c.ManagementRate,
		Logger:         log,
	}
}

package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/protobuf/types/known/structpb"

	"tributary/internal/config"
	"tributary/internal/spec"
	"tributary/internal/telemetry"
	"tributary/sink"
	"tributary/sink/kafka"
	"tributary/sink/stdout"
	"tributary/source/nakadi"
	_ "tributary/source/nakadi/postgres"
)

// Options are the process-level collaborators of a compiled pipeline.
type Options struct {
	Logger *slog.Logger
	// Metrics, when set, gets a collector labelled with the event type.
	Metrics *telemetry.Metrics
	// OnStateChange receives every reader state transition.
	OnStateChange func(nakadi.State)
}

// Compile loads a pipeline file and wires the reader, cursor store and sinks.
// In subscription mode without a configured id the subscription is created
// (or looked up) on the server here.
func Compile(ctx context.Context, path string, opts Options) (*Runner, error) {
	file, confPath, err := config.LoadPipelineSpec(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadSourceConfig(confPath)
	if err != nil {
		return nil, fmt.Errorf("source config %s: %w", confPath, err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("pipeline", path)

	r := NewRunner(cfg.EventType, log)
	if err := addSinks(r, file); err != nil {
		_ = r.Close()
		return nil, err
	}
	w, err := wire(ctx, cfg, r, opts, log)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	var src nakadi.Source
	switch file.Source.Codec {
	case "struct":
		src, err = newReader[*structpb.Struct](w, structListener{r}, nakadi.StructCodec{})
	default:
		src, err = newReader[nakadi.RawEvent](w, r, nakadi.RawCodec{})
	}
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.SetSource(src)
	return r, nil
}

// wiring holds everything a reader needs apart from its event type.
type wiring struct {
	cfg     nakadi.Config
	client  *nakadi.HTTPClient
	cursors nakadi.CursorManager
	sub     *nakadi.Subscription
	metrics nakadi.MetricsCollector
	onState func(nakadi.State)
	pause   func() bool
	log     *slog.Logger
}

func newReader[T any](w wiring, l nakadi.Listener[T], codec nakadi.Codec[T]) (*nakadi.Reader[T], error) {
	return nakadi.NewReader(nakadi.ReaderParams[T]{
		Client:        w.client,
		BaseURL:       w.cfg.BaseURL,
		Policy:        w.cfg.Policy(w.sub),
		Parameters:    w.cfg.StreamParameters(),
		Cursors:       w.cursors,
		Listener:      l,
		Codec:         codec,
		Backoff:       w.cfg.NewBackoff(w.log),
		Metrics:       w.metrics,
		Logger:        w.log,
		Pause:         w.pause,
		PauseInterval: w.cfg.PauseInterval,
		OnStateChange: w.onState,
	})
}

func wire(ctx context.Context, cfg nakadi.Config, r *Runner, opts Options, log *slog.Logger) (wiring, error) {
	w := wiring{cfg: cfg, pause: r.Paused, log: log}
	client, err := nakadi.NewHTTPClient(cfg.ClientOptions(log))
	if err != nil {
		return w, err
	}
	w.client = client

	var (
		cursors nakadi.CursorManager
		sub     *nakadi.Subscription
	)
	if cfg.Subscription.Enabled {
		s, err := subscription(ctx, client, cfg)
		if err != nil {
			return w, err
		}
		log.Info("using subscription", "subscription_id", s.ID)
		mgr := nakadi.NewManagedCursorManager(client, log)
		mgr.AddSubscription(s)
		cursors, sub = mgr, &s
	} else {
		cursors, err = nakadi.NewCursorManager(ctx, cfg.Cursors, log)
		if err != nil {
			return w, err
		}
		if c, ok := cursors.(io.Closer); ok {
			r.closers = append(r.closers, c)
		}
	}

	w.cursors, w.sub = cursors, sub

	w.metrics = nakadi.NoMetrics{}
	var rm *telemetry.ReaderMetrics
	if opts.Metrics != nil {
		rm = opts.Metrics.Reader(cfg.EventType)
		w.metrics = rm
	}
	w.onState = func(s nakadi.State) {
		r.ObserveState(s)
		if rm != nil {
			rm.ObserveState(s)
		}
		if opts.OnStateChange != nil {
			opts.OnStateChange(s)
		}
	}
	return w, nil
}

func subscription(ctx context.Context, client *nakadi.HTTPClient, cfg nakadi.Config) (nakadi.Subscription, error) {
	sc := cfg.Subscription
	if sc.ID != "" {
		return nakadi.Subscription{
			ID:                sc.ID,
			OwningApplication: sc.OwningApplication,
			EventTypes:        []string{cfg.EventType},
			ConsumerGroup:     sc.ConsumerGroup,
			ReadFrom:          sc.ReadFrom,
		}, nil
	}
	return client.Subscribe(ctx, nakadi.SubscriptionRequest{
		OwningApplication: sc.OwningApplication,
		EventTypes:        []string{cfg.EventType},
		ConsumerGroup:     sc.ConsumerGroup,
		ReadFrom:          sc.ReadFrom,
	})
}

func addSinks(r *Runner, file spec.File) error {
	for _, name := range file.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return err
		}

		switch name {
		case "stdout":
			c := stdout.Config{
				DelayMS:       file.Debug.PerFrameDelayMS,
				PrintCounter:  file.Debug.PrintCounter,
				PrintValue:    file.Debug.PrintValue,
				ValueMaxBytes: file.Debug.ValueMaxBytes,
			}
			if s := file.SinkConfigs.Stdout; s != nil {
				c.PrintValue, c.ValueMaxBytes = s.PrintValue, s.ValueMaxBytes
			}
			err = sDrv.Configure(c)
		case "kafka":
			k := file.SinkConfigs.Kafka
			if k == nil {
				err = fmt.Errorf("no config block for sink %q", name)
				break
			}
			err = sDrv.Configure(kafka.Config{
				Brokers:  k.Brokers,
				Topic:    k.Topic,
				Acks:     k.RequiredAcks,
				ClientID: k.ClientID,
			})
		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			return fmt.Errorf("sink %s: %w", name, err)
		}
		r.AddSink(name, sDrv)
	}
	return nil
}

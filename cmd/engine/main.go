package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"tributary/internal/config"
	"tributary/internal/engine"
	"tributary/internal/logging"
	"tributary/internal/transport"
	"tributary/source/nakadi"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:           "tributary",
		Short:         "Stream events from Nakadi into sinks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				_ = os.Setenv("TRIBUTARY_LOG_LEVEL", "debug")
			}
			logging.InitFromEnv()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		runCmd(),
		healthCmd(),
		controlCmd("pause", "Drop the stream of a running engine until resumed", transport.Pause),
		controlCmd("resume", "Resume a paused engine", transport.Resume),
		controlCmd("status", "Show the reader state of a running engine", transport.Status),
		partitionsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		logging.L().Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var cfg engine.Config
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := engine.Bootstrap(ctx, cfg, logging.L())
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			return e.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.PipelineYml, "pipeline", "pipeline.yml", "pipeline file")
	cmd.Flags().StringVar(&cfg.GRPCAddr, "grpc-addr", ":7070", "gRPC health and control listen address")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", ":9100", "prometheus listen address (empty disables)")
	return cmd
}

func healthCmd() *cobra.Command {
	var addr, service string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the health service of a running engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := transport.Check(ctx, addr, service)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			if st != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("reader is %s", st)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:7070", "engine health address")
	cmd.Flags().StringVar(&service, "service", transport.ReaderService, "health service name")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func controlCmd(use, short string, call func(context.Context, string) (*structpb.Struct, error)) *cobra.Command {
	var addr string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := call(ctx, addr)
			if err != nil {
				return err
			}
			out, err := protojson.MarshalOptions{Multiline: true}.Marshal(st)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:7070", "engine control address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func partitionsCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "List the partitions of the configured event type",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSourceConfig(path)
			if err != nil {
				return err
			}
			client, err := nakadi.NewHTTPClient(cfg.ClientOptions(logging.L()))
			if err != nil {
				return err
			}
			ps, err := client.Partitions(cmd.Context(), cfg.EventType)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PARTITION\tOLDEST\tNEWEST")
			for _, p := range ps {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Partition, p.OldestAvailableOffset, p.NewestAvailableOffset)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&path, "config", "nakadi.yml", "nakadi source config")
	return cmd
}

// Package main provides the wikigraph CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orneryd/wikigraph/pkg/config"
	"github.com/orneryd/wikigraph/pkg/event"
	"github.com/orneryd/wikigraph/pkg/logging"
	"github.com/orneryd/wikigraph/pkg/server"
	"github.com/orneryd/wikigraph/pkg/storage"
	"github.com/orneryd/wikigraph/pkg/wikigraph"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wikigraph",
		Short: "wikigraph - live co-editing graph of a wiki edit stream",
		Long: `wikigraph keeps a sliding-window graph of who edits what on a wiki,
derived from a stream of edit events.

Features:
  • Editor→article, article↔article and wiki↔wiki views of one event stream
  • Retention window with periodic eviction
  • Periodic communities, PageRank, hubs and anomaly detection
  • Prometheus metrics and a JSON read API`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file (env vars still override)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wikigraph v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest events and serve the HTTP API",
		Long:  "Read line-delimited JSON edit events and serve metrics and graph state over HTTP until interrupted",
		RunE:  runServe,
	}
	serveCmd.Flags().String("metrics-addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("input", "-", "Event file to ingest, '-' for stdin, '' for none")
	rootCmd.AddCommand(serveCmd)

	replayCmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Replay a recorded event file and print the resulting state",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	replayCmd.Flags().String("view", "", "Also print the snapshot of this view (bipartite, coedit, wiki-domain)")
	replayCmd.Flags().Int64("seed", 1, "Label propagation seed")
	rootCmd.AddCommand(replayCmd)

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)

	return rootCmd
}

// setup loads the config named by --config and builds the root logger.
func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}
	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Server.MetricsAddr = addr
	}
	input, _ := cmd.Flags().GetString("input")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, err := wikigraph.Open(wikigraph.Options{Config: cfg, Logger: logger, Registerer: reg})
	if err != nil {
		return fmt.Errorf("opening graph: %w", err)
	}
	defer db.Close()

	db.SubscribeEvictions(func(ev storage.Eviction) {
		logger.Info().
			Int("removed_nodes", len(ev.RemovedNodes)).
			Int("removed_edges", len(ev.RemovedEdges)).
			Msg("Evicted")
	})

	if err := db.Start(ctx); err != nil {
		return err
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Server.MetricsAddr
	httpServer, err := server.New(db, reg, srvCfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	logger.Info().
		Str("version", version).
		Str("addr", httpServer.Addr()).
		Str("config", cfg.String()).
		Msg("wikigraph is ready")

	if input != "" {
		go func() {
			n, err := ingest(ctx, db, input, logger)
			ev := logger.Info()
			if err != nil {
				ev = logger.Error().Err(err)
			}
			ev.Int("events", n).Msg("Input finished, still serving")
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	return db.Close()
}

// ingest feeds every record of path ("-" for stdin) into db until EOF or
// ctx is done. Bad records are logged and skipped.
func ingest(ctx context.Context, db *wikigraph.DB, path string, logger zerolog.Logger) (int, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := event.NewDecoder(r)
	processed := 0
	for ctx.Err() == nil {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return processed, nil
		}
		if errors.Is(err, event.ErrMalformed) || errors.Is(err, event.ErrMissingField) {
			logger.Warn().Err(err).Msg("Skipping record")
			continue
		}
		if err != nil {
			return processed, err
		}
		if _, err := db.ProcessEvent(ev); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, ctx.Err()
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	viewName, _ := cmd.Flags().GetString("view")
	seed, _ := cmd.Flags().GetInt64("seed")

	var view storage.View
	if viewName != "" {
		if view, err = storage.ParseView(viewName); err != nil {
			return err
		}
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer f.Close()

	report, err := replay(cmd.Context(), f, replayOptions{
		Config: cfg,
		Logger: logger,
		Seed:   seed,
		View:   view,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "wikigraph.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s\n", path)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  wikigraph serve --config %s < events.jsonl\n", path)
	fmt.Fprintf(out, "  wikigraph replay --config %s events.jsonl\n", path)
	return nil
}

const defaultConfigFile = `# wikigraph configuration
# Every key can be overridden with the matching WIKIGRAPH_* environment variable.

retention:
  window: 10m
  sweep_interval: 30s

analytics:
  interval: 15s
  min_nodes: 3
  max_nodes: 5000
  anomaly_window: 5m
  community_buckets: 6

store:
  event_buffer: 1000

logging:
  level: info
  format: console

server:
  metrics_addr: ":9108"
`

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/kvmigrate/pkg/config"
	"github.com/cuemby/kvmigrate/pkg/events"
	"github.com/cuemby/kvmigrate/pkg/log"
	"github.com/cuemby/kvmigrate/pkg/metrics"
	"github.com/cuemby/kvmigrate/pkg/migrate"
	"github.com/cuemby/kvmigrate/pkg/progress"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// errMigrationFailed makes the process exit 1 under --fail-on-error
var errMigrationFailed = errors.New("one or more databases did not migrate cleanly")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kvmigrate",
		Short: "kvmigrate - copy Redis keyspaces between servers",
		Long: `kvmigrate copies every key matching a pattern from one Redis compatible
server to another, using DUMP and RESTORE so values keep their type and TTL.

Each logical database listed with --db is migrated independently and
concurrently. A bolt:// endpoint reads or writes a local snapshot file
instead of a server.`,
		Example: `  kvmigrate --export-host redis-old --import-host redis-new:6380 --db 0,1
  kvmigrate --export-host redis-old --import-host bolt:///backups/redis.db --db 0
  kvmigrate --config kvmigrate.yaml --dry-run`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runMigrate,
	}

	cmd.SetVersionTemplate(versionString())

	f := cmd.Flags()
	f.String("export-host", "", "Source endpoint: host[:port], redis://[user:pass@]host[:port] or bolt:///path")
	f.String("import-host", "", "Target endpoint, same forms as --export-host")
	f.String("db", "", "Comma separated logical database indices, e.g. 0,1,4")
	f.Int64("scan-batch-size", migrate.DefaultScanBatchSize, "Keys requested per SCAN call")
	f.Int("chunk-size", migrate.DefaultChunkSize, "Keys per transfer chunk")
	f.String("key-pattern", migrate.DefaultKeyPattern, "Glob pattern of keys to migrate")
	f.Int("workers", migrate.DefaultWorkers(), "Chunk workers per database")
	f.Int("max-inflight", 0, "Chunks queued or executing per database before scanning pauses (default 4x workers)")
	f.Bool("dry-run", false, "Read and count keys without writing to the target")
	f.Bool("fail-on-error", false, "Exit 1 when any chunk or database fails")
	f.String("config", "", "YAML config file")
	f.String("env-file", ".env", "Env file loaded before reading KVMIGRATE_* variables")
	f.String("source-password", "", "Source password (or KVMIGRATE_SOURCE_PASSWORD)")
	f.String("target-password", "", "Target password (or KVMIGRATE_TARGET_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.Bool("log-json", false, "Output logs in JSON format")
	f.String("metrics-addr", "", "Serve /metrics and /health on this address, e.g. :9121")
	f.Bool("progress", false, "Show a progress spinner on stderr")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), versionString())
		},
	}
}

func versionString() string {
	return fmt.Sprintf("kvmigrate version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
}

// resolveConfig layers defaults, the YAML file, the environment and the
// flags that were set explicitly
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	envFile, _ := flags.GetString("env-file")
	if err := cfg.LoadEnv(envFile); err != nil {
		return nil, err
	}

	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	integer := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}

	str("export-host", &cfg.Source)
	str("import-host", &cfg.Target)
	str("db", &cfg.Databases)
	str("key-pattern", &cfg.KeyPattern)
	str("source-password", &cfg.SourcePassword)
	str("target-password", &cfg.TargetPassword)
	str("log-level", &cfg.Log.Level)
	str("metrics-addr", &cfg.MetricsAddr)
	integer("chunk-size", &cfg.ChunkSize)
	integer("workers", &cfg.Workers)
	integer("max-inflight", &cfg.MaxInFlight)
	boolean("dry-run", &cfg.DryRun)
	boolean("fail-on-error", &cfg.FailOnError)
	boolean("log-json", &cfg.Log.JSON)
	boolean("progress", &cfg.Progress)
	if flags.Changed("scan-batch-size") {
		cfg.ScanBatchSize, _ = flags.GetInt64("scan-batch-size")
	}

	return cfg, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("cli")

	plan, err := cfg.Validate()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.SetVersion(Version)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.NewServeMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server failed", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	if cfg.Progress {
		reporter := progress.NewReporter(broker, len(plan.Databases), cmd.ErrOrStderr())
		reporter.Start()
		defer reporter.Stop()
	}

	opts := plan.Options
	opts.Recorder = metrics.NewCollector()
	opts.Events = broker

	coordinator := migrate.NewCoordinator(plan.Source.Open, plan.Target.Open, opts)
	logger.Info().
		Str("run_id", coordinator.RunID()).
		Str("source", plan.Source.String()).
		Str("target", plan.Target.String()).
		Ints("databases", databaseInts(plan)).
		Bool("dry_run", opts.DryRun).
		Msg("starting migration")

	summary := coordinator.Run(ctx, plan.Databases)

	// the deferred reporter.Stop must see every event the run published
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := broker.Flush(flushCtx); err != nil {
		logger.Debug().Err(err).Msg("progress events not flushed")
	}
	cancel()
	if n := broker.Dropped(); n > 0 {
		logger.Debug().Uint64("events", n).Msg("progress events dropped")
	}

	if ctx.Err() != nil {
		log.Warn("interrupted, in-flight chunks were drained")
	}
	if summary.Failed() {
		logger.Warn().Int("migrated", summary.TotalMigrated()).Msg("migration finished with failures")
		if cfg.FailOnError {
			return errMigrationFailed
		}
		return nil
	}
	logger.Info().Int("migrated", summary.TotalMigrated()).Msg("migration finished")
	return nil
}

func databaseInts(plan *config.Plan) []int {
	out := make([]int, len(plan.Databases))
	for i, db := range plan.Databases {
		out[i] = int(db)
	}
	return out
}

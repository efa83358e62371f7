package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type serverOptions struct {
	Addr          string
	WorldID       string
	ConfigDir     string
	TuningPath    string
	DataDir       string
	Snapshot      string
	KeepSnapshots int
	LoadLatest    bool
	DisableDB     bool
	RedisAddr     string
	RedisDB       int
	Verbose       bool
}

func newRootCmd() *cobra.Command {
	opts := serverOptions{}
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the drone construction scheduler",
		Long: `Runs one world: declared intent is reconciled against the world each
tick and drones claim, fetch, build and clear until reality matches.

Commands arrive over the websocket at /v1/ws. The job table is served at
/v1/jobs and optionally mirrored to Redis.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if opts.Verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runServer(ctx, opts, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Addr, "addr", ":8080", "http listen address")
	f.StringVar(&opts.WorldID, "world", "world_1", "world id")
	f.StringVar(&opts.ConfigDir, "configs", "", "catalog directory with blocks.json, items.json and blueprints/ (default: built-in catalogs)")
	f.StringVar(&opts.TuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml; watched for changes)")
	f.StringVar(&opts.DataDir, "data", "./data", "runtime data directory")
	f.StringVar(&opts.Snapshot, "snapshot", "", "snapshot to resume from")
	f.IntVar(&opts.KeepSnapshots, "keep-snapshots", 8, "snapshots kept in snapshots/; older ones move to archives/ (0 keeps all)")
	f.BoolVar(&opts.LoadLatest, "load-latest-snapshot", true, "resume from the newest snapshot in the data dir when --snapshot is empty")
	f.BoolVar(&opts.DisableDB, "disable-db", false, "disable the SQLite index")
	f.StringVar(&opts.RedisAddr, "redis-addr", "", "mirror the job table to this Redis server (empty to disable)")
	f.IntVar(&opts.RedisDB, "redis-db", 0, "Redis database number")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

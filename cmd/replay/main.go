package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dronecraft.ai/internal/persistence/indexdb"
	persistlog "dronecraft.ai/internal/persistence/log"
	"dronecraft.ai/internal/persistence/snapshot"
	"dronecraft.ai/internal/sim/catalogs"
)

var (
	configDir string
	verbose   bool
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:          "replay",
	Short:        "Inspect and verify persisted scheduler state",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot>",
	Short: "Print a snapshot's header and section sizes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := snapshot.ReadSnapshot(args[0])
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), describeSnapshot(snap))
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <events-dir>",
	Short: "Summarize a tick log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := summarizeEvents(args[0])
		if err != nil {
			return err
		}
		sum.print(cmd.OutOrStdout())
		return nil
	},
}

var verifyEventsDir string

var verifyCmd = &cobra.Command{
	Use:   "verify <snapshot>",
	Short: "Resume a snapshot, check its digest against the tick log and that reconciliation is idempotent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cats, err := loadCatalogs()
		if err != nil {
			return err
		}
		snap, err := snapshot.ReadSnapshot(args[0])
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		dir := verifyEventsDir
		if dir == "" {
			dir = filepath.Join(filepath.Dir(filepath.Dir(args[0])), persistlog.EventsDir)
		}
		rep, err := verifySnapshot(snap, dir, cats, logger)
		if err != nil {
			return err
		}
		rep.print(cmd.OutOrStdout())
		return rep.err()
	},
}

var (
	auditsDB    string
	auditsLimit int
)

var auditsCmd = &cobra.Command{
	Use:   "audits <x> <y> <z>",
	Short: "List recorded edits of one cell from the SQLite index",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parsePos(args)
		if err != nil {
			return err
		}
		r, err := indexdb.OpenReader(auditsDB)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer r.Close()
		rows, err := r.AuditsAt(cmd.Context(), pos, auditsLimit)
		if err != nil {
			return err
		}
		for _, a := range rows {
			fmt.Fprintf(cmd.OutOrStdout(), "tick=%d actor=%s %s -> %s %s\n", a.Tick, a.Actor, a.From, a.To, a.Reason)
		}
		return nil
	},
}

func loadCatalogs() (*catalogs.Catalogs, error) {
	if configDir == "" {
		return catalogs.Default(), nil
	}
	cats, err := catalogs.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load catalogs: %w", err)
	}
	return cats, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "configs", "", "catalog directory (default: built-in catalogs)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	verifyCmd.Flags().StringVar(&verifyEventsDir, "events", "", "tick log directory (default: events/ next to the snapshots dir)")

	auditsCmd.Flags().StringVar(&auditsDB, "db", "", "path to world.sqlite")
	auditsCmd.Flags().IntVar(&auditsLimit, "limit", 50, "max rows")
	_ = auditsCmd.MarkFlagRequired("db")

	rootCmd.AddCommand(inspectCmd, eventsCmd, verifyCmd, auditsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

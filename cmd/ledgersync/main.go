package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "ledgersync",
		Short:        "Contract event synchronizer",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(
		newSyncCommand(),
		newFullSyncCommand(),
		newResetCommand(),
		newCursorCommand(),
		newEventsCommand(),
		newDecodeCommand(),
		newServeCommand(),
	)
	return root
}

// addStoreFlags registers the flags every command needs to reach the stores.
func addStoreFlags(flags *pflag.FlagSet) {
	flags.String("source-type", "data_registry", "source type (data_registry, erc20)")
	flags.String("source-address", "", "contract address of the source")
	flags.String("store", "file", "store backend (memory, file, sqlite, postgres)")
	flags.String("data-dir", "./data", "directory of the file store")
	flags.String("sqlite-path", "", "sqlite database path (default <data-dir>/ledgersync.db)")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

// addSyncFlags registers the flags of commands that talk to the chain.
func addSyncFlags(flags *pflag.FlagSet) {
	addStoreFlags(flags)
	flags.String("rpc", "", "RPC URL")
	flags.Uint64("max-blocks-per-sync", 100, "maximum blocks fetched per run")
	flags.Int("max-retry-attempts", 3, "total attempts per RPC call")
	flags.Int("retry-delay-ms", 2000, "delay between attempts in milliseconds")
	flags.String("retry-strategy", "fixed", "retry delay progression (fixed, exponential)")
	flags.Int("workers", 1, "concurrent decode/store workers per window")
	flags.Duration("full-sync-pause", time.Second, "pause between full sync iterations")
	flags.Float64("skip-warn-ratio", 0.5, "skipped/total ratio that flags a window (0 disables)")
	flags.Float64("rpc-rate-limit", 0, "RPC requests per second (0 disables)")
	flags.Int("rpc-rate-burst", 1, "RPC rate limiter burst")
	flags.String("skip-journal", "", "optional JSONL file receiving skipped entries")
	flags.String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func printJSON(w io.Writer, value interface{}) error {
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledgerSync/internal/config"
	"ledgerSync/internal/model"
	"ledgerSync/internal/syncer"
)

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one bounded sync pass and print the cursor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, true, func(ctx context.Context, engine *syncer.Engine) error {
				cursor, err := engine.RunSync(ctx)
				if printErr := printJSON(cmd.OutOrStdout(), cursor); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	addSyncFlags(cmd.Flags())
	return cmd
}

func newFullSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "full-sync",
		Short: "Re-sync from a block until the source reaches the chain head",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, _ := cmd.Flags().GetUint64("from")
			return withEngine(cmd, true, func(ctx context.Context, engine *syncer.Engine) error {
				cursor, err := engine.FullSync(ctx, from)
				if printErr := printJSON(cmd.OutOrStdout(), cursor); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	addSyncFlags(cmd.Flags())
	cmd.Flags().Uint64("from", 0, "first block to sync")
	return cmd
}

func newResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Move the cursor to a block and mark it synced",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, _ := cmd.Flags().GetString("block")
			block, ok := model.ParseBlockNumber(raw)
			if !ok {
				return configErrorf("--block must be a non-negative integer, got %q", raw)
			}
			return withEngine(cmd, false, func(ctx context.Context, engine *syncer.Engine) error {
				cursor, err := engine.ResetCursor(ctx, block)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cursor)
			})
		},
	}
	addStoreFlags(cmd.Flags())
	cmd.Flags().String("block", "", "block number the cursor moves to")
	return cmd
}

func newCursorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Print the stored cursor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, false, func(ctx context.Context, engine *syncer.Engine) error {
				cursor, err := engine.Cursor(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cursor)
			})
		},
	}
	addStoreFlags(cmd.Flags())
	return cmd
}

// withEngine loads config, builds the default engine and runs fn until SIGINT/SIGTERM.
func withEngine(cmd *cobra.Command, needChain bool, fn func(ctx context.Context, engine *syncer.Engine) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	if needChain {
		if err := a.requireChain(); err != nil {
			return err
		}
	}

	engine, err := a.manager.Default()
	if err != nil {
		return err
	}
	logger.Debug("engine ready",
		zap.String("source", engine.Source().String()),
		zap.String("store", cfg.Store),
	)
	return fn(ctx, engine)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ledgerSync/internal/config"
	"ledgerSync/internal/model"
	"ledgerSync/internal/syncer"
)

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query stored events",
		RunE:  runEvents,
	}
	addStoreFlags(cmd.Flags())
	cmd.Flags().Bool("latest", false, "most recent events (default when no other filter is set)")
	cmd.Flags().String("name", "", "events with this name")
	cmd.Flags().String("tx", "", "events of a transaction hash")
	cmd.Flags().String("from", "", "first block of a range query")
	cmd.Flags().String("to", "", "last block of a range query")
	cmd.Flags().Int("limit", 0, "maximum events returned (default 100, max 1000)")
	return cmd
}

func runEvents(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return configErrorf("%v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	latest, _ := cmd.Flags().GetBool("latest")
	name, _ := cmd.Flags().GetString("name")
	tx, _ := cmd.Flags().GetString("tx")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	limit, _ := cmd.Flags().GetInt("limit")

	var events []model.DecodedEvent
	switch {
	case latest:
		events, err = store.LatestEvents(ctx, limit)
	case tx != "":
		events, err = store.EventsByTxHash(ctx, tx)
	case name != "":
		events, err = store.EventsByName(ctx, name, limit)
	case from != "" || to != "":
		fromBlock, toBlock, rangeErr := syncer.ParseBlockRange(from, to)
		if rangeErr != nil {
			return rangeErr
		}
		events, err = store.EventsByBlockRange(ctx, fromBlock, toBlock, limit)
	default:
		events, err = store.LatestEvents(ctx, limit)
	}
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	if events == nil {
		events = []model.DecodedEvent{}
	}
	return printJSON(cmd.OutOrStdout(), events)
}

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", syncer.ErrConfig, fmt.Sprintf(format, args...))
}

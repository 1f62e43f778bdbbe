package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledgerSync/internal/chain"
	"ledgerSync/internal/config"
	"ledgerSync/internal/lock"
	"ledgerSync/internal/scheduler"
	"ledgerSync/internal/server"
	"ledgerSync/internal/syncer"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, the cron trigger and optional push listening",
		RunE:  runServe,
	}
	flags := cmd.Flags()
	addSyncFlags(flags)
	flags.String("ws-rpc", "", "websocket RPC URL for push listening")
	flags.String("listen", ":8080", "HTTP listen address")
	flags.Duration("stop-timeout", 10*time.Second, "graceful shutdown timeout")
	flags.String("schedule", "0 */5 * * * *", "cron expression with seconds, or a descriptor like @every 1m")
	flags.Bool("schedule-enabled", true, "run the default source on the schedule")
	flags.String("lock", "local", "run lock backend (local, redis)")
	flags.String("redis-addr", "", "Redis address for the redis lock")
	flags.Duration("lock-ttl", 5*time.Minute, "redis lock expiry, refreshed while held")
	flags.Bool("push", false, "store pushed logs of the default source from ws-rpc")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(ctx, cfg.Config, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireChain(); err != nil {
		return err
	}
	chainID, err := a.chain.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(server.Config{
		ListenAddress: cfg.Listen,
		StopTimeout:   cfg.StopTimeout,
	}, a.manager, a.store, locker, reg, logger)

	var sched *scheduler.Scheduler
	if cfg.ScheduleEnabled {
		sched, err = scheduler.New(cfg.Schedule, a.manager, locker, logger)
		if err != nil {
			return err
		}
	}

	var listener *syncer.Listener
	if cfg.Push {
		engine, err := a.manager.Default()
		if err != nil {
			return err
		}
		wsClient, err := chain.NewClient(ctx, cfg.WSRPCURL, chain.Options{RateLimit: cfg.RPCRateLimit, Burst: cfg.RPCRateBurst})
		if err != nil {
			return fmt.Errorf("connect ws rpc: %w", err)
		}
		defer wsClient.Close()
		listener = syncer.NewListener(engine, wsClient, logger)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Run(groupCtx) })
	if sched != nil {
		group.Go(func() error { return sched.Run(groupCtx) })
	}
	if listener != nil {
		group.Go(func() error { return listener.Run(groupCtx) })
	}

	logger.Info("ledgersync serving",
		zap.String("listen", cfg.Listen),
		zap.String("chain_id", chainID.String()),
		zap.String("source", a.manager.DefaultKey().String()),
		zap.String("store", cfg.Store),
		zap.String("lock", cfg.Lock),
		zap.Bool("schedule_enabled", cfg.ScheduleEnabled),
		zap.String("schedule", cfg.Schedule),
		zap.Bool("push", cfg.Push),
	)

	return group.Wait()
}

func newLocker(ctx context.Context, cfg config.ServeConfig, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.Lock != config.LockRedis {
		return lock.NewLocal(), func() {}, nil
	}
	redisLock, err := lock.NewRedis(ctx, cfg.RedisAddr, cfg.LockTTL, logger)
	if err != nil {
		return nil, nil, err
	}
	return redisLock, func() {
		if err := redisLock.Close(); err != nil {
			logger.Warn("close redis failed", zap.Error(err))
		}
	}, nil
}

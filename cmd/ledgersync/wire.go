package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ledgerSync/internal/chain"
	"ledgerSync/internal/config"
	"ledgerSync/internal/decoder"
	"ledgerSync/internal/model"
	"ledgerSync/internal/storage"
	"ledgerSync/internal/storage/postgres"
	"ledgerSync/internal/storage/sqlite"
	"ledgerSync/internal/syncer"
)

var errNoRPC = errors.New("rpc url is required")

// app holds the dependencies shared by commands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    storage.Store
	chain    *chain.Client
	registry *decoder.Registry
	metrics  *syncer.Metrics
	skips    syncer.SkipRecorder
	manager  *syncer.Manager
}

// newApp opens the store and, when an RPC URL is configured, the chain client.
// reg may be nil when metrics are not exported.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", syncer.ErrConfig, err)
	}
	defaultKey, err := sourceKey(cfg.SourceType, cfg.SourceAddress)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: decoder.NewRegistry(decoder.Config{Topic0Map: cfg.Topic0Map}),
	}
	if reg != nil {
		a.metrics = syncer.NewMetrics(reg)
	}
	if cfg.SkipJournal != "" {
		a.skips = storage.NewSkipJournal(cfg.SkipJournal)
	}
	if cfg.RPCURL != "" {
		a.chain, err = chain.NewClient(ctx, cfg.RPCURL, chain.Options{RateLimit: cfg.RPCRateLimit, Burst: cfg.RPCRateBurst})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect rpc: %w", err)
		}
	}
	a.manager = syncer.NewManager(defaultKey, a.buildEngine)
	return a, nil
}

func (a *app) buildEngine(key model.SourceKey) (*syncer.Engine, error) {
	dec, err := a.registry.Get(decoder.SourceType(key.Type))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncer.ErrConfig, err)
	}
	strategy, err := syncer.ParseRetryStrategy(a.cfg.RetryStrategy)
	if err != nil {
		return nil, err
	}

	var source syncer.LogSource = offlineSource{}
	if a.chain != nil {
		source = a.chain
	}

	opts := []syncer.Option{syncer.WithMetrics(a.metrics)}
	if a.skips != nil {
		opts = append(opts, syncer.WithSkipRecorder(a.skips))
	}
	return syncer.NewEngine(syncer.Config{
		Source:           key,
		MaxBlocksPerSync: a.cfg.MaxBlocksPerSync,
		Retry: syncer.RetryPolicy{
			Attempts: a.cfg.MaxRetryAttempts,
			Delay:    a.cfg.RetryDelay,
			Strategy: strategy,
		},
		Workers:       a.cfg.Workers,
		FullSyncPause: a.cfg.FullSyncPause,
		SkipWarnRatio: a.cfg.SkipWarnRatio,
	}, source, dec, a.store, a.store, a.logger, opts...)
}

// requireChain fails commands that must reach the chain when no RPC is configured.
func (a *app) requireChain() error {
	if a.chain == nil {
		return errNoRPC
	}
	return nil
}

func (a *app) Close() {
	if a.chain != nil {
		a.chain.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store failed", zap.Error(err))
	}
}

func sourceKey(sourceType, address string) (model.SourceKey, error) {
	parsed, err := decoder.ParseSourceType(sourceType)
	if err != nil {
		return model.SourceKey{}, fmt.Errorf("%w: %v", syncer.ErrConfig, err)
	}
	if address == "" {
		return model.SourceKey{}, fmt.Errorf("%w: source-address is required", syncer.ErrConfig)
	}
	normalized, err := chain.NormalizeAddress(address)
	if err != nil {
		return model.SourceKey{}, fmt.Errorf("%w: %v", syncer.ErrConfig, err)
	}
	return model.SourceKey{Type: string(parsed), Address: normalized}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return storage.NewMemory(), nil
	case config.StoreFile:
		store, err := storage.OpenFileStore(cfg.DataDir, storage.WithFileLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return store, nil
	case config.StoreSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "ledgersync.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.StorePostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// offlineSource backs engines of commands that never reach the chain, such as reset.
type offlineSource struct{}

func (offlineSource) LatestBlockNumber(context.Context) (uint64, error) {
	return 0, errNoRPC
}

func (offlineSource) FetchLogs(context.Context, string, uint64, uint64) ([]model.RawLog, error) {
	return nil, errNoRPC
}

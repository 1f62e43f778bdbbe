package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ledgerSync/internal/decoder"
	"ledgerSync/internal/model"
	"ledgerSync/internal/storage"
)

const (
	opLatestBlock = "latest block"
	opFetchLogs   = "fetch logs"
)

// LogSource is the external chain the engine reads from.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FetchLogs(ctx context.Context, address string, fromBlock, toBlock uint64) ([]model.RawLog, error)
}

// SkipRecorder receives every entry the engine skips.
type SkipRecorder interface {
	RecordSkip(ctx context.Context, record model.DecodeError) error
}

// Config holds runtime settings for one source.
type Config struct {
	Source           model.SourceKey
	MaxBlocksPerSync uint64
	Retry            RetryPolicy
	// Workers > 1 decodes and stores entries of a window concurrently.
	Workers       int
	FullSyncPause time.Duration
	// SkipWarnRatio is the skipped/total ratio at which a window is reported. Zero disables it.
	SkipWarnRatio float64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSkipRecorder forwards skipped entries to r.
func WithSkipRecorder(r SkipRecorder) Option {
	return func(e *Engine) { e.skips = r }
}

// WithMetrics records engine activity in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for decodedAt and cursor timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine advances the cursor of one source in bounded windows.
// It expects at most one active run per source; callers serialize runs.
type Engine struct {
	cfg     Config
	source  LogSource
	decoder decoder.Decoder
	events  storage.EventStore
	cursors storage.CursorStore
	skips   SkipRecorder
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine builds an Engine with its dependencies.
func NewEngine(
	cfg Config,
	source LogSource,
	dec decoder.Decoder,
	events storage.EventStore,
	cursors storage.CursorStore,
	logger *zap.Logger,
	opts ...Option,
) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if dec == nil {
		return nil, fmt.Errorf("decoder is nil")
	}
	if events == nil || cursors == nil {
		return nil, fmt.Errorf("event and cursor stores are required")
	}
	if cfg.Source.Address == "" {
		return nil, configError("source address is required")
	}
	if cfg.Source.Type != string(dec.SourceType()) {
		return nil, configError("decoder %s does not serve source type %q", dec.SourceType(), cfg.Source.Type)
	}
	if cfg.MaxBlocksPerSync == 0 {
		return nil, configError("max blocks per sync must be greater than zero")
	}
	if cfg.SkipWarnRatio < 0 || cfg.SkipWarnRatio > 1 {
		return nil, configError("skip warn ratio must be within [0, 1], got %v", cfg.SkipWarnRatio)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:     cfg,
		source:  source,
		decoder: dec,
		events:  events,
		cursors: cursors,
		logger: logger.With(
			zap.String("source_type", cfg.Source.Type),
			zap.String("source_address", cfg.Source.Address),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Source returns the source this engine syncs.
func (e *Engine) Source() model.SourceKey {
	return e.cfg.Source
}

// Cursor returns the persisted cursor without modifying it.
func (e *Engine) Cursor(ctx context.Context) (model.SyncCursor, error) {
	cursor, found, err := e.cursors.LoadCursor(ctx, e.cfg.Source)
	if err != nil {
		return model.SyncCursor{}, fmt.Errorf("load cursor: %w", err)
	}
	if !found {
		return model.NewCursor(e.cfg.Source), nil
	}
	return cursor, nil
}

// RunSync performs one catch-up pass and returns the updated cursor.
func (e *Engine) RunSync(ctx context.Context) (model.SyncCursor, error) {
	cursor, err := e.loadCursor(ctx)
	if err != nil {
		return cursor, err
	}

	cursor.Status = model.StatusSyncing
	cursor.ErrorMessage = ""
	if err := e.saveCursor(ctx, &cursor); err != nil {
		return cursor, err
	}

	head, err := e.LatestBlock(ctx)
	if err != nil {
		return e.fail(ctx, cursor, err)
	}
	e.metrics.headObserved(e.cfg.Source, head)

	window, ok := NextWindow(cursor.LastProcessedBlock, head, e.cfg.MaxBlocksPerSync)
	if !ok {
		if cursor.LastProcessedBlock > head {
			e.logger.Warn("cursor ahead of chain head",
				zap.Uint64("last_processed", cursor.LastProcessedBlock),
				zap.Uint64("head", head),
			)
		}
		cursor.LastProcessedBlock = head
		cursor.Status = model.StatusSynced
		if err := e.saveCursor(ctx, &cursor); err != nil {
			return cursor, err
		}
		e.finish(cursor)
		e.logger.Info("nothing to sync", zap.Uint64("head", head))
		return cursor, nil
	}

	e.logger.Info("fetch logs", zap.Uint64("from", window.From), zap.Uint64("to", window.To), zap.Uint64("head", head))
	logs, err := e.FetchLogs(ctx, window.From, window.To)
	if err != nil {
		return e.fail(ctx, cursor, err)
	}

	outcome := e.ProcessLogs(ctx, logs, &window)
	if err := ctx.Err(); err != nil {
		return e.fail(ctx, cursor, fmt.Errorf("window %s interrupted: %w", window, err))
	}

	next := window.To
	if highest, ok := outcome.HighestStoredBlock(); ok && highest > next {
		next = highest
	}
	cursor.LastProcessedBlock = next
	cursor.TotalEventsProcessed += uint64(outcome.Stored())
	if last, ok := outcome.LastStored(); ok {
		cursor.LastSyncedEventName = last.EventName
		cursor.LastSyncedTransactionHash = last.TransactionHash
		cursor.LastProcessedBlockHash = last.BlockHash
	}
	if next >= head {
		cursor.Status = model.StatusSynced
	} else {
		cursor.Status = model.StatusSyncing
	}
	e.checkSkipRatio(outcome, window)

	if err := e.saveCursor(ctx, &cursor); err != nil {
		return cursor, err
	}
	e.metrics.eventStored(e.cfg.Source, outcome.Stored())
	e.finish(cursor)

	e.logger.Info("window complete",
		zap.Uint64("from", window.From),
		zap.Uint64("to", window.To),
		zap.Int("logs", len(logs)),
		zap.Int("stored", outcome.Stored()),
		zap.Int("skipped", outcome.Skipped()),
		zap.String("status", string(cursor.Status)),
	)
	return cursor, nil
}

// FullSync resets the cursor to fromBlock-1 and runs until the source is synced.
func (e *Engine) FullSync(ctx context.Context, fromBlock uint64) (model.SyncCursor, error) {
	start := uint64(0)
	if fromBlock > 0 {
		start = fromBlock - 1
	}
	cursor, err := e.ResetCursor(ctx, start)
	if err != nil {
		return cursor, err
	}

	for iteration := 1; ; iteration++ {
		cursor, err = e.RunSync(ctx)
		if err != nil {
			return cursor, err
		}
		if cursor.Status == model.StatusSynced {
			e.logger.Info("full sync complete",
				zap.Int("iterations", iteration),
				zap.Uint64("last_processed", cursor.LastProcessedBlock),
			)
			return cursor, nil
		}
		if err := sleep(ctx, e.cfg.FullSyncPause); err != nil {
			return cursor, err
		}
	}
}

// ResetCursor moves the cursor to blockNumber, marks it SYNCED and clears the error.
// The block is not checked against the chain height.
func (e *Engine) ResetCursor(ctx context.Context, blockNumber uint64) (model.SyncCursor, error) {
	cursor, found, err := e.cursors.LoadCursor(ctx, e.cfg.Source)
	if err != nil {
		return model.SyncCursor{}, fmt.Errorf("load cursor: %w", err)
	}
	if !found {
		cursor = model.NewCursor(e.cfg.Source)
	}
	previous := cursor.LastProcessedBlock
	cursor.Corrupt = false
	cursor.LastProcessedBlock = blockNumber
	cursor.Status = model.StatusSynced
	cursor.ErrorMessage = ""
	if err := e.saveCursor(ctx, &cursor); err != nil {
		return cursor, err
	}
	e.metrics.cursorMoved(e.cfg.Source, blockNumber)
	e.logger.Info("cursor reset", zap.Uint64("previous", previous), zap.Uint64("block_number", blockNumber))
	return cursor, nil
}

// LatestBlock queries the chain height with the retry policy.
func (e *Engine) LatestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := e.retry(ctx, opLatestBlock, 0, 0, func(ctx context.Context) error {
		var err error
		head, err = e.source.LatestBlockNumber(ctx)
		return err
	})
	return head, err
}

// FetchLogs fetches the source's logs in [fromBlock, toBlock] with the retry policy.
// An inverted range fails immediately with ErrConfig.
func (e *Engine) FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]model.RawLog, error) {
	if toBlock < fromBlock {
		return nil, configError("to block %d must be >= from block %d", toBlock, fromBlock)
	}
	var logs []model.RawLog
	err := e.retry(ctx, opFetchLogs, fromBlock, toBlock, func(ctx context.Context) error {
		var err error
		logs, err = e.source.FetchLogs(ctx, e.cfg.Source.Address, fromBlock, toBlock)
		return err
	})
	return logs, err
}

func (e *Engine) retry(ctx context.Context, op string, from, to uint64, fn func(context.Context) error) error {
	attempts, err := withRetry(ctx, e.cfg.Retry, fn, func(err error, attempt int, wait time.Duration) {
		e.metrics.fetchRetried(e.cfg.Source, op)
		e.logger.Warn(op+" failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Uint64("from", from),
			zap.Uint64("to", to),
		)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConfig) {
		return err
	}
	e.metrics.fetchFailed(e.cfg.Source, op)
	return &FetchError{Op: op, From: from, To: to, Attempts: attempts, Err: err}
}

func (e *Engine) loadCursor(ctx context.Context) (model.SyncCursor, error) {
	cursor, found, err := e.cursors.LoadCursor(ctx, e.cfg.Source)
	if err != nil {
		return model.SyncCursor{}, fmt.Errorf("load cursor: %w", err)
	}
	if !found {
		e.logger.Info("create cursor")
		return model.NewCursor(e.cfg.Source), nil
	}
	if cursor.Corrupt {
		e.logger.Warn("cursor block unreadable, resetting to 0")
		cursor.Corrupt = false
		cursor.LastProcessedBlock = 0
		if err := e.saveCursor(ctx, &cursor); err != nil {
			return cursor, err
		}
	}
	return cursor, nil
}

func (e *Engine) saveCursor(ctx context.Context, cursor *model.SyncCursor) error {
	cursor.UpdatedAt = e.now().UTC()
	if err := e.cursors.SaveCursor(ctx, *cursor); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// fail marks the cursor ERROR with its block untouched and returns err.
func (e *Engine) fail(ctx context.Context, cursor model.SyncCursor, err error) (model.SyncCursor, error) {
	cursor.Status = model.StatusError
	cursor.ErrorMessage = err.Error()
	if saveErr := e.saveCursor(context.WithoutCancel(ctx), &cursor); saveErr != nil {
		e.logger.Error("save error state failed", zap.Error(saveErr))
	}
	e.finish(cursor)
	e.logger.Error("sync run failed", zap.Uint64("last_processed", cursor.LastProcessedBlock), zap.Error(err))
	return cursor, err
}

func (e *Engine) finish(cursor model.SyncCursor) {
	e.metrics.runFinished(e.cfg.Source, cursor.Status)
	e.metrics.cursorMoved(e.cfg.Source, cursor.LastProcessedBlock)
}

func (e *Engine) checkSkipRatio(outcome BatchOutcome, window Window) {
	if e.cfg.SkipWarnRatio <= 0 || len(outcome.Results) == 0 {
		return
	}
	ratio := outcome.SkipRatio()
	if ratio < e.cfg.SkipWarnRatio {
		return
	}
	e.metrics.highSkipWindow(e.cfg.Source)
	e.logger.Warn("high skip ratio",
		zap.Uint64("from", window.From),
		zap.Uint64("to", window.To),
		zap.Int("logs", len(outcome.Results)),
		zap.Int("skipped", outcome.Skipped()),
		zap.Float64("ratio", ratio),
	)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

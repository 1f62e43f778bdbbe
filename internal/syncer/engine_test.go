package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"ledgerSync/internal/model"
	"ledgerSync/internal/storage"
)

func TestRunSyncCatchesUpInBoundedWindows(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{head: 250}
	engine := newTestEngine(t, testConfig(), source, store, store)

	_, err := engine.ResetCursor(ctx, 100)
	require.NoError(t, err)

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(200), cursor.LastProcessedBlock)
	require.Equal(t, model.StatusSyncing, cursor.Status)

	cursor, err = engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(250), cursor.LastProcessedBlock)
	require.Equal(t, model.StatusSynced, cursor.Status)

	require.Equal(t, []Window{{From: 101, To: 200}, {From: 201, To: 250}}, source.windows)

	stored, err := engine.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, cursor.LastProcessedBlock, stored.LastProcessedBlock)
	require.Equal(t, model.StatusSynced, stored.Status)
}

func TestRunSyncBoundedWindow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{head: 10_000}
	cfg := testConfig()
	cfg.MaxBlocksPerSync = 25
	engine := newTestEngine(t, cfg, source, store, store)

	_, err := engine.ResetCursor(ctx, 1_000)
	require.NoError(t, err)

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1_025), cursor.LastProcessedBlock)
	require.Equal(t, model.StatusSyncing, cursor.Status)
}

func TestRunSyncFetchFailurePreservesCursor(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{
		head: 500,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			return nil, errors.New("rpc unavailable")
		},
	}
	engine := newTestEngine(t, testConfig(), source, store, store)

	_, err := engine.ResetCursor(ctx, 300)
	require.NoError(t, err)

	cursor, err := engine.RunSync(ctx)
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, 3, fetchErr.Attempts)
	require.Equal(t, uint64(301), fetchErr.From)
	require.Equal(t, uint64(400), fetchErr.To)
	require.Equal(t, 3, source.fetches)

	require.Equal(t, uint64(300), cursor.LastProcessedBlock)
	require.Equal(t, model.StatusError, cursor.Status)
	require.Contains(t, cursor.ErrorMessage, "rpc unavailable")

	stored, err := engine.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(300), stored.LastProcessedBlock)
	require.Equal(t, model.StatusError, stored.Status)
	require.Contains(t, stored.ErrorMessage, "rpc unavailable")
}

func TestRunSyncHeadFailurePreservesCursor(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{headErr: errors.New("timeout")}
	engine := newTestEngine(t, testConfig(), source, store, store)

	_, err := engine.ResetCursor(ctx, 42)
	require.NoError(t, err)

	cursor, err := engine.RunSync(ctx)
	require.Error(t, err)
	require.Equal(t, uint64(42), cursor.LastProcessedBlock)
	require.Equal(t, model.StatusError, cursor.Status)
	require.Zero(t, source.fetches)
}

func TestRunSyncErrorIsNotSticky(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	failing := true
	source := &fakeSource{
		head: 50,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			if failing {
				return nil, errors.New("flaky")
			}
			return nil, nil
		},
	}
	engine := newTestEngine(t, testConfig(), source, store, store)

	cursor, err := engine.RunSync(ctx)
	require.Error(t, err)
	require.Equal(t, model.StatusError, cursor.Status)

	failing = false
	cursor, err = engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, model.StatusSynced, cursor.Status)
	require.Equal(t, uint64(50), cursor.LastProcessedBlock)
	require.Empty(t, cursor.ErrorMessage)
}

func TestRunSyncRetryRecovers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	calls := 0
	source := &fakeSource{
		head: 20,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("rate limited")
			}
			return []model.RawLog{transferLog(t, 5, 0)}, nil
		},
	}
	engine := newTestEngine(t, testConfig(), source, store, store)

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, uint64(20), cursor.LastProcessedBlock)
	require.Equal(t, uint64(1), cursor.TotalEventsProcessed)
}

func TestRunSyncPartialDecodeResilience(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	skips := &recordedSkips{}
	source := &fakeSource{
		head: 100,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			return []model.RawLog{
				transferLog(t, 10, 0),
				unknownLog(10, 1),
				transferLog(t, 20, 0),
				unknownLog(30, 0),
				transferLog(t, 40, 2),
			}, nil
		},
	}
	engine := newTestEngine(t, testConfig(), source, store, store, WithSkipRecorder(skips))

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), cursor.LastProcessedBlock)
	require.Equal(t, model.StatusSynced, cursor.Status)
	require.Equal(t, uint64(3), cursor.TotalEventsProcessed)
	require.Equal(t, "Transfer", cursor.LastSyncedEventName)
	require.Equal(t, strings.ToLower(transferLog(t, 40, 2).TxHash), cursor.LastSyncedTransactionHash)
	require.Equal(t, 3, store.Len())

	require.Len(t, skips.records, 2)
	require.Equal(t, model.StageDecode, skips.records[0].Stage)
	require.Equal(t, uint64(10), skips.records[0].BlockNumber)
	require.Equal(t, uint64(1), skips.records[0].LogIndex)
}

func TestRunSyncAllUndecodableStillAdvances(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	source := &fakeSource{
		head: 300,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			return []model.RawLog{unknownLog(from, 0), unknownLog(from+1, 0)}, nil
		},
	}
	cfg := testConfig()
	cfg.SkipWarnRatio = 0.5
	engine := newTestEngine(t, cfg, source, store, store, WithMetrics(metrics))

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), cursor.LastProcessedBlock)
	require.Zero(t, cursor.TotalEventsProcessed)
	require.Zero(t, store.Len())

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.highSkipWindows.WithLabelValues(testKey.Type, testKey.Address)))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.entriesSkipped.WithLabelValues(testKey.Type, testKey.Address, model.StageDecode)))
	require.Equal(t, 100.0, testutil.ToFloat64(metrics.lastProcessed.WithLabelValues(testKey.Type, testKey.Address)))
	require.Equal(t, 300.0, testutil.ToFloat64(metrics.chainHead.WithLabelValues(testKey.Type, testKey.Address)))
}

func TestRunSyncStoreFailureSkipsEntry(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	events := &failingEvents{EventStore: store, failOn: map[uint64]bool{1: true}}
	skips := &recordedSkips{}
	source := &fakeSource{
		head: 10,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			return []model.RawLog{transferLog(t, 3, 0), transferLog(t, 3, 1), transferLog(t, 4, 2)}, nil
		},
	}
	engine := newTestEngine(t, testConfig(), source, events, store, WithSkipRecorder(skips))

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), cursor.LastProcessedBlock)
	require.Equal(t, uint64(2), cursor.TotalEventsProcessed)
	require.NotEqual(t, model.StatusError, cursor.Status)
	require.Len(t, skips.records, 1)
	require.Equal(t, model.StageStore, skips.records[0].Stage)
	require.Equal(t, "disk full", skips.records[0].Error)
}

func TestRunSyncEmptyWindowAdvances(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{head: 150}
	engine := newTestEngine(t, testConfig(), source, store, store)

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), cursor.LastProcessedBlock)
	require.Equal(t, model.StatusSyncing, cursor.Status)
	require.Equal(t, []Window{{From: 1, To: 100}}, source.windows)
}

func TestResetCursorThenRunAtHead(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{head: 500}
	engine := newTestEngine(t, testConfig(), source, store, store)

	cursor, err := engine.ResetCursor(ctx, 500)
	require.NoError(t, err)
	require.Equal(t, model.StatusSynced, cursor.Status)

	cursor, err = engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, model.StatusSynced, cursor.Status)
	require.Equal(t, uint64(500), cursor.LastProcessedBlock)
	require.Zero(t, cursor.TotalEventsProcessed)
	require.Zero(t, source.fetches)
	require.Zero(t, store.Len())
}

func TestResetCursorClearsErrorAndKeepsCounters(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	cursor := model.NewCursor(testKey)
	cursor.LastProcessedBlock = 90
	cursor.Status = model.StatusError
	cursor.ErrorMessage = "boom"
	cursor.TotalEventsProcessed = 12
	require.NoError(t, store.SaveCursor(ctx, cursor))

	engine := newTestEngine(t, testConfig(), &fakeSource{}, store, store)
	reset, err := engine.ResetCursor(ctx, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), reset.LastProcessedBlock)
	require.Equal(t, model.StatusSynced, reset.Status)
	require.Empty(t, reset.ErrorMessage)
	require.Equal(t, uint64(12), reset.TotalEventsProcessed)
}

func TestRunSyncHealsCorruptCursor(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	store.SetRawCursorBlock(testKey, "NaN")
	source := &fakeSource{head: 50}
	engine := newTestEngine(t, testConfig(), source, store, store)

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, []Window{{From: 1, To: 50}}, source.windows)
	require.Equal(t, uint64(50), cursor.LastProcessedBlock)
	require.Equal(t, model.StatusSynced, cursor.Status)

	stored, found, err := store.LoadCursor(ctx, testKey)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, stored.Corrupt)
}

func TestRunSyncIsIdempotentOnReplay(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{
		head: 10,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			return []model.RawLog{transferLog(t, 2, 0), transferLog(t, 7, 3)}, nil
		},
	}
	engine := newTestEngine(t, testConfig(), source, store, store)

	_, err := engine.RunSync(ctx)
	require.NoError(t, err)
	_, err = engine.ResetCursor(ctx, 0)
	require.NoError(t, err)
	_, err = engine.RunSync(ctx)
	require.NoError(t, err)

	require.Equal(t, 2, store.Len())
	byTx, err := store.EventsByTxHash(ctx, transferLog(t, 7, 3).TxHash)
	require.NoError(t, err)
	require.Len(t, byTx, 1)
}

func TestRunSyncCursorMonotonic(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			return []model.RawLog{transferLog(t, to, 0)}, nil
		},
	}
	cfg := testConfig()
	cfg.MaxBlocksPerSync = 7
	engine := newTestEngine(t, cfg, source, store, store)

	var previous uint64
	heads := []uint64{0, 3, 3, 20, 21, 21, 60, 61, 100}
	for _, head := range heads {
		source.setHead(head)
		cursor, err := engine.RunSync(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, cursor.LastProcessedBlock, previous)
		require.LessOrEqual(t, cursor.LastProcessedBlock, head)
		previous = cursor.LastProcessedBlock
	}
}

func TestRunSyncParallelWorkersKeepOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	logs := make([]model.RawLog, 0, 20)
	for i := uint64(0); i < 20; i++ {
		if i%5 == 0 {
			logs = append(logs, unknownLog(i+1, 0))
			continue
		}
		logs = append(logs, transferLog(t, i+1, 0))
	}
	source := &fakeSource{
		head:     50,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) { return logs, nil },
	}
	cfg := testConfig()
	cfg.Workers = 4
	engine := newTestEngine(t, cfg, source, store, store)

	outcome := engine.ProcessLogs(ctx, logs, &Window{From: 1, To: 50})
	require.Len(t, outcome.Results, 20)
	for i, result := range outcome.Results {
		require.Equal(t, logs[i].BlockNumber, result.Log.BlockNumber)
		if i%5 == 0 {
			require.Equal(t, EntrySkipped, result.Status)
		} else {
			require.Equal(t, EntryStored, result.Status)
		}
	}
	require.Equal(t, 16, outcome.Stored())

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(50), cursor.LastProcessedBlock)
	require.Equal(t, uint64(16), cursor.TotalEventsProcessed)
	last, ok := outcome.LastStored()
	require.True(t, ok)
	require.Equal(t, last.TransactionHash, cursor.LastSyncedTransactionHash)
}

func TestRunSyncSkipsLogsOutsideWindow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{
		head: 30,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			return []model.RawLog{transferLog(t, 5, 0), transferLog(t, 999, 0)}, nil
		},
	}
	engine := newTestEngine(t, testConfig(), source, store, store)

	cursor, err := engine.RunSync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(30), cursor.LastProcessedBlock)
	require.Equal(t, uint64(1), cursor.TotalEventsProcessed)
}

func TestFullSync(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	source := &fakeSource{head: 250}
	engine := newTestEngine(t, testConfig(), source, store, store)

	cursor, err := engine.FullSync(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.StatusSynced, cursor.Status)
	require.Equal(t, uint64(250), cursor.LastProcessedBlock)
	require.Equal(t, []Window{{From: 1, To: 100}, {From: 101, To: 200}, {From: 201, To: 250}}, source.windows)
}

func TestFullSyncStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := storage.NewMemory()
	source := &fakeSource{
		head: 1_000,
		logsFunc: func(from, to uint64) ([]model.RawLog, error) {
			cancel()
			return nil, nil
		},
	}
	engine := newTestEngine(t, testConfig(), source, store, store)

	_, err := engine.FullSync(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := engine.Cursor(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), stored.LastProcessedBlock)
}

func TestFetchLogsRejectsInvertedRange(t *testing.T) {
	source := &fakeSource{}
	store := storage.NewMemory()
	engine := newTestEngine(t, testConfig(), source, store, store)

	_, err := engine.FetchLogs(context.Background(), 10, 9)
	require.ErrorIs(t, err, ErrConfig)
	require.Zero(t, source.fetches)
}

func TestNewEngineValidatesConfig(t *testing.T) {
	store := storage.NewMemory()
	dec := newTestEngine(t, testConfig(), &fakeSource{}, store, store).decoder

	cfg := testConfig()
	cfg.MaxBlocksPerSync = 0
	_, err := NewEngine(cfg, &fakeSource{}, dec, store, store, nil)
	require.ErrorIs(t, err, ErrConfig)

	cfg = testConfig()
	cfg.Source.Type = "data_registry"
	_, err = NewEngine(cfg, &fakeSource{}, dec, store, store, nil)
	require.ErrorIs(t, err, ErrConfig)

	cfg = testConfig()
	cfg.Source.Address = ""
	_, err = NewEngine(cfg, &fakeSource{}, dec, store, store, nil)
	require.ErrorIs(t, err, ErrConfig)
}

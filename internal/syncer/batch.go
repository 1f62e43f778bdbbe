package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledgerSync/internal/model"
)

// EntryStatus is the outcome of one raw log.
type EntryStatus int

const (
	EntryStored EntryStatus = iota
	EntrySkipped
)

func (s EntryStatus) String() string {
	if s == EntryStored {
		return "stored"
	}
	return "skipped"
}

// EntryResult records what happened to one raw log of a batch.
type EntryResult struct {
	Log    model.RawLog
	Status EntryStatus
	Event  model.DecodedEvent
	// Stage and Reason are set for skipped entries.
	Stage  string
	Reason error
}

// BatchOutcome holds per-entry results in the order the logs were returned.
type BatchOutcome struct {
	Results []EntryResult
}

// Stored returns the number of persisted events.
func (o BatchOutcome) Stored() int {
	n := 0
	for _, r := range o.Results {
		if r.Status == EntryStored {
			n++
		}
	}
	return n
}

// Skipped returns the number of entries that were not persisted.
func (o BatchOutcome) Skipped() int {
	return len(o.Results) - o.Stored()
}

// SkipRatio is skipped/total, or 0 for an empty batch.
func (o BatchOutcome) SkipRatio() float64 {
	if len(o.Results) == 0 {
		return 0
	}
	return float64(o.Skipped()) / float64(len(o.Results))
}

// HighestStoredBlock returns the highest block among persisted events.
func (o BatchOutcome) HighestStoredBlock() (uint64, bool) {
	var (
		highest uint64
		found   bool
	)
	for _, r := range o.Results {
		if r.Status != EntryStored {
			continue
		}
		if !found || r.Event.BlockNumber > highest {
			highest = r.Event.BlockNumber
			found = true
		}
	}
	return highest, found
}

// LastStored returns the last persisted event in log order.
func (o BatchOutcome) LastStored() (model.DecodedEvent, bool) {
	for i := len(o.Results) - 1; i >= 0; i-- {
		if o.Results[i].Status == EntryStored {
			return o.Results[i].Event, true
		}
	}
	return model.DecodedEvent{}, false
}

// ProcessLogs decodes and stores each log. Failures are recorded per entry and never abort the batch.
// A nil window disables the range check.
func (e *Engine) ProcessLogs(ctx context.Context, logs []model.RawLog, window *Window) BatchOutcome {
	results := make([]EntryResult, len(logs))
	if e.cfg.Workers <= 1 || len(logs) < 2 {
		for i, log := range logs {
			results[i] = e.processEntry(ctx, log, window)
		}
		return BatchOutcome{Results: results}
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, log := range logs {
		i, log := i, log
		g.Go(func() error {
			results[i] = e.processEntry(ctx, log, window)
			return nil
		})
	}
	_ = g.Wait()
	return BatchOutcome{Results: results}
}

func (e *Engine) processEntry(ctx context.Context, log model.RawLog, window *Window) EntryResult {
	if window != nil && !window.Contains(log.BlockNumber) {
		return e.skip(ctx, log, model.StageDecode, configError("block %d outside window %s", log.BlockNumber, window))
	}
	if log.Removed {
		return e.skip(ctx, log, model.StageDecode, errRemovedLog)
	}

	decoded, err := e.decoder.Decode(log)
	if err != nil {
		return e.skip(ctx, log, model.StageDecode, err)
	}
	event, err := BuildEvent(log, decoded, e.now())
	if err != nil {
		return e.skip(ctx, log, model.StageDecode, err)
	}
	if err := e.events.StoreEvent(ctx, event); err != nil {
		return e.skip(ctx, log, model.StageStore, err)
	}
	return EntryResult{Log: log, Status: EntryStored, Event: event}
}

func (e *Engine) skip(ctx context.Context, log model.RawLog, stage string, reason error) EntryResult {
	e.logger.Warn("skip log entry",
		zap.String("stage", stage),
		zap.Uint64("block_number", log.BlockNumber),
		zap.String("tx_hash", log.TxHash),
		zap.Uint64("log_index", log.LogIndex),
		zap.String("topic0", log.Topic0()),
		zap.Error(reason),
	)
	e.metrics.entrySkipped(e.cfg.Source, stage)

	if e.skips != nil {
		record := model.DecodeError{
			SourceType:  e.cfg.Source.Type,
			Address:     log.Address,
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
			LogIndex:    log.LogIndex,
			Topic0:      log.Topic0(),
			Stage:       stage,
			Error:       reason.Error(),
			RecordedAt:  e.now().UTC().Format(time.RFC3339Nano),
		}
		if err := e.skips.RecordSkip(ctx, record); err != nil {
			e.logger.Warn("record skip failed", zap.Error(err))
		}
	}
	return EntryResult{Log: log, Status: EntrySkipped, Stage: stage, Reason: reason}
}

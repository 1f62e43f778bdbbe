package storage

import (
	"context"
	"sort"

	"ledgerSync/internal/model"
)

const (
	// DefaultQueryLimit applies when a query passes a non-positive limit.
	DefaultQueryLimit = 100
	// MaxQueryLimit caps every query.
	MaxQueryLimit = 1000
)

// EventStore persists decoded events idempotently by (source address, tx hash, log index).
type EventStore interface {
	StoreEvent(ctx context.Context, event model.DecodedEvent) error
	EventsByName(ctx context.Context, name string, limit int) ([]model.DecodedEvent, error)
	EventsByBlockRange(ctx context.Context, from, to uint64, limit int) ([]model.DecodedEvent, error)
	LatestEvents(ctx context.Context, limit int) ([]model.DecodedEvent, error)
	EventsByTxHash(ctx context.Context, hash string) ([]model.DecodedEvent, error)
}

// CursorStore keeps one cursor row per source.
// LoadCursor reports found=false when the source has never been synced.
type CursorStore interface {
	LoadCursor(ctx context.Context, key model.SourceKey) (model.SyncCursor, bool, error)
	SaveCursor(ctx context.Context, cursor model.SyncCursor) error
}

// Store is a backend that serves both events and cursors.
type Store interface {
	EventStore
	CursorStore
	Close() error
}

// NormalizeLimit applies the default and maximum query limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// SortEvents orders events by block number then log index, both descending.
func SortEvents(events []model.DecodedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber > events[j].BlockNumber
		}
		if events[i].LogIndex != events[j].LogIndex {
			return events[i].LogIndex > events[j].LogIndex
		}
		return events[i].Key().String() > events[j].Key().String()
	})
}

func truncate(events []model.DecodedEvent, limit int) []model.DecodedEvent {
	if len(events) > limit {
		return events[:limit]
	}
	return events
}

package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ledgerSync/internal/model"
)

type storedCursor struct {
	cursor   model.SyncCursor
	rawBlock string
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	events  map[model.EventKey]model.DecodedEvent
	cursors map[model.SourceKey]storedCursor
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:  make(map[model.EventKey]model.DecodedEvent),
		cursors: make(map[model.SourceKey]storedCursor),
	}
}

// StoreEvent upserts an event. Identical content leaves the existing record untouched.
func (m *Memory) StoreEvent(ctx context.Context, event model.DecodedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.put(event)
	return nil
}

// put reports whether the stored record changed.
func (m *Memory) put(event model.DecodedEvent) bool {
	key := event.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.events[key]; ok && existing.SameContent(event) {
		return false
	}
	m.events[key] = event
	return true
}

func (m *Memory) filter(match func(model.DecodedEvent) bool) []model.DecodedEvent {
	m.mu.RLock()
	out := make([]model.DecodedEvent, 0)
	for _, event := range m.events {
		if match(event) {
			out = append(out, event)
		}
	}
	m.mu.RUnlock()
	SortEvents(out)
	return out
}

func (m *Memory) EventsByName(ctx context.Context, name string, limit int) ([]model.DecodedEvent, error) {
	events := m.filter(func(e model.DecodedEvent) bool { return e.EventName == name })
	return truncate(events, NormalizeLimit(limit)), nil
}

func (m *Memory) EventsByBlockRange(ctx context.Context, from, to uint64, limit int) ([]model.DecodedEvent, error) {
	if from > to {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}
	events := m.filter(func(e model.DecodedEvent) bool {
		return e.BlockNumber >= from && e.BlockNumber <= to
	})
	return truncate(events, NormalizeLimit(limit)), nil
}

func (m *Memory) LatestEvents(ctx context.Context, limit int) ([]model.DecodedEvent, error) {
	events := m.filter(func(model.DecodedEvent) bool { return true })
	return truncate(events, NormalizeLimit(limit)), nil
}

func (m *Memory) EventsByTxHash(ctx context.Context, hash string) ([]model.DecodedEvent, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	events := m.filter(func(e model.DecodedEvent) bool {
		return strings.ToLower(e.TransactionHash) == hash
	})
	return truncate(events, MaxQueryLimit), nil
}

// LoadCursor returns the cursor for a source.
func (m *Memory) LoadCursor(ctx context.Context, key model.SourceKey) (model.SyncCursor, bool, error) {
	m.mu.RLock()
	stored, ok := m.cursors[key]
	m.mu.RUnlock()
	if !ok {
		return model.SyncCursor{}, false, nil
	}

	cursor := stored.cursor
	block, valid := model.ParseBlockNumber(stored.rawBlock)
	cursor.LastProcessedBlock = block
	cursor.Corrupt = !valid
	return cursor, true, nil
}

// SaveCursor overwrites the cursor row for a source.
func (m *Memory) SaveCursor(ctx context.Context, cursor model.SyncCursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = time.Now().UTC()
	}
	cursor.Corrupt = false

	m.mu.Lock()
	m.cursors[cursor.Key()] = storedCursor{
		cursor:   cursor,
		rawBlock: model.FormatBlockNumber(cursor.LastProcessedBlock),
	}
	m.mu.Unlock()
	return nil
}

// SetRawCursorBlock overwrites the persisted block value of a cursor with raw text,
// creating the cursor if needed.
func (m *Memory) SetRawCursorBlock(key model.SourceKey, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.cursors[key]
	if !ok {
		stored.cursor = model.NewCursor(key)
	}
	stored.rawBlock = raw
	m.cursors[key] = stored
}

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (m *Memory) Close() error {
	return nil
}

// Package storagetest holds the behavior checks shared by every storage backend.
package storagetest

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"ledgerSync/internal/model"
	"ledgerSync/internal/storage"
)

// Backend builds fresh stores for the suite.
type Backend struct {
	// New returns an empty store. The suite closes it.
	New func(t *testing.T) storage.Store
	// CorruptCursor overwrites the persisted block of an existing cursor with an unparsable value.
	// Nil skips the corruption check.
	CorruptCursor func(t *testing.T, s storage.Store, key model.SourceKey)
}

// Run executes the conformance suite against a backend.
func Run(t *testing.T, backend Backend) {
	t.Run("StoreIsIdempotent", func(t *testing.T) { testStoreIsIdempotent(t, backend) })
	t.Run("StoreLatestContentWins", func(t *testing.T) { testLatestContentWins(t, backend) })
	t.Run("Queries", func(t *testing.T) { testQueries(t, backend) })
	t.Run("QueryLimits", func(t *testing.T) { testQueryLimits(t, backend) })
	t.Run("CursorRoundTrip", func(t *testing.T) { testCursorRoundTrip(t, backend) })
	t.Run("CursorKeepsFullBlockRange", func(t *testing.T) { testCursorFullBlockRange(t, backend) })
	if backend.CorruptCursor != nil {
		t.Run("CorruptCursor", func(t *testing.T) { testCorruptCursor(t, backend) })
	}
}

// Event builds a deterministic event for tests.
func Event(block, logIndex uint64, name string) model.DecodedEvent {
	return model.DecodedEvent{
		SourceAddress:      "0x1111111111111111111111111111111111111111",
		TransactionHash:    fmt.Sprintf("0x%064x", block),
		BlockNumber:        block,
		BlockHash:          fmt.Sprintf("0x%064x", block+1000),
		TransactionIndex:   0,
		LogIndex:           logIndex,
		EventName:          name,
		EventSignatureHash: "0xsig" + name,
		ArgumentsJSON:      fmt.Sprintf(`{"block":"%d","log":"%d"}`, block, logIndex),
		DecodedAt:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func open(t *testing.T, backend Backend) storage.Store {
	t.Helper()
	s := backend.New(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testStoreIsIdempotent(t *testing.T, backend Backend) {
	ctx := context.Background()
	s := open(t, backend)

	event := Event(10, 2, "DataRegistered")
	for i := 0; i < 2; i++ {
		if err := s.StoreEvent(ctx, event); err != nil {
			t.Fatalf("store #%d: %v", i, err)
		}
	}

	got, err := s.EventsByTxHash(ctx, event.TransactionHash)
	if err != nil {
		t.Fatalf("query by tx: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if !got[0].SameContent(event) {
		t.Fatalf("stored content mismatch: %+v", got[0])
	}
}

func testLatestContentWins(t *testing.T, backend Backend) {
	ctx := context.Background()
	s := open(t, backend)

	event := Event(11, 0, "DataUpdated")
	if err := s.StoreEvent(ctx, event); err != nil {
		t.Fatalf("store: %v", err)
	}
	event.ArgumentsJSON = `{"version":2}`
	if err := s.StoreEvent(ctx, event); err != nil {
		t.Fatalf("store updated: %v", err)
	}
	other := Event(11, 1, "DataUpdated")
	if err := s.StoreEvent(ctx, other); err != nil {
		t.Fatalf("store other: %v", err)
	}

	got, err := s.EventsByTxHash(ctx, event.TransactionHash)
	if err != nil {
		t.Fatalf("query by tx: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].LogIndex != 1 || got[1].ArgumentsJSON != `{"version":2}` {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func testQueries(t *testing.T, backend Backend) {
	ctx := context.Background()
	s := open(t, backend)

	seed := []model.DecodedEvent{
		Event(100, 0, "DataRegistered"),
		Event(100, 1, "AccessGranted"),
		Event(101, 0, "DataRegistered"),
		Event(150, 3, "AccessRevoked"),
		Event(200, 0, "DataRegistered"),
	}
	for _, event := range seed {
		if err := s.StoreEvent(ctx, event); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	latest, err := s.LatestEvents(ctx, 3)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	assertOrder(t, latest, [][2]uint64{{200, 0}, {150, 3}, {101, 0}})

	byName, err := s.EventsByName(ctx, "DataRegistered", 10)
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	assertOrder(t, byName, [][2]uint64{{200, 0}, {101, 0}, {100, 0}})

	byRange, err := s.EventsByBlockRange(ctx, 100, 150, 10)
	if err != nil {
		t.Fatalf("by range: %v", err)
	}
	assertOrder(t, byRange, [][2]uint64{{150, 3}, {101, 0}, {100, 1}, {100, 0}})

	empty, err := s.EventsByName(ctx, "Unknown", 10)
	if err != nil {
		t.Fatalf("by unknown name: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no events, got %d", len(empty))
	}

	if _, err := s.EventsByBlockRange(ctx, 10, 9, 10); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}

func testQueryLimits(t *testing.T, backend Backend) {
	ctx := context.Background()
	s := open(t, backend)

	for i := uint64(0); i < storage.DefaultQueryLimit+5; i++ {
		if err := s.StoreEvent(ctx, Event(i+1, 0, "DataRegistered")); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	got, err := s.LatestEvents(ctx, 0)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != storage.DefaultQueryLimit {
		t.Fatalf("expected default limit %d, got %d", storage.DefaultQueryLimit, len(got))
	}

	got, err = s.LatestEvents(ctx, 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	assertOrder(t, got, [][2]uint64{{storage.DefaultQueryLimit + 5, 0}, {storage.DefaultQueryLimit + 4, 0}})
}

func testCursorRoundTrip(t *testing.T, backend Backend) {
	ctx := context.Background()
	s := open(t, backend)

	key := model.SourceKey{Type: "data_registry", Address: "0x1111111111111111111111111111111111111111"}
	if _, found, err := s.LoadCursor(ctx, key); err != nil || found {
		t.Fatalf("expected missing cursor, found=%v err=%v", found, err)
	}

	cursor := model.NewCursor(key)
	cursor.LastProcessedBlock = 201
	cursor.Status = model.StatusError
	cursor.TotalEventsProcessed = 7
	cursor.LastSyncedEventName = "DataRegistered"
	cursor.LastSyncedTransactionHash = "0xabc"
	cursor.LastProcessedBlockHash = "0xdef"
	cursor.ErrorMessage = "boom"
	if err := s.SaveCursor(ctx, cursor); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := s.LoadCursor(ctx, key)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.Corrupt {
		t.Fatalf("cursor flagged corrupt")
	}
	if got.LastProcessedBlock != 201 || got.Status != model.StatusError || got.TotalEventsProcessed != 7 {
		t.Fatalf("cursor mismatch: %+v", got)
	}
	if got.LastSyncedEventName != "DataRegistered" || got.LastSyncedTransactionHash != "0xabc" ||
		got.LastProcessedBlockHash != "0xdef" || got.ErrorMessage != "boom" {
		t.Fatalf("cursor diagnostics mismatch: %+v", got)
	}

	cursor.Status = model.StatusSynced
	cursor.ErrorMessage = ""
	cursor.LastProcessedBlock = 250
	if err := s.SaveCursor(ctx, cursor); err != nil {
		t.Fatalf("save overwrite: %v", err)
	}
	got, _, err = s.LoadCursor(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.LastProcessedBlock != 250 || got.Status != model.StatusSynced || got.ErrorMessage != "" {
		t.Fatalf("overwrite mismatch: %+v", got)
	}

	other := model.SourceKey{Type: "erc20", Address: key.Address}
	if _, found, err := s.LoadCursor(ctx, other); err != nil || found {
		t.Fatalf("cursors must be keyed per source type, found=%v err=%v", found, err)
	}
}

func testCursorFullBlockRange(t *testing.T, backend Backend) {
	ctx := context.Background()
	s := open(t, backend)

	key := model.SourceKey{Type: "data_registry", Address: "0x3333333333333333333333333333333333333333"}
	for _, block := range []uint64{1 << 53, 1<<53 + 1, 1 << 63, math.MaxUint64} {
		cursor := model.NewCursor(key)
		cursor.LastProcessedBlock = block
		cursor.Status = model.StatusSynced
		if err := s.SaveCursor(ctx, cursor); err != nil {
			t.Fatalf("save %d: %v", block, err)
		}
		got, found, err := s.LoadCursor(ctx, key)
		if err != nil || !found {
			t.Fatalf("load %d: found=%v err=%v", block, found, err)
		}
		if got.Corrupt || got.LastProcessedBlock != block {
			t.Fatalf("block %d came back as %d (corrupt=%v)", block, got.LastProcessedBlock, got.Corrupt)
		}
	}
}

func testCorruptCursor(t *testing.T, backend Backend) {
	ctx := context.Background()
	s := open(t, backend)

	key := model.SourceKey{Type: "data_registry", Address: "0x2222222222222222222222222222222222222222"}
	cursor := model.NewCursor(key)
	cursor.LastProcessedBlock = 42
	cursor.Status = model.StatusSynced
	if err := s.SaveCursor(ctx, cursor); err != nil {
		t.Fatalf("save: %v", err)
	}
	backend.CorruptCursor(t, s, key)

	got, found, err := s.LoadCursor(ctx, key)
	if err != nil || !found {
		t.Fatalf("load corrupt: found=%v err=%v", found, err)
	}
	if !got.Corrupt || got.LastProcessedBlock != 0 {
		t.Fatalf("expected corrupt cursor at 0, got %+v", got)
	}
}

func assertOrder(t *testing.T, events []model.DecodedEvent, want [][2]uint64) {
	t.Helper()
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, event := range events {
		if event.BlockNumber != want[i][0] || event.LogIndex != want[i][1] {
			t.Fatalf("event %d: got (%d,%d) want (%d,%d)", i, event.BlockNumber, event.LogIndex, want[i][0], want[i][1])
		}
	}
}

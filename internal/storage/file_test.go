package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ledgerSync/internal/model"
	"ledgerSync/internal/storage"
	"ledgerSync/internal/storage/storagetest"
)

func TestFileStore(t *testing.T) {
	storagetest.Run(t, storagetest.Backend{
		New: func(t *testing.T) storage.Store {
			s, err := storage.OpenFileStore(t.TempDir())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			return s
		},
		CorruptCursor: func(t *testing.T, s storage.Store, key model.SourceKey) {
			if err := s.(*storage.FileStore).WriteRawCheckpoint(key, []byte(`{"last_processed_block":"NaN","status":"SYNCED"}`)); err != nil {
				t.Fatalf("corrupt: %v", err)
			}
		},
	})
}

func TestFileStoreReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := storage.OpenFileStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first := storagetest.Event(5, 0, "DataRegistered")
	if err := s.StoreEvent(ctx, first); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.StoreEvent(ctx, first); err != nil {
		t.Fatalf("store again: %v", err)
	}
	updated := first
	updated.ArgumentsJSON = `{"v":2}`
	if err := s.StoreEvent(ctx, updated); err != nil {
		t.Fatalf("store updated: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Fatalf("identical writes should not append, got %d lines", lines)
	}

	reopened, err := storage.OpenFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.EventsByTxHash(ctx, first.TransactionHash)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ArgumentsJSON != `{"v":2}` {
		t.Fatalf("replay mismatch: %+v", got)
	}
}

func TestFileStoreUnreadableCheckpoint(t *testing.T) {
	ctx := context.Background()
	s, err := storage.OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	key := model.SourceKey{Type: "erc20", Address: "0x3333333333333333333333333333333333333333"}
	if err := s.WriteRawCheckpoint(key, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, found, err := s.LoadCursor(ctx, key)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if !got.Corrupt || got.SourceType != "erc20" {
		t.Fatalf("expected corrupt cursor for key, got %+v", got)
	}
}

func appendRaw(t *testing.T, path, text string) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer file.Close()
	if _, err := file.WriteString(text); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestFileStoreTruncatesTornFinalLine(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")

	s, err := storage.OpenFileStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.StoreEvent(ctx, storagetest.Event(5, 0, "DataRegistered")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	appendRaw(t, logPath, `{"source_address":"0xab`)

	core, logs := observer.New(zap.WarnLevel)
	reopened, err := storage.OpenFileStore(dir, storage.WithFileLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("reopen after torn write: %v", err)
	}
	if reopened.Len() != 1 {
		t.Fatalf("expected 1 replayed event, got %d", reopened.Len())
	}
	if logs.FilterMessage("truncating torn event log line").Len() != 1 {
		t.Fatalf("expected a truncation warning")
	}

	if err := reopened.StoreEvent(ctx, storagetest.Event(6, 1, "DataUpdated")); err != nil {
		t.Fatalf("store after truncate: %v", err)
	}
	if err := reopened.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("torn fragment not removed:\n%s", data)
	}
	for i, line := range lines {
		var event model.DecodedEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("line %d unreadable after recovery: %v", i+1, err)
		}
	}

	again, err := storage.OpenFileStore(dir)
	if err != nil {
		t.Fatalf("third open: %v", err)
	}
	defer again.Close()
	if again.Len() != 2 {
		t.Fatalf("expected 2 events after recovery, got %d", again.Len())
	}
}

func TestFileStoreTerminatesUnfinishedLine(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")

	line, err := json.Marshal(storagetest.Event(3, 0, "DataRegistered"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(logPath, line, 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	s, err := storage.OpenFileStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.StoreEvent(ctx, storagetest.Event(4, 0, "DataUpdated")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := storage.OpenFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 2 {
		t.Fatalf("expected both events, got %d", reopened.Len())
	}
}

func TestFileStoreRejectsCorruptMiddleLine(t *testing.T) {
	dir := t.TempDir()
	good, err := json.Marshal(storagetest.Event(3, 0, "DataRegistered"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	content := "{broken\n" + string(good) + "\n"
	if err := os.WriteFile(filepath.Join(dir, "events.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if _, err := storage.OpenFileStore(dir); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected parse error on line 1, got %v", err)
	}
}

func TestFileStoreSyncBeforeCheckpoint(t *testing.T) {
	ctx := context.Background()
	s, err := storage.OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	key := model.SourceKey{Type: "erc20", Address: "0x3333333333333333333333333333333333333333"}
	if err := s.SaveCursor(ctx, model.NewCursor(key)); err == nil {
		t.Fatalf("checkpoint must not be written once the event log is closed")
	}
}

package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledgerSync/internal/model"
)

const (
	eventLogName  = "events.jsonl"
	cursorDirName = "cursors"
)

// FileStore persists events to an append-only JSONL log and cursors to per-source
// JSON checkpoints. The event log is replayed into memory on open; the last line for a key wins.
// A torn final line left by a crash is truncated on open; a bad line anywhere else is an error.
type FileStore struct {
	dir    string
	index  *Memory
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
}

// fileCursor keeps the block as raw JSON so unreadable values are detected on load.
type fileCursor struct {
	SourceType                string          `json:"source_type"`
	SourceAddress             string          `json:"source_address"`
	LastProcessedBlock        json.RawMessage `json:"last_processed_block"`
	Status                    string          `json:"status"`
	TotalEventsProcessed      uint64          `json:"total_events_processed"`
	LastSyncedEventName       string          `json:"last_synced_event_name,omitempty"`
	LastSyncedTransactionHash string          `json:"last_synced_transaction_hash,omitempty"`
	LastProcessedBlockHash    string          `json:"last_processed_block_hash,omitempty"`
	ErrorMessage              string          `json:"error_message,omitempty"`
	UpdatedAt                 string          `json:"updated_at"`
}

// FileOption customizes a FileStore.
type FileOption func(*FileStore)

// WithFileLogger sets the logger used for replay warnings.
func WithFileLogger(logger *zap.Logger) FileOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// OpenFileStore opens or creates a file store rooted at dir.
func OpenFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, cursorDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &FileStore{dir: dir, index: NewMemory(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.replay(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(s.eventLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	s.file = file
	return s, nil
}

func (s *FileStore) eventLogPath() string {
	return filepath.Join(s.dir, eventLogName)
}

func (s *FileStore) cursorPath(key model.SourceKey) string {
	name := strings.ToLower(key.Type + "_" + key.Address)
	name = strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(name)
	return filepath.Join(s.dir, cursorDirName, name+".json")
}

func (s *FileStore) replay() error {
	file, err := os.OpenFile(s.eventLogPath(), os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 1024*1024)
	var offset int64
	lineNo := 0
	for {
		raw, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("read event log: %w", readErr)
		}
		last := readErr == io.EOF
		if len(raw) == 0 {
			break
		}
		lineNo++
		start := offset
		offset += int64(len(raw))

		line := bytes.TrimSpace(raw)
		if len(line) > 0 {
			var event model.DecodedEvent
			if err := json.Unmarshal(line, &event); err != nil {
				if !last && !atEOF(reader) {
					return fmt.Errorf("parse event log line %d: %w", lineNo, err)
				}
				return s.truncateTornLine(file, start, lineNo, err)
			}
			s.index.put(event)
		}
		if last {
			if raw[len(raw)-1] != '\n' {
				// Complete record without its newline; terminate it so the next append starts a new line.
				if _, err := file.WriteAt([]byte{'\n'}, offset); err != nil {
					return fmt.Errorf("terminate event log: %w", err)
				}
				return file.Sync()
			}
			break
		}
	}
	return nil
}

func atEOF(reader *bufio.Reader) bool {
	_, err := reader.Peek(1)
	return err == io.EOF
}

func (s *FileStore) truncateTornLine(file *os.File, offset int64, lineNo int, cause error) error {
	s.logger.Warn("truncating torn event log line",
		zap.String("path", s.eventLogPath()),
		zap.Int("line", lineNo),
		zap.Int64("offset", offset),
		zap.Error(cause),
	)
	if err := file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate event log: %w", err)
	}
	return file.Sync()
}

// StoreEvent appends the event unless an identical record is already stored.
func (s *FileStore) StoreEvent(ctx context.Context, event model.DecodedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("file store is closed")
	}

	if existing, ok := s.lookup(event.Key()); ok && existing.SameContent(event) {
		return nil
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.index.put(event)
	return nil
}

func (s *FileStore) lookup(key model.EventKey) (model.DecodedEvent, bool) {
	s.index.mu.RLock()
	defer s.index.mu.RUnlock()
	event, ok := s.index.events[key]
	return event, ok
}

func (s *FileStore) EventsByName(ctx context.Context, name string, limit int) ([]model.DecodedEvent, error) {
	return s.index.EventsByName(ctx, name, limit)
}

func (s *FileStore) EventsByBlockRange(ctx context.Context, from, to uint64, limit int) ([]model.DecodedEvent, error) {
	return s.index.EventsByBlockRange(ctx, from, to, limit)
}

func (s *FileStore) LatestEvents(ctx context.Context, limit int) ([]model.DecodedEvent, error) {
	return s.index.LatestEvents(ctx, limit)
}

func (s *FileStore) EventsByTxHash(ctx context.Context, hash string) ([]model.DecodedEvent, error) {
	return s.index.EventsByTxHash(ctx, hash)
}

// LoadCursor reads the checkpoint for a source. An unreadable checkpoint is reported as corrupt.
func (s *FileStore) LoadCursor(ctx context.Context, key model.SourceKey) (model.SyncCursor, bool, error) {
	path := s.cursorPath(key)
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.SyncCursor{}, false, nil
		}
		return model.SyncCursor{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return model.SyncCursor{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.SyncCursor{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var fc fileCursor
	if err := json.Unmarshal(data, &fc); err != nil {
		cursor := model.NewCursor(key)
		cursor.Corrupt = true
		return cursor, true, nil
	}

	cursor := model.SyncCursor{
		SourceType:                key.Type,
		SourceAddress:             key.Address,
		Status:                    model.ParseStatus(fc.Status),
		TotalEventsProcessed:      fc.TotalEventsProcessed,
		LastSyncedEventName:       fc.LastSyncedEventName,
		LastSyncedTransactionHash: fc.LastSyncedTransactionHash,
		LastProcessedBlockHash:    fc.LastProcessedBlockHash,
		ErrorMessage:              fc.ErrorMessage,
	}
	if ts, err := time.Parse(time.RFC3339Nano, fc.UpdatedAt); err == nil {
		cursor.UpdatedAt = ts
	}
	raw := strings.Trim(strings.TrimSpace(string(fc.LastProcessedBlock)), `"`)
	block, ok := model.ParseBlockNumber(raw)
	cursor.LastProcessedBlock = block
	cursor.Corrupt = !ok
	return cursor, true, nil
}

// SaveCursor writes the checkpoint atomically.
func (s *FileStore) SaveCursor(ctx context.Context, cursor model.SyncCursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	updatedAt := cursor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	fc := fileCursor{
		SourceType:                cursor.SourceType,
		SourceAddress:             cursor.SourceAddress,
		LastProcessedBlock:        json.RawMessage(model.FormatBlockNumber(cursor.LastProcessedBlock)),
		Status:                    string(cursor.Status),
		TotalEventsProcessed:      cursor.TotalEventsProcessed,
		LastSyncedEventName:       cursor.LastSyncedEventName,
		LastSyncedTransactionHash: cursor.LastSyncedTransactionHash,
		LastProcessedBlockHash:    cursor.LastProcessedBlockHash,
		ErrorMessage:              cursor.ErrorMessage,
		UpdatedAt:                 updatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Events behind the cursor must be on disk before the checkpoint is.
	if err := s.Sync(); err != nil {
		return err
	}

	path := s.cursorPath(cursor.Key())
	tmpPath := path + ".tmp"
	if err := writeFileSync(tmpPath, data); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Sync flushes the event log to stable storage.
func (s *FileStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("file store is closed")
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}
	return nil
}

func writeFileSync(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Len returns the number of indexed events.
func (s *FileStore) Len() int {
	return s.index.Len()
}

// WriteRawCheckpoint replaces a source checkpoint with arbitrary bytes.
func (s *FileStore) WriteRawCheckpoint(key model.SourceKey, data []byte) error {
	return os.WriteFile(s.cursorPath(key), data, 0o644)
}

// Close flushes and closes the event log.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

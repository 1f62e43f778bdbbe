// Package sqlite implements the event and cursor stores on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ledgerSync/internal/model"
	"ledgerSync/internal/storage"
	"ledgerSync/internal/storage/migrations"
)

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store provides SQLite persistence for events and cursors.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writes serialized and makes :memory: databases usable.
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := migrations.Up(db, migrations.SQLite); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StoreEvent upserts an event keyed by (source_address, transaction_hash, log_index).
func (s *Store) StoreEvent(ctx context.Context, event model.DecodedEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decoded_events (
			source_address, transaction_hash, log_index, block_number, block_hash,
			transaction_index, event_name, event_signature_hash, arguments_json, decoded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_address, transaction_hash, log_index) DO UPDATE SET
			block_number = excluded.block_number,
			block_hash = excluded.block_hash,
			transaction_index = excluded.transaction_index,
			event_name = excluded.event_name,
			event_signature_hash = excluded.event_signature_hash,
			arguments_json = excluded.arguments_json,
			decoded_at = excluded.decoded_at
		WHERE decoded_events.block_number IS NOT excluded.block_number
			OR decoded_events.block_hash IS NOT excluded.block_hash
			OR decoded_events.transaction_index IS NOT excluded.transaction_index
			OR decoded_events.event_name IS NOT excluded.event_name
			OR decoded_events.event_signature_hash IS NOT excluded.event_signature_hash
			OR decoded_events.arguments_json IS NOT excluded.arguments_json
	`,
		event.SourceAddress,
		event.TransactionHash,
		int64(event.LogIndex),
		int64(event.BlockNumber),
		event.BlockHash,
		int64(event.TransactionIndex),
		event.EventName,
		event.EventSignatureHash,
		event.ArgumentsJSON,
		formatTime(event.DecodedAt),
	)
	if err != nil {
		return fmt.Errorf("store event %s: %w", event.Key(), err)
	}
	return nil
}

const selectEvents = `
	SELECT source_address, transaction_hash, log_index, block_number, block_hash,
		transaction_index, event_name, event_signature_hash, arguments_json, decoded_at
	FROM decoded_events`

const orderEvents = ` ORDER BY block_number DESC, log_index DESC, source_address DESC, transaction_hash DESC`

func (s *Store) EventsByName(ctx context.Context, name string, limit int) ([]model.DecodedEvent, error) {
	return s.query(ctx, selectEvents+` WHERE event_name = ?`+orderEvents+` LIMIT ?`, name, storage.NormalizeLimit(limit))
}

func (s *Store) EventsByBlockRange(ctx context.Context, from, to uint64, limit int) ([]model.DecodedEvent, error) {
	if from > to {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}
	return s.query(ctx, selectEvents+` WHERE block_number BETWEEN ? AND ?`+orderEvents+` LIMIT ?`,
		int64(from), int64(to), storage.NormalizeLimit(limit))
}

func (s *Store) LatestEvents(ctx context.Context, limit int) ([]model.DecodedEvent, error) {
	return s.query(ctx, selectEvents+orderEvents+` LIMIT ?`, storage.NormalizeLimit(limit))
}

func (s *Store) EventsByTxHash(ctx context.Context, hash string) ([]model.DecodedEvent, error) {
	return s.query(ctx, selectEvents+` WHERE lower(transaction_hash) = ?`+orderEvents+` LIMIT ?`,
		strings.ToLower(strings.TrimSpace(hash)), storage.MaxQueryLimit)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]model.DecodedEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]model.DecodedEvent, 0)
	for rows.Next() {
		var (
			event                          model.DecodedEvent
			logIndex, blockNumber, txIndex int64
			decodedAt                      string
		)
		if err := rows.Scan(
			&event.SourceAddress,
			&event.TransactionHash,
			&logIndex,
			&blockNumber,
			&event.BlockHash,
			&txIndex,
			&event.EventName,
			&event.EventSignatureHash,
			&event.ArgumentsJSON,
			&decodedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.LogIndex = uint64(logIndex)
		event.BlockNumber = uint64(blockNumber)
		event.TransactionIndex = uint64(txIndex)
		event.DecodedAt = parseTime(decodedAt)
		out = append(out, event)
	}
	return out, rows.Err()
}

// LoadCursor reads the cursor row for a source.
func (s *Store) LoadCursor(ctx context.Context, key model.SourceKey) (model.SyncCursor, bool, error) {
	var (
		cursor    = model.NewCursor(key)
		rawBlock  sql.NullString
		status    string
		total     int64
		updatedAt string
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT last_processed_block, status, total_events_processed,
			last_synced_event_name, last_synced_transaction_hash, last_processed_block_hash,
			error_message, updated_at
		FROM sync_cursors WHERE source_type = ? AND source_address = ?
	`, key.Type, key.Address)
	err := row.Scan(
		&rawBlock,
		&status,
		&total,
		&cursor.LastSyncedEventName,
		&cursor.LastSyncedTransactionHash,
		&cursor.LastProcessedBlockHash,
		&cursor.ErrorMessage,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SyncCursor{}, false, nil
		}
		return model.SyncCursor{}, false, fmt.Errorf("load cursor %s: %w", key, err)
	}

	block, ok := model.ParseBlockNumber(rawBlock.String)
	cursor.LastProcessedBlock = block
	cursor.Corrupt = !ok
	cursor.Status = model.ParseStatus(status)
	cursor.TotalEventsProcessed = uint64(total)
	cursor.UpdatedAt = parseTime(updatedAt)
	return cursor, true, nil
}

// SaveCursor upserts the cursor row for a source.
func (s *Store) SaveCursor(ctx context.Context, cursor model.SyncCursor) error {
	updatedAt := cursor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (
			source_type, source_address, last_processed_block, status, total_events_processed,
			last_synced_event_name, last_synced_transaction_hash, last_processed_block_hash,
			error_message, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_type, source_address) DO UPDATE SET
			last_processed_block = excluded.last_processed_block,
			status = excluded.status,
			total_events_processed = excluded.total_events_processed,
			last_synced_event_name = excluded.last_synced_event_name,
			last_synced_transaction_hash = excluded.last_synced_transaction_hash,
			last_processed_block_hash = excluded.last_processed_block_hash,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`,
		cursor.SourceType,
		cursor.SourceAddress,
		model.FormatBlockNumber(cursor.LastProcessedBlock),
		string(cursor.Status),
		int64(cursor.TotalEventsProcessed),
		cursor.LastSyncedEventName,
		cursor.LastSyncedTransactionHash,
		cursor.LastProcessedBlockHash,
		cursor.ErrorMessage,
		formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", cursor.Key(), err)
	}
	return nil
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

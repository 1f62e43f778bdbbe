package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"ledgerSync/internal/model"
	"ledgerSync/internal/storage"
	"ledgerSync/internal/storage/migrations"
)

// Store provides Postgres persistence for events and cursors.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and applies pending migrations.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	_, err = migrations.Up(db, migrations.Postgres)
	db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// StoreEvent upserts an event. Identical content leaves the row untouched.
func (s *Store) StoreEvent(ctx context.Context, event model.DecodedEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO decoded_events (
			source_address, transaction_hash, log_index, block_number, block_hash,
			transaction_index, event_name, event_signature_hash, arguments_json, decoded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source_address, transaction_hash, log_index)
		DO UPDATE SET
			block_number = EXCLUDED.block_number,
			block_hash = EXCLUDED.block_hash,
			transaction_index = EXCLUDED.transaction_index,
			event_name = EXCLUDED.event_name,
			event_signature_hash = EXCLUDED.event_signature_hash,
			arguments_json = EXCLUDED.arguments_json,
			decoded_at = EXCLUDED.decoded_at
		WHERE (decoded_events.block_number, decoded_events.block_hash, decoded_events.transaction_index,
			decoded_events.event_name, decoded_events.event_signature_hash, decoded_events.arguments_json)
			IS DISTINCT FROM
			(EXCLUDED.block_number, EXCLUDED.block_hash, EXCLUDED.transaction_index,
			EXCLUDED.event_name, EXCLUDED.event_signature_hash, EXCLUDED.arguments_json)
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
		event.DecodedAt,
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
	return s.query(ctx, selectEvents+` WHERE event_name = $1`+orderEvents+` LIMIT $2`, name, storage.NormalizeLimit(limit))
}

func (s *Store) EventsByBlockRange(ctx context.Context, from, to uint64, limit int) ([]model.DecodedEvent, error) {
	if from > to {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}
	return s.query(ctx, selectEvents+` WHERE block_number BETWEEN $1 AND $2`+orderEvents+` LIMIT $3`,
		int64(from), int64(to), storage.NormalizeLimit(limit))
}

func (s *Store) LatestEvents(ctx context.Context, limit int) ([]model.DecodedEvent, error) {
	return s.query(ctx, selectEvents+orderEvents+` LIMIT $1`, storage.NormalizeLimit(limit))
}

func (s *Store) EventsByTxHash(ctx context.Context, hash string) ([]model.DecodedEvent, error) {
	return s.query(ctx, selectEvents+` WHERE lower(transaction_hash) = $1`+orderEvents+` LIMIT $2`,
		strings.ToLower(strings.TrimSpace(hash)), storage.MaxQueryLimit)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]model.DecodedEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]model.DecodedEvent, 0)
	for rows.Next() {
		var (
			event                          model.DecodedEvent
			logIndex, blockNumber, txIndex int64
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
			&event.DecodedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.LogIndex = uint64(logIndex)
		event.BlockNumber = uint64(blockNumber)
		event.TransactionIndex = uint64(txIndex)
		event.DecodedAt = event.DecodedAt.UTC()
		out = append(out, event)
	}
	return out, rows.Err()
}

// LoadCursor reads the cursor row for a source.
func (s *Store) LoadCursor(ctx context.Context, key model.SourceKey) (model.SyncCursor, bool, error) {
	cursor := model.NewCursor(key)
	var (
		rawBlock string
		status   string
		total    int64
	)
	row := s.pool.QueryRow(ctx, `
		SELECT last_processed_block::text, status, total_events_processed,
			last_synced_event_name, last_synced_transaction_hash, last_processed_block_hash,
			error_message, updated_at
		FROM sync_cursors WHERE source_type = $1 AND source_address = $2
	`, key.Type, key.Address)
	if err := row.Scan(
		&rawBlock,
		&status,
		&total,
		&cursor.LastSyncedEventName,
		&cursor.LastSyncedTransactionHash,
		&cursor.LastProcessedBlockHash,
		&cursor.ErrorMessage,
		&cursor.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SyncCursor{}, false, nil
		}
		return model.SyncCursor{}, false, fmt.Errorf("load cursor %s: %w", key, err)
	}

	block, ok := model.ParseBlockNumber(rawBlock)
	cursor.LastProcessedBlock = block
	cursor.Corrupt = !ok
	cursor.Status = model.ParseStatus(status)
	cursor.TotalEventsProcessed = uint64(total)
	return cursor, true, nil
}

// SaveCursor upserts the cursor row for a source.
func (s *Store) SaveCursor(ctx context.Context, cursor model.SyncCursor) error {
	updatedAt := cursor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (
			source_type, source_address, last_processed_block, status, total_events_processed,
			last_synced_event_name, last_synced_transaction_hash, last_processed_block_hash,
			error_message, updated_at
		) VALUES ($1, $2, CAST($3::text AS NUMERIC), $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source_type, source_address) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block,
			status = EXCLUDED.status,
			total_events_processed = EXCLUDED.total_events_processed,
			last_synced_event_name = EXCLUDED.last_synced_event_name,
			last_synced_transaction_hash = EXCLUDED.last_synced_transaction_hash,
			last_processed_block_hash = EXCLUDED.last_processed_block_hash,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
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
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", cursor.Key(), err)
	}
	return nil
}

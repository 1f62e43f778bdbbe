package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SyncStatus is the state of a sync session for one source.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "IDLE"
	StatusSyncing SyncStatus = "SYNCING"
	StatusSynced  SyncStatus = "SYNCED"
	StatusError   SyncStatus = "ERROR"
)

// SourceKey identifies a synced log source.
type SourceKey struct {
	Type    string `json:"source_type"`
	Address string `json:"source_address"`
}

func (k SourceKey) String() string {
	return k.Type + ":" + k.Address
}

// SyncCursor is the persisted progress of one source.
// LastProcessedBlock is the highest block whose events are all durably stored.
type SyncCursor struct {
	SourceType                string     `json:"source_type"`
	SourceAddress             string     `json:"source_address"`
	LastProcessedBlock        uint64     `json:"last_processed_block"`
	Status                    SyncStatus `json:"status"`
	TotalEventsProcessed      uint64     `json:"total_events_processed"`
	LastSyncedEventName       string     `json:"last_synced_event_name,omitempty"`
	LastSyncedTransactionHash string     `json:"last_synced_transaction_hash,omitempty"`
	LastProcessedBlockHash    string     `json:"last_processed_block_hash,omitempty"`
	ErrorMessage              string     `json:"error_message,omitempty"`
	UpdatedAt                 time.Time  `json:"updated_at"`

	// Corrupt is set by stores when the persisted block value could not be parsed.
	Corrupt bool `json:"-"`
}

// NewCursor returns the initial cursor for a source.
func NewCursor(key SourceKey) SyncCursor {
	return SyncCursor{
		SourceType:    key.Type,
		SourceAddress: key.Address,
		Status:        StatusIdle,
	}
}

// Key returns the source key of the cursor.
func (c SyncCursor) Key() SourceKey {
	return SourceKey{Type: c.SourceType, Address: c.SourceAddress}
}

// ParseBlockNumber parses a non-negative decimal block number.
func ParseBlockNumber(input string) (uint64, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, false
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	value, err := strconv.ParseUint(input, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseStatus converts a stored status string, defaulting unknown values to IDLE.
func ParseStatus(input string) SyncStatus {
	switch SyncStatus(strings.ToUpper(strings.TrimSpace(input))) {
	case StatusSyncing:
		return StatusSyncing
	case StatusSynced:
		return StatusSynced
	case StatusError:
		return StatusError
	default:
		return StatusIdle
	}
}

// FormatBlockNumber renders a block number the way stores persist it.
func FormatBlockNumber(block uint64) string {
	return fmt.Sprintf("%d", block)
}

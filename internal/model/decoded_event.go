package model

import (
	"fmt"
	"strings"
	"time"
)

// DecodedEvent is a named, typed representation of one raw log.
// Its natural key is (SourceAddress, TransactionHash, LogIndex).
type DecodedEvent struct {
	SourceAddress      string    `json:"source_address"`
	TransactionHash    string    `json:"transaction_hash"`
	BlockNumber        uint64    `json:"block_number"`
	BlockHash          string    `json:"block_hash"`
	TransactionIndex   uint64    `json:"transaction_index"`
	LogIndex           uint64    `json:"log_index"`
	EventName          string    `json:"event_name"`
	EventSignatureHash string    `json:"event_signature_hash"`
	ArgumentsJSON      string    `json:"arguments_json"`
	DecodedAt          time.Time `json:"decoded_at"`
}

// EventKey is the natural key of a DecodedEvent.
type EventKey struct {
	SourceAddress   string
	TransactionHash string
	LogIndex        uint64
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.SourceAddress, k.TransactionHash, k.LogIndex)
}

// Key returns the natural key with address and hash case-normalized.
func (e DecodedEvent) Key() EventKey {
	return EventKey{
		SourceAddress:   strings.ToLower(e.SourceAddress),
		TransactionHash: strings.ToLower(e.TransactionHash),
		LogIndex:        e.LogIndex,
	}
}

// SameContent reports whether two events carry the same decoded payload.
// DecodedAt is ignored.
func (e DecodedEvent) SameContent(other DecodedEvent) bool {
	return e.Key() == other.Key() &&
		e.BlockNumber == other.BlockNumber &&
		e.BlockHash == other.BlockHash &&
		e.TransactionIndex == other.TransactionIndex &&
		e.EventName == other.EventName &&
		e.EventSignatureHash == other.EventSignatureHash &&
		e.ArgumentsJSON == other.ArgumentsJSON
}

package model

import (
	"encoding/json"
	"strings"
)

// RawLog is the normalized representation of a chain log as returned by the log source.
// It is never persisted by the sync engine.
type RawLog struct {
	Address     string   `json:"address"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
}

// Topic0 returns the event signature topic, or an empty string for anonymous logs.
func (l RawLog) Topic0() string {
	if len(l.Topics) == 0 {
		return ""
	}
	return strings.ToLower(l.Topics[0])
}

// MarshalJSON ensures RawLog is encoded with stable field names.
func (l RawLog) MarshalJSON() ([]byte, error) {
	type Alias RawLog
	return json.Marshal(Alias(l))
}

// UnmarshalJSON decodes a RawLog from JSON.
func (l *RawLog) UnmarshalJSON(data []byte) error {
	type Alias RawLog
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*l = RawLog(a)
	return nil
}

package model

// Skip stages.
const (
	StageDecode = "decode"
	StageStore  = "store"
)

// DecodeError records a log that was skipped during a sync run.
type DecodeError struct {
	SourceType  string `json:"source_type"`
	Address     string `json:"address"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Topic0      string `json:"topic0"`
	Stage       string `json:"stage"`
	Error       string `json:"error"`
	RecordedAt  string `json:"recorded_at"`
}

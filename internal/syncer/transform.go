package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledgerSync/internal/chain"
	"ledgerSync/internal/decoder"
	"ledgerSync/internal/model"
)

var errRemovedLog = errors.New("log removed by reorg")

// BuildEvent combines a raw log with its decoded form.
// Addresses use checksum hex and hashes lowercase hex.
func BuildEvent(log model.RawLog, decoded decoder.Decoded, decodedAt time.Time) (model.DecodedEvent, error) {
	address, err := chain.NormalizeAddress(log.Address)
	if err != nil {
		return model.DecodedEvent{}, err
	}
	args := decoded.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return model.DecodedEvent{}, fmt.Errorf("marshal %s arguments: %w", decoded.Name, err)
	}

	return model.DecodedEvent{
		SourceAddress:      address,
		TransactionHash:    strings.ToLower(log.TxHash),
		BlockNumber:        log.BlockNumber,
		BlockHash:          strings.ToLower(log.BlockHash),
		TransactionIndex:   log.TxIndex,
		LogIndex:           log.LogIndex,
		EventName:          decoded.Name,
		EventSignatureHash: strings.ToLower(decoded.Signature),
		ArgumentsJSON:      string(argsJSON),
		DecodedAt:          decodedAt.UTC(),
	}, nil
}

package decoder

import (
	"errors"
	"fmt"
	"strings"
)

// SourceType selects the schema used to decode a source's logs.
type SourceType string

const (
	SourceDataRegistry SourceType = "data_registry"
	SourceERC20        SourceType = "erc20"
)

var (
	// ErrUnknownSourceType is returned for source types outside the known set.
	ErrUnknownSourceType = errors.New("unknown source type")
	// ErrUnknownEvent is returned when a log's topic0 does not match any event of the decoder.
	ErrUnknownEvent = errors.New("unknown event")
)

// SourceTypes lists every supported source type.
func SourceTypes() []SourceType {
	return []SourceType{SourceDataRegistry, SourceERC20}
}

// ParseSourceType normalizes and validates a source type identifier.
func ParseSourceType(input string) (SourceType, error) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for _, t := range SourceTypes() {
		if string(t) == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, input)
}

func (t SourceType) String() string {
	return string(t)
}

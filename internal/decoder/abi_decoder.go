package decoder

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"ledgerSync/internal/model"
)

// ABIDecoder decodes logs for any non-anonymous event of a contract ABI.
type ABIDecoder struct {
	sourceType  SourceType
	contractABI abi.ABI
	topicToName map[string]string
}

// NewABIDecoder builds a decoder from a parsed ABI and optional topic0 aliases.
func NewABIDecoder(sourceType SourceType, contractABI abi.ABI, cfg Config) (*ABIDecoder, error) {
	topicToName := make(map[string]string, len(contractABI.Events))
	for name, event := range contractABI.Events {
		if event.Anonymous {
			continue
		}
		topicToName[strings.ToLower(event.ID.Hex())] = name
	}

	for topic0, name := range cfg.Topic0Map {
		resolved := resolveEventName(contractABI, name)
		if resolved == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", name)
		}
		if topic0 == "" {
			continue
		}
		topicToName[strings.ToLower(topic0)] = resolved
	}

	return &ABIDecoder{
		sourceType:  sourceType,
		contractABI: contractABI,
		topicToName: topicToName,
	}, nil
}

// SourceType returns the source type served by this decoder.
func (d *ABIDecoder) SourceType() SourceType {
	return d.sourceType
}

// CanDecode checks if the topic0 is supported.
func (d *ABIDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode resolves the event by topic0 and formats its arguments.
func (d *ABIDecoder) Decode(log model.RawLog) (Decoded, error) {
	if len(log.Topics) == 0 {
		return Decoded{}, fmt.Errorf("%w: missing topics", ErrUnknownEvent)
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return Decoded{}, fmt.Errorf("%w: topic0 %s", ErrUnknownEvent, log.Topics[0])
	}
	event := d.contractABI.Events[name]

	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return Decoded{}, fmt.Errorf("%s: %w", name, err)
	}

	raw := make(map[string]interface{}, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(raw, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return Decoded{}, fmt.Errorf("%s: parse topics: %w", name, err)
	}
	if err := unpackNonIndexed(event, log.Data, raw); err != nil {
		return Decoded{}, err
	}

	args := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		args[key] = FormatValue(value)
	}
	return Decoded{
		Name:      name,
		Signature: strings.ToLower(event.ID.Hex()),
		Args:      args,
	}, nil
}

func resolveEventName(contractABI abi.ABI, name string) string {
	trimmed := strings.TrimSpace(name)
	for eventName := range contractABI.Events {
		if strings.EqualFold(eventName, trimmed) {
			return eventName
		}
	}
	return ""
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string, out map[string]interface{}) error {
	nonIndexed := event.Inputs.NonIndexed()
	if len(nonIndexed) == 0 {
		return nil
	}
	if dataHex == "" {
		dataHex = "0x"
	}
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return fmt.Errorf("%s: invalid data: %w", event.Name, err)
	}
	if err := nonIndexed.UnpackIntoMap(out, data); err != nil {
		return fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return nil
}

package decoder

import (
	"fmt"
	"sort"
	"sync"

	"ledgerSync/internal/model"
)

// Decoded is the result of decoding one raw log.
type Decoded struct {
	Name      string
	Signature string
	Args      map[string]interface{}
}

// Decoder turns raw logs of one source type into named events.
type Decoder interface {
	SourceType() SourceType
	CanDecode(topic0 string) bool
	Decode(log model.RawLog) (Decoded, error)
}

// Config configures decoder behavior.
type Config struct {
	// Topic0Map adds topic0 -> event name aliases on top of the ABI signatures.
	Topic0Map map[string]string
}

// Factory builds a decoder variant.
type Factory func(cfg Config) (Decoder, error)

// Registry resolves a source type to its decoder. Decoders are built once and cached.
type Registry struct {
	cfg       Config
	mu        sync.Mutex
	factories map[SourceType]Factory
	built     map[SourceType]Decoder
}

// NewRegistry returns a registry with every built-in variant registered.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		cfg:       cfg,
		factories: make(map[SourceType]Factory),
		built:     make(map[SourceType]Decoder),
	}
	r.factories[SourceDataRegistry] = NewDataRegistryDecoder
	r.factories[SourceERC20] = NewERC20Decoder
	return r
}

// Get returns the decoder for a source type.
func (r *Registry) Get(sourceType SourceType) (Decoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.built[sourceType]; ok {
		return d, nil
	}
	factory, ok := r.factories[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, string(sourceType))
	}
	d, err := factory(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s decoder: %w", sourceType, err)
	}
	r.built[sourceType] = d
	return d, nil
}

// Types returns the registered source types in sorted order.
func (r *Registry) Types() []SourceType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SourceType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

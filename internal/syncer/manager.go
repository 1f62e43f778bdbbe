package syncer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ledgerSync/internal/chain"
	"ledgerSync/internal/decoder"
	"ledgerSync/internal/model"
)

// EngineFactory builds the engine for a source.
type EngineFactory func(key model.SourceKey) (*Engine, error)

// Manager owns one engine per source, built on first use.
type Manager struct {
	defaultKey model.SourceKey
	factory    EngineFactory

	mu      sync.Mutex
	engines map[model.SourceKey]*Engine
}

// NewManager returns a manager whose default source is defaultKey.
func NewManager(defaultKey model.SourceKey, factory EngineFactory) *Manager {
	return &Manager{
		defaultKey: defaultKey,
		factory:    factory,
		engines:    make(map[model.SourceKey]*Engine),
	}
}

// DefaultKey returns the configured default source.
func (m *Manager) DefaultKey() model.SourceKey {
	return m.defaultKey
}

// Resolve turns optional request parameters into a source key. Empty values fall back to the default source.
func (m *Manager) Resolve(sourceType, address string) (model.SourceKey, error) {
	key := m.defaultKey
	if strings.TrimSpace(sourceType) != "" {
		parsed, err := decoder.ParseSourceType(sourceType)
		if err != nil {
			return model.SourceKey{}, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		key.Type = string(parsed)
	}
	if strings.TrimSpace(address) != "" {
		normalized, err := chain.NormalizeAddress(address)
		if err != nil {
			return model.SourceKey{}, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		key.Address = normalized
	}
	if key.Address == "" {
		return model.SourceKey{}, configError("source address is required")
	}
	return key, nil
}

// Default returns the engine for the default source.
func (m *Manager) Default() (*Engine, error) {
	return m.Engine(m.defaultKey)
}

// Engine returns the engine for key, building it if needed.
func (m *Manager) Engine(key model.SourceKey) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if engine, ok := m.engines[key]; ok {
		return engine, nil
	}
	if m.factory == nil {
		return nil, errors.New("engine factory is nil")
	}
	engine, err := m.factory(key)
	if err != nil {
		return nil, fmt.Errorf("build engine for %s: %w", key, err)
	}
	m.engines[key] = engine
	return engine, nil
}

// Sources lists the sources with a built engine.
func (m *Manager) Sources() []model.SourceKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.SourceKey, 0, len(m.engines))
	for key := range m.engines {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

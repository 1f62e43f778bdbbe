package syncer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"ledgerSync/internal/decoder"
	"ledgerSync/internal/model"
	"ledgerSync/internal/storage"
)

const testAddress = "0x1111111111111111111111111111111111111111"

var testKey = model.SourceKey{Type: string(decoder.SourceERC20), Address: testAddress}

type fakeSource struct {
	mu       sync.Mutex
	head     uint64
	headErr  error
	logsFunc func(from, to uint64) ([]model.RawLog, error)
	windows  []Window
	fetches  int
}

func (s *fakeSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headErr != nil {
		return 0, s.headErr
	}
	return s.head, nil
}

func (s *fakeSource) FetchLogs(ctx context.Context, address string, from, to uint64) ([]model.RawLog, error) {
	s.mu.Lock()
	s.fetches++
	s.windows = append(s.windows, Window{From: from, To: to})
	fn := s.logsFunc
	s.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(from, to)
}

func (s *fakeSource) setHead(head uint64) {
	s.mu.Lock()
	s.head = head
	s.mu.Unlock()
}

type recordedSkips struct {
	mu      sync.Mutex
	records []model.DecodeError
}

func (r *recordedSkips) RecordSkip(ctx context.Context, record model.DecodeError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

// failingEvents rejects events whose log index is in failOn.
type failingEvents struct {
	storage.EventStore
	failOn map[uint64]bool
}

func (f *failingEvents) StoreEvent(ctx context.Context, event model.DecodedEvent) error {
	if f.failOn[event.LogIndex] {
		return errors.New("disk full")
	}
	return f.EventStore.StoreEvent(ctx, event)
}

func testConfig() Config {
	return Config{
		Source:           testKey,
		MaxBlocksPerSync: 100,
		Retry:            RetryPolicy{Attempts: 3, Delay: time.Millisecond, Strategy: RetryFixed},
	}
}

func newTestEngine(t *testing.T, cfg Config, source LogSource, events storage.EventStore, cursors storage.CursorStore, opts ...Option) *Engine {
	t.Helper()
	dec, err := decoder.NewERC20Decoder(decoder.Config{})
	require.NoError(t, err)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return clock })}, opts...)
	engine, err := NewEngine(cfg, source, dec, events, cursors, nil, opts...)
	require.NoError(t, err)
	return engine
}

// transferLog builds an ERC20 Transfer log at block with a unique tx hash.
func transferLog(t *testing.T, block, logIndex uint64) model.RawLog {
	t.Helper()
	erc20, err := decoder.ERC20ABI()
	require.NoError(t, err)
	event := erc20.Events["Transfer"]
	data, err := event.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(block*10 + logIndex))
	require.NoError(t, err)

	from := common.BytesToHash(common.LeftPadBytes(common.HexToAddress("0x02").Bytes(), 32))
	to := common.BytesToHash(common.LeftPadBytes(common.HexToAddress("0x03").Bytes(), 32))
	return model.RawLog{
		Address:     testAddress,
		BlockNumber: block,
		BlockHash:   fmt.Sprintf("0x%064x", block),
		TxHash:      fmt.Sprintf("0x%064X", block*1000+logIndex),
		LogIndex:    logIndex,
		Topics:      []string{event.ID.Hex(), from.Hex(), to.Hex()},
		Data:        hexutil.Encode(data),
	}
}

// unknownLog builds a log the ERC20 decoder cannot resolve.
func unknownLog(block, logIndex uint64) model.RawLog {
	return model.RawLog{
		Address:     testAddress,
		BlockNumber: block,
		BlockHash:   fmt.Sprintf("0x%064x", block),
		TxHash:      fmt.Sprintf("0x%064x", block*1000+logIndex),
		LogIndex:    logIndex,
		Topics:      []string{common.HexToHash("0xdead").Hex()},
		Data:        "0x",
	}
}

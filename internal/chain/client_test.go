package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type fakeEth struct {
	chainID uint64
	head    uint64
}

func (f *fakeEth) ChainId() *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).SetUint64(f.chainID))
}

func (f *fakeEth) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(f.head)
}

func newInProcClient(t *testing.T, svc *fakeEth, opts Options) *Client {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("eth", svc); err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(server.Stop)
	client := newClient(rpc.DialInProc(server), opts)
	t.Cleanup(client.Close)
	return client
}

func TestClientReadsChainIDAndHead(t *testing.T) {
	client := newInProcClient(t, &fakeEth{chainID: 11155111, head: 4242}, Options{RateLimit: 100, Burst: 2})
	ctx := context.Background()

	id, err := client.GetChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id.Uint64() != 11155111 {
		t.Fatalf("unexpected chain id %s", id)
	}

	head, err := client.LatestBlockNumber(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 4242 {
		t.Fatalf("unexpected head %d", head)
	}
}

func TestClientHonorsCanceledContext(t *testing.T) {
	client := newInProcClient(t, &fakeEth{chainID: 1}, Options{RateLimit: 0.001, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := client.GetChainID(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	cancel()
	if _, err := client.GetChainID(ctx); err == nil {
		t.Fatalf("expected error once the limiter must wait on a canceled context")
	}
}

package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"ledgerSync/internal/model"
)

// Options configures the chain client.
type Options struct {
	// RateLimit is the maximum number of RPC calls per second. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// Client wraps go-ethereum RPC and provides the log source used by the sync engine.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	limiter   *rate.Limiter
}

// NewClient creates a new chain client from the RPC URL.
// Websocket URLs also support log subscriptions.
func NewClient(ctx context.Context, rpcURL string, opts Options) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return newClient(rpcClient, opts), nil
}

func newClient(rpcClient *rpc.Client, opts Options) *Client {
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		limiter:   limiter,
	}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.ethClient.BlockNumber(ctx)
}

// FetchLogs returns the logs emitted by address in the inclusive block range,
// ordered by block number then log index.
func (c *Client) FetchLogs(ctx context.Context, address string, fromBlock, toBlock uint64) ([]model.RawLog, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{addr},
	}
	logs, err := c.ethClient.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", fromBlock, toBlock, err)
	}

	out := make([]model.RawLog, 0, len(logs))
	for _, log := range logs {
		out = append(out, ToRawLog(log))
	}
	SortRawLogs(out)
	return out, nil
}

// SubscribeLogs streams new logs emitted by address. It requires a websocket or IPC endpoint.
func (c *Client) SubscribeLogs(ctx context.Context, address string, ch chan<- types.Log) (ethereum.Subscription, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	query := ethereum.FilterQuery{Addresses: []common.Address{addr}}
	return c.ethClient.SubscribeFilterLogs(ctx, query, ch)
}

// Package chain provides the go-ethereum-backed JSON-RPC transport used
// underneath the rpc request queue. It never retries or memoizes — that
// is rpcqueue's job; this package only talks to the network.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// Client talks to one EVM-compatible network over HTTP (and, optionally,
// WebSocket for head subscriptions).
type Client struct {
	rpc     *gethrpc.Client
	eth     *ethclient.Client
	ws      *ethclient.Client
	chainID *big.Int
	logger  zerolog.Logger
}

// New dials httpURL (and optionally wsURL) and verifies the chain ID.
func New(httpURL, wsURL string, chainID int64, logger zerolog.Logger) (*Client, error) {
	rawClient, err := gethrpc.Dial(httpURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", httpURL, err)
	}
	ethClient := ethclient.NewClient(rawClient)

	var wsClient *ethclient.Client
	if wsURL != "" {
		wsClient, err = ethclient.Dial(wsURL)
		if err != nil {
			logger.Warn().Err(err).Str("ws_url", wsURL).Msg("websocket dial failed, continuing with polling only")
			wsClient = nil
		}
	}

	actual, err := ethClient.ChainID(context.Background())
	if err != nil {
		rawClient.Close()
		return nil, fmt.Errorf("chain: get chain id: %w", err)
	}
	want := big.NewInt(chainID)
	if actual.Cmp(want) != 0 {
		rawClient.Close()
		return nil, fmt.Errorf("chain: id mismatch: configured %d, rpc reports %d", chainID, actual)
	}

	return &Client{rpc: rawClient, eth: ethClient, ws: wsClient, chainID: want, logger: logger}, nil
}

func (c *Client) ChainID() uint64 { return c.chainID.Uint64() }

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	return c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
}

func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	return c.eth.BlockByHash(ctx, hash)
}

func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
}

// LatestHeader fetches the chain head header, used by realtime sync's poll
// loop in place of a full block body.
func (c *Client) LatestHeader(ctx context.Context) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, nil)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, q)
}

// CallTraceResult mirrors the subset of a trace_filter result this engine
// persists (spec.md §3 CallTrace entity).
type CallTraceResult struct {
	Action struct {
		From     common.Address `json:"from"`
		To       common.Address `json:"to"`
		Input    string          `json:"input"`
		Value    string          `json:"value"`
		Gas      string          `json:"gas"`
		CallType string          `json:"callType"`
	} `json:"action"`
	Result struct {
		Output  string `json:"output"`
		GasUsed string `json:"gasUsed"`
	} `json:"result"`
	Subtraces           int    `json:"subtraces"`
	TraceAddress        []int  `json:"traceAddress"`
	TransactionHash      common.Hash `json:"transactionHash"`
	TransactionPosition  uint        `json:"transactionPosition"`
	BlockNumber          uint64      `json:"blockNumber"`
	Type                string `json:"type"`
	Error               string `json:"error,omitempty"`
}

// TraceFilter issues a trace_filter RPC call over [fromBlock, toBlock].
func (c *Client) TraceFilter(ctx context.Context, fromBlock, toBlock uint64, toAddresses, fromAddresses []common.Address) ([]CallTraceResult, error) {
	params := map[string]any{
		"fromBlock": hexUint(fromBlock),
		"toBlock":   hexUint(toBlock),
	}
	if len(toAddresses) > 0 {
		params["toAddress"] = toAddresses
	}
	if len(fromAddresses) > 0 {
		params["fromAddress"] = fromAddresses
	}

	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, "trace_filter", params); err != nil {
		return nil, err
	}
	var out []CallTraceResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("chain: decode trace_filter result: %w", err)
	}
	return out, nil
}

// Send issues an arbitrary JSON-RPC call, used by rpcqueue's generic path.
func (c *Client) Send(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

// SubscribeNewHead subscribes to new block headers; returns an error if no
// WebSocket endpoint was configured.
func (c *Client) SubscribeNewHead(ctx context.Context) (chan *types.Header, ethereum.Subscription, error) {
	if c.ws == nil {
		return nil, nil, fmt.Errorf("chain: no websocket endpoint configured")
	}
	headers := make(chan *types.Header)
	sub, err := c.ws.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, nil, err
	}
	return headers, sub, nil
}

func (c *Client) Close() {
	c.rpc.Close()
	if c.ws != nil {
		c.ws.Close()
	}
}

func hexUint(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

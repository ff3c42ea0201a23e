// Package rpcqueue is the per-network bounded-concurrency dispatcher for
// chain RPC calls (spec.md §4.1): it bounds how many requests are
// in-flight at once, retries transient failures with backoff, and
// memoizes completed responses so repeated historical passes over the
// same block don't re-issue the same call.
package rpcqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/chainindex/syncengine/internal/chain"
)

// Memo memoizes completed RPC responses, keyed by (request signature,
// chain, block number) so a reorg-triggered prune can invalidate rows
// above a given block (spec.md §4.1). Implemented by the raw store.
type Memo interface {
	GetRpcRequestResult(ctx context.Context, chainID, blockNumber uint64, request string) (string, bool, error)
	InsertRpcRequestResult(ctx context.Context, chainID, blockNumber uint64, request, result string) error
}

const defaultMaxConcurrency = 10

var queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "chainindex_rpcqueue_inflight",
	Help: "Number of in-flight RPC requests per network",
}, []string{"network"})

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainindex_rpcqueue_requests_total",
	Help: "Total RPC requests issued, by method and outcome",
}, []string{"network", "method", "outcome"})

// Queue is a per-network bounded-concurrency RPC dispatcher.
type Queue struct {
	network string
	client  *chain.Client
	memo    Memo
	local   *LocalCache
	sem     chan struct{}
	logger  zerolog.Logger
}

// WithLocalCache attaches a process-local bbolt memo consulted before memo,
// bounding duplicate RPC traffic within one process lifetime even before
// the DB round-trip.
func (q *Queue) WithLocalCache(c *LocalCache) *Queue {
	q.local = c
	return q
}

// Config configures a Queue.
type Config struct {
	Network                  string
	MaxRpcRequestConcurrency int
}

// New creates a request queue over client, optionally memoizing completed
// responses through memo (nil disables memoization).
func New(client *chain.Client, memo Memo, cfg Config, logger zerolog.Logger) *Queue {
	max := cfg.MaxRpcRequestConcurrency
	if max <= 0 {
		max = defaultMaxConcurrency
	}
	return &Queue{
		network: cfg.Network,
		client:  client,
		memo:    memo,
		sem:     make(chan struct{}, max),
		logger:  logger.With().Str("component", "rpcqueue").Str("network", cfg.Network).Logger(),
	}
}

func (q *Queue) acquire() { q.sem <- struct{}{}; queueDepth.WithLabelValues(q.network).Inc() }
func (q *Queue) release() { <-q.sem; queueDepth.WithLabelValues(q.network).Dec() }

// retry runs fn under the bounded semaphore with exponential backoff,
// stopping immediately on non-retryable errors.
func (q *Queue) retry(ctx context.Context, method string, fn func() error) error {
	q.acquire()
	defer q.release()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute
	boCtx := backoff.WithContext(bo, ctx)

	op := func() error {
		err := fn()
		if err == nil {
			requestsTotal.WithLabelValues(q.network, method, "ok").Inc()
			return nil
		}
		classified := classify(method, err)
		if !isRetryable(classified) {
			requestsTotal.WithLabelValues(q.network, method, "nonretryable").Inc()
			return backoff.Permanent(classified)
		}
		requestsTotal.WithLabelValues(q.network, method, "retry").Inc()
		q.logger.Warn().Err(classified).Str("method", method).Msg("retrying rpc call")
		return classified
	}

	if err := backoff.Retry(op, boCtx); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return perm.Err
		}
		requestsTotal.WithLabelValues(q.network, method, "exhausted").Inc()
		return fmt.Errorf("rpcqueue: %s: retries exhausted: %w", method, err)
	}
	return nil
}

// GetBlockByNumber fetches a block, memoizing nothing (blocks are cached
// by the raw store directly).
func (q *Queue) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := q.retry(ctx, "eth_getBlockByNumber", func() error {
		var innerErr error
		block, innerErr = q.client.BlockByNumber(ctx, number)
		return innerErr
	})
	return block, err
}

// GetBlockByHash fetches a block by hash.
func (q *Queue) GetBlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	var block *types.Block
	err := q.retry(ctx, "eth_getBlockByHash", func() error {
		var innerErr error
		block, innerErr = q.client.BlockByHash(ctx, hash)
		return innerErr
	})
	return block, err
}

// GetLogs issues eth_getLogs, memoized by (query, chain, toBlock).
func (q *Queue) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	key := requestKey("eth_getLogs", query)
	blockNumber := uint64(0)
	if query.ToBlock != nil {
		blockNumber = query.ToBlock.Uint64()
	}

	if cached, ok, err := q.lookupMemo(ctx, blockNumber, key); err != nil {
		return nil, err
	} else if ok {
		var logs []types.Log
		if err := json.Unmarshal([]byte(cached), &logs); err == nil {
			return logs, nil
		}
	}

	var logs []types.Log
	err := q.retry(ctx, "eth_getLogs", func() error {
		var innerErr error
		logs, innerErr = q.client.FilterLogs(ctx, query)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	q.storeMemo(ctx, blockNumber, key, logs)
	return logs, nil
}

// GetLatestHeader fetches the chain head header.
func (q *Queue) GetLatestHeader(ctx context.Context) (*types.Header, error) {
	var header *types.Header
	err := q.retry(ctx, "eth_getBlockByNumber", func() error {
		var innerErr error
		header, innerErr = q.client.LatestHeader(ctx)
		return innerErr
	})
	return header, err
}

// GetHeaderByNumber fetches a single header, used by realtime sync's reorg
// verification so a poll need not pull full block bodies.
func (q *Queue) GetHeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	var header *types.Header
	err := q.retry(ctx, "eth_getBlockByNumber", func() error {
		var innerErr error
		header, innerErr = q.client.HeaderByNumber(ctx, number)
		return innerErr
	})
	return header, err
}

// SubscribeNewHead opens a push subscription for new chain heads over the
// client's WebSocket endpoint, bypassing the request queue entirely: this
// is a long-lived stream, not a retryable one-shot call. Returns an error
// if no WebSocket endpoint was configured, in which case the caller should
// fall back to polling.
func (q *Queue) SubscribeNewHead(ctx context.Context) (chan *types.Header, ethereum.Subscription, error) {
	return q.client.SubscribeNewHead(ctx)
}

// GetTransactionReceipt fetches a transaction receipt by tx hash. Receipts
// are not memoized; every call goes to the RPC endpoint.
func (q *Queue) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := q.retry(ctx, "eth_getTransactionReceipt", func() error {
		var innerErr error
		receipt, innerErr = q.client.TransactionReceipt(ctx, txHash)
		return innerErr
	})
	return receipt, err
}

// TraceFilter issues trace_filter over [fromBlock, toBlock].
func (q *Queue) TraceFilter(ctx context.Context, fromBlock, toBlock uint64, toAddresses, fromAddresses []common.Address) ([]chain.CallTraceResult, error) {
	var traces []chain.CallTraceResult
	err := q.retry(ctx, "trace_filter", func() error {
		var innerErr error
		traces, innerErr = q.client.TraceFilter(ctx, fromBlock, toBlock, toAddresses, fromAddresses)
		return innerErr
	})
	return traces, err
}

// Send issues a generic JSON-RPC call, memoized by (method+params, block).
func (q *Queue) Send(ctx context.Context, blockNumber uint64, method string, params ...any) (json.RawMessage, error) {
	key := requestKey(method, params)
	if cached, ok, err := q.lookupMemo(ctx, blockNumber, key); err != nil {
		return nil, err
	} else if ok {
		return json.RawMessage(cached), nil
	}

	var raw json.RawMessage
	err := q.retry(ctx, method, func() error {
		var innerErr error
		raw, innerErr = q.client.Send(ctx, method, params...)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	q.storeMemo(ctx, blockNumber, key, raw)
	return raw, nil
}

// ChainID returns the network's chain ID.
func (q *Queue) ChainID() uint64 { return q.client.ChainID() }

func (q *Queue) lookupMemo(ctx context.Context, blockNumber uint64, key string) (string, bool, error) {
	if q.local != nil {
		if value, ok := q.local.Get(q.client.ChainID(), blockNumber, key); ok {
			return value, true, nil
		}
	}
	if q.memo == nil {
		return "", false, nil
	}
	return q.memo.GetRpcRequestResult(ctx, q.client.ChainID(), blockNumber, key)
}

func (q *Queue) storeMemo(ctx context.Context, blockNumber uint64, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if q.local != nil {
		q.local.Put(q.client.ChainID(), blockNumber, key, string(data))
	}
	if q.memo == nil {
		return
	}
	if err := q.memo.InsertRpcRequestResult(ctx, q.client.ChainID(), blockNumber, key, string(data)); err != nil {
		q.logger.Debug().Err(err).Msg("failed to memoize rpc result")
	}
}

func requestKey(method string, params any) string {
	data, _ := json.Marshal(params)
	sum := sha256.Sum256(append([]byte(method+":"), data...))
	return method + ":" + hex.EncodeToString(sum[:16])
}

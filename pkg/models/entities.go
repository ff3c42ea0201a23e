package models

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Block is the raw sync store's persisted representation of a block
// header, keyed by hash (spec.md §3).
type Block struct {
	Hash       common.Hash
	ChainID    uint64
	Number     uint64
	ParentHash common.Hash
	Timestamp  uint64
	Nonce      uint64
	GasLimit   uint64
	GasUsed    uint64
	BaseFee    *big.Int
	Miner      common.Address
	StateRoot  common.Hash
	TxRoot     common.Hash
}

// Transaction is keyed by hash.
type Transaction struct {
	Hash             common.Hash
	ChainID          uint64
	BlockHash        common.Hash
	BlockNumber      uint64
	TransactionIndex uint
	From             common.Address
	To               *common.Address
	Value            *big.Int
	GasLimit         uint64
	GasPrice         *big.Int
	Input            []byte
	Nonce            uint64
}

// TransactionReceipt is keyed by transaction hash.
type TransactionReceipt struct {
	TransactionHash common.Hash
	ChainID         uint64
	BlockHash       common.Hash
	BlockNumber     uint64
	Status          uint64
	GasUsed         uint64
	CumulativeGas   uint64
	ContractAddress *common.Address
	LogsBloom       []byte
}

// Log is keyed by a synthesized id `chainId:blockNumber:logIndex`.
type Log struct {
	ID               string
	ChainID          uint64
	BlockHash        common.Hash
	BlockNumber      uint64
	TransactionHash  common.Hash
	TransactionIndex uint
	LogIndex         uint
	Address          common.Address
	Topic0           *common.Hash
	Topic1           *common.Hash
	Topic2           *common.Hash
	Topic3           *common.Hash
	Data             []byte
	Checkpoint       string
}

// LogID synthesizes the natural key of a log row.
func LogID(chainID, blockNumber uint64, logIndex uint) string {
	return formatTriple(chainID, blockNumber, uint64(logIndex))
}

// CallTrace is keyed from `transactionHash + traceAddress`.
type CallTrace struct {
	ID                 string
	ChainID            uint64
	BlockNumber        uint64
	TransactionHash    common.Hash
	TransactionPosition uint
	TraceAddress       []int
	From               common.Address
	To                 common.Address
	Input              []byte
	Output             []byte
	Value              *big.Int
	Gas                uint64
	GasUsed            uint64
	Subtraces          int
	CallType           string
	Error              string
	Checkpoint         string
}

// CallTraceID synthesizes the natural key of a call trace row.
func CallTraceID(txHash common.Hash, traceAddress []int) string {
	var b strings.Builder
	b.WriteString(txHash.Hex())
	for _, n := range traceAddress {
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// RpcRequestResult memoizes a JSON-RPC response keyed by the request
// signature, chain and block number, so it can be pruned on reorg.
type RpcRequestResult struct {
	Request     string
	ChainID     uint64
	BlockNumber uint64
	Result      string
}

func formatTriple(a, b, c uint64) string {
	return strconv.FormatUint(a, 10) + ":" + strconv.FormatUint(b, 10) + ":" + strconv.FormatUint(c, 10)
}

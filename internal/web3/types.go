package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the subset of an Ethereum JSON-RPC client needed to read
// contracts, scan logs and submit signed transactions. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ChainSnapshot summarises the live state of a network.
type ChainSnapshot struct {
	Chain       string `json:"chain"`
	ChainID     int64  `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
	GasPrice    string `json:"gasPrice"`
}

// TransactionInfo is a JSON friendly view of a transaction and, once mined,
// its receipt.
type TransactionInfo struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to,omitempty"`
	Value       string `json:"value"`
	Nonce       uint64 `json:"nonce"`
	Gas         uint64 `json:"gas"`
	GasPrice    string `json:"gasPrice"`
	Input       string `json:"input"`
	Pending     bool   `json:"pending"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Status      string `json:"status,omitempty"`
	GasUsed     uint64 `json:"gasUsed,omitempty"`
	LogCount    int    `json:"logCount,omitempty"`
}

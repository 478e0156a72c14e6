package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	// ChainID, when non-zero, is checked against the node on first use.
	ChainID int64
}

// Reader is the chain access required by Client. *ethclient.Client and
// simulated.Client both implement it.
type Reader interface {
	web3.Backend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*coretypes.Transaction, bool, error)
}

// Client wraps a JSON-RPC connection to one EVM network.
type Client struct {
	name       string
	expectedID int64
	rpcClient  *gethrpc.Client
	backend    Reader

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("链 %s 未配置 RPC 地址", cfg.Name)
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, fmt.Sprintf("连接节点 %s 失败", cfg.Name))
	}
	return &Client{
		name:       cfg.Name,
		expectedID: cfg.ChainID,
		rpcClient:  rpcClient,
		backend:    ethclient.NewClient(rpcClient),
	}, nil
}

// NewFromBackend wraps an existing backend, typically a simulated chain in
// tests.
func NewFromBackend(name string, backend Reader) *Client {
	return &Client{name: name, backend: backend}
}

// Name returns the chain key the client was created for.
func (c *Client) Name() string { return c.name }

// Backend exposes the client to the contract wrappers.
func (c *Client) Backend() web3.Backend { return c.backend }

// Close releases the RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID returns the network id, cached after the first successful call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	if c.expectedID != 0 && id.Int64() != c.expectedID {
		return nil, xerrors.New(xerrors.CodeChainFailure,
			fmt.Sprintf("链 %s 的节点返回链 ID %s，期望 %d", c.name, id, c.expectedID))
	}
	c.chainID = id
	return new(big.Int).Set(id), nil
}

// Snapshot gathers lightweight metadata from the chain.
func (c *Client) Snapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	id, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	block, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取最新区块高度失败")
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取 gas 价格失败")
	}
	return web3.ChainSnapshot{
		Chain:       c.name,
		ChainID:     id.Int64(),
		BlockNumber: block,
		GasPrice:    gasPrice.String(),
	}, nil
}

// Balance returns the native balance of address in wei.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid address %q", address))
	}
	balance, err := c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
	}
	return balance, nil
}

// txIndexing reports the error a node returns while its transaction index is
// still being built; the lookup is answered as not found.
func txIndexing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "transaction indexing is in progress")
}

// Transaction looks up a transaction and, when mined, its receipt.
func (c *Client) Transaction(ctx context.Context, hash string) (web3.TransactionInfo, error) {
	raw, err := hexutil.Decode(hash)
	if err != nil || len(raw) != common.HashLength {
		return web3.TransactionInfo{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid transaction hash %q", hash))
	}
	txHash := common.BytesToHash(raw)

	tx, pending, err := c.backend.TransactionByHash(ctx, txHash)
	if errors.Is(err, gethcore.NotFound) || txIndexing(err) {
		return web3.TransactionInfo{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("transaction %s not found on %s", hash, c.name))
	}
	if err != nil {
		return web3.TransactionInfo{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询交易失败")
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.TransactionInfo{}, err
	}
	info := web3.TransactionInfo{
		Hash:     tx.Hash().Hex(),
		Value:    tx.Value().String(),
		Nonce:    tx.Nonce(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice().String(),
		Input:    hexutil.Encode(tx.Data()),
		Pending:  pending,
	}
	if sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(chainID), tx); err == nil {
		info.From = sender.Hex()
	}
	if to := tx.To(); to != nil {
		info.To = to.Hex()
	}
	if pending {
		return info, nil
	}

	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			info.Pending = true
			return info, nil
		}
		return web3.TransactionInfo{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询交易回执失败")
	}
	info.BlockNumber = receipt.BlockNumber.Uint64()
	info.GasUsed = receipt.GasUsed
	info.LogCount = len(receipt.Logs)
	info.Status = "reverted"
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		info.Status = "success"
	}
	return info, nil
}

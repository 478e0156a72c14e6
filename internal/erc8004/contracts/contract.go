package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/web3"
)

// CodeTransactionReverted marks a mined transaction with a failed status.
const CodeTransactionReverted xerrors.Code = "TRANSACTION_REVERTED"

func init() {
	xerrors.Register(CodeTransactionReverted, xerrors.Attributes{
		Message:    "transaction reverted",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
}

// ReceiptPollInterval is how often Transact polls for a receipt.
var ReceiptPollInterval = time.Second

// gasHeadroom pads EstimateGas results by this percentage.
const gasHeadroom = 20

// Contract is a deployed contract reachable through a backend.
type Contract struct {
	Address common.Address
	ABI     abi.ABI
	backend web3.Backend
}

// New binds parsed to address on backend.
func New(backend web3.Backend, address string, parsed abi.ABI) *Contract {
	return &Contract{Address: common.HexToAddress(address), ABI: parsed, backend: backend}
}

// Backend returns the backend the contract is bound to.
func (c *Contract) Backend() web3.Backend { return c.backend }

// Call executes a read-only method against the latest block.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("encode %s", method))
	}
	to := c.Address
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, fmt.Sprintf("call %s", method))
	}
	if len(out) == 0 {
		return nil, xerrors.New(xerrors.CodeChainFailure, fmt.Sprintf("call %s returned no data", method))
	}
	values, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, fmt.Sprintf("decode %s", method))
	}
	return values, nil
}

// Transact signs, sends and waits for a state-changing call. A receipt with
// a failed status is returned together with a TRANSACTION_REVERTED error.
func (c *Contract) Transact(ctx context.Context, signer *Signer, method string, args ...any) (*types.Receipt, error) {
	if signer == nil {
		return nil, xerrors.New(CodePrivateKeyRequired, "")
	}
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("encode %s", method))
	}
	tx, err := c.send(ctx, signer, data)
	if err != nil {
		return nil, err
	}
	receipt, err := WaitMined(ctx, c.backend, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, xerrors.New(CodeTransactionReverted, fmt.Sprintf("%s transaction %s reverted", method, tx.Hash().Hex()))
	}
	return receipt, nil
}

func (c *Contract) send(ctx context.Context, signer *Signer, data []byte) (*types.Transaction, error) {
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "get chain id")
	}

	signer.mu.Lock()
	defer signer.mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, signer.Address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "get nonce")
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "get gas price")
	}
	to := c.Address
	gas, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{From: signer.Address, To: &to, Data: data})
	if err != nil {
		return nil, xerrors.Wrap(CodeTransactionReverted, err, "estimate gas")
	}
	gas += gas * gasHeadroom / 100

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), signer.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "sign transaction")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "send transaction")
	}
	return signed, nil
}

// WaitMined polls for the receipt of hash until it exists or ctx ends.
func WaitMined(ctx context.Context, backend web3.Backend, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(ReceiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "get receipt")
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), fmt.Sprintf("waiting for %s", hash.Hex()))
		case <-ticker.C:
		}
	}
}

// FilterEvents returns logs of the named event emitted by the contract.
// topics holds optional values for the indexed arguments in order; a nil
// entry matches anything.
func (c *Contract) FilterEvents(ctx context.Context, event string, fromBlock, toBlock *big.Int, topics ...[]common.Hash) ([]types.Log, error) {
	ev, ok := c.ABI.Events[event]
	if !ok {
		return nil, fmt.Errorf("unknown event %s", event)
	}
	query := gethcore.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{c.Address},
		Topics:    append([][]common.Hash{{ev.ID}}, topics...),
	}
	logs, err := c.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, fmt.Sprintf("filter %s logs", event))
	}
	return logs, nil
}

// IsEvent reports whether log was emitted by this contract for event.
func (c *Contract) IsEvent(log types.Log, event string) bool {
	ev, ok := c.ABI.Events[event]
	return ok && log.Address == c.Address && len(log.Topics) > 0 && log.Topics[0] == ev.ID
}

// UnpackEventData decodes the non-indexed arguments of event.
func (c *Contract) UnpackEventData(event string, data []byte) ([]any, error) {
	ev, ok := c.ABI.Events[event]
	if !ok {
		return nil, fmt.Errorf("unknown event %s", event)
	}
	return ev.Inputs.NonIndexed().Unpack(data)
}

// AddressTopic left-pads an address into a topic value.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

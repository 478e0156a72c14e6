// Package erc8004test provides an in-memory chain that executes the
// ERC-8004 registry and ERC-20 ABIs, for tests of packages that talk to
// the registries through a web3.Backend.
package erc8004test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004/contracts"
)

// GenesisTime is the timestamp of block zero; each block adds 12 seconds.
const GenesisTime = 1_700_000_000

type agent struct {
	owner    common.Address
	uri      string
	metadata map[string][]byte
}

type feedback struct {
	reviewer  common.Address
	score     int8
	comment   string
	timestamp uint64
}

type validation struct {
	validator common.Address
	data      []byte
	timestamp uint64
}

type token struct {
	name     string
	symbol   string
	decimals uint8
	balances map[common.Address]*big.Int
}

// Chain implements web3.Backend and ethereum.Reader.
type Chain struct {
	mu sync.Mutex

	chainID    *big.Int
	block      uint64
	identity   common.Address
	reputation common.Address
	validation common.Address

	agents      map[uint64]*agent
	nextAgent   uint64
	feedback    map[uint64][]feedback
	validations map[uint64]map[string]validation
	tokens      map[common.Address]*token
	native      map[common.Address]*big.Int
	nonces      map[common.Address]uint64

	logs     []types.Log
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	failures map[string]func(args []any) error
}

// New creates a chain using the registry addresses of cfg.
func New(cfg chains.Chain) *Chain {
	c := &Chain{
		chainID:     big.NewInt(cfg.ChainID),
		block:       100,
		identity:    common.HexToAddress(cfg.Contracts.Identity),
		agents:      make(map[uint64]*agent),
		nextAgent:   1,
		feedback:    make(map[uint64][]feedback),
		validations: make(map[uint64]map[string]validation),
		tokens:      make(map[common.Address]*token),
		native:      make(map[common.Address]*big.Int),
		nonces:      make(map[common.Address]uint64),
		txs:         make(map[common.Hash]*types.Transaction),
		receipts:    make(map[common.Hash]*types.Receipt),
		failures:    make(map[string]func(args []any) error),
	}
	if cfg.Contracts.Reputation != "" {
		c.reputation = common.HexToAddress(cfg.Contracts.Reputation)
	}
	if cfg.Contracts.Validation != "" {
		c.validation = common.HexToAddress(cfg.Contracts.Validation)
	}
	return c
}

// Fail makes every read of the ABI method name return err. A nil err
// clears the failure.
func (c *Chain) Fail(method string, err error) {
	if err == nil {
		c.FailWhen(method, nil)
		return
	}
	c.FailWhen(method, func([]any) error { return err })
}

// FailWhen fails reads of method whenever fn returns a non-nil error for
// the decoded call arguments. A nil fn clears the failure.
func (c *Chain) FailWhen(method string, fn func(args []any) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.failures, method)
		return
	}
	c.failures[method] = fn
}

// Mine advances the head by n empty blocks.
func (c *Chain) Mine(n uint64) {
	c.mu.Lock()
	c.block += n
	c.mu.Unlock()
}

// SeedAgent registers an agent directly, emitting the usual logs.
func (c *Chain) SeedAgent(owner common.Address, uri string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block++
	id, logs := c.register(owner, uri, nil)
	c.appendLogs(logs, common.Hash{})
	return id
}

// TransferAgent moves an agent to a new owner, emitting Transfer.
func (c *Chain) TransferAgent(id uint64, to common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.agents[id]
	if a == nil {
		return
	}
	c.block++
	from := a.owner
	a.owner = to
	c.appendLogs([]types.Log{c.identityTransferLog(from, to, id)}, common.Hash{})
}

// SeedFeedback appends a feedback entry for an agent.
func (c *Chain) SeedFeedback(id uint64, reviewer common.Address, score int8, comment string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedback[id] = append(c.feedback[id], feedback{reviewer: reviewer, score: score, comment: comment, timestamp: c.now()})
}

// SeedValidation records an attestation for an agent.
func (c *Chain) SeedValidation(id uint64, validator common.Address, attestationType string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validations[id] == nil {
		c.validations[id] = make(map[string]validation)
	}
	c.validations[id][attestationType] = validation{validator: validator, data: data, timestamp: c.now()}
}

// AddToken deploys an ERC-20 at addr.
func (c *Chain) AddToken(addr common.Address, name, symbol string, decimals uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[addr] = &token{name: name, symbol: symbol, decimals: decimals, balances: make(map[common.Address]*big.Int)}
}

// SetTokenBalance sets the ERC-20 balance of owner.
func (c *Chain) SetTokenBalance(tokenAddr, owner common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t := c.tokens[tokenAddr]; t != nil {
		t.balances[owner] = new(big.Int).Set(amount)
	}
}

// SetBalance sets the native balance of addr.
func (c *Chain) SetBalance(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.native[addr] = new(big.Int).Set(amount)
}

// Sent returns the transactions accepted so far.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Transaction, 0, len(c.txs))
	for _, tx := range c.txs {
		out = append(out, tx)
	}
	return out
}

// AgentURI returns the stored URI of an agent.
func (c *Chain) AgentURI(id uint64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a := c.agents[id]; a != nil {
		return a.uri
	}
	return ""
}

// ChainID implements web3.Backend.
func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// BlockNumber implements web3.Backend.
func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

// SuggestGasPrice implements web3.Backend.
func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// PendingNonceAt implements web3.Backend.
func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// BalanceAt implements ethereum.Reader.
func (c *Chain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.native[account]; b != nil {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// TransactionByHash implements ethereum.Reader.
func (c *Chain) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx, ok := c.txs[hash]; ok {
		return tx, false, nil
	}
	return nil, false, gethcore.NotFound
}

// TransactionReceipt implements web3.Backend.
func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, gethcore.NotFound
}

// FilterLogs implements web3.Backend.
func (c *Chain) FilterLogs(_ context.Context, q gethcore.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	from, to := uint64(0), c.block
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}
	var out []types.Log
	for _, log := range c.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, log.Address) {
			continue
		}
		if !topicsMatch(q.Topics, log.Topics) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

// CallContract implements web3.Backend.
func (c *Chain) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	method, args, err := c.decode(msg.To, msg.Data)
	if err != nil || method == nil {
		return nil, err
	}
	if failure := c.failures[method.Name]; failure != nil {
		if err := failure(args); err != nil {
			return nil, err
		}
	}
	outs, err := c.view(*msg.To, method.Name, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(outs...)
}

// EstimateGas implements web3.Backend. Calls that would revert fail here,
// as they do on a real node.
func (c *Chain) EstimateGas(_ context.Context, msg gethcore.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	method, args, err := c.decode(msg.To, msg.Data)
	if err != nil {
		return 0, err
	}
	if method == nil {
		return 21000, nil
	}
	if err := c.check(msg.From, *msg.To, method.Name, args); err != nil {
		return 0, err
	}
	return 150_000, nil
}

// SendTransaction implements web3.Backend. The transaction is mined
// immediately in a new block.
func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() != c.nonces[from] {
		return fmt.Errorf("nonce mismatch: have %d want %d", tx.Nonce(), c.nonces[from])
	}
	c.nonces[from]++
	c.block++

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     90_000,
	}
	method, args, err := c.decode(tx.To(), tx.Data())
	if err == nil && method != nil {
		if err = c.check(from, *tx.To(), method.Name, args); err == nil {
			receipt.Logs = c.appendLogs(c.apply(from, *tx.To(), method.Name, args), tx.Hash())
		}
	}
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
	}
	c.txs[tx.Hash()] = tx
	c.receipts[tx.Hash()] = receipt
	return nil
}

func (c *Chain) abiFor(addr common.Address) (abi.ABI, bool) {
	switch {
	case addr == c.identity:
		return contracts.IdentityABI, true
	case c.reputation != (common.Address{}) && addr == c.reputation:
		return contracts.ReputationABI, true
	case c.validation != (common.Address{}) && addr == c.validation:
		return contracts.ValidationABI, true
	}
	if _, ok := c.tokens[addr]; ok {
		return contracts.ERC20ABI, true
	}
	return abi.ABI{}, false
}

// decode returns a nil method for addresses without code.
func (c *Chain) decode(to *common.Address, data []byte) (*abi.Method, []any, error) {
	if to == nil {
		return nil, nil, errors.New("contract creation not supported")
	}
	parsed, ok := c.abiFor(*to)
	if !ok {
		return nil, nil, nil
	}
	if len(data) < 4 {
		return nil, nil, errors.New("execution reverted: missing selector")
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("execution reverted: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("execution reverted: %w", err)
	}
	return method, args, nil
}

func (c *Chain) now() uint64 { return GenesisTime + c.block*12 }

func (c *Chain) agent(id *big.Int) (*agent, error) {
	if id.IsUint64() {
		if a := c.agents[id.Uint64()]; a != nil {
			return a, nil
		}
	}
	return nil, fmt.Errorf("execution reverted: ERC721NonexistentToken(%s)", id)
}

func (c *Chain) view(to common.Address, method string, args []any) ([]any, error) {
	if t, ok := c.tokens[to]; ok {
		switch method {
		case "name":
			return []any{t.name}, nil
		case "symbol":
			return []any{t.symbol}, nil
		case "decimals":
			return []any{t.decimals}, nil
		case "balanceOf":
			if b := t.balances[args[0].(common.Address)]; b != nil {
				return []any{new(big.Int).Set(b)}, nil
			}
			return []any{big.NewInt(0)}, nil
		case "allowance":
			return []any{big.NewInt(0)}, nil
		}
		return nil, fmt.Errorf("execution reverted: %s is not a view", method)
	}

	switch method {
	case "tokenURI":
		a, err := c.agent(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return []any{a.uri}, nil
	case "ownerOf", "getAgentWallet":
		a, err := c.agent(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return []any{a.owner}, nil
	case "getMetadata":
		a, err := c.agent(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return []any{a.metadata[args[1].(string)]}, nil
	case "balanceOf":
		owner := args[0].(common.Address)
		n := int64(0)
		for _, a := range c.agents {
			if a.owner == owner {
				n++
			}
		}
		return []any{big.NewInt(n)}, nil
	case "getVersion":
		return []any{"1.1.0"}, nil
	case "name":
		return []any{"ERC-8004 Agent Identity"}, nil
	case "symbol":
		return []any{"AGENT"}, nil
	case "getFeedbackCount":
		return []any{big.NewInt(int64(len(c.feedback[args[0].(*big.Int).Uint64()])))}, nil
	case "getAverageScore":
		entries := c.feedback[args[0].(*big.Int).Uint64()]
		if len(entries) == 0 {
			return []any{big.NewInt(0)}, nil
		}
		sum := big.NewInt(0)
		for _, f := range entries {
			sum.Add(sum, big.NewInt(int64(f.score)))
		}
		return []any{sum.Quo(sum, big.NewInt(int64(len(entries))))}, nil
	case "getFeedback":
		entries := c.feedback[args[0].(*big.Int).Uint64()]
		idx := args[1].(*big.Int)
		if !idx.IsUint64() || idx.Uint64() >= uint64(len(entries)) {
			return nil, errors.New("execution reverted: index out of bounds")
		}
		f := entries[idx.Uint64()]
		return []any{f.reviewer, f.score, f.comment, new(big.Int).SetUint64(f.timestamp)}, nil
	case "isValidated":
		_, ok := c.validations[args[0].(*big.Int).Uint64()][args[1].(string)]
		return []any{ok}, nil
	case "getValidation":
		v, ok := c.validations[args[0].(*big.Int).Uint64()][args[1].(string)]
		if !ok {
			return nil, errors.New("execution reverted: not validated")
		}
		return []any{v.validator, v.data, new(big.Int).SetUint64(v.timestamp)}, nil
	}
	return nil, fmt.Errorf("execution reverted: %s is not a view", method)
}

func (c *Chain) check(from, to common.Address, method string, args []any) error {
	if _, ok := c.tokens[to]; ok {
		return fmt.Errorf("execution reverted: token writes not supported")
	}
	switch method {
	case contracts.MethodRegister, contracts.MethodRegisterWithURI, contracts.MethodRegisterWithMetadata:
		return nil
	case "setAgentURI", "setMetadata":
		a, err := c.agent(args[0].(*big.Int))
		if err != nil {
			return err
		}
		if a.owner != from {
			return errors.New("execution reverted: caller is not the agent owner")
		}
		return nil
	case "submitFeedback":
		_, err := c.agent(args[0].(*big.Int))
		return err
	case "validate":
		_, err := c.agent(args[0].(*big.Int))
		return err
	}
	return fmt.Errorf("execution reverted: %s is not a transaction", method)
}

func (c *Chain) apply(from, to common.Address, method string, args []any) []types.Log {
	switch method {
	case contracts.MethodRegister:
		_, logs := c.register(from, "", nil)
		return logs
	case contracts.MethodRegisterWithURI:
		_, logs := c.register(from, args[0].(string), nil)
		return logs
	case contracts.MethodRegisterWithMetadata:
		entries := *abi.ConvertType(args[1], new([]contracts.MetadataTuple)).(*[]contracts.MetadataTuple)
		_, logs := c.register(from, args[0].(string), entries)
		return logs
	case "setAgentURI":
		c.agents[args[0].(*big.Int).Uint64()].uri = args[1].(string)
	case "setMetadata":
		c.agents[args[0].(*big.Int).Uint64()].metadata[args[1].(string)] = args[2].([]byte)
	case "submitFeedback":
		id := args[0].(*big.Int)
		score, comment := args[1].(int8), args[2].(string)
		c.feedback[id.Uint64()] = append(c.feedback[id.Uint64()], feedback{reviewer: from, score: score, comment: comment, timestamp: c.now()})
		ev := contracts.ReputationABI.Events["FeedbackSubmitted"]
		data, _ := ev.Inputs.NonIndexed().Pack(score, comment)
		return []types.Log{{Address: to, Topics: []common.Hash{ev.ID, common.BigToHash(id), contracts.AddressTopic(from)}, Data: data}}
	case "validate":
		id := args[0].(*big.Int)
		typ := args[1].(string)
		if c.validations[id.Uint64()] == nil {
			c.validations[id.Uint64()] = make(map[string]validation)
		}
		c.validations[id.Uint64()][typ] = validation{validator: from, data: args[2].([]byte), timestamp: c.now()}
		ev := contracts.ValidationABI.Events["Validated"]
		data, _ := ev.Inputs.NonIndexed().Pack(typ)
		return []types.Log{{Address: to, Topics: []common.Hash{ev.ID, common.BigToHash(id), contracts.AddressTopic(from)}, Data: data}}
	}
	return nil
}

func (c *Chain) register(owner common.Address, uri string, entries []contracts.MetadataTuple) (uint64, []types.Log) {
	id := c.nextAgent
	c.nextAgent++
	a := &agent{owner: owner, uri: uri, metadata: make(map[string][]byte)}
	for _, e := range entries {
		a.metadata[e.MetadataKey] = e.MetadataValue
	}
	c.agents[id] = a

	ev := contracts.IdentityABI.Events["Registered"]
	data, _ := ev.Inputs.NonIndexed().Pack(uri)
	return id, []types.Log{
		c.identityTransferLog(common.Address{}, owner, id),
		{Address: c.identity, Topics: []common.Hash{ev.ID, common.BigToHash(new(big.Int).SetUint64(id)), contracts.AddressTopic(owner)}, Data: data},
	}
}

func (c *Chain) identityTransferLog(from, to common.Address, id uint64) types.Log {
	ev := contracts.IdentityABI.Events["Transfer"]
	return types.Log{
		Address: c.identity,
		Topics:  []common.Hash{ev.ID, contracts.AddressTopic(from), contracts.AddressTopic(to), common.BigToHash(new(big.Int).SetUint64(id))},
	}
}

func (c *Chain) appendLogs(logs []types.Log, txHash common.Hash) []*types.Log {
	out := make([]*types.Log, 0, len(logs))
	for i := range logs {
		logs[i].BlockNumber = c.block
		logs[i].TxHash = txHash
		logs[i].Index = uint(len(c.logs))
		c.logs = append(c.logs, logs[i])
		l := logs[i]
		out = append(out, &l)
	}
	return out
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	for i, set := range filter {
		if len(set) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		match := false
		for _, want := range set {
			if topics[i] == want {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

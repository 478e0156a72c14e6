package erc8004

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004/contracts"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/web3"
	"BNBChain-AgentKit/pkg/logger"
)

const (
	// DefaultSearchLimit caps FindAgentsByService and Search results.
	DefaultSearchLimit = 50
	// serviceScanBlocks is how far back FindAgentsByService scans.
	serviceScanBlocks = 10_000
	// maxAgentCount bounds the binary search in Count.
	maxAgentCount = 100_000
)

// RegistryReader performs read-only queries against an identity registry.
type RegistryReader struct {
	chain    chains.Chain
	registry *contracts.Contract
}

// NewRegistryReader binds the chain's identity registry.
func NewRegistryReader(backend web3.Backend, chain chains.Chain) *RegistryReader {
	return &RegistryReader{
		chain:    chain,
		registry: contracts.New(backend, chain.Contracts.Identity, contracts.IdentityABI),
	}
}

// Chain returns the chain the reader queries.
func (r *RegistryReader) Chain() chains.Chain { return r.chain }

// GetAgent returns the agent with id, or nil when the token does not exist.
func (r *RegistryReader) GetAgent(ctx context.Context, id uint64) (*AgentIdentity, error) {
	owner, ok := r.GetOwner(ctx, id)
	if !ok {
		return nil, nil
	}
	uri, err := r.tokenURI(ctx, id)
	if err != nil {
		return nil, nil
	}
	return &AgentIdentity{
		AgentID:          id,
		Owner:            owner,
		AgentURI:         uri,
		Chain:            r.chain.Name,
		RegistrationData: DecodeRegistration(uri),
	}, nil
}

// GetOwner returns the owner of id; ok is false when the token does not
// exist or the call fails.
func (r *RegistryReader) GetOwner(ctx context.Context, id uint64) (string, bool) {
	values, err := r.registry.Call(ctx, "ownerOf", agentIDArg(id))
	if err != nil {
		return "", false
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return "", false
	}
	return owner.Hex(), true
}

// BalanceOf returns how many agents owner holds.
func (r *RegistryReader) BalanceOf(ctx context.Context, owner string) (uint64, error) {
	if !common.IsHexAddress(owner) {
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid address %q", owner)
	}
	values, err := r.registry.Call(ctx, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return 0, err
	}
	return values[0].(*big.Int).Uint64(), nil
}

func (r *RegistryReader) tokenURI(ctx context.Context, id uint64) (string, error) {
	values, err := r.registry.Call(ctx, "tokenURI", agentIDArg(id))
	if err != nil {
		return "", err
	}
	return values[0].(string), nil
}

// MetadataValue is a metadata entry read back from the registry. Value
// holds the UTF-8 text, or the 0x hex encoding when the bytes are not
// valid UTF-8.
type MetadataValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Raw   string `json:"raw"`
	Empty bool   `json:"empty"`
}

// GetMetadata reads a metadata entry of agent id.
func (r *RegistryReader) GetMetadata(ctx context.Context, id uint64, key string) (MetadataValue, error) {
	values, err := r.registry.Call(ctx, "getMetadata", agentIDArg(id), key)
	if err != nil {
		return MetadataValue{}, err
	}
	raw, _ := values[0].([]byte)
	out := MetadataValue{Key: key, Raw: "0x" + hex.EncodeToString(raw), Empty: len(raw) == 0}
	if utf8.Valid(raw) {
		out.Value = string(raw)
	} else {
		out.Value = out.Raw
	}
	return out, nil
}

// ContractVersion returns getVersion(), or "unknown" when the registry
// does not answer.
func (r *RegistryReader) ContractVersion(ctx context.Context) string {
	values, err := r.registry.Call(ctx, "getVersion")
	if err != nil {
		return "unknown"
	}
	v, _ := values[0].(string)
	return v
}

// FindAgentsByService returns agents registered in the recent block window
// whose registration advertises service. max <= 0 means DefaultSearchLimit.
func (r *RegistryReader) FindAgentsByService(ctx context.Context, service string, max int) ([]AgentIdentity, error) {
	if max <= 0 {
		max = DefaultSearchLimit
	}
	latest, err := r.registry.Backend().BlockNumber(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "get block number")
	}
	from := uint64(0)
	if latest > serviceScanBlocks {
		from = latest - serviceScanBlocks
	}
	logs, err := r.registry.FilterEvents(ctx, "Registered", new(big.Int).SetUint64(from), nil)
	if err != nil {
		return nil, err
	}
	if len(logs) > 2*max {
		logs = logs[len(logs)-2*max:]
	}

	out := make([]AgentIdentity, 0)
	for _, log := range logs {
		if len(out) >= max {
			break
		}
		ev, ok := decodeRegistered(r.registry, log)
		if !ok {
			continue
		}
		agent, err := r.GetAgent(ctx, ev.AgentID)
		if err != nil || agent == nil || agent.RegistrationData == nil {
			continue
		}
		if hasService(agent.RegistrationData, service) {
			out = append(out, *agent)
		}
	}
	return out, nil
}

func hasService(reg *Registration, service string) bool {
	for _, s := range reg.Services {
		if strings.EqualFold(s.Name, service) {
			return true
		}
	}
	return false
}

// SearchOptions filters Search.
type SearchOptions struct {
	Query     string
	FromBlock uint64
	Limit     int
}

// SearchResult is one match of Search.
type SearchResult struct {
	RegisteredEvent
	Registration map[string]any `json:"registration,omitempty"`
}

// Search scans Registered events and matches the lowercase query against
// the agent URI and its decoded JSON.
func (r *RegistryReader) Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	logs, err := r.registry.FilterEvents(ctx, "Registered", new(big.Int).SetUint64(opts.FromBlock), nil)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(strings.TrimSpace(opts.Query))

	out := make([]SearchResult, 0)
	for _, log := range logs {
		if len(out) >= limit {
			break
		}
		ev, ok := decodeRegistered(r.registry, log)
		if !ok {
			continue
		}
		// The stored URI may have been replaced after registration.
		if uri, err := r.tokenURI(ctx, ev.AgentID); err == nil {
			ev.AgentURI = uri
		}
		doc := DecodeURI(ev.AgentURI)
		if query != "" && !matches(query, ev.AgentURI, doc) {
			continue
		}
		out = append(out, SearchResult{RegisteredEvent: ev, Registration: doc})
	}
	return out, nil
}

func matches(query, uri string, doc map[string]any) bool {
	if strings.Contains(strings.ToLower(uri), query) {
		return true
	}
	if doc == nil {
		return false
	}
	raw, err := json.Marshal(doc)
	return err == nil && strings.Contains(strings.ToLower(string(raw)), query)
}

// OwnedAgent is one agent returned by ListByOwner.
type OwnedAgent struct {
	AgentID      uint64         `json:"agentId"`
	AgentURI     string         `json:"agentURI"`
	Registration map[string]any `json:"registration,omitempty"`
}

// ListByOwner returns the agents currently held by owner, in token order.
func (r *RegistryReader) ListByOwner(ctx context.Context, owner string) ([]OwnedAgent, error) {
	balance, err := r.BalanceOf(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]OwnedAgent, 0, balance)
	if balance == 0 {
		return out, nil
	}
	addr := common.HexToAddress(owner)
	logs, err := r.registry.FilterEvents(ctx, "Transfer", big.NewInt(0), nil, nil,
		[]common.Hash{contracts.AddressTopic(addr)})
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64]bool)
	var ids []uint64
	for _, log := range logs {
		if id, ok := transferTokenID(r.registry, log); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		current, ok := r.GetOwner(ctx, id)
		if !ok || !strings.EqualFold(current, addr.Hex()) {
			continue
		}
		uri, err := r.tokenURI(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, OwnedAgent{AgentID: id, AgentURI: uri, Registration: DecodeURI(uri)})
	}
	return out, nil
}

// Count estimates the number of minted agents by binary search over
// ownerOf. Burned tokens make the result a lower bound.
func (r *RegistryReader) Count(ctx context.Context) uint64 {
	exists := func(id uint64) bool {
		_, ok := r.GetOwner(ctx, id)
		return ok
	}
	if !exists(1) {
		return 0
	}
	lo, hi := uint64(1), uint64(maxAgentCount)
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if exists(mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// BackendResolver hands out backends per chain key, e.g. provider.Registry.
type BackendResolver interface {
	Chains() *chains.Registry
	Backend(ctx context.Context, chain string) (web3.Backend, error)
}

// SearchAllChains queries FindAgentsByService on every chain concurrently.
// Chains that fail are skipped. max <= 0 means 10.
func SearchAllChains(ctx context.Context, resolver BackendResolver, service string, max int) []AgentIdentity {
	if max <= 0 {
		max = 10
	}
	all := resolver.Chains().All()
	results := make([][]AgentIdentity, len(all))

	var wg sync.WaitGroup
	for i, chain := range all {
		wg.Add(1)
		go func(i int, chain chains.Chain) {
			defer wg.Done()
			backend, err := resolver.Backend(ctx, chain.Key)
			if err != nil {
				logger.Named("erc8004").Debug("skip chain", "chain", chain.Key, "error", err)
				return
			}
			found, err := NewRegistryReader(backend, chain).FindAgentsByService(ctx, service, max)
			if err != nil {
				logger.Named("erc8004").Debug("skip chain", "chain", chain.Key, "error", err)
				return
			}
			results[i] = found
		}(i, chain)
	}
	wg.Wait()

	out := make([]AgentIdentity, 0, max)
	for _, found := range results {
		for _, agent := range found {
			if len(out) == max {
				return out
			}
			out = append(out, agent)
		}
	}
	return out
}

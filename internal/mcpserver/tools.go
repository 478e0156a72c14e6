package mcpserver

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/web3"
)

type ChainInput struct {
	Chain string `json:"chain" jsonschema:"Chain key or numeric chain ID, e.g. bsc-testnet or 97"`
}

type AgentInput struct {
	Chain   string `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	AgentID string `json:"agentId" jsonschema:"Agent token ID (numeric string)"`
}

type RegisterAgentInput struct {
	Chain    string                  `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	AgentURI string                  `json:"agentURI,omitempty" jsonschema:"Agent metadata URI (HTTPS, IPFS or base64 data URI)"`
	Metadata []erc8004.MetadataEntry `json:"metadata,omitempty" jsonschema:"Optional on-chain key-value metadata entries"`
}

type ListAgentsInput struct {
	Chain   string `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	Address string `json:"address" jsonschema:"Owner wallet address (0x...)"`
}

type SetURIInput struct {
	Chain   string `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	AgentID string `json:"agentId" jsonschema:"Agent token ID"`
	NewURI  string `json:"newURI" jsonschema:"New metadata URI"`
}

type SearchAgentsInput struct {
	Chain     string `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	Query     string `json:"query,omitempty" jsonschema:"Text matched against agent URIs and decoded registration documents"`
	FromBlock uint64 `json:"fromBlock,omitempty" jsonschema:"Starting block number (default 0)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Max results to return (default 50)"`
}

type SubmitReputationInput struct {
	Chain   string `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	AgentID string `json:"agentId" jsonschema:"Agent token ID"`
	Score   int    `json:"score" jsonschema:"Score between -128 and 127"`
	Comment string `json:"comment" jsonschema:"Feedback comment"`
}

type GetReputationInput struct {
	Chain   string `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	AgentID string `json:"agentId" jsonschema:"Agent token ID"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Max feedback entries to return (default 20)"`
}

type SetMetadataInput struct {
	Chain   string `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	AgentID string `json:"agentId" jsonschema:"Agent token ID"`
	Key     string `json:"key" jsonschema:"Metadata key, e.g. version, a2a.endpoint, mcp.endpoint, did, ens, x402.enabled"`
	Value   string `json:"value" jsonschema:"Metadata value, stored as UTF-8 bytes"`
}

type GetMetadataInput struct {
	Chain   string `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	AgentID string `json:"agentId" jsonschema:"Agent token ID"`
	Key     string `json:"key" jsonschema:"Metadata key to look up"`
}

type BatchGetMetadataInput struct {
	Chain   string   `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	AgentID string   `json:"agentId" jsonschema:"Agent token ID"`
	Keys    []string `json:"keys" jsonschema:"Metadata keys to look up"`
}

type TransactionInput struct {
	Chain  string `json:"chain" jsonschema:"Chain key or numeric chain ID"`
	TxHash string `json:"txHash" jsonschema:"Transaction hash (0x + 64 hex)"`
}

func (s *Server) registerIdentityTools() {
	addTool(s, "register_agent",
		"Register a new ERC-8004 AI agent on-chain. Mints an ERC-721 NFT as the agent's identity, with an optional URI and key-value metadata. Requires PRIVATE_KEY.",
		s.registerAgent)
	addTool(s, "get_agent",
		"Look up an ERC-8004 agent by token ID. Returns owner, URI (decoded when it is a data URI), contract version and explorer link.",
		s.getAgent)
	addTool(s, "list_agents",
		"List the ERC-8004 agents currently owned by a wallet address.",
		s.listAgents)
	addTool(s, "get_agent_count",
		"Get the number of registered ERC-8004 agents on a chain, found by binary search over sequential token IDs.",
		s.getAgentCount)
	addTool(s, "set_uri",
		"Update an agent's metadata URI on-chain. Only the owner can call this. Requires PRIVATE_KEY.",
		s.setURI)
	addTool(s, "search_agents",
		"Search registered ERC-8004 agents by name, service or metadata content using Registered events.",
		s.searchAgents)
}

func (s *Server) registerReputationTools() {
	addTool(s, "submit_reputation",
		"Submit reputation feedback (score -128..127) for an ERC-8004 agent. Requires PRIVATE_KEY.",
		s.submitReputation)
	addTool(s, "get_reputation",
		"Get the on-chain reputation of an agent: feedback count, average score and recent entries.",
		s.getReputation)
	addTool(s, "get_validation_status",
		"List the identity, capability, security and compliance attestations recorded for an agent.",
		s.getValidationStatus)
}

func (s *Server) registerMetadataTools() {
	addTool(s, "set_metadata",
		"Set on-chain key-value metadata for an agent. Only the owner can set metadata. Requires PRIVATE_KEY.",
		s.setMetadata)
	addTool(s, "get_metadata",
		"Read one on-chain metadata value of an agent. Returns the UTF-8 value and the raw hex bytes.",
		s.getMetadata)
	addTool(s, "batch_get_metadata",
		"Read several on-chain metadata values of an agent in one call.",
		s.batchGetMetadata)
}

func (s *Server) registerChainTools() {
	addTool(s, "get_chain_info",
		"Show a chain's registry deployments, explorer and live block number and gas price.",
		s.getChainInfo)
	addTool(s, "get_transaction",
		"Look up a transaction and its receipt on a chain.",
		s.getTransaction)
}

// resolve returns the chain and a backend for it.
func (s *Server) resolve(ctx context.Context, input string) (chains.Chain, web3.Backend, error) {
	client, chain, err := s.providers.Client(ctx, input)
	if err != nil {
		return chains.Chain{}, nil, err
	}
	return chain, client.Backend(), nil
}

func parseAgentID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid agentId %q", raw)
	}
	return id, nil
}

func (s *Server) identityManager(ctx context.Context, input string) (*erc8004.IdentityManager, chains.Chain, error) {
	signer, err := s.signer()
	if err != nil {
		return nil, chains.Chain{}, err
	}
	chain, backend, err := s.resolve(ctx, input)
	if err != nil {
		return nil, chains.Chain{}, err
	}
	m, err := erc8004.NewIdentityManager(backend, chain, signer)
	return m, chain, err
}

func (s *Server) registerAgent(ctx context.Context, in RegisterAgentInput) (any, error) {
	m, chain, err := s.identityManager(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	res, err := m.RegisterRaw(ctx, in.AgentURI, in.Metadata)
	if err != nil {
		return nil, err
	}
	var agentID *string
	if res.AgentID != nil {
		id := strconv.FormatUint(*res.AgentID, 10)
		agentID = &id
	}
	return map[string]any{
		"success":         true,
		"transactionHash": res.TxHash,
		"blockNumber":     res.BlockNumber,
		"agentId":         agentID,
		"chain":           chain.Name,
		"explorer":        chain.TxURL(res.TxHash),
		"agentRegistry":   chain.AgentRegistry,
	}, nil
}

func (s *Server) getAgent(ctx context.Context, in AgentInput) (any, error) {
	id, err := parseAgentID(in.AgentID)
	if err != nil {
		return nil, err
	}
	chain, backend, err := s.resolve(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	reader := erc8004.NewRegistryReader(backend, chain)
	agent, err := reader.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return map[string]any{"found": false, "agentId": in.AgentID, "chain": chain.Name}, nil
	}
	return map[string]any{
		"found":           true,
		"agentId":         in.AgentID,
		"chain":           chain.Name,
		"owner":           agent.Owner,
		"uri":             agent.AgentURI,
		"metadata":        erc8004.DecodeURI(agent.AgentURI),
		"contractVersion": reader.ContractVersion(ctx),
		"explorer":        chain.TokenURL(in.AgentID),
	}, nil
}

func (s *Server) listAgents(ctx context.Context, in ListAgentsInput) (any, error) {
	chain, backend, err := s.resolve(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	agents, err := erc8004.NewRegistryReader(backend, chain).ListByOwner(ctx, in.Address)
	if err != nil {
		return nil, err
	}
	return map[string]any{"address": in.Address, "chain": chain.Name, "count": len(agents), "agents": agents}, nil
}

func (s *Server) getAgentCount(ctx context.Context, in ChainInput) (any, error) {
	chain, backend, err := s.resolve(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chain": chain.Name, "count": erc8004.NewRegistryReader(backend, chain).Count(ctx)}, nil
}

func (s *Server) setURI(ctx context.Context, in SetURIInput) (any, error) {
	id, err := parseAgentID(in.AgentID)
	if err != nil {
		return nil, err
	}
	m, chain, err := s.identityManager(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	res, err := m.SetAgentURI(ctx, id, in.NewURI)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":         true,
		"agentId":         in.AgentID,
		"newURI":          in.NewURI,
		"transactionHash": res.TxHash,
		"explorer":        chain.TxURL(res.TxHash),
	}, nil
}

func (s *Server) searchAgents(ctx context.Context, in SearchAgentsInput) (any, error) {
	chain, backend, err := s.resolve(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	results, err := erc8004.NewRegistryReader(backend, chain).Search(ctx, erc8004.SearchOptions{
		Query:     in.Query,
		FromBlock: in.FromBlock,
		Limit:     in.Limit,
	})
	if err != nil {
		return nil, err
	}
	var query any
	if in.Query != "" {
		query = in.Query
	}
	return map[string]any{"chain": chain.Name, "query": query, "count": len(results), "results": results}, nil
}

func (s *Server) submitReputation(ctx context.Context, in SubmitReputationInput) (any, error) {
	id, err := parseAgentID(in.AgentID)
	if err != nil {
		return nil, err
	}
	signer, err := s.signer()
	if err != nil {
		return nil, err
	}
	chain, backend, err := s.resolve(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	m, err := erc8004.NewReputationManager(backend, chain, signer)
	if err != nil {
		return nil, err
	}
	res, err := m.SubmitFeedback(ctx, id, in.Score, in.Comment)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":         true,
		"agentId":         in.AgentID,
		"score":           in.Score,
		"comment":         in.Comment,
		"transactionHash": res.TxHash,
		"chain":           chain.Name,
		"explorer":        chain.TxURL(res.TxHash),
	}, nil
}

func (s *Server) getReputation(ctx context.Context, in GetReputationInput) (any, error) {
	id, err := parseAgentID(in.AgentID)
	if err != nil {
		return nil, err
	}
	chain, backend, err := s.resolve(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	m, err := erc8004.NewReputationManager(backend, chain, nil)
	if err != nil {
		return nil, err
	}
	page := m.Feedback(ctx, id, in.Limit)
	return map[string]any{
		"agentId":        in.AgentID,
		"chain":          chain.Name,
		"totalFeedback":  page.FeedbackCount,
		"averageScore":   page.AverageScore,
		"recentFeedback": page.Feedback,
	}, nil
}

func (s *Server) getValidationStatus(ctx context.Context, in AgentInput) (any, error) {
	id, err := parseAgentID(in.AgentID)
	if err != nil {
		return nil, err
	}
	chain, backend, err := s.resolve(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	status, err := erc8004.NewValidationManager(backend, chain, nil).Status(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"agentId":   in.AgentID,
		"chain":     chain.Name,
		"validated": status.Validated,
		"records":   status.Records,
	}, nil
}

func (s *Server) setMetadata(ctx context.Context, in SetMetadataInput) (any, error) {
	id, err := parseAgentID(in.AgentID)
	if err != nil {
		return nil, err
	}
	m, chain, err := s.identityManager(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	res, err := m.SetAgentMetadata(ctx, id, in.Key, in.Value)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":         true,
		"agentId":         in.AgentID,
		"key":             in.Key,
		"value":           in.Value,
		"transactionHash": res.TxHash,
		"chain":           chain.Name,
		"explorer":        chain.TxURL(res.TxHash),
	}, nil
}

func (s *Server) getMetadata(ctx context.Context, in GetMetadataInput) (any, error) {
	id, err := parseAgentID(in.AgentID)
	if err != nil {
		return nil, err
	}
	chain, backend, err := s.resolve(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	v, err := erc8004.NewRegistryReader(backend, chain).GetMetadata(ctx, id, in.Key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"agentId": in.AgentID, "chain": chain.Name, "key": in.Key, "value": v.Value, "rawBytes": v.Raw}, nil
}

type metadataValue struct {
	Value    string `json:"value"`
	RawBytes string `json:"rawBytes"`
}

// batchGetMetadata reads the keys concurrently; a failing key reads as empty.
func (s *Server) batchGetMetadata(ctx context.Context, in BatchGetMetadataInput) (any, error) {
	id, err := parseAgentID(in.AgentID)
	if err != nil {
		return nil, err
	}
	chain, backend, err := s.resolve(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	reader := erc8004.NewRegistryReader(backend, chain)

	var (
		mu  sync.Mutex
		out = make(map[string]metadataValue, len(in.Keys))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, key := range in.Keys {
		g.Go(func() error {
			v, err := reader.GetMetadata(gctx, id, key)
			entry := metadataValue{RawBytes: "0x"}
			if err == nil {
				entry = metadataValue{Value: v.Value, RawBytes: v.Raw}
			}
			mu.Lock()
			out[key] = entry
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return map[string]any{"agentId": in.AgentID, "chain": chain.Name, "metadata": out}, nil
}

func (s *Server) getChainInfo(ctx context.Context, in ChainInput) (any, error) {
	client, chain, err := s.providers.Client(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	info := map[string]any{
		"key":               chain.Key,
		"name":              chain.Name,
		"chainId":           chain.ChainID,
		"testnet":           chain.Testnet,
		"explorer":          chain.Explorer,
		"currency":          chain.Currency,
		"contracts":         chain.Contracts,
		"agentRegistry":     chain.AgentRegistry,
		"reputationEnabled": chain.HasReputation(),
		"validationEnabled": chain.HasValidation(),
	}
	snap, err := client.Snapshot(ctx)
	if err != nil {
		info["error"] = xerrors.MessageOf(err)
		return info, nil
	}
	info["blockNumber"] = snap.BlockNumber
	info["gasPrice"] = snap.GasPrice
	return info, nil
}

func (s *Server) getTransaction(ctx context.Context, in TransactionInput) (any, error) {
	client, chain, err := s.providers.Client(ctx, in.Chain)
	if err != nil {
		return nil, err
	}
	tx, err := client.Transaction(ctx, in.TxHash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chain": chain.Name, "transaction": tx, "explorer": chain.TxURL(tx.Hash)}, nil
}

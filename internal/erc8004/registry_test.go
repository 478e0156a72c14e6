package erc8004

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004/erc8004test"
	"BNBChain-AgentKit/internal/web3"
)

func TestGetAgent(t *testing.T) {
	chain, backend := testnet(t)
	owner := randomAddress(t)
	id := backend.SeedAgent(owner, registrationURI(t, "alpha", "A2A"))
	r := NewRegistryReader(backend, chain)
	ctx := context.Background()

	agent, err := r.GetAgent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, owner.Hex(), agent.Owner)
	require.Equal(t, "alpha", agent.RegistrationData.Name)

	missing, err := r.GetAgent(ctx, 99)
	require.NoError(t, err)
	require.Nil(t, missing)

	_, ok := r.GetOwner(ctx, 99)
	require.False(t, ok)
}

func TestGetMetadataHexFallback(t *testing.T) {
	chain, backend := testnet(t)
	m, err := NewIdentityManager(backend, chain, newSigner(t))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = m.RegisterRaw(ctx, "ipfs://x", []MetadataEntry{
		{Key: "text", Value: "hello"},
		{Key: "blob", Value: "\xff\xfe"},
	})
	require.NoError(t, err)

	r := NewRegistryReader(backend, chain)
	text, err := r.GetMetadata(ctx, 1, "text")
	require.NoError(t, err)
	require.Equal(t, "hello", text.Value)

	blob, err := r.GetMetadata(ctx, 1, "blob")
	require.NoError(t, err)
	require.Equal(t, "0xfffe", blob.Value)

	absent, err := r.GetMetadata(ctx, 1, "absent")
	require.NoError(t, err)
	require.True(t, absent.Empty)
}

func TestContractVersion(t *testing.T) {
	chain, backend := testnet(t)
	r := NewRegistryReader(backend, chain)
	require.Equal(t, "1.1.0", r.ContractVersion(context.Background()))

	backend.Fail("getVersion", errors.New("execution reverted"))
	require.Equal(t, "unknown", r.ContractVersion(context.Background()))
}

func TestFindAgentsByService(t *testing.T) {
	chain, backend := testnet(t)
	backend.SeedAgent(randomAddress(t), registrationURI(t, "a", "A2A"))
	backend.SeedAgent(randomAddress(t), registrationURI(t, "b", "MCP"))
	backend.SeedAgent(randomAddress(t), "ipfs://opaque")
	backend.SeedAgent(randomAddress(t), registrationURI(t, "c", "mcp", "a2a"))

	r := NewRegistryReader(backend, chain)
	found, err := r.FindAgentsByService(context.Background(), "a2a", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "a", found[0].RegistrationData.Name)
	require.Equal(t, "c", found[1].RegistrationData.Name)

	limited, err := r.FindAgentsByService(context.Background(), "MCP", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestFindAgentsByServiceWindow(t *testing.T) {
	chain, backend := testnet(t)
	backend.SeedAgent(randomAddress(t), registrationURI(t, "old", "A2A"))
	backend.Mine(serviceScanBlocks + 10)
	backend.SeedAgent(randomAddress(t), registrationURI(t, "new", "A2A"))

	found, err := NewRegistryReader(backend, chain).FindAgentsByService(context.Background(), "A2A", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "new", found[0].RegistrationData.Name)
}

func TestSearch(t *testing.T) {
	chain, backend := testnet(t)
	backend.SeedAgent(randomAddress(t), registrationURI(t, "PriceOracle"))
	backend.SeedAgent(randomAddress(t), "https://agents.example/oracle.json")
	backend.SeedAgent(randomAddress(t), registrationURI(t, "Translator"))

	r := NewRegistryReader(backend, chain)
	ctx := context.Background()

	hits, err := r.Search(ctx, SearchOptions{Query: "ORACLE"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, uint64(1), hits[0].AgentID)
	require.Equal(t, "PriceOracle", hits[0].Registration["name"])
	require.Nil(t, hits[1].Registration)

	all, err := r.Search(ctx, SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestListByOwnerSkipsTransferredAgents(t *testing.T) {
	chain, backend := testnet(t)
	owner := randomAddress(t)
	first := backend.SeedAgent(owner, "ipfs://1")
	second := backend.SeedAgent(owner, registrationURI(t, "kept"))
	backend.SeedAgent(randomAddress(t), "ipfs://3")
	backend.TransferAgent(first, randomAddress(t))

	r := NewRegistryReader(backend, chain)
	owned, err := r.ListByOwner(context.Background(), owner.Hex())
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, second, owned[0].AgentID)
	require.Equal(t, "kept", owned[0].Registration["name"])

	_, err = r.ListByOwner(context.Background(), "not-an-address")
	require.Error(t, err)
}

func TestCount(t *testing.T) {
	chain, backend := testnet(t)
	r := NewRegistryReader(backend, chain)
	require.Zero(t, r.Count(context.Background()))

	for i := 0; i < 7; i++ {
		backend.SeedAgent(randomAddress(t), "")
	}
	require.Equal(t, uint64(7), r.Count(context.Background()))
}

type fakeResolver struct {
	table    *chains.Registry
	backends map[string]web3.Backend
}

func (f fakeResolver) Chains() *chains.Registry { return f.table }

func (f fakeResolver) Backend(_ context.Context, key string) (web3.Backend, error) {
	if b, ok := f.backends[key]; ok {
		return b, nil
	}
	return nil, errors.New("dial failed")
}

func TestSearchAllChainsIgnoresFailures(t *testing.T) {
	table := chains.Default()
	bsc, err := table.Resolve("bsc-testnet")
	require.NoError(t, err)
	opbnb, err := table.Resolve("opbnb-testnet")
	require.NoError(t, err)

	bscChain := erc8004test.New(bsc)
	bscChain.SeedAgent(randomAddress(t), registrationURI(t, "bsc-agent", "A2A"))
	opChain := erc8004test.New(opbnb)
	opChain.SeedAgent(randomAddress(t), registrationURI(t, "op-agent", "A2A"))
	opChain.SeedAgent(randomAddress(t), registrationURI(t, "op-agent-2", "A2A"))

	resolver := fakeResolver{table: table, backends: map[string]web3.Backend{
		bsc.Key:   bscChain,
		opbnb.Key: opChain,
	}}
	found := SearchAllChains(context.Background(), resolver, "A2A", 0)
	require.Len(t, found, 3)

	capped := SearchAllChains(context.Background(), resolver, "A2A", 2)
	require.Len(t, capped, 2)
}

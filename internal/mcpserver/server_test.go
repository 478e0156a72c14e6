package mcpserver

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004"
	"BNBChain-AgentKit/internal/erc8004/contracts"
	"BNBChain-AgentKit/internal/erc8004/erc8004test"
	"BNBChain-AgentKit/internal/web3/ethereum"
	"BNBChain-AgentKit/internal/web3/provider"
)

func TestMain(m *testing.M) {
	contracts.ReceiptPollInterval = time.Millisecond
	os.Exit(m.Run())
}

type harness struct {
	testnet *erc8004test.Chain
	mainnet *erc8004test.Chain
	session *mcp.ClientSession
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	table := chains.Default()
	testnet, err := table.Resolve("bsc-testnet")
	require.NoError(t, err)
	mainnet, err := table.Resolve("bsc-mainnet")
	require.NoError(t, err)
	h := &harness{testnet: erc8004test.New(testnet), mainnet: erc8004test.New(mainnet)}

	providers := provider.NewRegistry(table, provider.WithDialer(func(_ context.Context, c chains.Chain) (*ethereum.Client, error) {
		switch c.Key {
		case "bsc-testnet":
			return ethereum.NewFromBackend(c.Key, h.testnet), nil
		case "bsc-mainnet":
			return ethereum.NewFromBackend(c.Key, h.mainnet), nil
		}
		return nil, fmt.Errorf("no backend for %s", c.Key)
	}))
	t.Cleanup(providers.Close)

	srv := New(providers, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0.0.1"}, nil)
	h.session, err = client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func (h *harness) call(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func (h *harness) callJSON(t *testing.T, name string, args map[string]any) map[string]any {
	t.Helper()
	text, isErr := h.call(t, name, args)
	require.False(t, isErr, text)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func newKey(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return fmt.Sprintf("0x%x", crypto.FromECDSA(key))
}

func TestListsAllTools(t *testing.T) {
	h := newHarness(t)
	res, err := h.session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"register_agent", "get_agent", "list_agents", "get_agent_count", "set_uri", "search_agents",
		"submit_reputation", "get_reputation", "set_metadata", "get_metadata", "batch_get_metadata",
		"get_validation_status", "get_chain_info", "get_transaction",
	}, names)
}

func TestChainsResource(t *testing.T) {
	h := newHarness(t)
	res, err := h.session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: ChainsURI})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)
	var table map[string]chains.Chain
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &table))
	assert.Equal(t, int64(97), table["bsc-testnet"].ChainID)
}

func TestWriteToolsNeedPrivateKey(t *testing.T) {
	h := newHarness(t)
	text, isErr := h.call(t, "register_agent", map[string]any{"chain": "bsc-testnet"})
	assert.True(t, isErr)
	assert.Equal(t, "Error: PRIVATE_KEY environment variable required for write operations.", text)
}

func TestUnknownChain(t *testing.T) {
	h := newHarness(t)
	text, isErr := h.call(t, "get_agent_count", map[string]any{"chain": "solana"})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, `Error: Unknown chain "solana". Supported: `), text)
}

func TestRegisterThenRead(t *testing.T) {
	h := newHarness(t, WithPrivateKey(newKey(t)))

	reg := h.callJSON(t, "register_agent", map[string]any{
		"chain":    "bsc-testnet",
		"agentURI": "https://agents.example/alpha.json",
		"metadata": []map[string]any{{"key": "version", "value": "1.0.0"}},
	})
	assert.Equal(t, true, reg["success"])
	assert.Equal(t, "1", reg["agentId"])
	assert.Contains(t, reg["explorer"], "https://testnet.bscscan.com/tx/0x")

	agent := h.callJSON(t, "get_agent", map[string]any{"chain": "97", "agentId": "1"})
	assert.Equal(t, true, agent["found"])
	assert.Equal(t, "https://agents.example/alpha.json", agent["uri"])

	missing := h.callJSON(t, "get_agent", map[string]any{"chain": "bsc-testnet", "agentId": "99"})
	assert.Equal(t, false, missing["found"])

	meta := h.callJSON(t, "batch_get_metadata", map[string]any{"chain": "bsc-testnet", "agentId": "1", "keys": []string{"version", "missing"}})
	values := meta["metadata"].(map[string]any)
	assert.Equal(t, "1.0.0", values["version"].(map[string]any)["value"])
	assert.Equal(t, "", values["missing"].(map[string]any)["value"])

	set := h.callJSON(t, "set_uri", map[string]any{"chain": "bsc-testnet", "agentId": "1", "newURI": "ipfs://beta"})
	assert.Equal(t, true, set["success"])
	assert.Equal(t, "ipfs://beta", h.testnet.AgentURI(1))

	count := h.callJSON(t, "get_agent_count", map[string]any{"chain": "bsc-testnet"})
	assert.Equal(t, float64(1), count["count"])
}

func TestSearchAndList(t *testing.T) {
	h := newHarness(t)
	owner := crypto.PubkeyToAddress(mustKey(t).PublicKey)
	uri, err := erc8004.EncodeDataURI(map[string]any{"name": "Gas Oracle"})
	require.NoError(t, err)
	h.testnet.SeedAgent(owner, uri)
	h.testnet.SeedAgent(owner, "https://agents.example/other.json")

	found := h.callJSON(t, "search_agents", map[string]any{"chain": "bsc-testnet", "query": "oracle"})
	assert.Equal(t, float64(1), found["count"])

	listed := h.callJSON(t, "list_agents", map[string]any{"chain": "bsc-testnet", "address": owner.Hex()})
	assert.Equal(t, float64(2), listed["count"])
}

func TestReputationAndValidation(t *testing.T) {
	h := newHarness(t)
	owner := crypto.PubkeyToAddress(mustKey(t).PublicKey)
	id := h.testnet.SeedAgent(owner, "https://agents.example/a.json")
	h.testnet.SeedFeedback(id, owner, 90, "fast")
	h.testnet.SeedFeedback(id, owner, 70, "ok")
	h.testnet.SeedValidation(id, owner, "identity", []byte("kyc"))

	agentID := fmt.Sprint(id)
	rep := h.callJSON(t, "get_reputation", map[string]any{"chain": "bsc-testnet", "agentId": agentID})
	assert.Equal(t, float64(2), rep["totalFeedback"])
	assert.Equal(t, "ok", rep["recentFeedback"].([]any)[0].(map[string]any)["comment"])

	val := h.callJSON(t, "get_validation_status", map[string]any{"chain": "bsc-testnet", "agentId": agentID})
	assert.Equal(t, true, val["validated"])

	text, isErr := h.call(t, "get_validation_status", map[string]any{"chain": "bsc-mainnet", "agentId": "1"})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "Error: "))
}

func TestChainInfoAndTransaction(t *testing.T) {
	h := newHarness(t, WithPrivateKey(newKey(t)))
	info := h.callJSON(t, "get_chain_info", map[string]any{"chain": "bsc-testnet"})
	assert.Equal(t, float64(97), info["chainId"])
	assert.Equal(t, true, info["validationEnabled"])
	assert.Contains(t, info, "blockNumber")

	reg := h.callJSON(t, "register_agent", map[string]any{"chain": "bsc-testnet", "agentURI": "ipfs://x"})
	tx := h.callJSON(t, "get_transaction", map[string]any{"chain": "bsc-testnet", "txHash": reg["transactionHash"]})
	assert.Equal(t, reg["transactionHash"], tx["transaction"].(map[string]any)["hash"])

	text, isErr := h.call(t, "get_transaction", map[string]any{"chain": "bsc-testnet", "txHash": "0x12"})
	assert.True(t, isErr)
	assert.Contains(t, text, "invalid transaction hash")
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

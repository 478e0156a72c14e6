package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BNBChain-AgentKit/internal/a2a"
	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/config"
	"BNBChain-AgentKit/internal/erc8004/erc8004test"
	"BNBChain-AgentKit/internal/llm"
	"BNBChain-AgentKit/internal/web3/ethereum"
	"BNBChain-AgentKit/internal/x402"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	for _, name := range []string{"PRIVATE_KEY", "CHAIN", "TASK_STORE", "TASK_QUEUE", "REDIS_URL", "REDIS_ADDR", "LLM_PROVIDER", "OPENAI_API_KEY", "A2A_AUTH_TOKENS", "X402_ENABLED", "BASE_URL", "METRICS_ADDR"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Setenv("AGENT_NAME", "Test Agent")
	cfg, err := config.Load("")
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func testChain(t *testing.T) *erc8004test.Chain {
	t.Helper()
	chain, err := chains.Default().Resolve(chains.DefaultKey)
	require.NoError(t, err)
	return erc8004test.New(chain)
}

func dialer(sim *erc8004test.Chain) Option {
	return WithDialer(func(_ context.Context, c chains.Chain) (*ethereum.Client, error) {
		return ethereum.NewFromBackend(c.Key, sim), nil
	})
}

func newKey(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return fmt.Sprintf("0x%x", crypto.FromECDSA(key))
}

func newRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func sendText(t *testing.T, h http.Handler, text, skill string, headers map[string]string) (*httptest.ResponseRecorder, *a2a.Task, *a2a.RPCError) {
	t.Helper()
	params := a2a.TaskSendParams{Message: a2a.Message{Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart(text)}}}
	if skill != "" {
		params.Metadata = map[string]any{"skill": skill}
	}
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(a2a.Request{JSONRPC: "2.0", ID: json.RawMessage(`"1"`), Method: a2a.MethodSend, Params: raw})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, a2a.RPCPath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		return rec, nil, nil
	}
	var reply struct {
		Result *a2a.Task     `json:"result"`
		Error  *a2a.RPCError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	return rec, reply.Result, reply.Error
}

func resultData(t *testing.T, task *a2a.Task) map[string]any {
	t.Helper()
	require.NotNil(t, task)
	for _, art := range task.Artifacts {
		if art.Name == "result" && len(art.Parts) > 0 {
			return art.Parts[0].Data
		}
	}
	t.Fatalf("task %s has no result artifact", task.ID)
	return nil
}

func TestDevModeEcho(t *testing.T) {
	sim := testChain(t)
	rt := newRuntime(t, testConfig(t, nil), dialer(sim))

	assert.Nil(t, rt.Identity())
	card := rt.Card()
	assert.Nil(t, card.ERC8004)
	assert.Equal(t, "http://localhost:3000/a2a", card.URL)
	require.Len(t, card.Skills, 3)
	assert.Equal(t, "On Chain Execution", card.Skills[2].Name)
	assert.Empty(t, sim.Sent())

	_, task, rpcErr := sendText(t, rt.Handler(), "hello", "", nil)
	require.Nil(t, rpcErr)
	assert.Equal(t, a2a.StateCompleted, task.Status.State)
	assert.Equal(t,
		`[Test Agent] Received: "hello". Agent is running on bsc-testnet with on-chain identity.`,
		resultData(t, task)["response"])
	assert.Equal(t, `Processed message: "hello"`, task.Status.Message.Text())

	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"agent":"Test Agent"`)

	rec = httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegistersThenReusesIdentity(t *testing.T) {
	sim := testChain(t)
	key := newKey(t)
	cfg := testConfig(t, func(c *config.Config) {
		c.Agent.PrivateKey = key
		c.Agent.TrustModels = []string{"reputation"}
		c.Server.BaseURL = "https://agent.example.org/"
	})

	first := newRuntime(t, cfg, dialer(sim))
	identity := first.Identity()
	require.NotNil(t, identity)
	require.NotNil(t, identity.RegistrationData)
	require.Len(t, identity.RegistrationData.Services, 1)
	assert.Equal(t, "A2A", identity.RegistrationData.Services[0].Name)
	assert.Equal(t, "https://agent.example.org", identity.RegistrationData.Services[0].Endpoint)

	card := first.Card()
	require.NotNil(t, card.ERC8004)
	assert.Equal(t, identity.AgentID, card.ERC8004.AgentID)
	assert.Equal(t, "bsc-testnet", card.ERC8004.Chain)
	assert.Equal(t, []string{"reputation"}, card.ERC8004.TrustModels)
	assert.Equal(t, "https://agent.example.org/a2a", card.URL)

	sent := len(sim.Sent())
	second := newRuntime(t, cfg, dialer(sim))
	require.NotNil(t, second.Identity())
	assert.Equal(t, identity.AgentID, second.Identity().AgentID)
	assert.Len(t, sim.Sent(), sent, "reusing an identity must not send transactions")
}

func TestSkipRegistration(t *testing.T) {
	sim := testChain(t)
	cfg := testConfig(t, func(c *config.Config) {
		c.Agent.PrivateKey = newKey(t)
		c.Agent.SkipRegistration = true
	})
	rt := newRuntime(t, cfg, dialer(sim))
	assert.Nil(t, rt.Identity())
	assert.Empty(t, sim.Sent())
}

func TestInvalidKeyFailsStartup(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Agent.PrivateKey = "0xnothex" })
	_, err := New(context.Background(), cfg, dialer(testChain(t)))
	assert.Error(t, err)
}

func TestChatSkillUsesHistoryAndKnowledge(t *testing.T) {
	var captured llm.Request
	fake := llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		captured = req
		return &llm.Response{Content: "Use register(tokenURI).", Model: "fake"}, nil
	})
	rt := newRuntime(t, testConfig(t, nil), dialer(testChain(t)), WithLLM(fake))

	_, task, rpcErr := sendText(t, rt.Handler(), "How do I register an ERC-8004 identity?", "chat", nil)
	require.Nil(t, rpcErr)
	assert.Equal(t, a2a.StateCompleted, task.Status.State)
	assert.Equal(t, "Use register(tokenURI).", resultData(t, task)["response"])

	require.Len(t, captured.Messages, 1)
	assert.Equal(t, llm.RoleUser, captured.Messages[0].Role)
	assert.Contains(t, captured.System, "Test Agent")
	require.NotEmpty(t, captured.Knowledge)
	assert.Equal(t, "ERC-8004 Identity Registry", captured.Knowledge[0].Title)
}

func TestChatFailureFailsTask(t *testing.T) {
	fake := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, fmt.Errorf("upstream down")
	})
	rt := newRuntime(t, testConfig(t, nil), dialer(testChain(t)), WithLLM(fake))

	_, task, rpcErr := sendText(t, rt.Handler(), "hi", "chat", nil)
	require.Nil(t, rpcErr)
	assert.Equal(t, a2a.StateFailed, task.Status.State)
}

func TestChainStatusSkill(t *testing.T) {
	sim := testChain(t)
	rt := newRuntime(t, testConfig(t, nil), dialer(sim))

	_, task, rpcErr := sendText(t, rt.Handler(), "status", "on-chain-execution", nil)
	require.Nil(t, rpcErr)
	data := resultData(t, task)
	assert.Equal(t, "bsc-testnet", data["chain"])
	assert.EqualValues(t, 97, data["chainId"])
	assert.EqualValues(t, true, data["devMode"])
	assert.NotContains(t, data, "agentId")
}

func TestBearerTokens(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Auth.Tokens = []string{"client=s3cret"} })
	rt := newRuntime(t, cfg, dialer(testChain(t)))
	require.NotNil(t, rt.Card().Authentication)

	rec, _, _ := sendText(t, rt.Handler(), "hello", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, task, rpcErr := sendText(t, rt.Handler(), "hello", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, rpcErr)
	assert.Equal(t, a2a.StateCompleted, task.Status.State)

	rec = httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, a2a.CardPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code, "the agent card stays public")
}

func TestPricedSkillRequiresPayment(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.X402.Enabled = true
		c.X402.Payee = "0x000000000000000000000000000000000000dEaD"
		c.X402.Pricing = []x402.PricingConfig{{Route: "analysis", Price: "0.01", Token: "USDC"}}
	})
	rt := newRuntime(t, cfg, dialer(testChain(t)))
	h := rt.Handler()

	rec, _, _ := sendText(t, h, "analyse this", "analysis", nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var required x402.PaymentRequired
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &required))

	rec, task, rpcErr := sendText(t, h, "hello", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, rpcErr)
	assert.Equal(t, a2a.StateCompleted, task.Status.State)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x402/pricing", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "analysis")
}

func TestPricedSkillRefusesStreaming(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.X402.Enabled = true
		c.X402.Payee = "0x000000000000000000000000000000000000dEaD"
		c.X402.Pricing = []x402.PricingConfig{{Route: RouteAllTasks, Price: "0.01", Token: "USDT"}}
	})
	rt := newRuntime(t, cfg, dialer(testChain(t)))

	body := []byte(`{"jsonrpc":"2.0","id":7,"method":"tasks/sendSubscribe","params":{"message":{"role":"user","parts":[{"type":"text","text":"hi"}]}}}`)
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, a2a.RPCPath, bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	var reply struct {
		ID    json.RawMessage `json:"id"`
		Error *a2a.RPCError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, a2a.ErrUnsupportedOperation, reply.Error.Code)
	assert.Equal(t, "7", string(reply.ID))
}

func TestMemoryQueueMakesServiceAsync(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Queue.Driver = "memory" })
	rt := newRuntime(t, cfg, dialer(testChain(t)))
	assert.True(t, rt.tasks.Async())
	assert.NotNil(t, rt.processor)
}

func TestAlertDispatcher(t *testing.T) {
	cfg := testConfig(t, nil)
	assert.Nil(t, alertDispatcher(cfg))
	cfg.Observability.SlackWebhook = "https://hooks.slack.test/x"
	assert.NotNil(t, alertDispatcher(cfg))
}

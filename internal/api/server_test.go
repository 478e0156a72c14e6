package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"BNBChain-AgentKit/internal/auth"
	"BNBChain-AgentKit/internal/bridge"
	"BNBChain-AgentKit/internal/chains"
	xerrors "BNBChain-AgentKit/internal/errors"
	redisstore "BNBChain-AgentKit/internal/storage/redis"
)

const wallet = "0x1111111111111111111111111111111111111111"

type fakeBridge struct {
	name   string
	out    string
	quotes int
}

func (f *fakeBridge) Name() string { return f.name }

func (f *fakeBridge) SupportsRoute(src, dst string) bool { return src == "bsc" && dst == "base" }

func (f *fakeBridge) Chains() map[string]int64 { return map[string]int64{"bsc": 56, "base": 8453} }

func (f *fakeBridge) Quote(_ context.Context, req bridge.QuoteRequest) (*bridge.BridgeQuote, error) {
	f.quotes++
	if f.out == "" {
		return nil, nil
	}
	return &bridge.BridgeQuote{Provider: f.name, QuoteID: f.name + "-bsc-base-1", InputAmount: req.Amount, OutputAmount: f.out}, nil
}

func (f *fakeBridge) BuildTransaction(_ context.Context, id string) (*bridge.BridgeTransaction, error) {
	if id != f.name+"-bsc-base-1" {
		return nil, xerrors.New(bridge.CodeQuoteExpired, "Quote expired or not found")
	}
	return &bridge.BridgeTransaction{QuoteID: id, To: "0xrouter", ChainID: 56}, nil
}

func (f *fakeBridge) Status(_ context.Context, tx, chain string) bridge.BridgeStatus {
	return bridge.BridgeStatus{Provider: f.name, Status: bridge.StatusBridging, SourceTxHash: tx, SourceChain: chain}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, int64, error) {
	return false, 0, errors.New("redis down")
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应失败: %v (%s)", err, rec.Body.String())
	}
	return out
}

func quoteBody(sender string) string {
	return `{"sourceChain":"bsc","destinationChain":"base","sourceToken":"0xa","destinationToken":"0xb","amount":"1000","sender":"` + sender + `"}`
}

func TestHealthEndpoints(t *testing.T) {
	s := NewServer(":0", nil)
	s.now = func() time.Time { return time.UnixMilli(42) }
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || decode(t, rec)["timestamp"].(float64) != 42 {
		t.Fatalf("health 响应异常: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, do(t, h, http.MethodGet, "/health/live", "")); got["live"] != true {
		t.Fatalf("live 响应异常: %v", got)
	}
	if got := decode(t, do(t, h, http.MethodGet, "/health/ready", "")); got["ready"] != true {
		t.Fatalf("ready 响应异常: %v", got)
	}
	if rec := do(t, h, http.MethodGet, "/metrics", ""); !strings.Contains(rec.Body.String(), "agentkit_") {
		t.Fatalf("metrics 未暴露指标")
	}
}

func TestChainsListsBridgeSupport(t *testing.T) {
	h := NewServer(":0", chains.Default(), WithBridge(&fakeBridge{name: "synapse"})).Handler()
	rec := do(t, h, http.MethodGet, "/v1/chains", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body struct {
		Chains []chainView `json:"chains"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var bsc *chainView
	for i := range body.Chains {
		if body.Chains[i].ChainID == 56 {
			bsc = &body.Chains[i]
		}
	}
	if bsc == nil || len(bsc.Bridges) != 1 || bsc.Bridges[0] != "synapse" {
		t.Fatalf("bsc 应标注 synapse 支持: %+v", body.Chains)
	}
}

func TestQuotePicksBestProvider(t *testing.T) {
	low := &fakeBridge{name: "low", out: "900"}
	high := &fakeBridge{name: "high", out: "990"}
	none := &fakeBridge{name: "none"}
	h := NewServer(":0", nil, WithBridge(low), WithBridge(high), WithBridge(none)).Handler()

	rec := do(t, h, http.MethodPost, "/v1/bridge/quote", quoteBody(wallet))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["quote"].(map[string]any)["provider"] != "high" {
		t.Fatalf("应选择输出最多的报价: %v", body["quote"])
	}
	if len(body["quotes"].([]any)) != 2 || none.quotes != 1 {
		t.Fatalf("报价列表异常: %v", body["quotes"])
	}
}

func TestQuoteValidation(t *testing.T) {
	h := NewServer(":0", nil, WithBridge(&fakeBridge{name: "synapse"})).Handler()

	rec := do(t, h, http.MethodPost, "/v1/bridge/quote", quoteBody("0x123"))
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "Invalid wallet address" {
		t.Fatalf("非法地址应返回 400: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/v1/bridge/quote", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("非法 JSON 应返回 400: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/v1/bridge/quote", quoteBody(wallet))
	if rec.Code != http.StatusNotFound || decode(t, rec)["code"] != "NOT_FOUND" {
		t.Fatalf("无报价应返回 404: %d %s", rec.Code, rec.Body.String())
	}
}

func TestBuildAndStatus(t *testing.T) {
	h := NewServer(":0", nil, WithBridge(&fakeBridge{name: "synapse", out: "1"})).Handler()

	rec := do(t, h, http.MethodPost, "/v1/bridge/build", `{"quoteId":"synapse-bsc-base-1"}`)
	if rec.Code != http.StatusOK || decode(t, rec)["to"] != "0xrouter" {
		t.Fatalf("构建交易失败: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/v1/bridge/build", `{"quoteId":"synapse-bsc-base-2"}`)
	if rec.Code != http.StatusNotFound || decode(t, rec)["error"] != "Quote expired or not found" {
		t.Fatalf("过期报价应返回 404: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/v1/bridge/build", `{"quoteId":"other-1"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("未知提供方应返回 404: %d", rec.Code)
	}

	hash := "0x" + strings.Repeat("ab", 32)
	rec = do(t, h, http.MethodGet, "/v1/bridge/status?chain=bsc&txHash="+hash, "")
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "bridging" {
		t.Fatalf("状态查询失败: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/v1/bridge/status?chain=bsc&txHash=0x12", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("非法哈希应返回 400: %d", rec.Code)
	}
}

func TestRateLimitByForwardedIP(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := redisstore.NewRateLimiter(client, "", 2, time.Minute)
	h := NewServer(":0", nil, WithLimiter(limiter)).Handler()

	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodGet, "/health", "", "X-Forwarded-For", "10.0.0.1, 10.0.0.2"); rec.Code != http.StatusOK {
			t.Fatalf("第 %d 次请求应放行: %d", i+1, rec.Code)
		}
	}
	rec := do(t, h, http.MethodGet, "/health", "", "X-Forwarded-For", "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("超过限额应返回 429: %d", rec.Code)
	}
	body := decode(t, rec)
	if body["error"] != "Too many requests" || body["code"] != "RATE_LIMITED" {
		t.Fatalf("429 响应体异常: %v", body)
	}
	if rec := do(t, h, http.MethodGet, "/health", "", "X-Real-IP", "10.0.0.9"); rec.Code != http.StatusOK {
		t.Fatalf("其他 IP 不受影响: %d", rec.Code)
	}
	if mr.TTL("rate_limit:10.0.0.1") != time.Minute {
		t.Fatalf("限流窗口应为 60s: %v", mr.TTL("rate_limit:10.0.0.1"))
	}
}

func TestRateLimiterErrorsPassThrough(t *testing.T) {
	h := NewServer(":0", nil, WithLimiter(failingLimiter{})).Handler()
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("限流器故障时应放行: %d", rec.Code)
	}
}

func TestAuthProtectsV1Only(t *testing.T) {
	svc, err := auth.NewStatic([]string{"ops=secret"})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	h := NewServer(":0", nil, WithAuth(svc)).Handler()

	if rec := do(t, h, http.MethodGet, "/v1/chains", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("缺少 token 应返回 401: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/chains", "", "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Fatalf("合法 token 应放行: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("健康检查不需要认证: %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := clientIP(r); got != "unknown" {
		t.Fatalf("got %q", got)
	}
}

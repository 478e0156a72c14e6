package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	"BNBChain-AgentKit/internal/auth"
	"BNBChain-AgentKit/internal/bridge"
	"BNBChain-AgentKit/internal/chains"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/observability/metrics"
	"BNBChain-AgentKit/pkg/logger"
)

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	txHashPattern  = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

const maxBodyBytes = 1 << 20

// Limiter 对单个键计数，*redis.RateLimiter 满足该接口。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int64, error)
}

// Server 负责暴露跨链报价与链信息接口。
type Server struct {
	addr    string
	chains  *chains.Registry
	bridges []bridge.Provider
	limiter Limiter
	auth    *auth.Service
	log     *slog.Logger
	now     func() time.Time
}

// Option 用于定制 Server。
type Option func(*Server)

// WithLimiter 启用按 IP 的限流。
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithAuth 为 /v1 路由启用 bearer token 校验。
func WithAuth(a *auth.Service) Option {
	return func(s *Server) { s.auth = a }
}

// WithBridge 注册一个跨链报价提供方。
func WithBridge(p bridge.Provider) Option {
	return func(s *Server) {
		if p != nil {
			s.bridges = append(s.bridges, p)
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, table *chains.Registry, opts ...Option) *Server {
	if table == nil {
		table = chains.Default()
	}
	s := &Server{addr: addr, chains: table, log: logger.Named("api"), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回完整的路由，包含限流、认证与请求指标。
func (s *Server) Handler() http.Handler {
	v1 := http.NewServeMux()
	v1.HandleFunc("GET /v1/chains", s.handleChains)
	v1.HandleFunc("POST /v1/bridge/quote", s.handleQuote)
	v1.HandleFunc("POST /v1/bridge/build", s.handleBuild)
	v1.HandleFunc("GET /v1/bridge/status", s.handleStatus)

	var protected http.Handler = v1
	if s.auth != nil {
		protected = s.auth.Middleware(protected)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": s.now().UnixMilli()})
	})
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "live": true})
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": true})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/v1/", protected)

	return metrics.Middleware("bridged", s.rateLimit(mux))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("bridge API 已启动", "addr", s.addr, "providers", len(s.bridges))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// rateLimit 按客户端 IP 计数，限流器出错时放行。
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, _, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			s.log.Warn("限流器不可用，放行请求", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Too many requests", Code: string(xerrors.CodeRateLimited)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	return "unknown"
}

type chainView struct {
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	ChainID  int64           `json:"chainId"`
	Explorer string          `json:"explorer"`
	Currency chains.Currency `json:"currency"`
	Testnet  bool            `json:"testnet"`
	Identity string          `json:"identityRegistry"`
	Bridges  []string        `json:"bridges,omitempty"`
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	list := s.chains.All()
	out := make([]chainView, 0, len(list))
	for _, c := range list {
		view := chainView{
			Key:      c.Key,
			Name:     c.Name,
			ChainID:  c.ChainID,
			Explorer: c.Explorer,
			Currency: c.Currency,
			Testnet:  c.Testnet,
			Identity: c.Contracts.Identity,
		}
		for _, p := range s.bridges {
			for _, id := range p.Chains() {
				if id == c.ChainID {
					view.Bridges = append(view.Bridges, p.Name())
					break
				}
			}
		}
		out = append(out, view)
	}
	bridged := map[string]map[string]int64{}
	for _, p := range s.bridges {
		bridged[p.Name()] = p.Chains()
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": out, "bridgeChains": bridged})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req bridge.QuoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateQuote(req); err != nil {
		writeError(w, err)
		return
	}

	var (
		quotes  []*bridge.BridgeQuote
		best    *bridge.BridgeQuote
		bestOut *big.Int
	)
	for _, p := range s.bridges {
		if !p.SupportsRoute(req.SourceChain, req.DestChain) {
			continue
		}
		q, err := p.Quote(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		if q == nil {
			continue
		}
		quotes = append(quotes, q)
		out, ok := new(big.Int).SetString(q.OutputAmount, 10)
		if ok && (bestOut == nil || out.Cmp(bestOut) > 0) {
			best, bestOut = q, out
		}
	}
	if best == nil {
		writeError(w, xerrors.Newf(xerrors.CodeNotFound, "no bridge route from %s to %s", req.SourceChain, req.DestChain))
		return
	}
	logger.Audit().Info("bridge quote issued", "quote_id", best.QuoteID, "caller", auth.SubjectName(r.Context()), "sender", req.Sender, "src", req.SourceChain, "dst", req.DestChain)
	writeJSON(w, http.StatusOK, map[string]any{"quote": best, "quotes": quotes})
}

type buildRequest struct {
	QuoteID string `json:"quoteId"`
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.QuoteID == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "quoteId is required"))
		return
	}
	p := s.providerFor(req.QuoteID)
	if p == nil {
		writeError(w, xerrors.New(bridge.CodeQuoteExpired, "Quote expired or not found"))
		return
	}
	tx, err := p.BuildTransaction(r.Context(), req.QuoteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txHash, chain := q.Get("txHash"), q.Get("chain")
	if !txHashPattern.MatchString(txHash) {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "txHash must be a 32-byte hex string"))
		return
	}
	if chain == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "chain is required"))
		return
	}
	name := q.Get("provider")
	for _, p := range s.bridges {
		if name == "" || p.Name() == name {
			writeJSON(w, http.StatusOK, p.Status(r.Context(), txHash, chain))
			return
		}
	}
	writeError(w, xerrors.Newf(xerrors.CodeNotFound, "unknown bridge provider %q", name))
}

// providerFor 根据报价 ID 的前缀找到签发它的提供方。
func (s *Server) providerFor(quoteID string) bridge.Provider {
	prefix, _, _ := strings.Cut(quoteID, "-")
	for _, p := range s.bridges {
		if p.Name() == prefix {
			return p
		}
	}
	return nil
}

func validateQuote(req bridge.QuoteRequest) error {
	switch {
	case req.SourceChain == "" || req.DestChain == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "sourceChain and destinationChain are required")
	case req.SourceToken == "" || req.DestToken == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "sourceToken and destinationToken are required")
	case !addressPattern.MatchString(req.Sender):
		return xerrors.New(xerrors.CodeInvalidArgument, "Invalid wallet address")
	case req.Recipient != "" && !addressPattern.MatchString(req.Recipient):
		return xerrors.New(xerrors.CodeInvalidArgument, "Invalid recipient address")
	case req.Slippage < 0 || req.Slippage >= 1:
		return xerrors.New(xerrors.CodeInvalidArgument, "slippage must be in [0, 1)")
	}
	if amount, ok := new(big.Int).SetString(req.Amount, 10); !ok || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "amount must be a positive integer in base units")
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, xerrors.HTTPStatus(err), errorBody{Error: xerrors.MessageOf(err), Code: string(xerrors.CodeOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

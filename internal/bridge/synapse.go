package bridge

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/observability/metrics"
	redisstore "BNBChain-AgentKit/internal/storage/redis"
	"BNBChain-AgentKit/pkg/logger"
)

const (
	// DefaultSynapseAPI is the public Synapse REST endpoint.
	DefaultSynapseAPI = "https://api.synapseprotocol.com"
	// SynapseRouter is the SynapseRouter deployment shared by the supported chains.
	SynapseRouter = "0x2796317b0fF8538F253012862c06787Adfb8cEb6"

	synapseName       = "synapse"
	bridgeGasLimit    = 350000
	defaultBridgeTime = 300
	quoteKeyPrefix    = "synapse:quote:"
)

var synapseChains = map[string]int64{
	"ethereum": 1,
	"arbitrum": 42161,
	"optimism": 10,
	"polygon":  137,
	"base":     8453,
	"bsc":      56,
}

const routerABI = `[{"type":"function","name":"bridge","stateMutability":"payable","inputs":[
{"name":"to","type":"address"},
{"name":"chainId","type":"uint256"},
{"name":"token","type":"address"},
{"name":"amount","type":"uint256"},
{"name":"originQuery","type":"tuple","components":[
 {"name":"swapAdapter","type":"address"},{"name":"tokenOut","type":"address"},
 {"name":"minAmountOut","type":"uint256"},{"name":"deadline","type":"uint256"},
 {"name":"rawParams","type":"bytes"}]},
{"name":"destQuery","type":"tuple","components":[
 {"name":"swapAdapter","type":"address"},{"name":"tokenOut","type":"address"},
 {"name":"minAmountOut","type":"uint256"},{"name":"deadline","type":"uint256"},
 {"name":"rawParams","type":"bytes"}]}],"outputs":[]}]`

var parsedRouterABI = mustParseABI(routerABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// swapQuery mirrors the SynapseRouter SwapQuery tuple.
type swapQuery struct {
	SwapAdapter  common.Address
	TokenOut     common.Address
	MinAmountOut *big.Int
	Deadline     *big.Int
	RawParams    []byte
}

// hexAmount accepts both the ethers BigNumber object {"type","hex"} and a
// plain string amount, decimal or 0x-prefixed hex.
type hexAmount struct {
	Type string `json:"type"`
	Hex  string `json:"hex"`
}

func (a *hexAmount) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*a = hexAmount{Hex: plain}
		return nil
	}
	type object hexAmount
	var obj object
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*a = hexAmount(obj)
	return nil
}

type apiQuery struct {
	SwapAdapter  string    `json:"swapAdapter"`
	TokenOut     string    `json:"tokenOut"`
	MinAmountOut hexAmount `json:"minAmountOut"`
	Deadline     hexAmount `json:"deadline"`
	RawParams    string    `json:"rawParams"`
}

type apiQuote struct {
	FeeAmount        hexAmount       `json:"feeAmount"`
	FeeConfig        json.RawMessage `json:"feeConfig,omitempty"`
	RouterAddress    string          `json:"routerAddress"`
	MaxAmountOut     hexAmount       `json:"maxAmountOut"`
	OriginQuery      apiQuery        `json:"originQuery"`
	DestQuery        apiQuery        `json:"destQuery"`
	EstimatedTime    int             `json:"estimatedTime"`
	BridgeModuleName string          `json:"bridgeModuleName"`
	MaxAmountOutStr  string          `json:"maxAmountOutStr,omitempty"`
}

type apiStatus struct {
	Status   bool `json:"status"`
	FromInfo *struct {
		ChainID   int64  `json:"chainId"`
		TxnHash   string `json:"txnHash"`
		Value     string `json:"value"`
		Timestamp int64  `json:"timestamp"`
	} `json:"fromInfo"`
	ToInfo *struct {
		ChainID   int64  `json:"chainId"`
		TxnHash   string `json:"txnHash"`
		Value     string `json:"value"`
		Timestamp int64  `json:"timestamp"`
	} `json:"toInfo"`
}

// cachedQuote is what BuildTransaction needs to rebuild the router call.
type cachedQuote struct {
	Quote     BridgeQuote  `json:"quote"`
	QuoteData apiQuote     `json:"quoteData"`
	Request   QuoteRequest `json:"request"`
	Router    string       `json:"routerAddress"`
}

// SynapseOption customises a SynapseProvider.
type SynapseOption func(*SynapseProvider)

// WithAPIURL points the provider at another Synapse REST endpoint.
func WithAPIURL(u string) SynapseOption {
	return func(p *SynapseProvider) {
		if u != "" {
			p.apiURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) SynapseOption {
	return func(p *SynapseProvider) {
		if c != nil {
			p.http = c
		}
	}
}

// WithQuoteTTL sets how long a quote can be turned into a transaction.
func WithQuoteTTL(ttl time.Duration) SynapseOption {
	return func(p *SynapseProvider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SynapseOption {
	return func(p *SynapseProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(l *slog.Logger) SynapseOption {
	return func(p *SynapseProvider) {
		if l != nil {
			p.log = l
		}
	}
}

// SynapseProvider quotes transfers through the Synapse REST API and builds
// SynapseRouter calls.
type SynapseProvider struct {
	apiURL string
	http   *http.Client
	cache  redisstore.Cache
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewSynapse returns a provider storing quotes in cache.
func NewSynapse(cache redisstore.Cache, opts ...SynapseOption) *SynapseProvider {
	p := &SynapseProvider{
		apiURL: DefaultSynapseAPI,
		http:   &http.Client{Timeout: 30 * time.Second},
		cache:  cache,
		ttl:    5 * time.Minute,
		now:    time.Now,
		log:    logger.Named("bridge"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = redisstore.NewMemoryCache()
	}
	return p
}

// Name implements Provider.
func (p *SynapseProvider) Name() string { return synapseName }

// Chains returns the supported chain names and ids.
func (p *SynapseProvider) Chains() map[string]int64 {
	out := make(map[string]int64, len(synapseChains))
	for k, v := range synapseChains {
		out[k] = v
	}
	return out
}

// SupportsRoute reports whether both chains are served and differ.
func (p *SynapseProvider) SupportsRoute(src, dst string) bool {
	_, okSrc := synapseChains[src]
	_, okDst := synapseChains[dst]
	return okSrc && okDst && src != dst
}

// Quote fetches a quote and caches it under its id. Upstream failures are
// logged and yield a nil quote.
func (p *SynapseProvider) Quote(ctx context.Context, req QuoteRequest) (*BridgeQuote, error) {
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid amount %q", req.Amount)
	}
	if !p.SupportsRoute(req.SourceChain, req.DestChain) {
		metrics.ObserveBridgeQuote(synapseName, "unsupported")
		return nil, nil
	}
	if req.Slippage <= 0 {
		req.Slippage = DefaultSlippage
	}

	q := url.Values{}
	q.Set("fromChain", strconv.FormatInt(synapseChains[req.SourceChain], 10))
	q.Set("toChain", strconv.FormatInt(synapseChains[req.DestChain], 10))
	q.Set("fromToken", req.SourceToken)
	q.Set("toToken", req.DestToken)
	q.Set("amount", amount.String())

	var raw json.RawMessage
	if err := p.getJSON(ctx, "/bridge?"+q.Encode(), &raw); err != nil {
		p.log.Warn("synapse 报价失败", "src", req.SourceChain, "dst", req.DestChain, "error", err)
		metrics.ObserveBridgeQuote(synapseName, "failed")
		return nil, nil
	}
	quotes, err := decodeQuotes(raw)
	if err != nil {
		p.log.Warn("synapse 报价失败", "src", req.SourceChain, "dst", req.DestChain, "error", err)
		metrics.ObserveBridgeQuote(synapseName, "failed")
		return nil, nil
	}
	if len(quotes) == 0 {
		metrics.ObserveBridgeQuote(synapseName, "empty")
		return nil, nil
	}
	best := quotes[0]
	out, err := parseHex(best.MaxAmountOut.Hex)
	if err != nil {
		p.log.Warn("synapse 报价金额无法解析", "value", best.MaxAmountOut.Hex, "error", err)
		metrics.ObserveBridgeQuote(synapseName, "failed")
		return nil, nil
	}

	minOut := minOutput(out, req.Slippage)
	fee := new(big.Int)
	if amount.Cmp(out) > 0 {
		fee.Sub(amount, out)
	}
	estimated := best.EstimatedTime
	if estimated <= 0 {
		estimated = defaultBridgeTime
	}
	router := best.RouterAddress
	if router == "" {
		router = SynapseRouter
	}
	now := p.now()
	native := isNative(req.SourceToken)
	quote := &BridgeQuote{
		Provider:        synapseName,
		QuoteID:         p.quoteID(req, now),
		SourceChain:     req.SourceChain,
		DestChain:       req.DestChain,
		SourceToken:     req.SourceToken,
		DestToken:       req.DestToken,
		InputAmount:     amount.String(),
		OutputAmount:    out.String(),
		MinOutputAmount: minOut.String(),
		Fee:             fee.String(),
		Slippage:        req.Slippage,
		EstimatedTime:   estimated,
		ExpiresAt:       now.Add(p.ttl).UnixMilli(),
		Route: []RouteStep{{
			Type:       "bridge",
			Chain:      req.SourceChain,
			Protocol:   synapseName,
			FromToken:  req.SourceToken,
			ToToken:    req.DestToken,
			FromAmount: amount.String(),
			ToAmount:   out.String(),
		}},
		RequiresApproval: !native,
	}
	if !native {
		quote.ApprovalAddress = router
	}

	payload, err := json.Marshal(cachedQuote{Quote: *quote, QuoteData: best, Request: req, Router: router})
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, quoteKeyPrefix+quote.QuoteID, payload, p.ttl); err != nil {
		return nil, err
	}
	metrics.ObserveBridgeQuote(synapseName, "ok")
	return quote, nil
}

// BuildTransaction encodes SynapseRouter.bridge for a cached quote.
func (p *SynapseProvider) BuildTransaction(ctx context.Context, quoteID string) (*BridgeTransaction, error) {
	raw, err := p.cache.Get(ctx, quoteKeyPrefix+quoteID)
	if errors.Is(err, redisstore.ErrCacheMiss) {
		return nil, xerrors.New(CodeQuoteExpired, "Quote expired or not found")
	}
	if err != nil {
		return nil, err
	}
	var cached cachedQuote
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode cached quote")
	}
	req := cached.Request
	amount, ok := new(big.Int).SetString(cached.Quote.InputAmount, 10)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid cached amount %q", cached.Quote.InputAmount)
	}
	origin, err := toSwapQuery(cached.QuoteData.OriginQuery)
	if err != nil {
		return nil, err
	}
	dest, err := toSwapQuery(cached.QuoteData.DestQuery)
	if err != nil {
		return nil, err
	}
	recipient := req.Recipient
	if recipient == "" {
		recipient = req.Sender
	}
	data, err := parsedRouterABI.Pack("bridge",
		common.HexToAddress(recipient),
		big.NewInt(synapseChains[req.DestChain]),
		common.HexToAddress(req.SourceToken),
		amount,
		origin,
		dest,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode bridge call")
	}

	tx := &BridgeTransaction{
		QuoteID:  quoteID,
		To:       cached.Router,
		Data:     "0x" + hex.EncodeToString(data),
		Value:    "0",
		GasLimit: bridgeGasLimit,
		ChainID:  synapseChains[req.SourceChain],
	}
	if isNative(req.SourceToken) {
		tx.Value = amount.String()
	} else {
		tx.Approval = &Approval{Token: req.SourceToken, Spender: cached.Router, Amount: amount.String()}
	}
	return tx, nil
}

// Status looks up a transfer by its source transaction. Lookup failures
// report pending.
func (p *SynapseProvider) Status(ctx context.Context, txHash, chain string) BridgeStatus {
	st := BridgeStatus{Provider: synapseName, Status: StatusPending, SourceTxHash: txHash, SourceChain: chain}
	chainID, ok := synapseChains[chain]
	if !ok {
		st.Error = fmt.Sprintf("unsupported chain %q", chain)
		return st
	}
	q := url.Values{}
	q.Set("originChainId", strconv.FormatInt(chainID, 10))
	q.Set("txHash", txHash)
	var res apiStatus
	if err := p.getJSON(ctx, "/bridgeTxStatus?"+q.Encode(), &res); err != nil {
		p.log.Warn("synapse 状态查询失败", "tx", txHash, "error", err)
		st.Error = err.Error()
		return st
	}
	switch {
	case res.Status && res.ToInfo != nil && res.ToInfo.TxnHash != "":
		st.Status = StatusCompleted
		st.DestTxHash = res.ToInfo.TxnHash
		st.DestChain = chainName(res.ToInfo.ChainID)
		st.OutputAmount = res.ToInfo.Value
	case res.FromInfo != nil && res.FromInfo.TxnHash != "":
		st.Status = StatusBridging
	}
	if res.FromInfo != nil {
		st.InputAmount = res.FromInfo.Value
	}
	return st
}

func (p *SynapseProvider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "synapse request")
		}
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "synapse request")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return xerrors.Newf(xerrors.CodeUpstreamFailure, "synapse API returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "decode synapse response")
	}
	return nil
}

func (p *SynapseProvider) quoteID(req QuoteRequest, now time.Time) string {
	var buf [3]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%s-%s-%s-%d-%s", synapseName, req.SourceChain, req.DestChain, now.UnixMilli(), hex.EncodeToString(buf[:]))
}

// minOutput applies slippage in basis points: out - out*floor(s*10000)/10000.
func minOutput(out *big.Int, slippage float64) *big.Int {
	bps := big.NewInt(int64(slippage * 10000))
	cut := new(big.Int).Mul(out, bps)
	cut.Quo(cut, big.NewInt(10000))
	return new(big.Int).Sub(out, cut)
}

// decodeQuotes reads either a single quote object or an array of quotes.
func decodeQuotes(raw json.RawMessage) ([]apiQuote, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return nil, nil
	case trimmed[0] == '[':
		var quotes []apiQuote
		err := json.Unmarshal(trimmed, &quotes)
		return quotes, err
	default:
		var quote apiQuote
		if err := json.Unmarshal(trimmed, &quote); err != nil {
			return nil, err
		}
		return []apiQuote{quote}, nil
	}
}

// parseHex parses a 0x-prefixed hex amount, or a decimal one without prefix.
func parseHex(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func toSwapQuery(q apiQuery) (swapQuery, error) {
	minOut, err := parseHex(q.MinAmountOut.Hex)
	if err != nil {
		return swapQuery{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "cached quote")
	}
	deadline, err := parseHex(q.Deadline.Hex)
	if err != nil {
		return swapQuery{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "cached quote")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(q.RawParams, "0x"))
	if err != nil {
		return swapQuery{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "cached quote raw params")
	}
	return swapQuery{
		SwapAdapter:  common.HexToAddress(q.SwapAdapter),
		TokenOut:     common.HexToAddress(q.TokenOut),
		MinAmountOut: minOut,
		Deadline:     deadline,
		RawParams:    raw,
	}, nil
}

func isNative(token string) bool {
	return strings.EqualFold(token, NativeToken)
}

func chainName(id int64) string {
	for name, cid := range synapseChains {
		if cid == id {
			return name
		}
	}
	return strconv.FormatInt(id, 10)
}

package bridge

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "BNBChain-AgentKit/internal/errors"
	redisstore "BNBChain-AgentKit/internal/storage/redis"
)

const (
	usdcBSC  = "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"
	usdcBase = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	sender   = "0x1111111111111111111111111111111111111111"
)

// 1_000_000 in, 998_000 (0xf3a70) out.
const quoteBody = `[{
	"feeAmount": {"type": "BigNumber", "hex": "0x07d0"},
	"routerAddress": "0x2796317b0fF8538F253012862c06787Adfb8cEb6",
	"maxAmountOut": {"type": "BigNumber", "hex": "0x0f3a70"},
	"originQuery": {"swapAdapter": "0x0000000000000000000000000000000000000000", "tokenOut": "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
		"minAmountOut": {"type": "BigNumber", "hex": "0x0f4240"}, "deadline": {"type": "BigNumber", "hex": "0x65f00000"}, "rawParams": "0x"},
	"destQuery": {"swapAdapter": "0x0000000000000000000000000000000000000000", "tokenOut": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"minAmountOut": {"type": "BigNumber", "hex": "0x0f3a70"}, "deadline": {"type": "BigNumber", "hex": "0x65f00000"}, "rawParams": "0xabcd"},
	"estimatedTime": 0,
	"bridgeModuleName": "SynapseCCTP"
}]`

func newTestProvider(t *testing.T, handler http.HandlerFunc, opts ...SynapseOption) *SynapseProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]SynapseOption{WithAPIURL(srv.URL), WithHTTPClient(srv.Client())}, opts...)
	return NewSynapse(redisstore.NewMemoryCache(), opts...)
}

func quoteRequest(token string) QuoteRequest {
	return QuoteRequest{
		SourceChain: "bsc",
		DestChain:   "base",
		SourceToken: token,
		DestToken:   usdcBase,
		Amount:      "1000000",
		Sender:      sender,
		Slippage:    0.01,
	}
}

func TestSupportsRoute(t *testing.T) {
	p := NewSynapse(nil)
	assert.True(t, p.SupportsRoute("bsc", "base"))
	assert.False(t, p.SupportsRoute("bsc", "bsc"))
	assert.False(t, p.SupportsRoute("bsc", "opbnb"))
	assert.Equal(t, int64(56), p.Chains()["bsc"])
}

func TestQuoteComputesAmounts(t *testing.T) {
	var query string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bridge", r.URL.Path)
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(quoteBody))
	}, WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }))

	q, err := p.Quote(context.Background(), quoteRequest(usdcBSC))
	require.NoError(t, err)
	require.NotNil(t, q)

	assert.Contains(t, query, "fromChain=56")
	assert.Contains(t, query, "toChain=8453")
	assert.Contains(t, query, "amount=1000000")
	assert.Equal(t, "998000", q.OutputAmount)
	// 998000 - 998000*100/10000
	assert.Equal(t, "988020", q.MinOutputAmount)
	assert.Equal(t, "2000", q.Fee)
	assert.Equal(t, 300, q.EstimatedTime)
	assert.True(t, q.RequiresApproval)
	assert.Equal(t, SynapseRouter, q.ApprovalAddress)
	assert.True(t, strings.HasPrefix(q.QuoteID, "synapse-bsc-base-1700000000000-"))
	assert.Len(t, strings.TrimPrefix(q.QuoteID, "synapse-bsc-base-1700000000000-"), 6)
	assert.Equal(t, int64(1_700_000_300_000), q.ExpiresAt)
}

func TestQuoteFailureYieldsNil(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	q, err := p.Quote(context.Background(), quoteRequest(usdcBSC))
	require.NoError(t, err)
	assert.Nil(t, q)

	req := quoteRequest(usdcBSC)
	req.DestChain = "solana"
	q, err = p.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, q)

	req = quoteRequest(usdcBSC)
	req.Amount = "-5"
	_, err = p.Quote(context.Background(), req)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestBuildTransactionEncodesRouterCall(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(quoteBody))
	})
	q, err := p.Quote(context.Background(), quoteRequest(usdcBSC))
	require.NoError(t, err)

	tx, err := p.BuildTransaction(context.Background(), q.QuoteID)
	require.NoError(t, err)
	assert.Equal(t, SynapseRouter, tx.To)
	assert.Equal(t, int64(56), tx.ChainID)
	assert.Equal(t, "0", tx.Value)
	assert.Equal(t, uint64(350000), tx.GasLimit)
	require.NotNil(t, tx.Approval)
	assert.Equal(t, usdcBSC, tx.Approval.Token)
	assert.Equal(t, "1000000", tx.Approval.Amount)

	data, err := hex.DecodeString(strings.TrimPrefix(tx.Data, "0x"))
	require.NoError(t, err)
	method := parsedRouterABI.Methods["bridge"]
	assert.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(sender), args[0])
	assert.Equal(t, "8453", args[1].(*big.Int).String())
	assert.Equal(t, common.HexToAddress(usdcBSC), args[2])
	assert.Equal(t, "1000000", args[3].(*big.Int).String())
}

// singleQuoteBody is the object form with plain string query amounts.
const singleQuoteBody = `{
	"routerAddress": "0x2796317b0fF8538F253012862c06787Adfb8cEb6",
	"maxAmountOut": {"type": "BigNumber", "hex": "0x0f3a70"},
	"originQuery": {"swapAdapter": "0x0000000000000000000000000000000000000000", "tokenOut": "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
		"minAmountOut": "1000000", "deadline": "1710227456", "rawParams": "0x"},
	"destQuery": {"swapAdapter": "0x0000000000000000000000000000000000000000", "tokenOut": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"minAmountOut": "0x0f3a70", "deadline": "1710227456", "rawParams": "0xabcd"},
	"estimatedTime": 120,
	"bridgeModuleName": "SynapseCCTP"
}`

func TestQuoteSingleObjectResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(singleQuoteBody))
	})
	q, err := p.Quote(context.Background(), quoteRequest(usdcBSC))
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "998000", q.OutputAmount)
	assert.Equal(t, 120, q.EstimatedTime)

	tx, err := p.BuildTransaction(context.Background(), q.QuoteID)
	require.NoError(t, err)
	data, err := hex.DecodeString(strings.TrimPrefix(tx.Data, "0x"))
	require.NoError(t, err)
	args, err := parsedRouterABI.Methods["bridge"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	origin := reflect.ValueOf(args[4])
	dest := reflect.ValueOf(args[5])
	assert.Equal(t, "1000000", origin.FieldByName("MinAmountOut").Interface().(*big.Int).String())
	assert.Equal(t, "1710227456", origin.FieldByName("Deadline").Interface().(*big.Int).String())
	assert.Equal(t, "998000", dest.FieldByName("MinAmountOut").Interface().(*big.Int).String())
}

func TestParseAmountForms(t *testing.T) {
	for in, want := range map[string]string{"": "0", "0x0f4240": "1000000", "1000000": "1000000", "0X10": "16"} {
		got, err := parseHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}
	_, err := parseHex("0xzz")
	assert.Error(t, err)
}

func TestBuildTransactionNativeValue(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(quoteBody))
	})
	q, err := p.Quote(context.Background(), quoteRequest(NativeToken))
	require.NoError(t, err)
	assert.False(t, q.RequiresApproval)

	tx, err := p.BuildTransaction(context.Background(), q.QuoteID)
	require.NoError(t, err)
	assert.Equal(t, "1000000", tx.Value)
	assert.Nil(t, tx.Approval)
}

func TestBuildTransactionExpiredQuote(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(quoteBody))
	}))
	t.Cleanup(srv.Close)
	p := NewSynapse(redisstore.NewRedisCache(client), WithAPIURL(srv.URL), WithQuoteTTL(time.Minute))

	q, err := p.Quote(context.Background(), quoteRequest(usdcBSC))
	require.NoError(t, err)
	assert.True(t, mr.Exists(quoteKeyPrefix+q.QuoteID))

	mr.FastForward(2 * time.Minute)
	_, err = p.BuildTransaction(context.Background(), q.QuoteID)
	require.Error(t, err)
	assert.Equal(t, CodeQuoteExpired, xerrors.CodeOf(err))
	assert.Equal(t, http.StatusNotFound, xerrors.HTTPStatus(err))
	assert.Equal(t, "Quote expired or not found", xerrors.MessageOf(err))
}

func TestStatus(t *testing.T) {
	var body atomic.Value
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bridgeTxStatus", r.URL.Path)
		assert.Equal(t, "56", r.URL.Query().Get("originChainId"))
		_, _ = w.Write([]byte(body.Load().(string)))
	})

	body.Store(`{"status": true, "fromInfo": {"chainId": 56, "txnHash": "0xaa", "value": "1000000"}, "toInfo": {"chainId": 8453, "txnHash": "0xbb", "value": "998000"}}`)
	st := p.Status(context.Background(), "0xaa", "bsc")
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "0xbb", st.DestTxHash)
	assert.Equal(t, "base", st.DestChain)
	assert.Equal(t, "998000", st.OutputAmount)

	body.Store(`{"status": false, "fromInfo": {"chainId": 56, "txnHash": "0xaa", "value": "1000000"}}`)
	assert.Equal(t, StatusBridging, p.Status(context.Background(), "0xaa", "bsc").Status)

	body.Store(`not json`)
	st = p.Status(context.Background(), "0xaa", "bsc")
	assert.Equal(t, StatusPending, st.Status)
	assert.NotEmpty(t, st.Error)
}

func TestMinOutput(t *testing.T) {
	assert.Equal(t, "995", minOutput(big.NewInt(1000), 0.005).String())
	assert.Equal(t, "1000", minOutput(big.NewInt(1000), 0).String())
}

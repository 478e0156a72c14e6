package x402

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestPaywall(t *testing.T) (*Paywall, *MemoryStore, *[]string) {
	t.Helper()
	store := NewMemoryStore()
	var outcomes []string
	p, err := NewPaywall(NewVerifier(store), 97, testPayee,
		[]PricingConfig{{Route: "analysis", Price: "0.01", Token: "USDC"}},
		WithObserver(func(route, outcome string) { outcomes = append(outcomes, route+":"+outcome) }),
	)
	require.NoError(t, err)
	return p, store, &outcomes
}

func paidRequest(t *testing.T, p *Paywall, target string) (*http.Request, PaymentHeader) {
	t.Helper()
	req, _ := p.Requirement("analysis")
	_, h := testPayment(t, req.Accepts[0])
	encoded, err := Encode(h)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, target, nil)
	r.Header.Set(HeaderPayment, encoded)
	return r, h
}

func TestMiddlewareRequiresPayment(t *testing.T) {
	p, _, outcomes := newTestPaywall(t)
	called := false
	handler := p.Middleware("analysis")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analysis", nil))

	require.False(t, called)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body PaymentRequired
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Accepts, 1)
	require.Equal(t, "X-PAYMENT header is required", body.Error)
	require.Equal(t, []string{"analysis:required"}, *outcomes)
}

func TestMiddlewareRecordsReceipt(t *testing.T) {
	p, store, outcomes := newTestPaywall(t)
	handler := p.Middleware("analysis")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("report"))
	}))

	r, h := paidRequest(t, p, "/analysis")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "report", rec.Body.String())
	receipt, err := DecodeReceipt(rec.Header().Get(HeaderPaymentResponse))
	require.NoError(t, err)
	require.Equal(t, "analysis", receipt.Route)
	require.Equal(t, h.Nonce, receipt.Nonce)

	stored, err := store.Get(context.Background(), receipt.PaymentID)
	require.NoError(t, err)
	require.Equal(t, receipt, stored)
	require.Equal(t, []string{"analysis:paid"}, *outcomes)

	replay := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodPost, "/analysis", nil)
	r2.Header.Set(HeaderPayment, r.Header.Get(HeaderPayment))
	handler.ServeHTTP(replay, r2)
	require.Equal(t, http.StatusPaymentRequired, replay.Code)
}

func TestMiddlewareSkipsReceiptOnHandlerError(t *testing.T) {
	p, store, _ := newTestPaywall(t)
	handler := p.Middleware("analysis")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	r, _ := paidRequest(t, p, "/analysis")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, rec.Header().Get(HeaderPaymentResponse))
	list, err := store.List(context.Background(), ReceiptFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMiddlewareUnpricedRoutePassesThrough(t *testing.T) {
	p, _, _ := newTestPaywall(t)
	handler := p.Middleware("free")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/free", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p, store, _ := newTestPaywall(t)
	router := gin.New()
	router.POST("/analysis", p.Gin("analysis"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"result": "ok"})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analysis", nil))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	r, _ := paidRequest(t, p, "/analysis")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"result":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(HeaderPaymentResponse))

	list, err := store.List(context.Background(), ReceiptFilter{Route: "analysis"})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

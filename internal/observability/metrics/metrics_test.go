package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	h := Middleware("test_handler", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	before := testutil.ToFloat64(httpErrors.WithLabelValues("test_handler", http.MethodPost))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("test_handler", http.MethodPost, "502")))
	assert.Equal(t, before+1, testutil.ToFloat64(httpErrors.WithLabelValues("test_handler", http.MethodPost)))
}

func TestDomainCounters(t *testing.T) {
	ObserveTask("", "completed")
	ObservePayment("/premium", "paid")
	ObserveBridgeQuote("synapse", "ok")
	ObserveHTTPRequest("h", http.MethodGet, 200, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(a2aTasks.WithLabelValues("default", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(x402Payments.WithLabelValues("/premium", "paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bridgeQuotes.WithLabelValues("synapse", "ok")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	ObserveHTTPRequest("exposed", http.MethodGet, 200, time.Millisecond)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `agentkit_http_requests_total{code="200",handler="exposed",method="GET"} 1`))
}

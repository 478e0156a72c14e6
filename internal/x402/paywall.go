package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/pkg/logger"
)

// Outcome labels reported to a PaymentObserver.
const (
	OutcomeRequired = "required"
	OutcomeInvalid  = "invalid"
	OutcomePaid     = "paid"
	OutcomeError    = "error"
)

// PaymentObserver is notified of every priced request.
type PaymentObserver func(route, outcome string)

// Paywall guards priced routes.
type Paywall struct {
	verifier *Verifier
	observer PaymentObserver
	log      *slog.Logger

	mu     sync.RWMutex
	routes map[string]PaymentRequired
}

// PaywallOption customises a Paywall.
type PaywallOption func(*Paywall)

// WithObserver installs a PaymentObserver, e.g. a metrics counter.
func WithObserver(o PaymentObserver) PaywallOption {
	return func(p *Paywall) { p.observer = o }
}

// NewPaywall prices every entry of pricing on chainID, payable to payee.
func NewPaywall(verifier *Verifier, chainID int64, payee string, pricing []PricingConfig, opts ...PaywallOption) (*Paywall, error) {
	if verifier == nil {
		verifier = NewVerifier(nil)
	}
	p := &Paywall{verifier: verifier, log: logger.Named("x402"), routes: make(map[string]PaymentRequired, len(pricing))}
	for _, opt := range opts {
		opt(p)
	}
	for _, cfg := range pricing {
		req, err := Requirements(cfg, chainID, payee)
		if err != nil {
			return nil, err
		}
		p.routes[cfg.Route] = req
	}
	return p, nil
}

// Requirement returns the price of route.
func (p *Paywall) Requirement(route string) (PaymentRequired, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	req, ok := p.routes[route]
	return req, ok
}

// Routes lists the priced routes.
func (p *Paywall) Routes() map[string]PaymentRequired {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]PaymentRequired, len(p.routes))
	for k, v := range p.routes {
		out[k] = v
	}
	return out
}

// Authorize checks the X-PAYMENT value for route. When the payment is not
// acceptable, the returned PaymentRequired describes the 402 body and
// status is the HTTP status to answer with.
func (p *Paywall) Authorize(ctx context.Context, route, headerValue string) (PaymentHeader, *PaymentRequired, int) {
	req, ok := p.Requirement(route)
	if !ok {
		return PaymentHeader{}, nil, http.StatusOK
	}
	reject := func(outcome, reason string, status int) (PaymentHeader, *PaymentRequired, int) {
		p.observe(route, outcome)
		body := req
		body.Error = reason
		return PaymentHeader{}, &body, status
	}

	header, err := Decode(headerValue)
	if err != nil {
		outcome := OutcomeInvalid
		if xerrors.CodeOf(err) == CodePaymentRequired {
			outcome = OutcomeRequired
		}
		return reject(outcome, xerrors.MessageOf(err), http.StatusPaymentRequired)
	}
	result, err := p.verifier.Verify(ctx, header, req.Accepts[0])
	if err != nil {
		p.log.Error("payment verification failed", "route", route, "error", err)
		return reject(OutcomeError, "payment verification unavailable", http.StatusInternalServerError)
	}
	if !result.Valid {
		return reject(OutcomeInvalid, result.Error, http.StatusPaymentRequired)
	}
	return header, nil, http.StatusOK
}

// Settle records the receipt of a served request and returns the encoded
// X-PAYMENT-RESPONSE value.
func (p *Paywall) Settle(ctx context.Context, route string, header PaymentHeader) (PaymentReceipt, string, error) {
	receipt := p.verifier.Receipt(header, route)
	if err := p.verifier.Store().Record(ctx, receipt); err != nil {
		p.observe(route, OutcomeError)
		return PaymentReceipt{}, "", err
	}
	encoded, err := Encode(receipt)
	if err != nil {
		return PaymentReceipt{}, "", err
	}
	p.observe(route, OutcomePaid)
	logger.Audit().Info("payment accepted",
		slog.String("payment_id", receipt.PaymentID),
		slog.String("route", route),
		slog.String("payer", receipt.Payer),
		slog.String("amount", receipt.Amount),
		slog.String("token", receipt.Token),
		slog.Int64("chain_id", receipt.ChainID),
	)
	return receipt, encoded, nil
}

func (p *Paywall) observe(route, outcome string) {
	if p.observer != nil {
		p.observer(route, outcome)
	}
}

// Middleware guards a net/http handler serving route. The handler output
// is buffered so the receipt header can be added once it succeeds.
func (p *Paywall) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header, required, status := p.Authorize(r.Context(), route, r.Header.Get(HeaderPayment))
			if required != nil {
				writeJSON(w, status, required)
				return
			}
			if _, priced := p.Requirement(route); !priced {
				next.ServeHTTP(w, r)
				return
			}

			rec := &bufferedWriter{header: http.Header{}, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < http.StatusBadRequest {
				_, encoded, err := p.Settle(r.Context(), route, header)
				if err != nil {
					p.log.Error("record payment failed", "route", route, "error", err)
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record payment"})
					return
				}
				w.Header().Set(HeaderPaymentResponse, encoded)
			}
			for k, v := range rec.header {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.status)
			_, _ = w.Write(rec.body.Bytes())
		})
	}
}

type bufferedWriter struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if !b.wroteHeader {
		b.status = status
		b.wroteHeader = true
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

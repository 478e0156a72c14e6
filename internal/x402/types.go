// Package x402 implements HTTP 402 micropayments: EIP-712 signed payment
// headers, price requirements, verification with replay protection and
// middleware for net/http and gin.
package x402

import (
	"net/http"

	xerrors "BNBChain-AgentKit/internal/errors"
)

const (
	// Version is the only protocol version understood.
	Version = "1"
	// HeaderPayment carries the base64 encoded PaymentHeader.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentResponse carries the base64 encoded PaymentReceipt.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	NetworkEVM  = "evm"
	SchemeExact = "exact"
)

const (
	CodePaymentRequired xerrors.Code = "PAYMENT_REQUIRED"
	CodePaymentInvalid  xerrors.Code = "PAYMENT_INVALID"
	CodeUnknownToken    xerrors.Code = "TOKEN_UNKNOWN"
)

func init() {
	xerrors.Register(CodePaymentRequired, xerrors.Attributes{
		Message:    "payment required",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusPaymentRequired,
	})
	xerrors.Register(CodePaymentInvalid, xerrors.Attributes{
		Message:    "invalid payment",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusPaymentRequired,
	})
	xerrors.Register(CodeUnknownToken, xerrors.Attributes{
		Message:    "unknown payment token",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusBadRequest,
	})
}

// PricingConfig prices one route. Price is in whole token units, e.g.
// "0.001".
type PricingConfig struct {
	Route        string `json:"route" yaml:"route"`
	Price        string `json:"price" yaml:"price"`
	Token        string `json:"token" yaml:"token"`
	TokenAddress string `json:"tokenAddress,omitempty" yaml:"token_address"`
	Decimals     *int   `json:"decimals,omitempty" yaml:"decimals"`
	Description  string `json:"description,omitempty" yaml:"description"`
}

// PaymentHeader is the signed payment intent sent in X-PAYMENT.
type PaymentHeader struct {
	Version   string `json:"version"`
	Payer     string `json:"payer"`
	Payee     string `json:"payee"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	ChainID   int64  `json:"chainId"`
	TxHash    string `json:"txHash,omitempty"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	Expiry    int64  `json:"expiry"`
}

// PaymentOption is one accepted way to pay.
type PaymentOption struct {
	Network string `json:"network"`
	ChainID int64  `json:"chainId"`
	Token   string `json:"token"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
	Payee   string `json:"payee"`
	Scheme  string `json:"scheme"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	Version          string          `json:"version"`
	Accepts          []PaymentOption `json:"accepts"`
	Description      string          `json:"description"`
	MaxResponseBytes int64           `json:"maxResponseBytes,omitempty"`
	Extra            map[string]any  `json:"extra,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// PaymentVerification is the outcome of Verifier.Verify.
type PaymentVerification struct {
	Valid   bool   `json:"valid"`
	Payer   string `json:"payer"`
	Amount  string `json:"amount"`
	Token   string `json:"token"`
	ChainID int64  `json:"chainId"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PaymentReceipt records an accepted payment. Timestamp is in Unix
// seconds.
type PaymentReceipt struct {
	PaymentID string `json:"paymentId"`
	Payer     string `json:"payer"`
	Payee     string `json:"payee"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	ChainID   int64  `json:"chainId"`
	TxHash    string `json:"txHash"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Route     string `json:"route"`
}

// TokenConfig describes a payment token.
type TokenConfig struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	ChainID  int64  `json:"chainId"`
}

// FacilitatorConfig points at an external settlement service.
type FacilitatorConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey,omitempty"`
}

// Package bridge quotes and builds cross-chain transfers. Quotes are held
// in a short-lived cache so a transaction can be built from the quote id.
package bridge

import (
	"context"
	"net/http"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// NativeToken is the pseudo address of a chain's gas token.
const NativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// DefaultSlippage applies when a request leaves Slippage at zero.
const DefaultSlippage = 0.005

const (
	CodeQuoteExpired     xerrors.Code = "QUOTE_EXPIRED"
	CodeUnsupportedRoute xerrors.Code = "BRIDGE_UNSUPPORTED_ROUTE"
)

func init() {
	xerrors.Register(CodeQuoteExpired, xerrors.Attributes{Message: "Quote expired or not found", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusNotFound})
	xerrors.Register(CodeUnsupportedRoute, xerrors.Attributes{Message: "route is not supported", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest})
}

// QuoteRequest asks for a transfer of Amount (base units, decimal string).
type QuoteRequest struct {
	SourceChain string  `json:"sourceChain"`
	DestChain   string  `json:"destinationChain"`
	SourceToken string  `json:"sourceToken"`
	DestToken   string  `json:"destinationToken"`
	Amount      string  `json:"amount"`
	Sender      string  `json:"sender"`
	Recipient   string  `json:"recipient"`
	Slippage    float64 `json:"slippage,omitempty"`
}

// BridgeQuote is a priced route. Amounts are decimal strings in base units.
type BridgeQuote struct {
	Provider         string      `json:"provider"`
	QuoteID          string      `json:"quoteId"`
	SourceChain      string      `json:"sourceChain"`
	DestChain        string      `json:"destinationChain"`
	SourceToken      string      `json:"sourceToken"`
	DestToken        string      `json:"destinationToken"`
	InputAmount      string      `json:"inputAmount"`
	OutputAmount     string      `json:"outputAmount"`
	MinOutputAmount  string      `json:"minOutputAmount"`
	Fee              string      `json:"fee"`
	Slippage         float64     `json:"slippage"`
	EstimatedTime    int         `json:"estimatedTime"`
	ExpiresAt        int64       `json:"expiresAt"`
	Route            []RouteStep `json:"route"`
	RequiresApproval bool        `json:"requiresApproval"`
	ApprovalAddress  string      `json:"approvalAddress,omitempty"`
}

// RouteStep is one hop of a quote.
type RouteStep struct {
	Type       string `json:"type"`
	Chain      string `json:"chain"`
	Protocol   string `json:"protocol"`
	FromToken  string `json:"fromToken"`
	ToToken    string `json:"toToken"`
	FromAmount string `json:"fromAmount"`
	ToAmount   string `json:"toAmount"`
}

// Approval is the ERC-20 allowance a transaction needs first.
type Approval struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// BridgeTransaction is an unsigned transaction for the source chain.
type BridgeTransaction struct {
	QuoteID  string    `json:"quoteId"`
	To       string    `json:"to"`
	Data     string    `json:"data"`
	Value    string    `json:"value"`
	GasLimit uint64    `json:"gasLimit"`
	ChainID  int64     `json:"chainId"`
	Approval *Approval `json:"approval,omitempty"`
}

// Status is the progress of a submitted transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBridging  Status = "bridging"
	StatusCompleted Status = "completed"
)

// BridgeStatus reports a transfer looked up by source transaction.
type BridgeStatus struct {
	Provider     string `json:"provider"`
	Status       Status `json:"status"`
	SourceTxHash string `json:"sourceTxHash"`
	SourceChain  string `json:"sourceChain"`
	DestChain    string `json:"destinationChain,omitempty"`
	DestTxHash   string `json:"destinationTxHash,omitempty"`
	InputAmount  string `json:"inputAmount,omitempty"`
	OutputAmount string `json:"outputAmount,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Provider is a bridge backend.
type Provider interface {
	Name() string
	SupportsRoute(src, dst string) bool
	// Quote returns nil without error when the provider has no quote.
	Quote(ctx context.Context, req QuoteRequest) (*BridgeQuote, error)
	BuildTransaction(ctx context.Context, quoteID string) (*BridgeTransaction, error)
	Status(ctx context.Context, txHash, chain string) BridgeStatus
	Chains() map[string]int64
}

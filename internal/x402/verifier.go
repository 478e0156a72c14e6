package x402

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"BNBChain-AgentKit/internal/erc8004/contracts"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/web3"
)

// BalanceChecker reads a payer's token balance.
type BalanceChecker interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// ERC20Balances checks balances through the ERC-20 contracts of backend.
type ERC20Balances struct {
	Backend web3.Backend
}

// TokenBalance implements BalanceChecker.
func (b ERC20Balances) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return contracts.NewERC20(b.Backend, token.Hex()).BalanceOf(ctx, owner)
}

// Verifier validates payment headers against a requirement.
type Verifier struct {
	store    ReceiptStore
	balances BalanceChecker
	now      func() time.Time
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithBalanceCheck enables the on-chain balance check.
func WithBalanceCheck(b BalanceChecker) VerifierOption {
	return func(v *Verifier) { v.balances = b }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier uses store for replay protection. A nil store keeps nonces
// in memory.
func NewVerifier(store ReceiptStore, opts ...VerifierOption) *Verifier {
	if store == nil {
		store = NewMemoryStore()
	}
	v := &Verifier{store: store, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Store returns the receipt store.
func (v *Verifier) Store() ReceiptStore { return v.store }

// Verify checks h against option. The nonce is consumed only when every
// other check passes. A store failure is returned as an error; every
// other problem yields an invalid verification.
func (v *Verifier) Verify(ctx context.Context, h PaymentHeader, option PaymentOption) (PaymentVerification, error) {
	out := PaymentVerification{Payer: h.Payer, Amount: h.Amount, Token: h.Token, ChainID: h.ChainID, TxHash: h.TxHash}
	if reason := v.check(ctx, h, option); reason != "" {
		out.Error = reason
		return out, nil
	}
	fresh, err := v.store.ClaimNonce(ctx, h.Payer, h.Nonce)
	if err != nil {
		return out, err
	}
	if !fresh {
		out.Error = "nonce already used"
		return out, nil
	}
	out.Valid = true
	return out, nil
}

func (v *Verifier) check(ctx context.Context, h PaymentHeader, option PaymentOption) string {
	if h.Version != Version {
		return fmt.Sprintf("unsupported version %q", h.Version)
	}
	if h.ChainID != option.ChainID {
		return fmt.Sprintf("wrong chain %d, expected %d", h.ChainID, option.ChainID)
	}
	if !common.IsHexAddress(h.Payer) {
		return "invalid payer address"
	}
	if !strings.EqualFold(h.Payee, option.Payee) {
		return "wrong payee"
	}
	if !strings.EqualFold(h.Token, option.Token) {
		return "wrong token"
	}
	paid, ok := new(big.Int).SetString(h.Amount, 10)
	if !ok || paid.Sign() < 0 {
		return "invalid amount"
	}
	required, ok := new(big.Int).SetString(option.Amount, 10)
	if !ok {
		return "invalid required amount"
	}
	if paid.Cmp(required) < 0 {
		return fmt.Sprintf("insufficient amount %s, required %s", h.Amount, option.Amount)
	}
	if h.Expiry <= v.now().Unix() {
		return "payment expired"
	}
	if nonce, err := hexutil.Decode(h.Nonce); err != nil || len(nonce) != 32 {
		return "nonce must be 32 bytes of hex"
	}
	if err := VerifySignature(h); err != nil {
		return xerrors.MessageOf(err)
	}
	if v.balances != nil {
		balance, err := v.balances.TokenBalance(ctx, common.HexToAddress(h.Token), common.HexToAddress(h.Payer))
		if err != nil {
			return "balance check failed: " + xerrors.MessageOf(err)
		}
		if balance.Cmp(paid) < 0 {
			return "insufficient token balance"
		}
	}
	return ""
}

// Receipt builds the receipt for a verified header.
func (v *Verifier) Receipt(h PaymentHeader, route string) PaymentReceipt {
	return PaymentReceipt{
		PaymentID: uuid.NewString(),
		Payer:     common.HexToAddress(h.Payer).Hex(),
		Payee:     h.Payee,
		Amount:    h.Amount,
		Token:     h.Token,
		ChainID:   h.ChainID,
		TxHash:    h.TxHash,
		Nonce:     h.Nonce,
		Timestamp: v.now().Unix(),
		Route:     route,
	}
}

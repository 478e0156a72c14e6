package x402

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// Encode serialises v as base64 JSON, the form used by X-PAYMENT and
// X-PAYMENT-RESPONSE.
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses an X-PAYMENT header value.
func Decode(value string) (PaymentHeader, error) {
	var h PaymentHeader
	if strings.TrimSpace(value) == "" {
		return h, xerrors.New(CodePaymentRequired, HeaderPayment+" header is required")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return h, xerrors.Wrap(CodePaymentInvalid, err, "payment header is not base64")
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return h, xerrors.Wrap(CodePaymentInvalid, err, "payment header is not valid JSON")
	}
	return h, nil
}

// DecodeReceipt parses an X-PAYMENT-RESPONSE header value.
func DecodeReceipt(value string) (PaymentReceipt, error) {
	var r PaymentReceipt
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return r, err
	}
	err = json.Unmarshal(raw, &r)
	return r, err
}

// Sign fills h.Signature with the payer's EIP-712 signature.
func Sign(key *ecdsa.PrivateKey, h *PaymentHeader) error {
	sig, err := SignTypedData(key, TypedData(*h))
	if err != nil {
		return err
	}
	h.Signature = sig
	return nil
}

// VerifySignature checks that h was signed by h.Payer.
func VerifySignature(h PaymentHeader) error {
	signer, err := VerifyTypedData(TypedData(h), h.Signature)
	if err != nil {
		return xerrors.Wrap(CodePaymentInvalid, err, "invalid signature")
	}
	if !strings.EqualFold(signer.Hex(), h.Payer) {
		return xerrors.New(CodePaymentInvalid, fmt.Sprintf("signature is from %s, not the payer", signer.Hex()))
	}
	return nil
}

// NewPayment builds and signs a header satisfying option, valid for ttl.
func NewPayment(key *ecdsa.PrivateKey, option PaymentOption, ttl time.Duration) (PaymentHeader, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return PaymentHeader{}, err
	}
	h := PaymentHeader{
		Version: Version,
		Payer:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Payee:   option.Payee,
		Amount:  option.Amount,
		Token:   option.Token,
		ChainID: option.ChainID,
		Nonce:   nonce,
		Expiry:  time.Now().Add(ttl).Unix(),
	}
	if err := Sign(key, &h); err != nil {
		return PaymentHeader{}, err
	}
	return h, nil
}

// Requirements prices a route on chainID payable to payee.
func Requirements(pricing PricingConfig, chainID int64, payee string) (PaymentRequired, error) {
	token := TokenConfig{Symbol: strings.ToUpper(pricing.Token), Address: pricing.TokenAddress, Decimals: 18, ChainID: chainID}
	if token.Address == "" {
		known, err := LookupToken(chainID, pricing.Token)
		if err != nil {
			return PaymentRequired{}, err
		}
		token = known
	}
	if pricing.Decimals != nil {
		token.Decimals = *pricing.Decimals
	}
	amount, err := ParseAmount(pricing.Price, token.Decimals)
	if err != nil {
		return PaymentRequired{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "price of "+pricing.Route)
	}
	description := pricing.Description
	if description == "" {
		description = fmt.Sprintf("Payment required for %s", pricing.Route)
	}
	return PaymentRequired{
		Version: Version,
		Accepts: []PaymentOption{{
			Network: NetworkEVM,
			ChainID: chainID,
			Token:   token.Address,
			Symbol:  token.Symbol,
			Amount:  amount.String(),
			Payee:   payee,
			Scheme:  SchemeExact,
		}},
		Description: description,
		Extra:       map[string]any{"route": pricing.Route, "price": pricing.Price},
	}, nil
}

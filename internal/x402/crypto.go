package x402

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	domainName    = "x402Payment"
	domainVersion = "1"
	primaryType   = "Payment"
)

var paymentTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	primaryType: {
		{Name: "payer", Type: "address"},
		{Name: "payee", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "token", Type: "address"},
		{Name: "nonce", Type: "bytes32"},
		{Name: "expiry", Type: "uint256"},
	},
}

// TypedData returns the EIP-712 payload a payer signs for h. The domain
// has no verifying contract.
func TypedData(h PaymentHeader) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       paymentTypes,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    domainName,
			Version: domainVersion,
			ChainId: math.NewHexOrDecimal256(h.ChainID),
		},
		Message: apitypes.TypedDataMessage{
			"payer":  h.Payer,
			"payee":  h.Payee,
			"amount": h.Amount,
			"token":  h.Token,
			"nonce":  h.Nonce,
			"expiry": strconv.FormatInt(h.Expiry, 10),
		},
	}
}

// SignTypedData signs an EIP-712 payload and returns a 65 byte hex
// signature with v in {27, 28}.
func SignTypedData(key *ecdsa.PrivateKey, data apitypes.TypedData) (string, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return "", fmt.Errorf("hash typed data: %w", err)
	}
	return sign(key, digest)
}

// VerifyTypedData returns the address that signed data.
func VerifyTypedData(data apitypes.TypedData, signature string) (common.Address, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Address{}, fmt.Errorf("hash typed data: %w", err)
	}
	return recoverSigner(digest, signature)
}

// SignMessage produces an EIP-191 personal_sign signature.
func SignMessage(key *ecdsa.PrivateKey, message string) (string, error) {
	return sign(key, accounts.TextHash([]byte(message)))
}

// VerifyMessage returns the address that personal_signed message.
func VerifyMessage(message, signature string) (common.Address, error) {
	return recoverSigner(accounts.TextHash([]byte(message)), signature)
}

// GenerateNonce returns 32 random bytes as 0x hex.
func GenerateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hexutil.Encode(buf), nil
}

// Keccak256String hashes the UTF-8 bytes of s.
func Keccak256String(s string) string {
	return crypto.Keccak256Hash([]byte(s)).Hex()
}

// AddressFromKey derives the checksummed address of a hex private key.
func AddressFromKey(hexKey string) (string, error) {
	key, err := crypto.HexToECDSA(trimHex(hexKey))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func sign(key *ecdsa.PrivateKey, digest []byte) (string, error) {
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func recoverSigner(digest []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func trimHex(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// ParseAmount converts a decimal price such as "0.001" to base units.
// More fractional digits than decimals is an error.
func ParseAmount(price string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > 77 {
		return nil, fmt.Errorf("invalid decimals %d", decimals)
	}
	whole, frac, _ := strings.Cut(strings.TrimSpace(price), ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount %q", price)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", price, decimals)
	}
	digits := whole + frac + zeros(decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid amount %q", price)
		}
	}
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", price)
	}
	return out, nil
}

// FormatAmount renders base units as a decimal string without trailing
// zeros.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	digits := new(big.Int).Abs(amount).String()
	if len(digits) <= decimals {
		digits = zeros(decimals-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-decimals], digits[len(digits)-decimals:]
	for len(frac) > 0 && frac[len(frac)-1] == '0' {
		frac = frac[:len(frac)-1]
	}
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func zeros(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("0", n)
}

package contracts

import (
	"crypto/ecdsa"
	"net/http"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// CodePrivateKeyRequired is returned by write operations without a key.
const CodePrivateKeyRequired xerrors.Code = "PRIVATE_KEY_REQUIRED"

func init() {
	xerrors.Register(CodePrivateKeyRequired, xerrors.Attributes{
		Message:    "private key required for write operations",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusUnauthorized,
	})
}

// Signer holds a private key and serialises nonce allocation for it.
type Signer struct {
	Address common.Address
	key     *ecdsa.PrivateKey
	mu      sync.Mutex
}

// NewSigner parses a hex private key with or without the 0x prefix.
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, xerrors.New(CodePrivateKeyRequired, "")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid private key")
	}
	return SignerFromKey(key), nil
}

// SignerFromKey wraps an already parsed key.
func SignerFromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{Address: crypto.PubkeyToAddress(key.PublicKey), key: key}
}

// PrivateKey exposes the key to other signing schemes such as EIP-712.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey { return s.key }

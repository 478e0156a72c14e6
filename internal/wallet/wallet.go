// Package wallet manages the erc8004 CLI configuration file and the
// encrypted keystore kept inside it.
package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004/contracts"
	xerrors "BNBChain-AgentKit/internal/errors"
)

const (
	dirName        = ".erc8004"
	fileName       = "config.json"
	MinPasswordLen = 8
	EnvPrivateKey  = "ERC8004_PRIVATE_KEY"
)

// Scrypt parameters for new keystores. Tests lower them.
var (
	ScryptN = keystore.StandardScryptN
	ScryptP = keystore.StandardScryptP
)

var keyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

var (
	ErrInvalidKey       = xerrors.New(xerrors.CodeInvalidArgument, "Must be a 64-character hex private key with 0x prefix")
	ErrPasswordTooShort = xerrors.New(xerrors.CodeInvalidArgument, "Password must be at least 8 characters")
	ErrPasswordMismatch = xerrors.New(xerrors.CodeInvalidArgument, "Passwords do not match")
	ErrWrongPassword    = xerrors.New(xerrors.CodeUnauthenticated, "Wrong password or invalid keystore file")
	ErrNoWallet         = xerrors.New(xerrors.CodeNotFound, "No wallet configured. Run `erc8004 wallet import` first.")
)

// AuthMethod tells how the configured key is stored.
type AuthMethod string

const (
	AuthNone      AuthMethod = "none"
	AuthKeystore  AuthMethod = "keystore"
	AuthPlaintext AuthMethod = "plaintext"
)

// Config is the content of ~/.erc8004/config.json. PrivateKey is the
// legacy plaintext form; Import replaces it with Keystore.
type Config struct {
	DefaultChain  string            `json:"defaultChain"`
	PrivateKey    string            `json:"privateKey,omitempty"`
	Keystore      string            `json:"keystore,omitempty"`
	CustomRPCURLs map[string]string `json:"customRpcUrls"`
}

func defaults() *Config {
	return &Config{DefaultChain: chains.DefaultKey, CustomRPCURLs: map[string]string{}}
}

// Store reads and writes the config file in one directory.
type Store struct {
	dir string
}

// DefaultDir returns ~/.erc8004.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, dirName), nil
}

// NewStore uses dir, or DefaultDir when dir is empty.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return &Store{dir: dir}, nil
}

// Path is the config file location.
func (s *Store) Path() string { return filepath.Join(s.dir, fileName) }

// Load returns the stored config merged over the defaults. A missing or
// unreadable file yields the defaults.
func (s *Store) Load() *Config {
	cfg := defaults()
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return defaults()
	}
	if cfg.DefaultChain == "" {
		cfg.DefaultChain = chains.DefaultKey
	}
	if cfg.CustomRPCURLs == nil {
		cfg.CustomRPCURLs = map[string]string{}
	}
	return cfg
}

// Save writes cfg with mode 0600, creating the directory when needed.
func (s *Store) Save(cfg *Config) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.Path(), raw, 0o600); err != nil {
		return err
	}
	return os.Chmod(s.Path(), 0o600)
}

// Update loads, applies fn and saves.
func (s *Store) Update(fn func(*Config)) (*Config, error) {
	cfg := s.Load()
	fn(cfg)
	return cfg, s.Save(cfg)
}

// HasWallet reports whether a key is stored in either form.
func (c *Config) HasWallet() bool { return c.Keystore != "" || c.PrivateKey != "" }

// Method reports how the key is stored.
func (c *Config) Method() AuthMethod {
	switch {
	case c.Keystore != "":
		return AuthKeystore
	case c.PrivateKey != "":
		return AuthPlaintext
	}
	return AuthNone
}

// Address returns the wallet address without decrypting the keystore.
func (c *Config) Address() (common.Address, error) {
	switch c.Method() {
	case AuthKeystore:
		var ks struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal([]byte(c.Keystore), &ks); err != nil || !common.IsHexAddress(ks.Address) {
			return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "unable to read keystore address")
		}
		return common.HexToAddress(ks.Address), nil
	case AuthPlaintext:
		key, err := parseKey(c.PrivateKey)
		if err != nil {
			return common.Address{}, err
		}
		return crypto.PubkeyToAddress(key.PublicKey), nil
	}
	return common.Address{}, ErrNoWallet
}

// Unlock returns the private key, decrypting the keystore with password.
func (c *Config) Unlock(password string) (*ecdsa.PrivateKey, error) {
	switch c.Method() {
	case AuthKeystore:
		key, err := keystore.DecryptKey([]byte(c.Keystore), password)
		if err != nil {
			return nil, ErrWrongPassword
		}
		return key.PrivateKey, nil
	case AuthPlaintext:
		return parseKey(c.PrivateKey)
	}
	return nil, ErrNoWallet
}

// Signer unlocks the wallet for transactions.
func (c *Config) Signer(password string) (*contracts.Signer, error) {
	key, err := c.Unlock(password)
	if err != nil {
		return nil, err
	}
	return contracts.SignerFromKey(key), nil
}

// ImportKey encrypts hexKey with password and stores it in place of any
// plaintext key.
func (c *Config) ImportKey(hexKey, password, confirm string) (common.Address, error) {
	key, err := parseKey(hexKey)
	if err != nil {
		return common.Address{}, err
	}
	if err := checkPassword(password, confirm); err != nil {
		return common.Address{}, err
	}
	return c.store(key, password)
}

// ImportKeystore verifies an existing keystore with password. When
// newPassword is set the key is re-encrypted with it.
func (c *Config) ImportKeystore(keystoreJSON []byte, password, newPassword, confirm string) (common.Address, error) {
	if !json.Valid(keystoreJSON) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "File is not valid JSON")
	}
	key, err := keystore.DecryptKey(keystoreJSON, password)
	if err != nil {
		return common.Address{}, ErrWrongPassword
	}
	if newPassword == "" {
		c.PrivateKey = ""
		c.Keystore = string(keystoreJSON)
		return key.Address, nil
	}
	if err := checkPassword(newPassword, confirm); err != nil {
		return common.Address{}, err
	}
	return c.store(key.PrivateKey, newPassword)
}

// Export re-encrypts the wallet with exportPassword and returns the
// keystore JSON.
func (c *Config) Export(password, exportPassword, confirm string) ([]byte, common.Address, error) {
	if !c.HasWallet() {
		return nil, common.Address{}, ErrNoWallet
	}
	key, err := c.Unlock(password)
	if err != nil {
		return nil, common.Address{}, err
	}
	if err := checkPassword(exportPassword, confirm); err != nil {
		return nil, common.Address{}, err
	}
	raw, err := encrypt(key, exportPassword)
	if err != nil {
		return nil, common.Address{}, err
	}
	return raw, crypto.PubkeyToAddress(key.PublicKey), nil
}

// Clear drops the stored key and reports whether there was one.
func (c *Config) Clear() bool {
	had := c.HasWallet()
	c.PrivateKey, c.Keystore = "", ""
	return had
}

// WriteKeystoreFile writes an exported keystore with mode 0600.
func WriteKeystoreFile(path string, raw []byte) error {
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// ExportFileName is the suggested file name for an exported keystore.
func ExportFileName(addr common.Address) string {
	return fmt.Sprintf("erc8004-keystore-%s.json", strings.ToLower(addr.Hex()[:8]))
}

func (c *Config) store(key *ecdsa.PrivateKey, password string) (common.Address, error) {
	raw, err := encrypt(key, password)
	if err != nil {
		return common.Address{}, err
	}
	c.PrivateKey = ""
	c.Keystore = string(raw)
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func encrypt(key *ecdsa.PrivateKey, password string) ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	k := &keystore.Key{Id: id, Address: crypto.PubkeyToAddress(key.PublicKey), PrivateKey: key}
	return keystore.EncryptKey(k, password, ScryptN, ScryptP)
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if !keyPattern.MatchString(hexKey) {
		return nil, ErrInvalidKey
	}
	key, err := crypto.HexToECDSA(hexKey[2:])
	if err != nil {
		return nil, ErrInvalidKey
	}
	return key, nil
}

func checkPassword(password, confirm string) error {
	if len(password) < MinPasswordLen {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}

// IsWrongPassword reports whether err came from a failed decryption.
func IsWrongPassword(err error) bool { return errors.Is(err, ErrWrongPassword) }

// Package chains holds the table of networks on which the ERC-8004
// registries are deployed, together with lookup helpers that accept a
// chain key, a numeric chain id or a loose display name.
package chains

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// CodeUnknownChain is returned when an input matches no configured chain.
const CodeUnknownChain xerrors.Code = "CHAIN_UNKNOWN"

func init() {
	xerrors.Register(CodeUnknownChain, xerrors.Attributes{
		Message:    "unknown chain",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
	})
}

// Currency describes the native gas token of a chain.
type Currency struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// Contracts lists the registry deployments. Validation is empty on chains
// where the validation registry has not been deployed.
type Contracts struct {
	Identity   string `json:"identity"`
	Reputation string `json:"reputation"`
	Validation string `json:"validation,omitempty"`
}

// Chain is the static configuration of one network.
type Chain struct {
	Key           string    `json:"key"`
	Name          string    `json:"name"`
	ChainID       int64     `json:"chainId"`
	RPCURL        string    `json:"rpcUrl"`
	Explorer      string    `json:"explorer"`
	Currency      Currency  `json:"currency"`
	Contracts     Contracts `json:"contracts"`
	AgentRegistry string    `json:"agentRegistry"`
	Testnet       bool      `json:"testnet"`
}

// HasReputation reports whether the reputation registry is deployed.
func (c Chain) HasReputation() bool { return c.Contracts.Reputation != "" }

// HasValidation reports whether the validation registry is deployed.
func (c Chain) HasValidation() bool { return c.Contracts.Validation != "" }

// TxURL links to a transaction on the block explorer.
func (c Chain) TxURL(hash string) string {
	return fmt.Sprintf("%s/tx/%s", c.Explorer, hash)
}

// AddressURL links to an account on the block explorer.
func (c Chain) AddressURL(address string) string {
	return fmt.Sprintf("%s/address/%s", c.Explorer, address)
}

// TokenURL links to a single agent NFT on the identity registry.
func (c Chain) TokenURL(agentID string) string {
	return fmt.Sprintf("%s/token/%s?a=%s", c.Explorer, c.Contracts.Identity, agentID)
}

// AgentRegistryID formats the CAIP-10 style registry identifier used in
// registration documents.
func AgentRegistryID(chainID int64, identity string) string {
	return fmt.Sprintf("eip155:%d:%s", chainID, identity)
}

// Registry is a concurrency-safe, ordered set of chains.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]Chain
}

// NewRegistry builds a registry from the given chains, preserving order.
func NewRegistry(list ...Chain) *Registry {
	r := &Registry{byKey: make(map[string]Chain, len(list))}
	for _, c := range list {
		r.Put(c)
	}
	return r
}

// Default returns a fresh registry holding the built-in table.
func Default() *Registry {
	return NewRegistry(Builtin()...)
}

// Put adds or replaces a chain. AgentRegistry is derived when empty.
func (r *Registry) Put(c Chain) {
	if c.AgentRegistry == "" && c.Contracts.Identity != "" {
		c.AgentRegistry = AgentRegistryID(c.ChainID, c.Contracts.Identity)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[c.Key]; !exists {
		r.order = append(r.order, c.Key)
	}
	r.byKey[c.Key] = c
}

// SetRPC replaces the RPC endpoint of an existing chain.
func (r *Registry) SetRPC(input, rpcURL string) error {
	c, err := r.Resolve(input)
	if err != nil {
		return err
	}
	c.RPCURL = rpcURL
	r.Put(c)
	return nil
}

// Keys returns chain keys in table order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// All returns every chain in table order.
func (r *Registry) All() []Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Chain, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}

// Lookup resolves input without building an error.
//
// Matching order: exact key, then numeric chain id, then display name
// compared case-insensitively with spaces, dashes and underscores removed.
// A numeric input that matches no chain id does not fall through to names.
func (r *Registry) Lookup(input string) (Chain, bool) {
	input = strings.TrimSpace(input)
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.byKey[input]; ok {
		return c, true
	}
	if id, err := strconv.ParseInt(input, 10, 64); err == nil {
		for _, key := range r.order {
			if c := r.byKey[key]; c.ChainID == id {
				return c, true
			}
		}
		return Chain{}, false
	}
	want := normalizeName(input)
	for _, key := range r.order {
		if c := r.byKey[key]; normalizeName(c.Name) == want {
			return c, true
		}
	}
	return Chain{}, false
}

// Resolve is Lookup returning the user-facing unknown chain error.
func (r *Registry) Resolve(input string) (Chain, error) {
	if c, ok := r.Lookup(input); ok {
		return c, nil
	}
	return Chain{}, xerrors.New(CodeUnknownChain,
		fmt.Sprintf("Unknown chain %q. Supported: %s", input, strings.Join(r.Keys(), ", ")))
}

// ByID resolves a numeric chain id.
func (r *Registry) ByID(chainID int64) (Chain, error) {
	return r.Resolve(strconv.FormatInt(chainID, 10))
}

func normalizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

package provider

import (
	"context"
	"errors"
	"sort"
	"sync"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/web3"
	"BNBChain-AgentKit/internal/web3/ethereum"
)

// Dialer creates a client for a resolved chain.
type Dialer func(ctx context.Context, chain chains.Chain) (*ethereum.Client, error)

// DialRPC is the default Dialer connecting to the chain's RPC URL.
func DialRPC(ctx context.Context, chain chains.Chain) (*ethereum.Client, error) {
	return ethereum.NewClient(ctx, ethereum.Config{Name: chain.Key, RPCURL: chain.RPCURL, ChainID: chain.ChainID})
}

// Registry hands out one client per chain, dialled on first use.
type Registry struct {
	chains *chains.Registry
	dial   Dialer

	mu      sync.Mutex
	clients map[string]*ethereum.Client
	closed  bool
}

// Option customises a Registry.
type Option func(*Registry)

// WithDialer replaces the dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(r *Registry) {
		if d != nil {
			r.dial = d
		}
	}
}

// NewRegistry builds a registry over the chain table.
func NewRegistry(table *chains.Registry, opts ...Option) *Registry {
	if table == nil {
		table = chains.Default()
	}
	r := &Registry{chains: table, dial: DialRPC, clients: make(map[string]*ethereum.Client)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Chains exposes the underlying chain table.
func (r *Registry) Chains() *chains.Registry { return r.chains }

// Client resolves input to a chain and returns its client.
func (r *Registry) Client(ctx context.Context, input string) (*ethereum.Client, chains.Chain, error) {
	chain, err := r.chains.Resolve(input)
	if err != nil {
		return nil, chains.Chain{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, chains.Chain{}, errors.New("链客户端注册表已关闭")
	}
	if client, ok := r.clients[chain.Key]; ok {
		return client, chain, nil
	}
	client, err := r.dial(ctx, chain)
	if err != nil {
		return nil, chains.Chain{}, err
	}
	r.clients[chain.Key] = client
	return client, chain, nil
}

// Backend is Client reduced to its contract backend.
func (r *Registry) Backend(ctx context.Context, input string) (web3.Backend, error) {
	client, _, err := r.Client(ctx, input)
	if err != nil {
		return nil, err
	}
	return client.Backend(), nil
}

// Connected returns the keys of chains with an open client.
func (r *Registry) Connected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		client.Close()
		delete(r.clients, name)
	}
	r.closed = true
}

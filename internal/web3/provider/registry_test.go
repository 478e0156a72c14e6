package provider

import (
	"context"
	"sync/atomic"
	"testing"

	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/web3/ethereum"
)

func TestRegistryDialsOncePerChain(t *testing.T) {
	backend := simulated.NewBackend(coretypes.GenesisAlloc{})
	t.Cleanup(func() { _ = backend.Close() })

	var dials atomic.Int32
	reg := NewRegistry(chains.Default(), WithDialer(func(_ context.Context, c chains.Chain) (*ethereum.Client, error) {
		dials.Add(1)
		return ethereum.NewFromBackend(c.Key, backend.Client()), nil
	}))
	t.Cleanup(reg.Close)

	first, chain, err := reg.Client(context.Background(), "97")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if chain.Key != "bsc-testnet" {
		t.Fatalf("unexpected chain %s", chain.Key)
	}
	second, _, err := reg.Client(context.Background(), "bsc-testnet")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if first != second || dials.Load() != 1 {
		t.Fatalf("expected cached client, dials=%d", dials.Load())
	}
	if got := reg.Connected(); len(got) != 1 || got[0] != "bsc-testnet" {
		t.Fatalf("unexpected connected list %v", got)
	}
}

func TestRegistryUnknownChain(t *testing.T) {
	reg := NewRegistry(nil)
	if _, _, err := reg.Client(context.Background(), "nowhere"); err == nil {
		t.Fatal("expected unknown chain error")
	}
}

func TestRegistryClosed(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Close()
	if _, _, err := reg.Client(context.Background(), "bsc-testnet"); err == nil {
		t.Fatal("expected error after close")
	}
}

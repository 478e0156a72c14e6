package erc8004

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"BNBChain-AgentKit/internal/erc8004/contracts"
	xerrors "BNBChain-AgentKit/internal/errors"
)

func TestRegisterWritesSelfReferencingDocument(t *testing.T) {
	chain, backend := testnet(t)
	signer := newSigner(t)
	m, err := NewIdentityManager(backend, chain, signer)
	require.NoError(t, err)

	identity, err := m.Register(context.Background(), RegisterParams{
		Name:        "Oracle",
		Description: "price feeds",
		Services:    []Service{{Name: "A2A", Endpoint: "https://oracle.example"}},
		X402Support: true,
		Metadata:    []MetadataEntry{{Key: "category", Value: "defi"}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), identity.AgentID)
	require.Equal(t, signer.Address.Hex(), identity.Owner)
	require.Equal(t, chain.Name, identity.Chain)

	stored := DecodeRegistration(backend.AgentURI(1))
	require.NotNil(t, stored)
	require.Equal(t, []RegistrationRef{{AgentID: 1, AgentRegistry: chain.AgentRegistry}}, stored.Registrations)
	require.True(t, stored.X402Support)

	id, ok := m.AgentID()
	require.True(t, ok)
	require.Equal(t, uint64(1), id)

	value, err := m.GetMetadata(context.Background(), "category")
	require.NoError(t, err)
	require.Equal(t, "defi", value)
}

func TestRegisterRequiresName(t *testing.T) {
	chain, backend := testnet(t)
	m, err := NewIdentityManager(backend, chain, newSigner(t))
	require.NoError(t, err)

	_, err = m.Register(context.Background(), RegisterParams{})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	require.Empty(t, backend.Sent())
}

func TestNewIdentityManagerNeedsSigner(t *testing.T) {
	chain, backend := testnet(t)
	_, err := NewIdentityManager(backend, chain, nil)
	require.Equal(t, contracts.CodePrivateKeyRequired, xerrors.CodeOf(err))
}

func TestRegisterRawVariants(t *testing.T) {
	chain, backend := testnet(t)
	m, err := NewIdentityManager(backend, chain, newSigner(t))
	require.NoError(t, err)
	ctx := context.Background()

	bare, err := m.RegisterRaw(ctx, "", nil)
	require.NoError(t, err)
	require.NotNil(t, bare.AgentID)
	require.Equal(t, "", backend.AgentURI(*bare.AgentID))

	withURI, err := m.RegisterRaw(ctx, "ipfs://bafy", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), *withURI.AgentID)
	require.Equal(t, "ipfs://bafy", backend.AgentURI(2))
	require.NotEmpty(t, withURI.TxHash)
}

func TestExistingAgentFindsLatestMint(t *testing.T) {
	chain, backend := testnet(t)
	signer := newSigner(t)
	backend.SeedAgent(signer.Address, "ipfs://first")
	backend.SeedAgent(randomAddress(t), "ipfs://other")
	backend.SeedAgent(signer.Address, registrationURI(t, "second"))

	m, err := NewIdentityManager(backend, chain, signer)
	require.NoError(t, err)
	identity, err := m.ExistingAgent(context.Background())
	require.NoError(t, err)
	require.NotNil(t, identity)
	require.Equal(t, uint64(3), identity.AgentID)
	require.Equal(t, "second", identity.RegistrationData.Name)
}

func TestExistingAgentNone(t *testing.T) {
	chain, backend := testnet(t)
	m, err := NewIdentityManager(backend, chain, newSigner(t))
	require.NoError(t, err)

	identity, err := m.ExistingAgent(context.Background())
	require.NoError(t, err)
	require.Nil(t, identity)
}

func TestOperationsNeedRegisteredAgent(t *testing.T) {
	chain, backend := testnet(t)
	m, err := NewIdentityManager(backend, chain, newSigner(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.SetMetadata(ctx, "k", "v")
	require.Equal(t, CodeAgentNotRegistered, xerrors.CodeOf(err))
	_, err = m.GetMetadata(ctx, "k")
	require.Equal(t, CodeAgentNotRegistered, xerrors.CodeOf(err))
	_, err = m.UpdateURI(ctx, Registration{Name: "x"})
	require.Equal(t, CodeAgentNotRegistered, xerrors.CodeOf(err))
}

func TestSetAgentURIOnForeignAgentReverts(t *testing.T) {
	chain, backend := testnet(t)
	id := backend.SeedAgent(randomAddress(t), "ipfs://theirs")
	m, err := NewIdentityManager(backend, chain, newSigner(t))
	require.NoError(t, err)

	_, err = m.SetAgentURI(context.Background(), id, "ipfs://mine")
	require.Equal(t, contracts.CodeTransactionReverted, xerrors.CodeOf(err))
	require.Equal(t, "ipfs://theirs", backend.AgentURI(id))
}

func TestUpdateURIAndMetadata(t *testing.T) {
	chain, backend := testnet(t)
	m, err := NewIdentityManager(backend, chain, newSigner(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.RegisterRaw(ctx, "ipfs://v1", nil)
	require.NoError(t, err)

	res, err := m.UpdateURI(ctx, Registration{Type: RegistrationType, Name: "renamed"})
	require.NoError(t, err)
	require.NotZero(t, res.BlockNumber)
	require.Equal(t, "renamed", DecodeRegistration(backend.AgentURI(1)).Name)

	_, err = m.SetMetadata(ctx, "version", "2")
	require.NoError(t, err)
	v, err := m.GetMetadata(ctx, "version")
	require.NoError(t, err)
	require.Equal(t, "2", v)

	_, err = m.SetMetadata(ctx, "", "x")
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

package erc8004

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004/erc8004test"
	xerrors "BNBChain-AgentKit/internal/errors"
)

func TestValidationStatus(t *testing.T) {
	chain, backend := testnet(t)
	id := backend.SeedAgent(randomAddress(t), "")
	validator := randomAddress(t)
	backend.SeedValidation(id, validator, "security", []byte{0xca, 0xfe})
	backend.SeedValidation(id, validator, "custom", []byte{0x01})

	m := NewValidationManager(backend, chain, nil)
	status, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	require.True(t, status.Validated)
	require.Len(t, status.Records, 1)
	require.Equal(t, "security", status.Records[0].AttestationType)
	require.Equal(t, "0xcafe", status.Records[0].AttestationData)
	require.Equal(t, validator.Hex(), status.Records[0].Validator)

	rec, err := m.GetValidation(context.Background(), id, "identity")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestValidateWritesAttestation(t *testing.T) {
	chain, backend := testnet(t)
	id := backend.SeedAgent(randomAddress(t), "")
	m := NewValidationManager(backend, chain, newSigner(t))
	ctx := context.Background()

	_, err := m.Validate(ctx, id, "capability", []byte("ok"))
	require.NoError(t, err)
	ok, err := m.IsValidated(ctx, id, "capability")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = NewValidationManager(backend, chain, nil).Validate(ctx, id, "capability", nil)
	require.Error(t, err)
}

func TestValidationNotDeployed(t *testing.T) {
	chain, err := chains.Default().Resolve("bsc-mainnet")
	require.NoError(t, err)
	m := NewValidationManager(erc8004test.New(chain), chain, nil)
	require.False(t, m.Deployed())

	_, err = m.Status(context.Background(), 1)
	require.Equal(t, CodeRegistryNotDeployed, xerrors.CodeOf(err))
	require.Equal(t, "Validation registry not deployed on BSC Mainnet", xerrors.MessageOf(err))
}

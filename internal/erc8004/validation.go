package erc8004

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004/contracts"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/web3"
	"BNBChain-AgentKit/pkg/logger"
)

// ValidationManager reads and writes attestations. Every operation fails
// when the chain has no validation registry.
type ValidationManager struct {
	chain    chains.Chain
	registry *contracts.Contract
	signer   *contracts.Signer
}

// NewValidationManager never fails; the deployment check happens per call
// so that callers can report it alongside other results.
func NewValidationManager(backend web3.Backend, chain chains.Chain, signer *contracts.Signer) *ValidationManager {
	m := &ValidationManager{chain: chain, signer: signer}
	if chain.HasValidation() {
		m.registry = contracts.New(backend, chain.Contracts.Validation, contracts.ValidationABI)
	}
	return m
}

// Deployed reports whether the chain has a validation registry.
func (m *ValidationManager) Deployed() bool { return m.registry != nil }

func (m *ValidationManager) deployed() error {
	if m.registry == nil {
		return xerrors.New(CodeRegistryNotDeployed, fmt.Sprintf("Validation registry not deployed on %s", m.chain.Name))
	}
	return nil
}

// IsValidated reports whether id has an attestation of attestationType.
func (m *ValidationManager) IsValidated(ctx context.Context, id uint64, attestationType string) (bool, error) {
	if err := m.deployed(); err != nil {
		return false, err
	}
	values, err := m.registry.Call(ctx, "isValidated", agentIDArg(id), attestationType)
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

// GetValidation returns the attestation of attestationType, or nil when
// none can be read.
func (m *ValidationManager) GetValidation(ctx context.Context, id uint64, attestationType string) (*ValidationRecord, error) {
	if err := m.deployed(); err != nil {
		return nil, err
	}
	values, err := m.registry.Call(ctx, "getValidation", agentIDArg(id), attestationType)
	if err != nil {
		return nil, nil
	}
	data, _ := values[1].([]byte)
	return &ValidationRecord{
		Validator:       values[0].(common.Address).Hex(),
		AttestationType: attestationType,
		AttestationData: "0x" + hex.EncodeToString(data),
		Timestamp:       values[2].(*big.Int).Int64(),
	}, nil
}

// Validate records an attestation for id.
func (m *ValidationManager) Validate(ctx context.Context, id uint64, attestationType string, data []byte) (TxResult, error) {
	if err := m.deployed(); err != nil {
		return TxResult{}, err
	}
	if m.signer == nil {
		return TxResult{}, xerrors.New(contracts.CodePrivateKeyRequired, "private key required to validate agents")
	}
	receipt, err := m.registry.Transact(ctx, m.signer, "validate", agentIDArg(id), attestationType, data)
	if err != nil {
		return TxResult{}, err
	}
	logger.Audit().Info("agent validated",
		slog.String("chain", m.chain.Key),
		slog.Uint64("agent_id", id),
		slog.String("type", attestationType),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return txResult(receipt), nil
}

// Status collects attestations of the common types.
func (m *ValidationManager) Status(ctx context.Context, id uint64) (ValidationStatus, error) {
	if err := m.deployed(); err != nil {
		return ValidationStatus{}, err
	}
	status := ValidationStatus{AgentID: id, Records: []ValidationRecord{}}
	for _, typ := range CommonAttestationTypes {
		ok, err := m.IsValidated(ctx, id, typ)
		if err != nil || !ok {
			continue
		}
		if rec, _ := m.GetValidation(ctx, id, typ); rec != nil {
			status.Records = append(status.Records, *rec)
		}
	}
	status.Validated = len(status.Records) > 0
	return status, nil
}

package erc8004

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004/contracts"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/web3"
	"BNBChain-AgentKit/pkg/logger"
)

// TxResult identifies a mined transaction.
type TxResult struct {
	TxHash      string `json:"transactionHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

func txResult(r *types.Receipt) TxResult {
	return TxResult{TxHash: r.TxHash.Hex(), BlockNumber: r.BlockNumber.Uint64()}
}

// RegisterParams describes a new agent.
type RegisterParams struct {
	Name        string
	Description string
	Image       string
	Services    []Service
	X402Support bool
	Trust       []TrustModel
	Metadata    []MetadataEntry
}

// RawRegistration is the outcome of registering an arbitrary URI. AgentID
// is nil when the receipt carried no Registered log.
type RawRegistration struct {
	TxResult
	AgentID *uint64 `json:"agentId"`
}

// IdentityManager performs write operations on the identity registry for
// one signer and remembers the agent it owns.
type IdentityManager struct {
	chain    chains.Chain
	registry *contracts.Contract
	signer   *contracts.Signer

	mu      sync.RWMutex
	agentID *uint64
}

// NewIdentityManager binds signer to the chain's identity registry.
func NewIdentityManager(backend web3.Backend, chain chains.Chain, signer *contracts.Signer) (*IdentityManager, error) {
	if signer == nil {
		return nil, xerrors.New(contracts.CodePrivateKeyRequired, "")
	}
	return &IdentityManager{
		chain:    chain,
		registry: contracts.New(backend, chain.Contracts.Identity, contracts.IdentityABI),
		signer:   signer,
	}, nil
}

// Address is the signer's account.
func (m *IdentityManager) Address() string { return m.signer.Address.Hex() }

// Chain returns the chain the manager writes to.
func (m *IdentityManager) Chain() chains.Chain { return m.chain }

// AgentID returns the agent owned by the signer, if known.
func (m *IdentityManager) AgentID() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.agentID == nil {
		return 0, false
	}
	return *m.agentID, true
}

func (m *IdentityManager) setAgentID(id uint64) {
	m.mu.Lock()
	m.agentID = &id
	m.mu.Unlock()
}

func (m *IdentityManager) requireAgent() (uint64, error) {
	id, ok := m.AgentID()
	if !ok {
		return 0, xerrors.New(CodeAgentNotRegistered, "")
	}
	return id, nil
}

// NewRegistration builds the registration document for params.
func NewRegistration(p RegisterParams) (Registration, error) {
	trust := p.Trust
	if len(trust) == 0 {
		trust = []TrustModel{TrustReputation}
	}
	for _, t := range trust {
		if !ValidTrustModel(t) {
			return Registration{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported trust model %q", t))
		}
	}
	services := p.Services
	if services == nil {
		services = []Service{}
	}
	return Registration{
		Type:           RegistrationType,
		Name:           p.Name,
		Description:    p.Description,
		Image:          p.Image,
		Services:       services,
		X402Support:    p.X402Support,
		Active:         true,
		Registrations:  []RegistrationRef{},
		SupportedTrust: trust,
	}, nil
}

// Register mints a new agent whose URI is a data URI of the registration
// document, then rewrites the URI so the document references its own
// token id and registry.
func (m *IdentityManager) Register(ctx context.Context, p RegisterParams) (*AgentIdentity, error) {
	if p.Name == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent name is required")
	}
	reg, err := NewRegistration(p)
	if err != nil {
		return nil, err
	}
	uri, err := EncodeDataURI(reg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode registration")
	}

	raw, err := m.RegisterRaw(ctx, uri, p.Metadata)
	if err != nil {
		return nil, err
	}
	if raw.AgentID == nil {
		return nil, xerrors.New(CodeRegistrationNotFound, "", xerrors.WithMetadata("tx", raw.TxHash))
	}
	id := *raw.AgentID

	reg.Registrations = []RegistrationRef{{AgentID: id, AgentRegistry: m.chain.AgentRegistry}}
	updated, err := EncodeDataURI(reg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode registration")
	}
	if _, err := m.SetAgentURI(ctx, id, updated); err != nil {
		return nil, err
	}

	logger.Audit().Info("agent registered",
		slog.String("chain", m.chain.Key),
		slog.Uint64("agent_id", id),
		slog.String("owner", m.Address()),
		slog.String("tx", raw.TxHash),
	)
	return &AgentIdentity{
		AgentID:          id,
		Owner:            m.Address(),
		AgentURI:         updated,
		Chain:            m.chain.Name,
		RegistrationData: &reg,
	}, nil
}

// RegisterRaw mints an agent with an arbitrary URI, which may be empty,
// and optional metadata entries.
func (m *IdentityManager) RegisterRaw(ctx context.Context, uri string, metadata []MetadataEntry) (RawRegistration, error) {
	var (
		receipt *types.Receipt
		err     error
	)
	switch {
	case len(metadata) > 0:
		tuples := make([]contracts.MetadataTuple, len(metadata))
		for i, e := range metadata {
			tuples[i] = contracts.MetadataTuple{MetadataKey: e.Key, MetadataValue: []byte(e.Value)}
		}
		receipt, err = m.registry.Transact(ctx, m.signer, contracts.MethodRegisterWithMetadata, uri, tuples)
	case uri != "":
		receipt, err = m.registry.Transact(ctx, m.signer, contracts.MethodRegisterWithURI, uri)
	default:
		receipt, err = m.registry.Transact(ctx, m.signer, contracts.MethodRegister)
	}
	if err != nil {
		return RawRegistration{}, err
	}

	out := RawRegistration{TxResult: txResult(receipt)}
	for _, log := range receipt.Logs {
		if ev, ok := decodeRegistered(m.registry, *log); ok {
			id := ev.AgentID
			out.AgentID = &id
			m.setAgentID(id)
			break
		}
	}
	return out, nil
}

// ExistingAgent finds the most recent agent minted to the signer. It
// returns nil without error when the signer owns none.
func (m *IdentityManager) ExistingAgent(ctx context.Context) (*AgentIdentity, error) {
	values, err := m.registry.Call(ctx, "balanceOf", m.signer.Address)
	if err != nil {
		return nil, err
	}
	if balance, _ := values[0].(*big.Int); balance == nil || balance.Sign() == 0 {
		return nil, nil
	}

	logs, err := m.registry.FilterEvents(ctx, "Transfer", nil, nil,
		[]common.Hash{contracts.AddressTopic(common.Address{})},
		[]common.Hash{contracts.AddressTopic(m.signer.Address)},
	)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}
	id, ok := transferTokenID(m.registry, logs[len(logs)-1])
	if !ok {
		return nil, nil
	}
	m.setAgentID(id)

	values, err = m.registry.Call(ctx, "tokenURI", agentIDArg(id))
	if err != nil {
		return nil, err
	}
	uri := values[0].(string)
	return &AgentIdentity{
		AgentID:          id,
		Owner:            m.Address(),
		AgentURI:         uri,
		Chain:            m.chain.Name,
		RegistrationData: DecodeRegistration(uri),
	}, nil
}

// UpdateURI replaces the signer's agent URI with reg.
func (m *IdentityManager) UpdateURI(ctx context.Context, reg Registration) (TxResult, error) {
	id, err := m.requireAgent()
	if err != nil {
		return TxResult{}, err
	}
	uri, err := EncodeDataURI(reg)
	if err != nil {
		return TxResult{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode registration")
	}
	return m.SetAgentURI(ctx, id, uri)
}

// SetAgentURI replaces the URI of any agent owned by the signer.
func (m *IdentityManager) SetAgentURI(ctx context.Context, agentID uint64, uri string) (TxResult, error) {
	receipt, err := m.registry.Transact(ctx, m.signer, "setAgentURI", agentIDArg(agentID), uri)
	if err != nil {
		return TxResult{}, err
	}
	return txResult(receipt), nil
}

// SetMetadata stores key=value on the signer's agent.
func (m *IdentityManager) SetMetadata(ctx context.Context, key, value string) (TxResult, error) {
	id, err := m.requireAgent()
	if err != nil {
		return TxResult{}, err
	}
	return m.SetAgentMetadata(ctx, id, key, value)
}

// SetAgentMetadata stores key=value on any agent owned by the signer.
func (m *IdentityManager) SetAgentMetadata(ctx context.Context, agentID uint64, key, value string) (TxResult, error) {
	if key == "" {
		return TxResult{}, xerrors.New(xerrors.CodeInvalidArgument, "metadata key is required")
	}
	receipt, err := m.registry.Transact(ctx, m.signer, "setMetadata", agentIDArg(agentID), key, []byte(value))
	if err != nil {
		return TxResult{}, err
	}
	return txResult(receipt), nil
}

// GetMetadata reads key from the signer's agent.
func (m *IdentityManager) GetMetadata(ctx context.Context, key string) (string, error) {
	id, err := m.requireAgent()
	if err != nil {
		return "", err
	}
	v, err := NewRegistryReader(m.registry.Backend(), m.chain).GetMetadata(ctx, id, key)
	if err != nil {
		return "", err
	}
	return v.Value, nil
}

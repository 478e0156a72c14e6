package erc8004

import (
	"context"
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

const (
	summaryFeedback      = 10
	DefaultFeedbackLimit = 20
	MinScore             = -128
	MaxScore             = 127
)

// ReputationManager reads and writes the reputation registry. The signer
// is optional; without one only reads are possible.
type ReputationManager struct {
	chain    chains.Chain
	registry *contracts.Contract
	signer   *contracts.Signer
}

// NewReputationManager fails when the chain has no reputation registry.
func NewReputationManager(backend web3.Backend, chain chains.Chain, signer *contracts.Signer) (*ReputationManager, error) {
	if !chain.HasReputation() {
		return nil, xerrors.New(CodeRegistryNotDeployed, fmt.Sprintf("Reputation registry not deployed on %s", chain.Name))
	}
	return &ReputationManager{
		chain:    chain,
		registry: contracts.New(backend, chain.Contracts.Reputation, contracts.ReputationABI),
		signer:   signer,
	}, nil
}

// FeedbackCount returns the number of entries for id.
func (m *ReputationManager) FeedbackCount(ctx context.Context, id uint64) (int, error) {
	values, err := m.registry.Call(ctx, "getFeedbackCount", agentIDArg(id))
	if err != nil {
		return 0, err
	}
	return int(values[0].(*big.Int).Int64()), nil
}

// AverageScore returns the registry's integer average score for id.
func (m *ReputationManager) AverageScore(ctx context.Context, id uint64) (int64, error) {
	values, err := m.registry.Call(ctx, "getAverageScore", agentIDArg(id))
	if err != nil {
		return 0, err
	}
	return values[0].(*big.Int).Int64(), nil
}

func (m *ReputationManager) entry(ctx context.Context, id uint64, index int) (Feedback, error) {
	values, err := m.registry.Call(ctx, "getFeedback", agentIDArg(id), big.NewInt(int64(index)))
	if err != nil {
		return Feedback{}, err
	}
	return Feedback{
		Reviewer:  values[0].(common.Address).Hex(),
		Score:     int(values[1].(int8)),
		Comment:   values[2].(string),
		Timestamp: values[3].(*big.Int).Int64(),
	}, nil
}

// Summary returns count, average and the last ten entries in ascending
// order.
func (m *ReputationManager) Summary(ctx context.Context, id uint64) (ReputationSummary, error) {
	count, err := m.FeedbackCount(ctx, id)
	if err != nil {
		return ReputationSummary{}, err
	}
	avg, err := m.AverageScore(ctx, id)
	if err != nil {
		return ReputationSummary{}, err
	}
	out := ReputationSummary{AgentID: id, AverageScore: avg, FeedbackCount: count, RecentFeedback: []Feedback{}}
	for i := count - min(count, summaryFeedback); i < count; i++ {
		f, err := m.entry(ctx, id, i)
		if err != nil {
			return ReputationSummary{}, err
		}
		out.RecentFeedback = append(out.RecentFeedback, f)
	}
	return out, nil
}

// FeedbackPage is the result of Feedback.
type FeedbackPage struct {
	AgentID       uint64     `json:"agentId"`
	FeedbackCount int        `json:"feedbackCount"`
	AverageScore  int64      `json:"averageScore"`
	Feedback      []Feedback `json:"feedback"`
}

// Feedback reads the newest limit entries, most recent first. Unreadable
// entries in that window are skipped, so fewer than limit may come back.
// A failing count or average reads as zero.
func (m *ReputationManager) Feedback(ctx context.Context, id uint64, limit int) FeedbackPage {
	if limit <= 0 {
		limit = DefaultFeedbackLimit
	}
	count, _ := m.FeedbackCount(ctx, id)
	avg, _ := m.AverageScore(ctx, id)
	page := FeedbackPage{AgentID: id, FeedbackCount: count, AverageScore: avg, Feedback: []Feedback{}}
	for i := count - 1; i >= max(count-limit, 0); i-- {
		f, err := m.entry(ctx, id, i)
		if err != nil {
			continue
		}
		page.Feedback = append(page.Feedback, f)
	}
	return page
}

// SubmitFeedback records a score in -128..127 for id.
func (m *ReputationManager) SubmitFeedback(ctx context.Context, id uint64, score int, comment string) (TxResult, error) {
	if m.signer == nil {
		return TxResult{}, xerrors.New(contracts.CodePrivateKeyRequired, "private key required to submit feedback")
	}
	if score < MinScore || score > MaxScore {
		return TxResult{}, xerrors.Newf(xerrors.CodeInvalidArgument, "score must be between %d and %d", MinScore, MaxScore)
	}
	receipt, err := m.registry.Transact(ctx, m.signer, "submitFeedback", agentIDArg(id), int8(score), comment)
	if err != nil {
		return TxResult{}, err
	}
	logger.Audit().Info("feedback submitted",
		slog.String("chain", m.chain.Key),
		slog.Uint64("agent_id", id),
		slog.Int("score", score),
		slog.String("reviewer", m.signer.Address.Hex()),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return txResult(receipt), nil
}

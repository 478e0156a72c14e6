package erc8004

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"BNBChain-AgentKit/internal/erc8004/contracts"
	xerrors "BNBChain-AgentKit/internal/errors"
)

func TestReputationSummaryAndFeedback(t *testing.T) {
	chain, backend := testnet(t)
	id := backend.SeedAgent(randomAddress(t), "")
	reviewer := randomAddress(t)
	for i := 1; i <= 12; i++ {
		backend.SeedFeedback(id, reviewer, int8(i*10), "ok")
	}
	m, err := NewReputationManager(backend, chain, nil)
	require.NoError(t, err)
	ctx := context.Background()

	summary, err := m.Summary(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 12, summary.FeedbackCount)
	require.Equal(t, int64(65), summary.AverageScore)
	require.Len(t, summary.RecentFeedback, 10)
	require.Equal(t, 30, summary.RecentFeedback[0].Score)
	require.Equal(t, 120, summary.RecentFeedback[9].Score)

	page := m.Feedback(ctx, id, 3)
	require.Len(t, page.Feedback, 3)
	require.Equal(t, 120, page.Feedback[0].Score)
	require.Equal(t, reviewer.Hex(), page.Feedback[0].Reviewer)
}

func TestFeedbackSkipsUnreadableEntriesWithinWindow(t *testing.T) {
	chain, backend := testnet(t)
	id := backend.SeedAgent(randomAddress(t), "")
	reviewer := randomAddress(t)
	for i := 1; i <= 5; i++ {
		backend.SeedFeedback(id, reviewer, int8(i*10), "ok")
	}
	backend.FailWhen("getFeedback", func(args []any) error {
		if args[1].(*big.Int).Int64() == 3 {
			return errors.New("execution reverted")
		}
		return nil
	})
	m, err := NewReputationManager(backend, chain, nil)
	require.NoError(t, err)

	page := m.Feedback(context.Background(), id, 3)
	require.Equal(t, 5, page.FeedbackCount)
	require.Len(t, page.Feedback, 2)
	require.Equal(t, 50, page.Feedback[0].Score)
	require.Equal(t, 30, page.Feedback[1].Score)
}

func TestFeedbackOnUnknownAgentIsEmpty(t *testing.T) {
	chain, backend := testnet(t)
	m, err := NewReputationManager(backend, chain, nil)
	require.NoError(t, err)

	page := m.Feedback(context.Background(), 42, 0)
	require.Zero(t, page.FeedbackCount)
	require.Empty(t, page.Feedback)
}

func TestSubmitFeedback(t *testing.T) {
	chain, backend := testnet(t)
	id := backend.SeedAgent(randomAddress(t), "")
	ctx := context.Background()

	readOnly, err := NewReputationManager(backend, chain, nil)
	require.NoError(t, err)
	_, err = readOnly.SubmitFeedback(ctx, id, 5, "x")
	require.Equal(t, contracts.CodePrivateKeyRequired, xerrors.CodeOf(err))
	require.Equal(t, "private key required to submit feedback", xerrors.MessageOf(err))

	m, err := NewReputationManager(backend, chain, newSigner(t))
	require.NoError(t, err)
	_, err = m.SubmitFeedback(ctx, id, 128, "too high")
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	res, err := m.SubmitFeedback(ctx, id, -128, "bad")
	require.NoError(t, err)
	require.NotEmpty(t, res.TxHash)

	avg, err := m.AverageScore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(-128), avg)
}

func TestReputationNotDeployed(t *testing.T) {
	chain, backend := testnet(t)
	chain.Contracts.Reputation = ""
	_, err := NewReputationManager(backend, chain, nil)
	require.Equal(t, CodeRegistryNotDeployed, xerrors.CodeOf(err))
	require.Equal(t, "Reputation registry not deployed on BSC Testnet", xerrors.MessageOf(err))
}

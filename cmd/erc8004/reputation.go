package main

import (
	"github.com/spf13/cobra"

	"BNBChain-AgentKit/internal/erc8004"
	xerrors "BNBChain-AgentKit/internal/errors"
)

func (a *app) reputationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reputation", Short: "Read and submit agent reputation feedback"}
	cmd.AddCommand(a.reputationGetCmd(), a.reputationSubmitCmd())
	return cmd
}

func (a *app) reputationGetCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "get <agentId>",
		Short: "Show feedback count, average score and recent feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			chain, backend, err := a.backend(ctx)
			if err != nil {
				return err
			}
			m, err := erc8004.NewReputationManager(backend, chain, nil)
			if err != nil {
				return err
			}
			page := m.Feedback(ctx, id, limit)
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"agentId":       id,
				"chain":         chain.Name,
				"feedbackCount": page.FeedbackCount,
				"averageScore":  page.AverageScore,
				"feedback":      page.Feedback,
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum feedback entries")
	return cmd
}

func (a *app) reputationSubmitCmd() *cobra.Command {
	var (
		score   int
		comment string
	)
	cmd := &cobra.Command{
		Use:   "submit <agentId>",
		Short: "Submit a feedback score between -128 and 127",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("score") {
				return xerrors.New(xerrors.CodeInvalidArgument, "--score is required")
			}
			signer, err := a.signer(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			chain, backend, err := a.backend(ctx)
			if err != nil {
				return err
			}
			m, err := erc8004.NewReputationManager(backend, chain, signer)
			if err != nil {
				return err
			}
			res, err := m.SubmitFeedback(ctx, id, score, comment)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"agentId":         id,
				"score":           score,
				"comment":         comment,
				"chain":           chain.Name,
				"transactionHash": res.TxHash,
				"blockNumber":     res.BlockNumber,
				"explorer":        chain.TxURL(res.TxHash),
			})
		},
	}
	cmd.Flags().IntVar(&score, "score", 0, "score between -128 and 127")
	cmd.Flags().StringVar(&comment, "comment", "", "feedback comment")
	return cmd
}

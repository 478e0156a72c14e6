package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"BNBChain-AgentKit/internal/agent"
	"BNBChain-AgentKit/internal/erc8004"
	xerrors "BNBChain-AgentKit/internal/errors"
)

func (a *app) agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Register, look up and search ERC-8004 agents"}
	cmd.AddCommand(a.agentGetCmd(), a.agentSearchCmd(), a.agentListCmd(), a.agentRegisterCmd())
	return cmd
}

func parseAgentID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid agent id %q", raw)
	}
	return id, nil
}

func (a *app) agentGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <agentId>",
		Short: "Show an agent's owner, URI and decoded registration",
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
			reader := erc8004.NewRegistryReader(backend, chain)
			found, err := reader.GetAgent(ctx, id)
			if err != nil {
				return err
			}
			if found == nil {
				return xerrors.Newf(xerrors.CodeNotFound, "agent %d not found on %s", id, chain.Name)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"agentId":         id,
				"chain":           chain.Name,
				"owner":           found.Owner,
				"uri":             found.AgentURI,
				"metadata":        erc8004.DecodeURI(found.AgentURI),
				"contractVersion": reader.ContractVersion(ctx),
				"explorer":        chain.TokenURL(args[0]),
			})
		},
	}
}

func (a *app) agentSearchCmd() *cobra.Command {
	var (
		limit     int
		fromBlock uint64
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search Registered events by name, service or URI content",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query string
			if len(args) == 1 {
				query = args[0]
			}
			ctx := cmd.Context()
			chain, backend, err := a.backend(ctx)
			if err != nil {
				return err
			}
			results, err := erc8004.NewRegistryReader(backend, chain).Search(ctx, erc8004.SearchOptions{
				Query:     query,
				FromBlock: fromBlock,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"chain":   chain.Name,
				"query":   query,
				"count":   len(results),
				"results": results,
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	cmd.Flags().Uint64Var(&fromBlock, "from-block", 0, "first block to scan")
	return cmd
}

func (a *app) agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [address]",
		Short: "List agents owned by an address (default: the configured wallet)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var owner string
			if len(args) == 1 {
				owner = args[0]
			} else {
				addr, err := a.store.Load().Address()
				if err != nil {
					return err
				}
				owner = addr.Hex()
			}
			ctx := cmd.Context()
			chain, backend, err := a.backend(ctx)
			if err != nil {
				return err
			}
			agents, err := erc8004.NewRegistryReader(backend, chain).ListByOwner(ctx, owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"address": owner,
				"chain":   chain.Name,
				"count":   len(agents),
				"agents":  agents,
			})
		},
	}
}

func (a *app) agentRegisterCmd() *cobra.Command {
	var (
		uri         string
		name        string
		description string
		image       string
		a2aURL      string
		mcpURL      string
		x402        bool
		trust       []string
		metadata    []string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Mint a new agent identity",
		Long: `Mint a new agent identity.

With --uri the given URI is registered as is. Otherwise a registration
document is built from --name and the other flags, stored as a data URI
and rewritten to reference its own token id.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := parseMetadata(metadata)
			if err != nil {
				return err
			}
			if uri == "" && name == "" {
				return xerrors.New(xerrors.CodeInvalidArgument, "either --uri or --name is required")
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
			m, err := erc8004.NewIdentityManager(backend, chain, signer)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if uri != "" {
				res, err := m.RegisterRaw(ctx, uri, entries)
				if err != nil {
					return err
				}
				result := map[string]any{
					"transactionHash": res.TxHash,
					"blockNumber":     res.BlockNumber,
					"chain":           chain.Name,
					"explorer":        chain.TxURL(res.TxHash),
				}
				if res.AgentID != nil {
					result["agentId"] = *res.AgentID
				}
				return printJSON(out, result)
			}

			params := erc8004.RegisterParams{
				Name:        name,
				Description: description,
				Image:       image,
				X402Support: x402,
				Metadata:    entries,
			}
			if a2aURL != "" {
				params.Services = append(params.Services, erc8004.Service{Name: "A2A", Endpoint: a2aURL, Version: agent.A2AServiceVersion})
			}
			if mcpURL != "" {
				params.Services = append(params.Services, erc8004.Service{Name: "MCP", Endpoint: mcpURL})
			}
			for _, t := range trust {
				params.Trust = append(params.Trust, erc8004.TrustModel(t))
			}
			identity, err := m.Register(ctx, params)
			if err != nil {
				return err
			}
			return printJSON(out, map[string]any{
				"agentId":       identity.AgentID,
				"owner":         identity.Owner,
				"chain":         identity.Chain,
				"agentRegistry": chain.AgentRegistry,
				"explorer":      chain.TokenURL(strconv.FormatUint(identity.AgentID, 10)),
				"registration":  identity.RegistrationData,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&uri, "uri", "", "register this agent URI as is")
	f.StringVar(&name, "name", "", "agent name")
	f.StringVar(&description, "description", "", "agent description")
	f.StringVar(&image, "image", "", "image URL")
	f.StringVar(&a2aURL, "a2a", "", "A2A endpoint URL")
	f.StringVar(&mcpURL, "mcp", "", "MCP endpoint URL")
	f.BoolVar(&x402, "x402", false, "advertise x402 payment support")
	f.StringSliceVar(&trust, "trust", nil, "trust models: reputation, crypto-economic, tee-attestation, verifiable-credentials")
	f.StringArrayVar(&metadata, "meta", nil, "on-chain metadata entry key=value (repeatable)")
	return cmd
}

func parseMetadata(pairs []string) ([]erc8004.MetadataEntry, error) {
	entries := make([]erc8004.MetadataEntry, 0, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "metadata %q must be key=value", p)
		}
		entries = append(entries, erc8004.MetadataEntry{Key: key, Value: value})
	}
	return entries, nil
}

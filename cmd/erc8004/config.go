package main

import (
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"BNBChain-AgentKit/internal/chains"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/wallet"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Show or change CLI settings"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the configuration without secrets",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg := a.store.Load()
				view := map[string]any{
					"path":          a.store.Path(),
					"defaultChain":  cfg.DefaultChain,
					"customRpcUrls": cfg.CustomRPCURLs,
					"wallet":        string(cfg.Method()),
				}
				if addr, err := cfg.Address(); err == nil {
					view["address"] = addr.Hex()
				}
				return printJSON(cmd.OutOrStdout(), view)
			},
		},
		&cobra.Command{
			Use:   "set-chain <chain>",
			Short: "Set the default chain",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				chain, err := chains.Default().Resolve(args[0])
				if err != nil {
					return err
				}
				if _, err := a.store.Update(func(c *wallet.Config) { c.DefaultChain = chain.Key }); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Default chain set to %s (%s)\n", chain.Key, chain.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-rpc <chain> <url>",
			Short: "Use a custom RPC endpoint for a chain",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				chain, err := chains.Default().Resolve(args[0])
				if err != nil {
					return err
				}
				u, err := url.Parse(args[1])
				if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
					return xerrors.Newf(xerrors.CodeInvalidArgument, "invalid RPC URL %q", args[1])
				}
				if _, err := a.store.Update(func(c *wallet.Config) { c.CustomRPCURLs[chain.Key] = args[1] }); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "RPC for %s set to %s\n", chain.Key, args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "unset-rpc <chain>",
			Short: "Restore the built-in RPC endpoint for a chain",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				chain, err := chains.Default().Resolve(args[0])
				if err != nil {
					return err
				}
				if _, err := a.store.Update(func(c *wallet.Config) { delete(c.CustomRPCURLs, chain.Key) }); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "RPC for %s reset\n", chain.Key)
				return nil
			},
		},
	)
	return cmd
}

func (a *app) chainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List supported chains and registry deployments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := a.table()
			if err != nil {
				return err
			}
			def := a.store.Load().DefaultChain
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tNAME\tCHAIN ID\tIDENTITY\tREPUTATION\tVALIDATION\tRPC")
			for _, c := range table.All() {
				key := c.Key
				if key == def {
					key += " *"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					key, c.Name, c.ChainID, orDash(c.Contracts.Identity), orDash(c.Contracts.Reputation), orDash(c.Contracts.Validation), c.RPCURL)
			}
			return w.Flush()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

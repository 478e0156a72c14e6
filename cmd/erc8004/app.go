package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004/contracts"
	"BNBChain-AgentKit/internal/wallet"
	"BNBChain-AgentKit/internal/web3"
	"BNBChain-AgentKit/internal/web3/provider"
)

// app 汇总命令共享的状态，测试时替换 prompt、dial 与 getenv。
type app struct {
	configDir string
	chain     string

	store  *wallet.Store
	prompt prompter
	dial   provider.Dialer
	getenv func(string) string

	providers *provider.Registry
}

func newApp() *app {
	return &app{prompt: newTermPrompter(os.Stdin, os.Stderr), getenv: os.Getenv}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "erc8004",
		Short:         "Manage ERC-8004 agent identities, reputation and wallets on BNB Chain",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			dir := a.configDir
			if dir == "" {
				dir = a.getenv("ERC8004_CONFIG_DIR")
			}
			store, err := wallet.NewStore(dir)
			if err != nil {
				return err
			}
			a.store = store
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.providers != nil {
				a.providers.Close()
				a.providers = nil
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "configuration directory (default ~/.erc8004)")
	root.PersistentFlags().StringVarP(&a.chain, "chain", "c", "", "chain key or chain ID (default from config)")

	root.AddCommand(a.configCmd(), a.walletCmd(), a.agentCmd(), a.reputationCmd(), a.chainsCmd())
	return root
}

// table 返回内置链表，并叠加用户配置的自定义 RPC。
func (a *app) table() (*chains.Registry, error) {
	table := chains.Default()
	for key, url := range a.store.Load().CustomRPCURLs {
		if err := table.SetRPC(key, url); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// backend 解析 --chain（或配置中的默认链）并连接 RPC。
func (a *app) backend(ctx context.Context) (chains.Chain, web3.Backend, error) {
	if a.providers == nil {
		table, err := a.table()
		if err != nil {
			return chains.Chain{}, nil, err
		}
		a.providers = provider.NewRegistry(table, provider.WithDialer(a.dial))
	}
	input := a.chain
	if input == "" {
		input = a.store.Load().DefaultChain
	}
	client, chain, err := a.providers.Client(ctx, input)
	if err != nil {
		return chains.Chain{}, nil, err
	}
	return chain, client.Backend(), nil
}

// signer 优先使用 ERC8004_PRIVATE_KEY，其次解锁本地 keystore。
func (a *app) signer(cmd *cobra.Command) (*contracts.Signer, error) {
	if key := a.getenv(wallet.EnvPrivateKey); key != "" {
		return contracts.NewSigner(key)
	}
	cfg := a.store.Load()
	switch cfg.Method() {
	case wallet.AuthKeystore:
		password, err := a.prompt.Password("Keystore password: ")
		if err != nil {
			return nil, err
		}
		return cfg.Signer(password)
	case wallet.AuthPlaintext:
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: using a plaintext private key. Run `erc8004 wallet import` to encrypt it.")
		return cfg.Signer("")
	}
	return nil, wallet.ErrNoWallet
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

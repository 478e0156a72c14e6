package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"BNBChain-AgentKit/internal/wallet"
)

func (a *app) walletCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "wallet", Short: "Manage the encrypted wallet keystore"}
	cmd.AddCommand(a.walletImportCmd(), a.walletExportCmd(), a.walletShowCmd(), a.walletClearCmd())
	return cmd
}

// newPassword 读取两次密码并交给 wallet 校验长度与一致性。
func (a *app) newPassword(label string) (string, string, error) {
	password, err := a.prompt.Password(label)
	if err != nil {
		return "", "", err
	}
	confirm, err := a.prompt.Password("Confirm password: ")
	if err != nil {
		return "", "", err
	}
	return password, confirm, nil
}

func (a *app) walletImportCmd() *cobra.Command {
	var keystoreFile string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a private key or keystore file and store it encrypted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.store.Load()
			out := cmd.OutOrStdout()
			if cfg.HasWallet() {
				ok, err := a.prompt.Confirm("A wallet is already configured. Replace it?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Import cancelled.")
					return nil
				}
			}

			var (
				imported common.Address
				err      error
			)
			if keystoreFile != "" {
				raw, rerr := os.ReadFile(keystoreFile)
				if rerr != nil {
					return rerr
				}
				password, perr := a.prompt.Password("Keystore password: ")
				if perr != nil {
					return perr
				}
				reencrypt, cerr := a.prompt.Confirm("Re-encrypt with a new password?")
				if cerr != nil {
					return cerr
				}
				var newPass, confirm string
				if reencrypt {
					if newPass, confirm, err = a.newPassword("New password (min 8 chars): "); err != nil {
						return err
					}
				}
				imported, err = cfg.ImportKeystore(raw, password, newPass, confirm)
			} else {
				key, kerr := a.prompt.Password("Private key (0x...): ")
				if kerr != nil {
					return kerr
				}
				password, confirm, perr := a.newPassword("Encryption password (min 8 chars): ")
				if perr != nil {
					return perr
				}
				imported, err = cfg.ImportKey(key, password, confirm)
			}
			if err != nil {
				return err
			}
			if err := a.store.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(out, "Wallet imported: %s\n", imported.Hex())
			fmt.Fprintf(out, "Keystore saved to %s\n", a.store.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&keystoreFile, "keystore", "", "import an existing keystore JSON file")
	return cmd
}

func (a *app) walletExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the wallet as a password-protected keystore file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.store.Load()
			if !cfg.HasWallet() {
				return wallet.ErrNoWallet
			}
			var password string
			if cfg.Method() == wallet.AuthKeystore {
				p, err := a.prompt.Password("Current keystore password: ")
				if err != nil {
					return err
				}
				password = p
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning: exporting a plaintext private key.")
			}
			exportPass, confirm, err := a.newPassword("Export password (min 8 chars): ")
			if err != nil {
				return err
			}
			raw, addr, err := cfg.Export(password, exportPass, confirm)
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Join(".", wallet.ExportFileName(addr))
			}
			if err := wallet.WriteKeystoreFile(output, raw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Keystore for %s exported to %s\n", addr.Hex(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default ./erc8004-keystore-<addr>.json)")
	return cmd
}

func (a *app) walletShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the configured wallet address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.store.Load()
			out := cmd.OutOrStdout()
			if a.getenv(wallet.EnvPrivateKey) != "" {
				fmt.Fprintf(out, "Note: %s is set and overrides the stored wallet.\n", wallet.EnvPrivateKey)
			}
			addr, err := cfg.Address()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Address: %s\n", addr.Hex())
			switch cfg.Method() {
			case wallet.AuthKeystore:
				fmt.Fprintln(out, "Storage: encrypted keystore")
			case wallet.AuthPlaintext:
				fmt.Fprintln(out, "Storage: plaintext private key (DEPRECATED, run `erc8004 wallet import`)")
			}
			return nil
		},
	}
}

func (a *app) walletClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			cfg := a.store.Load()
			if !cfg.HasWallet() {
				fmt.Fprintln(out, "No wallet configured.")
				return nil
			}
			if !yes {
				ok, err := a.prompt.Confirm("Remove the stored wallet? Make sure you have a backup.")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Cancelled.")
					return nil
				}
			}
			cfg.Clear()
			if err := a.store.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintln(out, "Wallet removed.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

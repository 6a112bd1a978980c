package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koopa0/opsgate/internal/config"
	"github.com/koopa0/opsgate/internal/vault"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the credential vault",
}

var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Re-encrypt all stored credentials under a fresh master key",
	RunE: func(_ *cobra.Command, _ []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		if err := v.Rotate(); err != nil {
			return fmt.Errorf("rotating master key: %w", err)
		}
		fmt.Println("master key rotated")
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report which credential bundles resolve",
	RunE: func(_ *cobra.Command, _ []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		for _, kind := range []vault.Kind{vault.KindGraph, vault.KindCloud} {
			if _, err := v.GetCredentials(kind); err != nil {
				fmt.Printf("%-6s unavailable (%v)\n", kind, err)
				continue
			}
			fmt.Printf("%-6s ok\n", kind)
		}

		fmt.Println("\nenvironment (secrets redacted):")
		redacted := vault.RedactEnv(os.Environ())
		names := make([]string, 0, len(redacted))
		for name := range redacted {
			if strings.HasPrefix(name, "OPSGATE_") {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s=%s\n", name, redacted[name])
		}
		return nil
	},
}

var setFlags struct {
	uri      string
	user     string
	password string
	tenant   string
	client   string
	secret   string
}

var setCmd = &cobra.Command{
	Use:   "set <graph|cloud>",
	Short: "Encrypt and store a credential bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		kind := vault.Kind(args[0])

		var creds vault.Credentials
		switch kind {
		case vault.KindGraph:
			creds = vault.Credentials{
				URI:      setFlags.uri,
				User:     setFlags.user,
				Password: setFlags.password,
			}
		case vault.KindCloud:
			creds = vault.Credentials{
				Tenant: setFlags.tenant,
				Client: setFlags.client,
				Secret: setFlags.secret,
			}
		default:
			return fmt.Errorf("unknown credential kind %q", args[0])
		}

		v, err := openVault()
		if err != nil {
			return err
		}
		if err := v.SaveCredentials(kind, creds); err != nil {
			return fmt.Errorf("saving %s credentials: %w", kind, err)
		}
		fmt.Printf("%s credentials stored\n", kind)
		return nil
	},
}

func openVault() (*vault.Vault, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	v := vault.New(cfg.VaultDir, cfg.IsProduction(), nil)
	if err := v.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing vault: %w", err)
	}
	return v, nil
}

func init() {
	setCmd.Flags().StringVar(&setFlags.uri, "uri", "", "graph connection string")
	setCmd.Flags().StringVar(&setFlags.user, "user", "", "graph user")
	setCmd.Flags().StringVar(&setFlags.password, "password", "", "graph password")
	setCmd.Flags().StringVar(&setFlags.tenant, "tenant", "", "cloud tenant")
	setCmd.Flags().StringVar(&setFlags.client, "client", "", "cloud client ID")
	setCmd.Flags().StringVar(&setFlags.secret, "secret", "", "cloud client secret")

	vaultCmd.AddCommand(rotateKeyCmd)
	vaultCmd.AddCommand(checkCmd)
	vaultCmd.AddCommand(setCmd)
	rootCmd.AddCommand(vaultCmd)
}

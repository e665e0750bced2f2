package wallet

import (
	"context"
	"encoding/hex"

	"github.com/chapool/custody-engine/internal/app"
	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/seed"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newShow() *cobra.Command {
	var (
		userID   string
		currency string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Shows one wallet or all wallets of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				if currency != "" {
					w, err := a.Wallet.GetWallet(ctx, userID, currency)
					if err != nil {
						return err
					}

					return command.PrintJSON(cmd, w)
				}

				wallets, err := a.Wallet.ListWallets(ctx, userID)
				if err != nil {
					return err
				}

				return command.PrintJSON(cmd, wallets)
			})
		},
	}

	cmd.Flags().StringVar(&userID, userFlag, "", "Owner of the wallet")
	cmd.Flags().StringVar(&currency, currencyFlag, "", "Currency tag; all wallets when empty")
	_ = cmd.MarkFlagRequired(userFlag)

	return cmd
}

func newExport() *cobra.Command {
	var (
		userID   string
		currency string
		confirm  bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Prints the decrypted private key of a wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.Errorf("refusing to print a private key without --%s", confirmFlag)
			}

			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				key, err := a.Wallet.ExportPrivateKey(ctx, userID, currency)
				if err != nil {
					return err
				}
				defer seed.Zero(key)

				return command.PrintJSON(cmd, map[string]string{"privateKey": hex.EncodeToString(key)})
			})
		},
	}

	cmd.Flags().StringVar(&userID, userFlag, "", "Owner of the wallet")
	cmd.Flags().StringVar(&currency, currencyFlag, "", "Currency tag")
	cmd.Flags().BoolVar(&confirm, confirmFlag, false, "Confirm printing the secret")
	_ = cmd.MarkFlagRequired(userFlag)
	_ = cmd.MarkFlagRequired(currencyFlag)

	return cmd
}

func newRemove() *cobra.Command {
	var (
		userID   string
		currency string
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Removes a wallet whose balance is zero",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				return a.Wallet.RemoveWallet(ctx, userID, currency)
			})
		},
	}

	cmd.Flags().StringVar(&userID, userFlag, "", "Owner of the wallet")
	cmd.Flags().StringVar(&currency, currencyFlag, "", "Currency tag")
	_ = cmd.MarkFlagRequired(userFlag)
	_ = cmd.MarkFlagRequired(currencyFlag)

	return cmd
}

func newSystem() *cobra.Command {
	var (
		kind     string
		currency string
	)

	cmd := &cobra.Command{
		Use:   "system",
		Short: "Derives a treasury or hot account from the system mnemonic",
		Long: `Derives a platform owned account from the system mnemonic. The mnemonic is
taken from WALLET_WALLET_SYSTEM_MNEMONIC or read from the terminal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				if err := a.UnlockSystemSeed(ctx, promptFunc()); err != nil {
					return err
				}

				w, err := a.Wallet.EnsureSystemAccount(ctx, account.Kind(kind), currency)
				if err != nil {
					return err
				}

				return command.PrintJSON(cmd, w)
			})
		},
	}

	cmd.Flags().StringVar(&kind, kindFlag, string(account.KindTreasury), "System account kind (treasury, hot)")
	cmd.Flags().StringVar(&currency, currencyFlag, "", "Currency tag")
	_ = cmd.MarkFlagRequired(currencyFlag)

	return cmd
}

package wallet

import (
	"context"

	"github.com/chapool/custody-engine/internal/app"
	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/spf13/cobra"
)

func newGenerate() *cobra.Command {
	var (
		userID string
		kind   string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates a new mnemonic and a wallet for every supported currency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				res, err := a.Wallet.GenerateWallet(ctx, userID, account.Kind(kind))
				if err != nil {
					return err
				}

				failures := map[string]string{}
				for name, err := range res.Failures {
					failures[string(name)] = err.Error()
				}

				return command.PrintJSON(cmd, map[string]any{
					"wallets":  res.Wallets,
					"failures": failures,
				})
			})
		},
	}

	cmd.Flags().StringVar(&userID, userFlag, "", "Owner of the wallet")
	cmd.Flags().StringVar(&kind, kindFlag, string(account.KindUser), "Account kind (user, merchant)")
	_ = cmd.MarkFlagRequired(userFlag)

	return cmd
}

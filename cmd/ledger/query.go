package ledger

import (
	"context"

	"github.com/chapool/custody-engine/internal/app"
	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/spf13/cobra"
)

func newSettle() *cobra.Command {
	var (
		reference string
		status    string
	)

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Moves a transaction to a later status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				rec, err := a.Ledger.Settle(ctx, reference, account.TxStatus(status))
				if err != nil {
					return err
				}

				return command.PrintJSON(cmd, rec)
			})
		},
	}

	cmd.Flags().StringVar(&reference, referenceFlag, "", "Reference of the transaction")
	cmd.Flags().StringVar(&status, statusFlag, "", "Target status (confirming, completed, failed, cancelled)")
	_ = cmd.MarkFlagRequired(referenceFlag)
	_ = cmd.MarkFlagRequired(statusFlag)

	return cmd
}

func newBalance() *cobra.Command {
	var (
		userID   string
		currency string
	)

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Prints the balance of an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				bal, err := a.Ledger.Balance(ctx, userID, currency)
				if err != nil {
					return err
				}

				return command.PrintJSON(cmd, map[string]any{"currency": account.NormalizeTag(currency), "balance": bal})
			})
		},
	}

	cmd.Flags().StringVar(&userID, userFlag, "", "Owner of the account")
	cmd.Flags().StringVar(&currency, currencyFlag, "", "Currency tag")
	_ = cmd.MarkFlagRequired(userFlag)
	_ = cmd.MarkFlagRequired(currencyFlag)

	return cmd
}

func newHistory() *cobra.Command {
	var (
		userID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Lists the newest transactions of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				recs, err := a.Ledger.History(ctx, userID, limit)
				if err != nil {
					return err
				}

				return command.PrintJSON(cmd, recs)
			})
		},
	}

	cmd.Flags().StringVar(&userID, userFlag, "", "Owner of the transactions")
	cmd.Flags().IntVar(&limit, limitFlag, 20, "Maximum number of records, 0 for all")
	_ = cmd.MarkFlagRequired(userFlag)

	return cmd
}

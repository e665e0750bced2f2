package ledger

import (
	"context"

	"github.com/chapool/custody-engine/internal/app"
	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/ledger"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type entryFlags struct {
	userID    string
	currency  string
	amount    string
	reference string
	txType    string
	meta      map[string]string
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userID, userFlag, "", "Owner of the account")
	cmd.Flags().StringVar(&f.currency, currencyFlag, "", "Currency tag, e.g. BTC or USDT")
	cmd.Flags().StringVar(&f.amount, amountFlag, "", "Positive decimal amount")
	cmd.Flags().StringVar(&f.reference, referenceFlag, "", "Unique idempotency reference")
	cmd.Flags().StringVar(&f.txType, typeFlag, "", "Transaction type override")
	cmd.Flags().StringToStringVar(&f.meta, metaFlag, nil, "Metadata as key=value pairs")

	for _, name := range []string{userFlag, currencyFlag, amountFlag, referenceFlag} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (f *entryFlags) entry() (ledger.Entry, error) {
	amount, err := decimal.NewFromString(f.amount)
	if err != nil {
		return ledger.Entry{}, errors.Wrapf(ledger.ErrInvalidAmount, "%q", f.amount)
	}

	meta := make(map[string]any, len(f.meta))
	for k, v := range f.meta {
		meta[k] = v
	}

	return ledger.Entry{
		UserID:    f.userID,
		Currency:  f.currency,
		Amount:    amount,
		Reference: f.reference,
		Metadata:  meta,
		Type:      account.TxType(f.txType),
	}, nil
}

type applyFunc func(ledger.Service) func(context.Context, ledger.Entry) (*ledger.Result, error)

func newEntryCommand(use string, short string, apply applyFunc) *cobra.Command {
	f := &entryFlags{}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := f.entry()
			if err != nil {
				return err
			}

			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				res, err := apply(a.Ledger)(ctx, e)
				if err != nil {
					return err
				}

				out := map[string]any{
					"transaction": res.Transaction,
					"replayed":    res.Replayed,
				}
				if res.Account != nil {
					out["balance"] = res.Account.Balance
				}

				return command.PrintJSON(cmd, out)
			})
		},
	}

	f.register(cmd)

	return cmd
}

func newCredit() *cobra.Command {
	return newEntryCommand("credit", "Credits an account, creating it on first deposit",
		func(s ledger.Service) func(context.Context, ledger.Entry) (*ledger.Result, error) { return s.Credit })
}

func newDebit() *cobra.Command {
	return newEntryCommand("debit", "Debits an account if the balance suffices",
		func(s ledger.Service) func(context.Context, ledger.Entry) (*ledger.Result, error) { return s.Debit })
}

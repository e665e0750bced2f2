package wallet

import (
	"context"

	"github.com/chapool/custody-engine/internal/app"
	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/chapool/custody-engine/internal/wallet"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newImport() *cobra.Command {
	var (
		userID        string
		currency      string
		usePrivateKey bool
		usePassphrase bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Imports a mnemonic or a private key for one currency",
		Long: `Imports external key material for one currency. The secret is read from
the terminal without echo: a mnemonic by default, a private key with --private-key.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := wallet.ImportRequest{Currency: currency}

			if usePrivateKey {
				key, err := wallet.TerminalPrompt("Enter private key: ")
				if err != nil {
					return err
				}
				req.PrivateKey = key
			} else {
				mnemonic, err := wallet.TerminalPrompt("Enter mnemonic: ")
				if err != nil {
					return err
				}
				req.Mnemonic = mnemonic

				if usePassphrase {
					passphrase, err := wallet.TerminalPrompt("Enter BIP39 passphrase: ")
					if err != nil {
						return err
					}
					req.Passphrase = passphrase
				}
			}

			if req.Mnemonic == "" && req.PrivateKey == "" {
				return errors.New("no secret entered")
			}

			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				w, err := a.Wallet.ImportWallet(ctx, userID, req)
				if err != nil {
					return err
				}

				return command.PrintJSON(cmd, w)
			})
		},
	}

	cmd.Flags().StringVar(&userID, userFlag, "", "Owner of the wallet")
	cmd.Flags().StringVar(&currency, currencyFlag, "", "Currency tag, e.g. ETH or USDT")
	cmd.Flags().BoolVar(&usePrivateKey, privateKeyFlag, false, "Import a raw private key instead of a mnemonic")
	cmd.Flags().BoolVar(&usePassphrase, passphraseFlag, false, "Prompt for a BIP39 passphrase")
	_ = cmd.MarkFlagRequired(userFlag)
	_ = cmd.MarkFlagRequired(currencyFlag)
	cmd.MarkFlagsMutuallyExclusive(privateKeyFlag, passphraseFlag)

	return cmd
}

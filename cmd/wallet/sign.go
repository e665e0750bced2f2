package wallet

import (
	"context"

	"github.com/chapool/custody-engine/internal/app"
	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/chapool/custody-engine/internal/wallet/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func newSignMessage() *cobra.Command {
	var (
		userID   string
		currency string
		message  string
	)

	cmd := &cobra.Command{
		Use:   "sign-message",
		Short: "Signs an off-chain message with a custodied key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				res, err := a.Signer.SignMessage(ctx, &signer.SignMessageRequest{
					UserID:   userID,
					Currency: currency,
					Message:  []byte(message),
				})
				if err != nil {
					return err
				}

				return command.PrintJSON(cmd, map[string]string{
					"address":   res.Address,
					"signature": hexutil.Encode(res.Signature),
				})
			})
		},
	}

	cmd.Flags().StringVar(&userID, userFlag, "", "Owner of the wallet")
	cmd.Flags().StringVar(&currency, currencyFlag, "", "Currency tag (EVM currencies or SOL)")
	cmd.Flags().StringVar(&message, "message", "", "Message to sign")
	_ = cmd.MarkFlagRequired(userFlag)
	_ = cmd.MarkFlagRequired(currencyFlag)

	return cmd
}

func newSignEVM() *cobra.Command {
	req := &signer.SignEVMRequest{}

	var data string

	cmd := &cobra.Command{
		Use:   "sign-evm",
		Short: "Signs an EIP-1559 transaction without broadcasting it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Data = common.FromHex(data)

			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				res, err := a.Signer.SignEVMTransaction(ctx, req)
				if err != nil {
					return err
				}

				return command.PrintJSON(cmd, map[string]string{
					"from":           res.From,
					"txHash":         res.TxHash,
					"rawTransaction": hexutil.Encode(res.RawTransaction),
				})
			})
		},
	}

	cmd.Flags().StringVar(&req.UserID, userFlag, "", "Owner of the wallet")
	cmd.Flags().StringVar(&req.Currency, currencyFlag, "ETH", "EVM currency tag")
	cmd.Flags().Int64Var(&req.ChainID, "chain-id", 1, "EIP-155 chain id")
	cmd.Flags().StringVar(&req.To, "to", "", "Recipient address")
	cmd.Flags().StringVar(&req.Value, "value", "0", "Value in wei")
	cmd.Flags().Uint64Var(&req.GasLimit, "gas", 21000, "Gas limit")
	cmd.Flags().StringVar(&req.MaxFeePerGas, "max-fee", "", "Max fee per gas in wei")
	cmd.Flags().StringVar(&req.MaxPriorityFeePerGas, "max-priority-fee", "", "Max priority fee per gas in wei")
	cmd.Flags().Uint64Var(&req.Nonce, "nonce", 0, "Account nonce")
	cmd.Flags().StringVar(&data, "data", "", "Hex encoded call data")

	for _, name := range []string{userFlag, "to", "max-fee", "max-priority-fee"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

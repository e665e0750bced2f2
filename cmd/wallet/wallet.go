package wallet

import (
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/spf13/cobra"
)

const (
	userFlag       = "user"
	currencyFlag   = "currency"
	kindFlag       = "kind"
	privateKeyFlag = "private-key"
	passphraseFlag = "passphrase"
	confirmFlag    = "yes"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("wallet",
		newGenerate(),
		newImport(),
		newShow(),
		newExport(),
		newRemove(),
		newSystem(),
		newSignMessage(),
		newSignEVM(),
	)
}

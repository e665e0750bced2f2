package ledger

import (
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/spf13/cobra"
)

const (
	userFlag      = "user"
	currencyFlag  = "currency"
	amountFlag    = "amount"
	referenceFlag = "reference"
	typeFlag      = "type"
	metaFlag      = "meta"
	statusFlag    = "status"
	limitFlag     = "limit"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("ledger",
		newCredit(),
		newDebit(),
		newSettle(),
		newBalance(),
		newHistory(),
	)
}

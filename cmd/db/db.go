package db

import (
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("db",
		newMigrate(),
		newStatus(),
		newMigrateLegacy(),
	)
}

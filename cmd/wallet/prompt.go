package wallet

import (
	"os"

	"github.com/chapool/custody-engine/internal/wallet"
	"golang.org/x/term"
)

// promptFunc returns nil when stdin is not a terminal so that a missing
// system mnemonic fails instead of blocking.
func promptFunc() wallet.PromptFunc {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}

	return wallet.TerminalPrompt
}

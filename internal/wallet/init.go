package wallet

import (
	"context"
	"fmt"
	"os"

	"github.com/chapool/custody-engine/internal/util"
	"github.com/chapool/custody-engine/internal/wallet/seed"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

// PromptFunc reads one secret from the operator.
type PromptFunc func(prompt string) (string, error)

// UnlockSystemSeed loads the platform mnemonic into seedManager and verifies it
// against the stored system accounts. When mnemonic is empty it is read via
// prompt, together with the optional BIP39 passphrase.
func UnlockSystemSeed(ctx context.Context, svc Service, seedManager seed.Manager, mnemonic string, passphrase string, prompt PromptFunc) error {
	log := util.LogFromContext(ctx).With().Str("component", "wallet_init").Logger()

	if mnemonic == "" {
		if prompt == nil {
			return ErrSeedNotInitialized
		}

		log.Info().Msg("System mnemonic not configured. Please enter it to unlock...")

		var err error
		mnemonic, err = prompt("Enter system mnemonic: ")
		if err != nil {
			return errors.Wrap(err, "failed to read mnemonic")
		}

		passphrase, err = prompt("Enter BIP39 passphrase (empty for none): ")
		if err != nil {
			return errors.Wrap(err, "failed to read passphrase")
		}
	}

	if err := seedManager.Initialize(mnemonic, passphrase); err != nil {
		return errors.Wrap(err, "failed to initialize seed manager")
	}

	log.Info().Msg("Seed manager initialized")

	if err := svc.VerifySystemSeed(ctx); err != nil {
		seedManager.Clear()
		return errors.Wrap(err, "failed to verify system seed")
	}

	return nil
}

// TerminalPrompt reads a secret from stdin without echoing it.
//
//nolint:forbidigo // Secret input requires direct terminal I/O
func TerminalPrompt(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", errors.Wrap(err, "failed to read secret from terminal")
	}

	fmt.Fprintln(os.Stderr)

	return string(b), nil
}

package app

import (
	"context"

	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/metrics"
	"github.com/chapool/custody-engine/internal/wallet"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/ledger"
	"github.com/chapool/custody-engine/internal/wallet/seed"
	"github.com/chapool/custody-engine/internal/wallet/signer"
	"github.com/rs/zerolog/log"
)

// App is a central struct keeping all the dependencies.
// It is initialized with wire, which handles making the new instances of the components
// in the right order. To add a new component, 3 steps are required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// For more information about wire refer to https://pkg.go.dev/github.com/google/wire
type App struct {
	Config  config.Server
	Store   account.Store
	Seeds   seed.Manager
	Metrics *metrics.Collector
	Wallet  wallet.Service
	Ledger  ledger.Service
	Signer  signer.Service
}

func newAppWithComponents(
	cfg config.Server,
	store account.Store,
	seeds seed.Manager,
	m *metrics.Collector,
	walletService wallet.Service,
	ledgerService ledger.Service,
	signerService signer.Service,
) *App {
	return &App{
		Config:  cfg,
		Store:   store,
		Seeds:   seeds,
		Metrics: m,
		Wallet:  walletService,
		Ledger:  ledgerService,
		Signer:  signerService,
	}
}

// UnlockSystemSeed loads the configured system mnemonic. Without one the
// operator is prompted when prompt is non-nil.
func (a *App) UnlockSystemSeed(ctx context.Context, prompt wallet.PromptFunc) error {
	return wallet.UnlockSystemSeed(ctx, a.Wallet, a.Seeds, a.Config.Wallet.SystemMnemonic, a.Config.Wallet.SystemPassphrase, prompt)
}

func (a *App) Shutdown(ctx context.Context) []error {
	log.Debug().Msg("Shutting down app")

	var errs []error

	if a.Seeds != nil {
		a.Seeds.Clear()
	}

	if path := a.Config.Metrics.TextfilePath; path != "" {
		log.Debug().Str("path", path).Msg("Writing metrics textfile")

		if err := a.Metrics.WriteTextfile(path); err != nil {
			log.Error().Err(err).Msg("Failed to write metrics textfile")
			errs = append(errs, err)
		}
	}

	if a.Store != nil {
		log.Debug().Msg("Closing store")

		if err := a.Store.Close(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
			errs = append(errs, err)
		}
	}

	return errs
}

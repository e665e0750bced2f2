//go:build wireinject

package app

import (
	"context"

	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/google/wire"
)

// INJECTORS - https://github.com/google/wire/blob/main/docs/guide.md#injectors

// serviceSet groups the default set of providers that are required for initing an app
var serviceSet = wire.NewSet(
	newAppWithComponents,
	NewCipher,
	NewMetrics,
	NewSeedManager,
	NewAddressService,
	NewWalletService,
	NewLedgerService,
	NewSignerService,
)

// InitNewApp returns a new App connected to the configured store.
func InitNewApp(
	_ context.Context,
	_ config.Server,
) (*App, error) {
	wire.Build(serviceSet, NewStore)
	return new(App), nil
}

// InitNewAppWithStore returns a new App using the given store instance.
// All the other components are initialized via go wire according to the configuration.
func InitNewAppWithStore(
	_ config.Server,
	_ account.Store,
) (*App, error) {
	wire.Build(serviceSet)
	return new(App), nil
}

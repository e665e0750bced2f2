package app

import (
	"context"
	"time"

	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/metrics"
	"github.com/chapool/custody-engine/internal/wallet"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/account/store/memory"
	"github.com/chapool/custody-engine/internal/wallet/account/store/mongodb"
	"github.com/chapool/custody-engine/internal/wallet/account/store/postgres"
	"github.com/chapool/custody-engine/internal/wallet/address"
	"github.com/chapool/custody-engine/internal/wallet/keystore"
	"github.com/chapool/custody-engine/internal/wallet/ledger"
	"github.com/chapool/custody-engine/internal/wallet/seed"
	"github.com/chapool/custody-engine/internal/wallet/signer"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownStoreDriver = errors.New("unknown store driver")
	ErrMissingEncryption  = errors.New("either an encryption key or an encryption passphrase with salt is required")
	ErrMissingDSN         = errors.New("store connection string is required")
)

// NewStore connects the configured backend. Postgres schemas are migrated on
// open.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewStore(ctx context.Context, cfg config.Server) (account.Store, error) {
	timeout := time.Duration(cfg.Store.ConnectTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch cfg.Store.Driver {
	case config.StoreDriverMemory, "":
		log.Warn().Msg("Using in-memory store, balances are lost on exit")
		return memory.New(), nil
	case config.StoreDriverPostgres:
		if cfg.Store.PostgresDSN == "" {
			return nil, errors.Wrap(ErrMissingDSN, "postgres")
		}

		s, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}

		n, err := postgres.Migrate(ctx, s.DB())
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}

		log.Debug().Int("migrations", n).Msg("Applied migrations")

		return s, nil
	case config.StoreDriverMongo:
		if cfg.Store.MongoURI == "" {
			return nil, errors.Wrap(ErrMissingDSN, "mongo")
		}

		s, err := mongodb.Open(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, err
		}

		return s, nil
	default:
		return nil, errors.Wrapf(ErrUnknownStoreDriver, "%q", cfg.Store.Driver)
	}
}

// NewCipher builds the encryption collaborator from config.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewCipher(cfg config.Server) (keystore.Cipher, error) {
	switch {
	case cfg.Wallet.EncryptionKey != "":
		return keystore.NewCipherFromHex(cfg.Wallet.EncryptionKey)
	case cfg.Wallet.EncryptionPassphrase != "" && cfg.Wallet.EncryptionSalt != "":
		return keystore.NewCipherFromPassphrase(cfg.Wallet.EncryptionPassphrase, cfg.Wallet.EncryptionSalt, keystore.DefaultScryptParams())
	default:
		return nil, ErrMissingEncryption
	}
}

// NewMetrics returns nil when metrics are disabled; every consumer accepts a
// nil collector.
func NewMetrics(cfg config.Server) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}

	return metrics.New(cfg.Metrics.Namespace)
}

//nolint:ireturn // Returning interface is intentional for dependency injection
func NewSeedManager() seed.Manager {
	return seed.NewManager()
}

//nolint:ireturn // Returning interface is intentional for dependency injection
func NewAddressService(m *metrics.Collector) address.Service {
	return address.NewService(m)
}

//nolint:ireturn // Returning interface is intentional for dependency injection
func NewWalletService(
	cfg config.Server,
	store account.Store,
	seeds seed.Manager,
	addresses address.Service,
	cipher keystore.Cipher,
	m *metrics.Collector,
) (wallet.Service, error) {
	return wallet.NewService(store, seeds, addresses, cipher, m, cfg.Wallet.MnemonicEntropyBits)
}

//nolint:ireturn // Returning interface is intentional for dependency injection
func NewLedgerService(store account.Store, m *metrics.Collector) ledger.Service {
	return ledger.NewService(store, store, m)
}

//nolint:ireturn // Returning interface is intentional for dependency injection
func NewSignerService(cfg config.Server, walletService wallet.Service) signer.Service {
	return signer.NewService(walletService, cfg.Wallet.EnableSigning)
}

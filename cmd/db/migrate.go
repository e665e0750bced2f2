package db

import (
	"context"

	"github.com/chapool/custody-engine/internal/app"
	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/util"
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/chapool/custody-engine/internal/wallet/account/store/mongodb"
	"github.com/chapool/custody-engine/internal/wallet/account/store/postgres"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Executes all migrations which are not yet applied",
		Long: `Applies pending SQL migrations for the postgres driver and
ensures the unique indexes for the mongo driver.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

			return migrate(cmd.Context(), cfg)
		},
	}
}

func migrate(ctx context.Context, cfg config.Server) error {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		s, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		defer s.Close(ctx)

		n, err := postgres.Migrate(ctx, s.DB())
		if err != nil {
			return err
		}

		log.Info().Int("migrations", n).Msg("Successfully applied migrations")
	case config.StoreDriverMongo:
		s, err := mongodb.Open(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return err
		}
		defer s.Close(ctx)

		log.Info().Msg("Successfully ensured indexes")
	default:
		log.Info().Str("driver", cfg.Store.Driver).Msg("Nothing to migrate")
	}

	return nil
}

func newStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Lists SQL migrations which are not yet applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

			if cfg.Store.Driver != config.StoreDriverPostgres {
				return errors.Errorf("migration status requires the %s driver", config.StoreDriverPostgres)
			}

			s, err := postgres.Open(cmd.Context(), cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			pending, err := postgres.PendingMigrations(s.DB())
			if err != nil {
				return err
			}

			return command.PrintJSON(cmd, map[string]any{"pending": pending})
		},
	}
}

func newMigrateLegacy() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Copies the legacy currency tag into the network field",
		Long: `Backfills accounts that were stored before the network field existed.
Records shadowed by an account that already carries the network are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				n, err := a.Store.MigrateLegacyNetwork(ctx)
				if err != nil {
					return errors.Wrap(err, "failed to migrate legacy accounts")
				}

				log.Info().Int64("accounts", n).Msg("Successfully migrated legacy accounts")

				return command.PrintJSON(cmd, map[string]any{"migrated": n})
			})
		},
	}
}

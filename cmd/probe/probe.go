package probe

import (
	"context"

	"github.com/chapool/custody-engine/internal/app"
	"github.com/chapool/custody-engine/internal/config"
	"github.com/chapool/custody-engine/internal/util/command"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	verboseFlag string = "verbose"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("probe",
		newReadiness(),
	)
}

func newReadiness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Checks that the configured store is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, err := cmd.Flags().GetBool(verboseFlag)
			if err != nil {
				return errors.Wrap(err, "failed to parse verbose flag")
			}

			return command.WithApp(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, a *app.App) error {
				if err := a.Store.Ping(ctx); err != nil {
					return errors.Wrap(err, "store is not ready")
				}

				if verbose {
					log.Info().Str("driver", a.Config.Store.Driver).Msg("Store is ready")
				}

				return nil
			})
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")

	return cmd
}

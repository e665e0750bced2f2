package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/chapool/custody-engine/cmd/db"
	"github.com/chapool/custody-engine/cmd/ledger"
	"github.com/chapool/custody-engine/cmd/probe"
	"github.com/chapool/custody-engine/cmd/wallet"
	"github.com/chapool/custody-engine/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

A custodial wallet engine: key derivation, encrypted key storage and an
idempotent balance ledger. Requires configuration through ENV (prefix WALLET_).`, config.ModuleName),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// variables already set in the environment take precedence over .env
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	// attach the subcommands
	rootCmd.AddCommand(
		db.New(),
		ledger.New(),
		probe.New(),
		wallet.New(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		stop()
		os.Exit(1) //nolint:gocritic // stop is called explicitly above
	}
}

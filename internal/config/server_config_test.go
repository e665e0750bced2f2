package config_test

import (
	"encoding/json"
	"testing"

	"github.com/chapool/custody-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintServiceEnv(t *testing.T) {
	config := config.DefaultServiceConfigFromEnv()
	_, err := json.MarshalIndent(config, "", "  ")

	if err != nil {
		t.Fatal(err)
	}
}

func TestServiceEnvOverrides(t *testing.T) {
	t.Setenv("WALLET_STORE_DRIVER", " Postgres ")
	t.Setenv("WALLET_WALLET_MNEMONIC_ENTROPY_BITS", "256")
	t.Setenv("WALLET_LOGGER_PRETTY_PRINT_CONSOLE", "true")
	t.Setenv("WALLET_METRICS_TEXTFILE_PATH", "/var/lib/node_exporter/custody.prom")

	cfg := config.DefaultServiceConfigFromEnv()

	assert.Equal(t, config.StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 256, cfg.Wallet.MnemonicEntropyBits)
	assert.True(t, cfg.Logger.PrettyPrintConsole)
	assert.Equal(t, "/var/lib/node_exporter/custody.prom", cfg.Metrics.TextfilePath)
}

func TestSecretsAreNotSerialized(t *testing.T) {
	t.Setenv("WALLET_WALLET_ENCRYPTION_KEY", "deadbeef")

	cfg := config.DefaultServiceConfigFromEnv()
	require.Equal(t, "deadbeef", cfg.Wallet.EncryptionKey)

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "deadbeef")
}

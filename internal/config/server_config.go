package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Supported store drivers.
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
)

const envPrefix = "WALLET"

type LoggerServer struct {
	Level              string `json:"level" mapstructure:"level"`
	PrettyPrintConsole bool   `json:"prettyPrintConsole" mapstructure:"pretty_print_console"`
}

type Store struct {
	Driver        string `json:"driver" mapstructure:"driver"`
	PostgresDSN   string `json:"-" mapstructure:"postgres_dsn"`
	MongoURI      string `json:"-" mapstructure:"mongo_uri"`
	MongoDatabase string `json:"mongoDatabase" mapstructure:"mongo_database"`
	// ConnectTimeoutSeconds bounds the initial connect and ping.
	ConnectTimeoutSeconds int `json:"connectTimeoutSeconds" mapstructure:"connect_timeout_seconds"`
}

type Wallet struct {
	// MnemonicEntropyBits is the entropy of generated user phrases (128 => 12 words).
	MnemonicEntropyBits int `json:"mnemonicEntropyBits" mapstructure:"mnemonic_entropy_bits"`

	// EncryptionKey is a hex encoded 32 byte AES key. Takes precedence over
	// EncryptionPassphrase when both are set.
	EncryptionKey        string `json:"-" mapstructure:"encryption_key"`
	EncryptionPassphrase string `json:"-" mapstructure:"encryption_passphrase"`
	EncryptionSalt       string `json:"-" mapstructure:"encryption_salt"`

	// SystemMnemonic seeds treasury and hot accounts. Optional.
	SystemMnemonic   string `json:"-" mapstructure:"system_mnemonic"`
	SystemPassphrase string `json:"-" mapstructure:"system_passphrase"`

	// EnableSigning allows decrypted keys to be used for signing.
	EnableSigning bool `json:"enableSigning" mapstructure:"enable_signing"`
}

type Metrics struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Namespace string `json:"namespace" mapstructure:"namespace"`

	// TextfilePath receives the counters on shutdown, e.g. a node_exporter
	// textfile collector directory entry. Empty disables the export.
	TextfilePath string `json:"textfilePath" mapstructure:"textfile_path"`
}

type Server struct {
	Logger  LoggerServer `json:"logger" mapstructure:"logger"`
	Store   Store        `json:"store" mapstructure:"store"`
	Wallet  Wallet       `json:"wallet" mapstructure:"wallet"`
	Metrics Metrics      `json:"metrics" mapstructure:"metrics"`
}

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults defined below.
// We don't expect that ENV_VARs change while we are running our application or our tests
// (and it would be a bad thing to do anyways with parallel testing).
// Do NOT use os.Setenv / os.Unsetenv in tests utilizing DefaultServiceConfigFromEnv()!
func DefaultServiceConfigFromEnv() Server {
	v := newViper()

	var cfg Server
	// Unmarshal only fails on type mismatches in the defaults above.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))

	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.pretty_print_console", false)

	v.SetDefault("store.driver", StoreDriverMemory)
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", "custody")
	v.SetDefault("store.connect_timeout_seconds", 10)

	v.SetDefault("wallet.mnemonic_entropy_bits", 128)
	v.SetDefault("wallet.encryption_key", "")
	v.SetDefault("wallet.encryption_passphrase", "")
	v.SetDefault("wallet.encryption_salt", "")
	v.SetDefault("wallet.system_mnemonic", "")
	v.SetDefault("wallet.system_passphrase", "")
	v.SetDefault("wallet.enable_signing", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "custody")
	v.SetDefault("metrics.textfile_path", "")

	return v
}

package metrics_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chapool/custody-engine/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := metrics.New("custody")

	c.LedgerOp("credit", metrics.ResultOK)
	c.LedgerOp("credit", metrics.ResultOK)
	c.LedgerOp("debit", metrics.ResultInsufficient)
	c.DerivationFailed("solana")
	c.AccountCreated("ETH")

	n, err := testutil.GatherAndCount(c.Registry(), "custody_ledger_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(c.Registry(), "custody_derivation_failures_total", "custody_wallet_accounts_created_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *metrics.Collector

	assert.NotPanics(t, func() {
		c.LedgerOp("debit", metrics.ResultError)
		c.DerivationFailed("bitcoin")
		c.AccountCreated("BTC")
	})
	assert.Nil(t, c.Registry())
	assert.NoError(t, c.WriteTextfile(filepath.Join(t.TempDir(), "custody.prom")))
}

func TestWriteTextfile(t *testing.T) {
	c := metrics.New("custody")
	c.LedgerOp("debit", metrics.ResultReplayed)
	c.AccountCreated("SOL")

	path := filepath.Join(t.TempDir(), "custody.prom")
	require.NoError(t, c.WriteTextfile(path))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), `custody_ledger_operations_total{op="debit",result="replayed"} 1`)
	assert.Contains(t, string(out), `custody_wallet_accounts_created_total{currency="SOL"} 1`)

	err = c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "custody.prom"))
	require.Error(t, err)
}

package address_test

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/chapool/custody-engine/internal/metrics"
	"github.com/chapool/custody-engine/internal/wallet/address"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/chapool/custody-engine/internal/wallet/encoding"
	"github.com/chapool/custody-engine/internal/wallet/seed"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:dupword // BIP39 test vector
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testSeed(t *testing.T) []byte {
	t.Helper()

	s, err := seed.MnemonicToSeed(testMnemonic, "")
	require.NoError(t, err)

	return s
}

func mustChain(t *testing.T, name chain.Name) chain.Chain {
	t.Helper()

	c, err := chain.Get(name)
	require.NoError(t, err)

	return c
}

func TestGoldenVectors(t *testing.T) {
	s := testSeed(t)

	eth, err := address.DeriveAccount(s, mustChain(t, chain.Ethereum), 0)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", eth.Address)
	assert.Equal(t, "m/44'/60'/0'/0/0", eth.Path)
	assert.Len(t, eth.PrivateKey, 32)
	assert.Len(t, eth.PublicKey, 33)

	btc, err := address.DeriveAccount(s, mustChain(t, chain.Bitcoin), 0)
	require.NoError(t, err)
	assert.Equal(t, "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA", btc.Address)

	tron, err := address.DeriveAccount(s, mustChain(t, chain.Tron), 0)
	require.NoError(t, err)
	assert.Equal(t, "TUEZSdKsoDHQMeZwihtdoBiN46zxhGWYdH", tron.Address)

	xrp, err := address.DeriveAccount(s, mustChain(t, chain.Ripple), 0)
	require.NoError(t, err)
	assert.Equal(t, "rHsMGQEkVNJmpGWs8XUBoTBiAAbwxZN5v3", xrp.Address)

	sol, err := address.DeriveAccount(s, mustChain(t, chain.Solana), 0)
	require.NoError(t, err)
	assert.Equal(t, "HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk", sol.Address)
	assert.Equal(t, "m/44'/501'/0'/0'", sol.Path)
}

func TestDerivedAddressShapes(t *testing.T) {
	s := testSeed(t)

	eth, err := address.DeriveAccount(s, mustChain(t, chain.Ethereum), 0)
	require.NoError(t, err)

	tron, err := address.DeriveAccount(s, mustChain(t, chain.Tron), 0)
	require.NoError(t, err)
	assert.Equal(t, "T", tron.Address[:1])
	assert.Equal(t, "m/44'/195'/0'/0/0", tron.Path)
	assert.NotEqual(t, eth.PrivateKey, tron.PrivateKey)

	// a tron address is the EVM address of the same key under another prefix
	evmOfTronKey, err := encoding.EVM(tron.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, encoding.TronAddress(common.HexToAddress(evmOfTronKey)), tron.Address)

	xrp, err := address.DeriveAccount(s, mustChain(t, chain.Ripple), 0)
	require.NoError(t, err)
	assert.Equal(t, "r", xrp.Address[:1])
	version, payload, err := encoding.CheckDecode(encoding.RippleAlphabet, xrp.Address)
	require.NoError(t, err)
	assert.Equal(t, encoding.RippleAccountVersion, version)
	assert.Len(t, payload, 20)

	sol, err := address.DeriveAccount(s, mustChain(t, chain.Solana), 0)
	require.NoError(t, err)
	assert.Equal(t, "m/44'/501'/0'/0'", sol.Path)
	assert.Len(t, sol.PublicKey, 32)
	assert.GreaterOrEqual(t, len(sol.Address), 32)
	assert.LessOrEqual(t, len(sol.Address), 44)
}

func TestDeterminism(t *testing.T) {
	s := testSeed(t)

	first := address.DeriveAll(s, 3)
	second := address.DeriveAll(s, 3)
	require.Empty(t, first.Failures)
	require.Len(t, first.Keys, len(chain.Chains()))

	for name, km := range first.Keys {
		assert.Equal(t, km.Address, second.Keys[name].Address, name)
		assert.Equal(t, km.PrivateKey, second.Keys[name].PrivateKey, name)
	}

	other := address.DeriveAll(s, 4)
	for name, km := range first.Keys {
		assert.NotEqual(t, km.Address, other.Keys[name].Address, name)
	}
}

func TestTokensShareEVMKey(t *testing.T) {
	d := address.DeriveAll(testSeed(t), 0)

	eth, err := d.ForCurrency("ETH")
	require.NoError(t, err)
	usdt, err := d.ForCurrency("usdt")
	require.NoError(t, err)
	usdc, err := d.ForCurrency("USDC")
	require.NoError(t, err)

	assert.Same(t, eth, usdt)
	assert.Same(t, eth, usdc)

	_, err = d.ForCurrency("DOGE")
	require.ErrorIs(t, err, chain.ErrUnknownCurrency)
}

func TestNoCollisions(t *testing.T) {
	n := 1000
	if testing.Short() {
		n = 100
	}

	evm := mustChain(t, chain.Ethereum)
	sol := mustChain(t, chain.Solana)
	seen := make(map[string]struct{}, 2*n)

	for i := 0; i < n; i++ {
		s := make([]byte, 64)
		_, err := rand.Read(s)
		require.NoError(t, err)

		for _, c := range []chain.Chain{evm, sol} {
			km, err := address.DeriveAccount(s, c, 0)
			require.NoError(t, err)

			_, dup := seen[km.Address]
			require.False(t, dup, "duplicate address %s", km.Address)
			seen[km.Address] = struct{}{}
		}
	}
}

func TestInvalidSeed(t *testing.T) {
	for _, size := range []int{0, 15, 65} {
		_, err := address.DeriveAccount(make([]byte, size), mustChain(t, chain.Ethereum), 0)

		var derr *address.DerivationError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, chain.Ethereum, derr.Chain)
		require.ErrorIs(t, err, address.ErrInvalidSeed)
	}
}

func TestEd25519RejectsNonHardenedSegments(t *testing.T) {
	_, err := address.DerivePath(testSeed(t), mustChain(t, chain.Solana), "m/44'/501'/0'/0")
	require.ErrorIs(t, err, address.ErrNonHardenedSegment)

	var derr *address.DerivationError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, chain.Solana, derr.Chain)
}

func TestInvalidAccountIndex(t *testing.T) {
	_, err := address.DeriveAccount(testSeed(t), mustChain(t, chain.Bitcoin), chain.HardenedOffset)
	require.ErrorIs(t, err, address.ErrInvalidAccountIndex)
}

func TestFromPrivateKey(t *testing.T) {
	s := testSeed(t)

	for _, c := range chain.Chains() {
		derived, err := address.DeriveAccount(s, c, 0)
		require.NoError(t, err)

		imported, err := address.FromPrivateKey(c, derived.PrivateKey)
		require.NoError(t, err)
		assert.Equal(t, derived.Address, imported.Address, c.Name)
		assert.Equal(t, derived.PublicKey, imported.PublicKey, c.Name)
		assert.Empty(t, imported.Path)
	}

	// solana keypair export format: seed || public key
	sol := mustChain(t, chain.Solana)
	derived, err := address.DeriveAccount(s, sol, 0)
	require.NoError(t, err)

	keypair := append(append([]byte{}, derived.PrivateKey...), derived.PublicKey...)
	imported, err := address.FromPrivateKey(sol, keypair)
	require.NoError(t, err)
	assert.Equal(t, derived.Address, imported.Address)

	keypair[63] ^= 0x01
	_, err = address.FromPrivateKey(sol, keypair)
	require.ErrorIs(t, err, address.ErrPublicKeyMismatch)

	_, err = address.FromPrivateKey(mustChain(t, chain.Ethereum), make([]byte, 32))
	require.ErrorIs(t, err, address.ErrInvalidPrivateKey)

	_, err = address.FromPrivateKey(mustChain(t, chain.Bitcoin), []byte{1, 2, 3})
	require.ErrorIs(t, err, address.ErrInvalidPrivateKey)
}

func TestFromPrivateKeyKnownEVM(t *testing.T) {
	key, err := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)

	km, err := address.FromPrivateKey(mustChain(t, chain.Ethereum), key)
	require.NoError(t, err)
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", km.Address)
}

func TestKeyMaterialZero(t *testing.T) {
	km, err := address.DeriveAccount(testSeed(t), mustChain(t, chain.Ethereum), 0)
	require.NoError(t, err)

	km.Zero()
	assert.Equal(t, make([]byte, 32), km.PrivateKey)
}

func TestServiceCountsFailures(t *testing.T) {
	m := metrics.New("test")
	svc := address.NewService(m)

	d := svc.DeriveAll(make([]byte, 8), 0)
	assert.Empty(t, d.Keys)
	assert.Len(t, d.Failures, len(chain.Chains()))

	_, err := svc.DeriveAccount(make([]byte, 8), mustChain(t, chain.Solana), 0)
	require.Error(t, err)

	// one series per chain
	n, err := testutil.GatherAndCount(m.Registry(), "test_derivation_failures_total")
	require.NoError(t, err)
	assert.Equal(t, len(chain.Chains()), n)
}

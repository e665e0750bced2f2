package seed_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/chapool/custody-engine/internal/wallet/seed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:dupword // BIP39 test vector
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestMnemonicToSeedVector(t *testing.T) {
	s, err := seed.MnemonicToSeed(testMnemonic, "")
	require.NoError(t, err)

	assert.Equal(t,
		"5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e4",
		hex.EncodeToString(s))
}

func TestMnemonicToSeedNormalizesWhitespace(t *testing.T) {
	a, err := seed.MnemonicToSeed(testMnemonic, "")
	require.NoError(t, err)

	b, err := seed.MnemonicToSeed("  "+strings.ToUpper(strings.ReplaceAll(testMnemonic, " ", "   "))+"\n", "")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestMnemonicToSeedPassphrase(t *testing.T) {
	s, err := seed.MnemonicToSeed(testMnemonic, "TREZOR")
	require.NoError(t, err)

	assert.Equal(t,
		"c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04",
		hex.EncodeToString(s))

	composed, err := seed.MnemonicToSeed(testMnemonic, "caf\u00e9")
	require.NoError(t, err)

	decomposed, err := seed.MnemonicToSeed(testMnemonic, "cafe\u0301")
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

func TestMnemonicToSeedRejectsBadChecksum(t *testing.T) {
	//nolint:dupword // invalid checksum on purpose
	_, err := seed.MnemonicToSeed("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", "")
	require.ErrorIs(t, err, seed.ErrInvalidMnemonic)
}

func TestGenerateMnemonic(t *testing.T) {
	for bits, words := range map[int]int{128: 12, 160: 15, 192: 18, 224: 21, 256: 24} {
		m, err := seed.GenerateMnemonic(bits)
		require.NoError(t, err)
		assert.Len(t, strings.Fields(m), words)
		assert.True(t, seed.ValidateMnemonic(m))
	}

	for _, bits := range []int{0, 96, 129, 288} {
		_, err := seed.GenerateMnemonic(bits)
		assert.ErrorIs(t, err, seed.ErrInvalidEntropySize)
	}
}

func TestManager(t *testing.T) {
	m := seed.NewManager()
	assert.False(t, m.IsInitialized())
	assert.Nil(t, m.GetSeed())

	require.Error(t, m.Initialize("not a phrase", ""))
	assert.False(t, m.IsInitialized())

	require.NoError(t, m.Initialize(testMnemonic, ""))
	assert.True(t, m.IsInitialized())

	s := m.GetSeed()
	require.Len(t, s, 64)

	// callers get a copy
	s[0] ^= 0xff
	assert.NotEqual(t, s[0], m.GetSeed()[0])

	m.Clear()
	assert.False(t, m.IsInitialized())
	assert.Nil(t, m.GetSeed())
}

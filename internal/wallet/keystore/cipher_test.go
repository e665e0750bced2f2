package keystore_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/chapool/custody-engine/internal/wallet/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestEncryptDecrypt(t *testing.T) {
	c, err := keystore.NewCipherFromHex(testKey)
	require.NoError(t, err)

	plaintext := []byte("abandon abandon abandon about")
	sealed, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	assert.Len(t, sealed.IV, 2*keystore.IVSize)
	assert.Len(t, sealed.AuthTag, 2*keystore.TagSize)
	assert.Len(t, sealed.Ciphertext, 2*len(plaintext))
	assert.NotContains(t, sealed.Ciphertext, hex.EncodeToString(plaintext))
	assert.False(t, sealed.IsZero())

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	// fresh IV every time
	again, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, sealed.IV, again.IV)
}

func TestDecryptFailures(t *testing.T) {
	c, err := keystore.NewCipherFromHex(testKey)
	require.NoError(t, err)

	other, err := keystore.NewCipherFromHex(strings.Repeat("ff", 32))
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	require.ErrorIs(t, err, keystore.ErrDecryptFailed)

	flip := func(s string) string {
		b, err := hex.DecodeString(s)
		require.NoError(t, err)
		b[0] ^= 0x01
		return hex.EncodeToString(b)
	}

	tampered := sealed
	tampered.Ciphertext = flip(sealed.Ciphertext)
	_, err = c.Decrypt(tampered)
	require.ErrorIs(t, err, keystore.ErrDecryptFailed)

	tampered = sealed
	tampered.AuthTag = flip(sealed.AuthTag)
	_, err = c.Decrypt(tampered)
	require.ErrorIs(t, err, keystore.ErrDecryptFailed)

	tampered = sealed
	tampered.IV = flip(sealed.IV)
	_, err = c.Decrypt(tampered)
	require.ErrorIs(t, err, keystore.ErrDecryptFailed)

	tampered = sealed
	tampered.IV = "zz"
	_, err = c.Decrypt(tampered)
	require.ErrorIs(t, err, keystore.ErrDecryptFailed)

	_, err = c.Decrypt(keystore.Sealed{})
	require.ErrorIs(t, err, keystore.ErrDecryptFailed)
}

func TestInvalidKeys(t *testing.T) {
	_, err := keystore.NewCipherFromHex("abcd")
	require.ErrorIs(t, err, keystore.ErrInvalidKey)

	_, err = keystore.NewCipherFromHex("not hex")
	require.ErrorIs(t, err, keystore.ErrInvalidKey)

	_, err = keystore.NewCipher(make([]byte, 16))
	require.ErrorIs(t, err, keystore.ErrInvalidKey)
}

func TestPassphraseCipher(t *testing.T) {
	params := keystore.ScryptParams{N: 1024, R: 8, P: 1}

	a, err := keystore.NewCipherFromPassphrase("correct horse", "custody", params)
	require.NoError(t, err)
	b, err := keystore.NewCipherFromPassphrase("correct horse", "custody", params)
	require.NoError(t, err)
	wrong, err := keystore.NewCipherFromPassphrase("battery staple", "custody", params)
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)

	opened, err := b.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), opened)

	_, err = wrong.Decrypt(sealed)
	require.ErrorIs(t, err, keystore.ErrDecryptFailed)

	_, err = keystore.NewCipherFromPassphrase("", "custody", params)
	require.ErrorIs(t, err, keystore.ErrNullPassword)

	_, err = keystore.NewCipherFromPassphrase("x", "", params)
	require.ErrorIs(t, err, keystore.ErrNullSalt)

	assert.Equal(t, 262144, keystore.DefaultScryptParams().N)
}

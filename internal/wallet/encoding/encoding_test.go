package encoding_test

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"testing"

	btcbase58 "github.com/btcsuite/btcd/btcutil/base58"
	"github.com/chapool/custody-engine/internal/wallet/encoding"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)

	return b
}

func TestP2PKH(t *testing.T) {
	pub := mustHex(t, "0250863ad64a87ae8a2fe83c1af1a8403cb53f53e486d8511dad8a04887e5b2352")

	addr, err := encoding.P2PKH(encoding.BitcoinP2PKHVersion, pub)
	require.NoError(t, err)
	assert.Equal(t, "1PMycacnJaSqwwJqjawXBErnLsZ7RkXUAs", addr)

	_, err = encoding.P2PKH(encoding.BitcoinP2PKHVersion, pub[:20])
	var encErr *encoding.EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestCheckEncodeKnownValues(t *testing.T) {
	zero := make([]byte, 20)

	assert.Equal(t, "1111111111111111111114oLvT2", encoding.CheckEncode(encoding.BitcoinAlphabet, 0x00, zero))
	assert.Equal(t, "rrrrrrrrrrrrrrrrrrrrrhoLvTp", encoding.CheckEncode(encoding.RippleAlphabet, 0x00, zero))
	assert.Equal(t, "T9yD14Nj9j7xAB4dbGeiX9h8unkKHxuWwb", encoding.TronAddress(common.Address{}))
	assert.Equal(t, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		encoding.TronAddress(common.HexToAddress("0xa614f803b6fd780986a42c78ec9c7f77e6ded13c")))
}

func TestCheckEncodeMatchesBtcutil(t *testing.T) {
	r := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic test data

	for i := 0; i < 50; i++ {
		payload := make([]byte, 1+r.Intn(40))
		r.Read(payload)
		version := byte(r.Intn(256))

		assert.Equal(t, btcbase58.CheckEncode(payload, version), encoding.CheckEncode(encoding.BitcoinAlphabet, version, payload))
	}
}

func TestCheckRoundTripAndMutation(t *testing.T) {
	r := rand.New(rand.NewSource(42)) //nolint:gosec // deterministic test data

	for _, alphabet := range []*base58.Alphabet{encoding.BitcoinAlphabet, encoding.RippleAlphabet} {
		for i := 0; i < 200; i++ {
			payload := make([]byte, 20)
			r.Read(payload)
			version := byte(r.Intn(256))

			s := encoding.CheckEncode(alphabet, version, payload)

			gotVersion, gotPayload, err := encoding.CheckDecode(alphabet, s)
			require.NoError(t, err)
			assert.Equal(t, version, gotVersion)
			assert.Equal(t, payload, gotPayload)

			// flip one byte of the raw encoding, re-encode without fixing the checksum
			raw, err := base58.DecodeAlphabet(s, alphabet)
			require.NoError(t, err)
			pos := r.Intn(len(raw))
			mutated := bytes.Clone(raw)
			mutated[pos] ^= byte(1 + r.Intn(255))

			_, _, err = encoding.CheckDecode(alphabet, base58.EncodeAlphabet(mutated, alphabet))
			require.ErrorIs(t, err, encoding.ErrChecksumMismatch)
		}
	}
}

func TestCheckDecodeRejectsMalformed(t *testing.T) {
	_, _, err := encoding.CheckDecode(encoding.BitcoinAlphabet, "")
	require.ErrorIs(t, err, encoding.ErrInvalidFormat)

	_, _, err = encoding.CheckDecode(encoding.BitcoinAlphabet, "0OIl")
	require.ErrorIs(t, err, encoding.ErrInvalidFormat)

	_, _, err = encoding.CheckDecode(encoding.BitcoinAlphabet, "2")
	require.ErrorIs(t, err, encoding.ErrInvalidFormat)
}

func TestEVM(t *testing.T) {
	keyBytes := make([]byte, 32)
	keyBytes[31] = 1

	key, err := crypto.ToECDSA(keyBytes)
	require.NoError(t, err)

	addr, err := encoding.EVM(crypto.FromECDSAPub(&key.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", addr)

	compressed, err := encoding.EVM(crypto.CompressPubkey(&key.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, addr, compressed)

	tron, err := encoding.TronAddressFromPubKey(crypto.CompressPubkey(&key.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, encoding.TronAddress(common.HexToAddress(addr)), tron)
	assert.Equal(t, "T", tron[:1])
}

func TestRippleAddress(t *testing.T) {
	pub := mustHex(t, "0250863ad64a87ae8a2fe83c1af1a8403cb53f53e486d8511dad8a04887e5b2352")

	addr, err := encoding.RippleAddress(pub)
	require.NoError(t, err)
	assert.Equal(t, "r", addr[:1])

	version, payload, err := encoding.CheckDecode(encoding.RippleAlphabet, addr)
	require.NoError(t, err)
	assert.Equal(t, encoding.RippleAccountVersion, version)
	assert.Len(t, payload, 20)
}

func TestBase58PublicKey(t *testing.T) {
	addr, err := encoding.Base58PublicKey(make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, "11111111111111111111111111111111", addr)

	_, err = encoding.Base58PublicKey(make([]byte, 33))
	var encErr *encoding.EncodingError
	require.ErrorAs(t, err, &encErr)
}

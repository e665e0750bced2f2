package address

import (
	"bytes"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"

	"github.com/chapool/custody-engine/internal/wallet/chain"
)

var ed25519SeedKey = []byte("ed25519 seed")

// extendedKey is a SLIP-10 node: private key and chain code.
type extendedKey struct {
	key       []byte
	chainCode []byte
}

func slip10Master(seed []byte) *extendedKey {
	return slip10Split(hmacSHA512(ed25519SeedKey, seed))
}

// child derives a hardened child; ed25519 has no public derivation.
func (k *extendedKey) child(index uint32) (*extendedKey, error) {
	if index < chain.HardenedOffset {
		return nil, ErrNonHardenedSegment
	}

	data := make([]byte, 0, 1+32+4)
	data = append(data, 0x00)
	data = append(data, k.key...)
	data = binary.BigEndian.AppendUint32(data, index)

	return slip10Split(hmacSHA512(k.chainCode, data)), nil
}

func slip10Split(sum []byte) *extendedKey {
	return &extendedKey{key: sum[:32], chainCode: sum[32:]}
}

func hmacSHA512(key []byte, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)

	return mac.Sum(nil)
}

// deriveEd25519 returns the 32 byte ed25519 seed at path.
// WARNING: Caller must clear the private key after use
func deriveEd25519(seed []byte, path DerivationPath) ([]byte, error) {
	key := slip10Master(seed)

	for _, index := range path {
		next, err := key.child(index)
		if err != nil {
			return nil, err
		}

		key = next
	}

	return key.key, nil
}

// ed25519PublicKey expands a 32 byte seed, or checks a 64 byte seed||pub keypair.
func ed25519PublicKey(privateKey []byte) ([]byte, []byte, error) {
	switch len(privateKey) {
	case ed25519.SeedSize:
		pub, _ := ed25519.NewKeyFromSeed(privateKey).Public().(ed25519.PublicKey)
		return bytes.Clone(privateKey), pub, nil
	case ed25519.PrivateKeySize:
		seed := privateKey[:ed25519.SeedSize]
		pub, _ := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
		if !bytes.Equal(pub, privateKey[ed25519.SeedSize:]) {
			return nil, nil, ErrPublicKeyMismatch
		}

		return bytes.Clone(seed), pub, nil
	default:
		return nil, nil, ErrInvalidPrivateKey
	}
}

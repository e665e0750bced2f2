package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

type gcmCipher struct {
	aead cipher.AEAD
}

// NewCipher creates an AES-256-GCM Cipher from a raw 32 byte key.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewCipher(key []byte) (Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AES cipher")
	}

	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM")
	}

	return &gcmCipher{aead: aead}, nil
}

// NewCipherFromHex creates a Cipher from a 64 character hex key.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewCipherFromHex(hexKey string) (Cipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}

	defer zero(key)

	return NewCipher(key)
}

// NewCipherFromPassphrase stretches passphrase with scrypt into the AES key.
// The salt must be stable across restarts or previously sealed data is lost.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewCipherFromPassphrase(passphrase string, salt string, params ScryptParams) (Cipher, error) {
	if passphrase == "" {
		return nil, ErrNullPassword
	}

	if salt == "" {
		return nil, ErrNullSalt
	}

	key, err := scrypt.Key([]byte(passphrase), []byte(salt), params.N, params.R, params.P, KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}

	defer zero(key)

	return NewCipher(key)
}

func (c *gcmCipher) Encrypt(plaintext []byte) (Sealed, error) {
	//nolint:varnamelen // iv is a common abbreviation for initialization vector
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, errors.Wrap(err, "failed to generate IV")
	}

	out := c.aead.Seal(nil, iv, plaintext, nil)
	ciphertext, tag := out[:len(out)-TagSize], out[len(out)-TagSize:]

	return Sealed{
		Ciphertext: hex.EncodeToString(ciphertext),
		IV:         hex.EncodeToString(iv),
		AuthTag:    hex.EncodeToString(tag),
	}, nil
}

func (c *gcmCipher) Decrypt(sealed Sealed) ([]byte, error) {
	ciphertext, err := hex.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptFailed, "malformed ciphertext")
	}

	//nolint:varnamelen // iv is a common abbreviation for initialization vector
	iv, err := hex.DecodeString(sealed.IV)
	if err != nil || len(iv) != IVSize {
		return nil, errors.Wrap(ErrDecryptFailed, "malformed iv")
	}

	tag, err := hex.DecodeString(sealed.AuthTag)
	if err != nil || len(tag) != TagSize {
		return nil, errors.Wrap(ErrDecryptFailed, "malformed auth tag")
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

package keystore

import (
	"github.com/pkg/errors"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// IVSize is the GCM nonce length.
	IVSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

var (
	// ErrDecryptFailed covers a wrong key and any tampering with the sealed fields.
	ErrDecryptFailed = errors.New("decryption failed")
	ErrInvalidKey    = errors.New("encryption key must be 32 bytes")
	ErrNullPassword  = errors.New("passphrase must not be empty")
	ErrNullSalt      = errors.New("salt must not be empty")
)

// Sealed is an AES-256-GCM ciphertext with its IV and tag stored separately,
// all hex encoded.
type Sealed struct {
	Ciphertext string `json:"ciphertext" bson:"ciphertext"`
	IV         string `json:"iv" bson:"iv"`
	AuthTag    string `json:"authTag" bson:"authTag"`
}

// IsZero reports whether s holds no ciphertext at all (placeholder key material).
func (s Sealed) IsZero() bool {
	return s.Ciphertext == "" && s.IV == "" && s.AuthTag == ""
}

// Cipher seals and opens secrets with one process-wide key.
type Cipher interface {
	Encrypt(plaintext []byte) (Sealed, error)
	Decrypt(sealed Sealed) ([]byte, error)
}

// ScryptParams defines scrypt KDF parameters
type ScryptParams struct {
	N int // CPU/memory cost parameter (262144)
	R int // Block size parameter (8)
	P int // Parallelization parameter (1)
}

// DefaultScryptParams returns the scrypt cost used by Ethereum keystore v3 files
func DefaultScryptParams() ScryptParams {
	const (
		scryptN = 262144 // CPU/memory cost parameter (2^18)
		scryptR = 8      // Block size parameter
		scryptP = 1      // Parallelization parameter
	)

	return ScryptParams{
		N: scryptN,
		R: scryptR,
		P: scryptP,
	}
}

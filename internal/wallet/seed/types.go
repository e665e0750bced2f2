package seed

import "github.com/pkg/errors"

// Entropy bounds for BIP39 phrases (12 to 24 words).
const (
	MinEntropyBits = 128
	MaxEntropyBits = 256
)

var (
	// ErrInvalidMnemonic is returned for phrases failing wordlist or checksum validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	// ErrInvalidEntropySize is returned for entropy outside [128,256] or not a multiple of 32.
	ErrInvalidEntropySize = errors.New("entropy size must be a multiple of 32 in the range [128,256]")
)

// Manager provides seed management functionality
type Manager interface {
	// Initialize initializes the seed manager (called at startup)
	Initialize(mnemonic string, password string) error

	// GetSeed gets the seed (from memory)
	GetSeed() []byte

	// IsInitialized checks if seed is initialized
	IsInitialized() bool

	// Clear clears the seed from memory
	Clear()
}

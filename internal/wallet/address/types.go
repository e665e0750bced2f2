package address

import (
	"fmt"

	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/pkg/errors"
)

// Seed length bounds accepted by BIP32 and SLIP-10.
const (
	MinSeedLen = 16
	MaxSeedLen = 64
)

var (
	ErrInvalidSeed         = errors.New("seed must be between 16 and 64 bytes")
	ErrNullDerivationPath  = errors.New("derivation path must not be empty")
	ErrMalformedPath       = errors.New("malformed derivation path")
	ErrNonHardenedSegment  = errors.New("ed25519 derivation only supports hardened segments")
	ErrInvalidPrivateKey   = errors.New("invalid private key")
	ErrUnsupportedCurve    = errors.New("unsupported curve")
	ErrUnsupportedEncoding = errors.New("unsupported address encoding")
	ErrPublicKeyMismatch   = errors.New("keypair public half does not match its seed")
	ErrChainNotDerived     = errors.New("chain was not derived")
	ErrInvalidAccountIndex = errors.New("account index must be below the hardened offset")
)

// KeyMaterial is the output of deriving (or importing) one chain's key.
// WARNING: PrivateKey must be cleared with Zero once sealed.
type KeyMaterial struct {
	Chain      chain.Name
	PrivateKey []byte // 32 byte secp256k1 scalar or ed25519 seed
	PublicKey  []byte // 33 byte compressed secp256k1 or 32 byte ed25519
	Address    string
	Path       string // empty for imported private keys
}

// Zero overwrites the private key in place.
func (k *KeyMaterial) Zero() {
	if k == nil {
		return
	}

	for i := range k.PrivateKey {
		k.PrivateKey[i] = 0
	}
}

// DerivationError is fatal for one chain only.
type DerivationError struct {
	Chain chain.Name
	Path  string
	Err   error
}

func (e *DerivationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("derive %s: %v", e.Chain, e.Err)
	}

	return fmt.Sprintf("derive %s at %s: %v", e.Chain, e.Path, e.Err)
}

func (e *DerivationError) Unwrap() error {
	return e.Err
}

// Derivation is the result of deriving every registered chain for one account.
type Derivation struct {
	Keys     map[chain.Name]*KeyMaterial
	Failures map[chain.Name]error
}

// ForCurrency returns the key material serving a currency tag. Tokens on the
// same chain share one KeyMaterial.
func (d *Derivation) ForCurrency(currency string) (*KeyMaterial, error) {
	c, err := chain.ForCurrency(currency)
	if err != nil {
		return nil, err
	}

	if failure, ok := d.Failures[c.Name]; ok {
		return nil, failure
	}

	km, ok := d.Keys[c.Name]
	if !ok {
		return nil, &DerivationError{Chain: c.Name, Err: ErrChainNotDerived}
	}

	return km, nil
}

// Zero clears every derived private key.
func (d *Derivation) Zero() {
	for _, km := range d.Keys {
		km.Zero()
	}
}

// Service provides address derivation functionality
type Service interface {
	// DeriveAccount derives one chain's key material at the given account index
	DeriveAccount(seed []byte, c chain.Chain, account uint32) (*KeyMaterial, error)

	// DeriveAll derives every registered chain; a failing chain does not affect the others
	DeriveAll(seed []byte, account uint32) *Derivation

	// FromPrivateKey rebuilds key material from an imported raw private key
	FromPrivateKey(c chain.Chain, key []byte) (*KeyMaterial, error)
}

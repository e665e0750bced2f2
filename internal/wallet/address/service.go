package address

import (
	"github.com/chapool/custody-engine/internal/metrics"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/chapool/custody-engine/internal/wallet/encoding"
	"github.com/pkg/errors"
)

type service struct {
	metrics *metrics.Collector
}

// NewService creates a new address Service. m may be nil.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(m *metrics.Collector) Service {
	return &service{
		metrics: m,
	}
}

func (s *service) DeriveAccount(seed []byte, c chain.Chain, account uint32) (*KeyMaterial, error) {
	km, err := DeriveAccount(seed, c, account)
	if err != nil {
		s.metrics.DerivationFailed(string(c.Name))
		return nil, err
	}

	return km, nil
}

func (s *service) DeriveAll(seed []byte, account uint32) *Derivation {
	d := DeriveAll(seed, account)
	for name := range d.Failures {
		s.metrics.DerivationFailed(string(name))
	}

	return d
}

func (s *service) FromPrivateKey(c chain.Chain, key []byte) (*KeyMaterial, error) {
	return FromPrivateKey(c, key)
}

// DeriveAccount derives the key material of chain c at account index account.
// It is pure and deterministic: the same seed always yields the same keys.
func DeriveAccount(seed []byte, c chain.Chain, account uint32) (*KeyMaterial, error) {
	if account >= chain.HardenedOffset {
		return nil, &DerivationError{Chain: c.Name, Err: ErrInvalidAccountIndex}
	}

	return DerivePath(seed, c, c.Path(account))
}

// DerivePath derives the key material of chain c at an explicit path.
func DerivePath(seed []byte, c chain.Chain, strPath string) (*KeyMaterial, error) {
	if len(seed) < MinSeedLen || len(seed) > MaxSeedLen {
		return nil, &DerivationError{Chain: c.Name, Path: strPath, Err: ErrInvalidSeed}
	}

	path, err := ParsePath(strPath)
	if err != nil {
		return nil, &DerivationError{Chain: c.Name, Path: strPath, Err: err}
	}

	var privateKey []byte
	switch c.Curve {
	case chain.Secp256k1:
		privateKey, err = deriveSecp256k1(seed, path)
	case chain.Ed25519:
		privateKey, err = deriveEd25519(seed, path)
	default:
		err = ErrUnsupportedCurve
	}

	if err != nil {
		return nil, &DerivationError{Chain: c.Name, Path: strPath, Err: err}
	}

	km, err := fromPrivateKey(c, privateKey)
	if err != nil {
		return nil, &DerivationError{Chain: c.Name, Path: strPath, Err: err}
	}

	km.Path = path.String()

	return km, nil
}

// DeriveAll derives every registered chain at the given account index. Each
// chain is derived exactly once; failures are collected per chain.
func DeriveAll(seed []byte, account uint32) *Derivation {
	d := &Derivation{
		Keys:     map[chain.Name]*KeyMaterial{},
		Failures: map[chain.Name]error{},
	}

	for _, c := range chain.Chains() {
		km, err := DeriveAccount(seed, c, account)
		if err != nil {
			d.Failures[c.Name] = err
			continue
		}

		d.Keys[c.Name] = km
	}

	return d
}

// FromPrivateKey rebuilds key material from an imported raw private key: a 32
// byte secp256k1 scalar, or a 32 byte ed25519 seed / 64 byte seed||pub keypair.
func FromPrivateKey(c chain.Chain, key []byte) (*KeyMaterial, error) {
	km, err := fromPrivateKey(c, key)
	if err != nil {
		return nil, &DerivationError{Chain: c.Name, Err: err}
	}

	return km, nil
}

func fromPrivateKey(c chain.Chain, key []byte) (*KeyMaterial, error) {
	var (
		privateKey, publicKey, uncompressed []byte
		err                                 error
	)

	switch c.Curve {
	case chain.Secp256k1:
		if len(key) != 32 {
			return nil, ErrInvalidPrivateKey
		}

		privateKey = append([]byte(nil), key...)
		publicKey, uncompressed, err = secp256k1PublicKeys(privateKey)
	case chain.Ed25519:
		privateKey, publicKey, err = ed25519PublicKey(key)
	default:
		err = ErrUnsupportedCurve
	}

	if err != nil {
		return nil, err
	}

	addr, err := encodeAddress(c, publicKey, uncompressed)
	if err != nil {
		return nil, err
	}

	return &KeyMaterial{
		Chain:      c.Name,
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Address:    addr,
	}, nil
}

func encodeAddress(c chain.Chain, publicKey []byte, uncompressed []byte) (string, error) {
	switch c.Encoding {
	case chain.EncodingP2PKH:
		return encoding.P2PKH(encoding.BitcoinP2PKHVersion, publicKey)
	case chain.EncodingEVM:
		return encoding.EVM(uncompressed)
	case chain.EncodingTron:
		return encoding.TronAddressFromPubKey(uncompressed)
	case chain.EncodingRipple:
		return encoding.RippleAddress(publicKey)
	case chain.EncodingBase58Key:
		return encoding.Base58PublicKey(publicKey)
	default:
		return "", errors.Wrapf(ErrUnsupportedEncoding, "encoding %q", c.Encoding)
	}
}

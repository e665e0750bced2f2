package address

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

// deriveSecp256k1 walks a BIP32 path from the seed's master key and returns the
// 32 byte private scalar.
// WARNING: Caller must clear the private key after use
func deriveSecp256k1(seed []byte, path DerivationPath) ([]byte, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	for _, index := range path {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	return common.LeftPadBytes(key.Key, 32), nil
}

// secp256k1PublicKeys returns the compressed and uncompressed public keys.
func secp256k1PublicKeys(privateKey []byte) ([]byte, []byte, error) {
	ecdsaPrivateKey, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, nil, errors.Wrap(ErrInvalidPrivateKey, err.Error())
	}

	return crypto.CompressPubkey(&ecdsaPrivateKey.PublicKey), crypto.FromECDSAPub(&ecdsaPrivateKey.PublicKey), nil
}

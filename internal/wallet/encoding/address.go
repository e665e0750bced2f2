package encoding

import (
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

const (
	compressedPubKeyLen   = 33
	uncompressedPubKeyLen = 65
)

// P2PKH returns the Base58Check pay-to-pubkey-hash address of a secp256k1
// public key (compressed or uncompressed).
func P2PKH(version byte, pubKey []byte) (string, error) {
	if err := checkSecp256k1(pubKey, "p2pkh"); err != nil {
		return "", err
	}

	return CheckEncode(BitcoinAlphabet, version, btcutil.Hash160(pubKey)), nil
}

// RippleAddress returns the classic r-address of a secp256k1 public key.
func RippleAddress(pubKey []byte) (string, error) {
	if err := checkSecp256k1(pubKey, "ripple"); err != nil {
		return "", err
	}

	return CheckEncode(RippleAlphabet, RippleAccountVersion, btcutil.Hash160(pubKey)), nil
}

// EVM returns the EIP-55 checksummed hex address of a secp256k1 public key.
func EVM(pubKey []byte) (string, error) {
	addr, err := evmAddress(pubKey)
	if err != nil {
		return "", err
	}

	return addr.Hex(), nil
}

// TronAddress re-encodes an EVM address with the Tron prefix byte.
func TronAddress(evm common.Address) string {
	return CheckEncode(BitcoinAlphabet, TronAddressPrefix, evm.Bytes())
}

// TronAddressFromPubKey is a shortcut for TronAddress over the key's EVM address.
func TronAddressFromPubKey(pubKey []byte) (string, error) {
	addr, err := evmAddress(pubKey)
	if err != nil {
		return "", err
	}

	return TronAddress(addr), nil
}

// Base58PublicKey encodes a raw ed25519 public key without checksum.
func Base58PublicKey(pubKey []byte) (string, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return "", &EncodingError{Encoder: "base58", Reason: fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pubKey))}
	}

	return base58.Encode(pubKey), nil
}

func evmAddress(pubKey []byte) (common.Address, error) {
	if err := checkSecp256k1(pubKey, "evm"); err != nil {
		return common.Address{}, err
	}

	if len(pubKey) == compressedPubKeyLen {
		pub, err := crypto.DecompressPubkey(pubKey)
		if err != nil {
			return common.Address{}, &EncodingError{Encoder: "evm", Reason: err.Error()}
		}

		return crypto.PubkeyToAddress(*pub), nil
	}

	// Keccak-256 over X||Y, last 20 bytes
	return common.BytesToAddress(crypto.Keccak256(pubKey[1:])[12:]), nil
}

func checkSecp256k1(pubKey []byte, encoder string) error {
	switch len(pubKey) {
	case compressedPubKeyLen, uncompressedPubKeyLen:
		return nil
	default:
		return &EncodingError{Encoder: encoder, Reason: fmt.Sprintf("unexpected secp256k1 public key length %d", len(pubKey))}
	}
}

package chain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Name identifies a blockchain network family.
type Name string

const (
	Bitcoin  Name = "bitcoin"
	Ethereum Name = "ethereum"
	Tron     Name = "tron"
	Ripple   Name = "ripple"
	Solana   Name = "solana"
)

// Curve is the signature curve a chain's keys live on.
type Curve string

const (
	Secp256k1 Curve = "secp256k1"
	Ed25519   Curve = "ed25519"
)

// Encoding selects the address encoder for a chain.
type Encoding string

const (
	EncodingP2PKH     Encoding = "p2pkh"
	EncodingEVM       Encoding = "evm"
	EncodingTron      Encoding = "tron"
	EncodingRipple    Encoding = "ripple"
	EncodingBase58Key Encoding = "base58-pubkey"
)

// HardenedOffset is added to an index to mark it hardened.
const HardenedOffset uint32 = 0x80000000

var (
	ErrUnknownChain    = errors.New("unknown chain")
	ErrUnknownCurrency = errors.New("unknown currency")
)

// Chain is the static description of a supported network.
type Chain struct {
	Name     Name
	Curve    Curve
	CoinType uint32
	Encoding Encoding

	// HardenedTail derives change and index as hardened segments (SLIP-10 ed25519
	// only supports hardened derivation), and drops the address index level.
	HardenedTail bool
}

// Path returns the BIP44 derivation path for the given account index.
func (c Chain) Path(account uint32) string {
	if c.HardenedTail {
		return fmt.Sprintf("m/44'/%d'/%d'/0'", c.CoinType, account)
	}

	return fmt.Sprintf("m/44'/%d'/%d'/0/0", c.CoinType, account)
}

func (c Chain) String() string {
	return string(c.Name)
}

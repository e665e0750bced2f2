package encoding

import (
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

const (
	// BitcoinP2PKHVersion is the mainnet pay-to-pubkey-hash version byte.
	BitcoinP2PKHVersion byte = 0x00
	// RippleAccountVersion is the classic address version byte.
	RippleAccountVersion byte = 0x00
	// TronAddressPrefix replaces the EVM "0x" prefix in Tron addresses.
	TronAddressPrefix byte = 0x41

	checksumLen = 4
)

var (
	BitcoinAlphabet = base58.BTCAlphabet
	RippleAlphabet  = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInvalidFormat    = errors.New("invalid format")
)

// EncodingError reports bytes that should never have reached an encoder,
// such as a public key of the wrong length.
type EncodingError struct {
	Encoder string
	Reason  string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s encoder: %s", e.Encoder, e.Reason)
}

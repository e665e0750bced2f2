package encoding

import (
	"bytes"
	"crypto/sha256"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// CheckEncode encodes version||payload||checksum, where checksum is the first
// four bytes of SHA-256(SHA-256(version||payload)).
func CheckEncode(alphabet *base58.Alphabet, version byte, payload []byte) string {
	buf := make([]byte, 0, 1+len(payload)+checksumLen)
	buf = append(buf, version)
	buf = append(buf, payload...)
	buf = append(buf, checksum(buf)...)

	return base58.EncodeAlphabet(buf, alphabet)
}

// CheckDecode reverses CheckEncode.
func CheckDecode(alphabet *base58.Alphabet, s string) (byte, []byte, error) {
	if s == "" {
		return 0, nil, errors.Wrap(ErrInvalidFormat, "empty input")
	}

	raw, err := base58.DecodeAlphabet(s, alphabet)
	if err != nil {
		return 0, nil, errors.Wrap(ErrInvalidFormat, err.Error())
	}

	if len(raw) < 1+checksumLen {
		return 0, nil, errors.Wrap(ErrInvalidFormat, "input too short")
	}

	body, sum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	if !bytes.Equal(checksum(body), sum) {
		return 0, nil, ErrChecksumMismatch
	}

	return body[0], body[1:], nil
}

func checksum(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])

	return second[:checksumLen]
}

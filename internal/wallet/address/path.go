package address

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/pkg/errors"
)

// DerivationPath is the binary form of a BIP32 path such as m/44'/60'/0'/0/0.
type DerivationPath []uint32

// ParsePath converts a derivation path string to its binary form.
// Hardened segments are marked with a trailing apostrophe.
func ParsePath(strPath string) (DerivationPath, error) {
	strPath = strings.TrimSpace(strPath)
	if strPath == "" {
		return nil, ErrNullDerivationPath
	}

	elems := strings.Split(strPath, "/")
	if strings.TrimSpace(elems[0]) != "m" || len(elems) < 2 {
		return nil, errors.Wrapf(ErrMalformedPath, "path %q", strPath)
	}

	path := make(DerivationPath, 0, len(elems)-1)
	for _, elem := range elems[1:] {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			return nil, errors.Wrapf(ErrMalformedPath, "path %q has an empty segment", strPath)
		}

		var value uint32
		if strings.HasSuffix(elem, "'") {
			value = chain.HardenedOffset
			elem = strings.TrimSpace(strings.TrimSuffix(elem, "'"))
		}

		bigval, ok := new(big.Int).SetString(elem, 10)
		if !ok {
			return nil, errors.Wrapf(ErrMalformedPath, "invalid segment %q", elem)
		}

		limit := int64(chain.HardenedOffset) - 1
		if bigval.Sign() < 0 || bigval.Cmp(big.NewInt(limit)) > 0 {
			return nil, errors.Wrapf(ErrMalformedPath, "segment %v must be in range [0, %d]", bigval, limit)
		}

		path = append(path, value+uint32(bigval.Uint64()))
	}

	return path, nil
}

// String converts a binary derivation path to its canonical representation.
func (p DerivationPath) String() string {
	if len(p) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("m")
	for _, component := range p {
		if component >= chain.HardenedOffset {
			fmt.Fprintf(&b, "/%d'", component-chain.HardenedOffset)
			continue
		}

		fmt.Fprintf(&b, "/%d", component)
	}

	return b.String()
}

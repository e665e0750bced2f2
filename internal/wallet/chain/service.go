package chain

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var chains = map[Name]Chain{
	Bitcoin:  {Name: Bitcoin, Curve: Secp256k1, CoinType: 0, Encoding: EncodingP2PKH},
	Ethereum: {Name: Ethereum, Curve: Secp256k1, CoinType: 60, Encoding: EncodingEVM},
	Tron:     {Name: Tron, Curve: Secp256k1, CoinType: 195, Encoding: EncodingTron},
	Ripple:   {Name: Ripple, Curve: Secp256k1, CoinType: 144, Encoding: EncodingRipple},
	Solana:   {Name: Solana, Curve: Ed25519, CoinType: 501, Encoding: EncodingBase58Key, HardenedTail: true},
}

// ERC-20 style tokens share the ethereum key material.
var currencies = map[string]Name{
	"BTC":  Bitcoin,
	"ETH":  Ethereum,
	"USDT": Ethereum,
	"USDC": Ethereum,
	"TRX":  Tron,
	"XRP":  Ripple,
	"SOL":  Solana,
}

// Get returns the chain registered under name.
func Get(name Name) (Chain, error) {
	c, ok := chains[Name(strings.ToLower(string(name)))]
	if !ok {
		return Chain{}, errors.Wrapf(ErrUnknownChain, "chain %q", name)
	}

	return c, nil
}

// ForCurrency resolves a currency tag (case-insensitive) to its chain.
func ForCurrency(currency string) (Chain, error) {
	name, ok := currencies[NormalizeCurrency(currency)]
	if !ok {
		return Chain{}, errors.Wrapf(ErrUnknownCurrency, "currency %q", currency)
	}

	return chains[name], nil
}

// NormalizeCurrency returns the canonical upper-case form of a currency tag.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Chains returns all registered chains ordered by name.
func Chains() []Chain {
	res := make([]Chain, 0, len(chains))
	for _, c := range chains {
		res = append(res, c)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })

	return res
}

// Currencies returns all supported currency tags, sorted.
func Currencies() []string {
	res := make([]string, 0, len(currencies))
	for c := range currencies {
		res = append(res, c)
	}

	sort.Strings(res)

	return res
}

// CurrenciesOf returns the sorted currency tags served by the named chain.
func CurrenciesOf(name Name) []string {
	res := []string{}
	for c, n := range currencies {
		if n == name {
			res = append(res, c)
		}
	}

	sort.Strings(res)

	return res
}

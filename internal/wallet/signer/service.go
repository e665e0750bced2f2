package signer

import (
	"context"
	"crypto/ed25519"

	"github.com/chapool/custody-engine/internal/util"
	"github.com/chapool/custody-engine/internal/wallet"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/chapool/custody-engine/internal/wallet/seed"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

type service struct {
	keys    KeySource
	enabled bool
}

// NewService creates a new SignerService
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(keys KeySource, enabled bool) Service {
	return &service{
		keys:    keys,
		enabled: enabled,
	}
}

// key loads the wallet and its private key. The caller must zero the key.
func (s *service) key(ctx context.Context, userID string, currency string) (*wallet.Wallet, chain.Chain, []byte, error) {
	if !s.enabled {
		return nil, chain.Chain{}, nil, ErrSigningDisabled
	}

	c, err := chain.ForCurrency(currency)
	if err != nil {
		return nil, chain.Chain{}, nil, err
	}

	w, err := s.keys.GetWallet(ctx, userID, currency)
	if err != nil {
		return nil, chain.Chain{}, nil, err
	}

	privateKey, err := s.keys.ExportPrivateKey(ctx, userID, currency)
	if err != nil {
		return nil, chain.Chain{}, nil, err
	}

	return w, c, privateKey, nil
}

// SignEVMTransaction signs an EVM transaction (EIP-1559)
func (s *service) SignEVMTransaction(ctx context.Context, req *SignEVMRequest) (*SignEVMResponse, error) {
	w, c, privateKey, err := s.key(ctx, req.UserID, req.Currency)
	if err != nil {
		return nil, err
	}
	defer seed.Zero(privateKey)

	if c.Name != chain.Ethereum {
		return nil, errors.Wrapf(ErrUnsupportedChain, "%s", c.Name)
	}

	res, err := signEIP1559Transaction(req, w.Address, privateKey)
	if err != nil {
		return nil, err
	}

	util.LogFromContext(ctx).Info().
		Str("user_id", req.UserID).
		Str("currency", w.Network).
		Str("tx_hash", res.TxHash).
		Msg("Signed EVM transaction")

	return res, nil
}

func (s *service) SignMessage(ctx context.Context, req *SignMessageRequest) (*SignMessageResponse, error) {
	w, c, privateKey, err := s.key(ctx, req.UserID, req.Currency)
	if err != nil {
		return nil, err
	}
	defer seed.Zero(privateKey)

	var sig []byte

	switch c.Name {
	case chain.Ethereum:
		ecdsaKey, err := crypto.ToECDSA(privateKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert private key to ECDSA")
		}

		if crypto.PubkeyToAddress(ecdsaKey.PublicKey).Hex() != w.Address {
			return nil, ErrAddressMismatch
		}

		sig, err = crypto.Sign(accounts.TextHash(req.Message), ecdsaKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to sign message")
		}

		sig[crypto.RecoveryIDOffset] += 27
	case chain.Solana:
		if len(privateKey) < ed25519.SeedSize {
			return nil, ErrAddressMismatch
		}

		priv := ed25519.NewKeyFromSeed(privateKey[:ed25519.SeedSize])
		defer seed.Zero(priv)

		if base58.Encode(priv.Public().(ed25519.PublicKey)) != w.Address {
			return nil, ErrAddressMismatch
		}

		sig = ed25519.Sign(priv, req.Message)
	case chain.Bitcoin, chain.Tron, chain.Ripple:
		return nil, errors.Wrapf(ErrUnsupportedChain, "%s", c.Name)
	default:
		return nil, errors.Wrapf(ErrUnsupportedChain, "%s", c.Name)
	}

	return &SignMessageResponse{Address: w.Address, Signature: sig}, nil
}

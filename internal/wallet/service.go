package wallet

import (
	"context"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/chapool/custody-engine/internal/metrics"
	"github.com/chapool/custody-engine/internal/util"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/address"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/chapool/custody-engine/internal/wallet/keystore"
	"github.com/chapool/custody-engine/internal/wallet/seed"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

type service struct {
	store          account.AccountStore
	seedManager    seed.Manager
	addressService address.Service
	cipher         keystore.Cipher
	metrics        *metrics.Collector
	entropyBits    int
}

// NewService creates a new wallet service. entropyBits selects the mnemonic
// length of generated wallets; 0 means 256 bits (24 words).
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(
	store account.AccountStore,
	seedManager seed.Manager,
	addressService address.Service,
	cipher keystore.Cipher,
	m *metrics.Collector,
	entropyBits int,
) (Service, error) {
	if entropyBits == 0 {
		entropyBits = seed.MaxEntropyBits
	}

	if entropyBits < seed.MinEntropyBits || entropyBits > seed.MaxEntropyBits || entropyBits%32 != 0 {
		return nil, errors.Wrapf(seed.ErrInvalidEntropySize, "%d bits", entropyBits)
	}

	return &service{
		store:          store,
		seedManager:    seedManager,
		addressService: addressService,
		cipher:         cipher,
		metrics:        m,
		entropyBits:    entropyBits,
	}, nil
}

func (s *service) GenerateWallet(ctx context.Context, userID string, kind account.Kind) (*GenerateResult, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}

	if kind == "" {
		kind = account.KindUser
	}

	if !kind.Valid() {
		return nil, errors.Wrapf(ErrInvalidKind, "kind %q", kind)
	}

	log := util.LogFromContext(ctx).With().Str("user_id", userID).Str("kind", string(kind)).Logger()

	mnemonic, err := seed.GenerateMnemonic(s.entropyBits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate mnemonic")
	}

	seedBytes, err := seed.MnemonicToSeed(mnemonic, "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive seed")
	}
	defer seed.Zero(seedBytes)

	derivation := s.addressService.DeriveAll(seedBytes, 0)
	defer derivation.Zero()

	if len(derivation.Keys) == 0 {
		return nil, ErrDerivationIncomplete
	}

	sealedMnemonic, err := s.cipher.Encrypt([]byte(mnemonic))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt mnemonic")
	}

	result := &GenerateResult{
		Wallets:  []*Wallet{},
		Failures: map[chain.Name]error{},
	}

	for name, failure := range derivation.Failures {
		log.Warn().Err(failure).Str("chain", string(name)).Msg("Chain derivation failed")
		result.Failures[name] = failure
	}

	for name, km := range derivation.Keys {
		sealedKey, err := s.cipher.Encrypt(km.PrivateKey)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encrypt %s key", name)
		}

		material := account.KeyMaterial{
			Address:             km.Address,
			DerivationPath:      km.Path,
			EncryptedPrivateKey: sealedKey,
			EncryptedMnemonic:   &sealedMnemonic,
		}

		for _, currency := range chain.CurrenciesOf(name) {
			acc, err := s.persist(ctx, userID, kind, currency, name, material)
			if err != nil {
				return nil, err
			}

			if !material.SameAddress(acc) {
				log.Info().Str("currency", currency).Str("address", acc.Address).Msg("Keeping existing wallet")
			}

			result.Wallets = append(result.Wallets, FromAccount(acc))
		}
	}

	sort.Slice(result.Wallets, func(i, j int) bool { return result.Wallets[i].Network < result.Wallets[j].Network })

	log.Info().Int("wallets", len(result.Wallets)).Int("failures", len(result.Failures)).Msg("Wallet generated successfully")

	return result, nil
}

// persist stores km for (userID, currency). A lazily created placeholder
// receives the key material; an account that already has keys is returned
// unchanged.
func (s *service) persist(ctx context.Context, userID string, kind account.Kind, currency string, name chain.Name, km account.KeyMaterial) (*account.WalletAccount, error) {
	defaults := account.NewPlaceholder(userID, currency, name)
	defaults.Kind = kind
	defaults.Address = km.Address
	defaults.DerivationPath = km.DerivationPath
	defaults.EncryptedPrivateKey = km.EncryptedPrivateKey
	defaults.EncryptedMnemonic = km.EncryptedMnemonic

	acc, created, err := s.store.CreateIfAbsent(ctx, defaults)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s account", currency)
	}

	if created {
		s.metrics.AccountCreated(currency)
		return acc, nil
	}

	if !acc.IsPlaceholder() {
		return acc, nil
	}

	attached, err := s.store.AttachKeyMaterial(ctx, userID, currency, km)
	if err == nil {
		s.metrics.AccountCreated(currency)
		return attached, nil
	}

	if !errors.Is(err, account.ErrKeyMaterialExists) {
		return nil, errors.Wrapf(err, "failed to attach key material to %s account", currency)
	}

	// lost the race to a concurrent generate or import
	acc, err = s.store.Find(ctx, userID, currency)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reload %s account", currency)
	}

	return acc, nil
}

func (s *service) ImportWallet(ctx context.Context, userID string, req ImportRequest) (*Wallet, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}

	if (req.Mnemonic == "") == (req.PrivateKey == "") {
		return nil, ErrInvalidImport
	}

	c, err := chain.ForCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	currency := account.NormalizeTag(req.Currency)
	log := util.LogFromContext(ctx).With().Str("user_id", userID).Str("currency", currency).Logger()

	var (
		km             *address.KeyMaterial
		sealedMnemonic *keystore.Sealed
	)

	if req.Mnemonic != "" {
		mnemonic := seed.NormalizeMnemonic(req.Mnemonic)

		seedBytes, err := seed.MnemonicToSeed(mnemonic, req.Passphrase)
		if err != nil {
			return nil, err
		}
		defer seed.Zero(seedBytes)

		km, err = s.addressService.DeriveAccount(seedBytes, c, 0)
		if err != nil {
			return nil, errors.Wrap(err, "failed to derive imported wallet")
		}

		sealed, err := s.cipher.Encrypt([]byte(mnemonic))
		if err != nil {
			return nil, errors.Wrap(err, "failed to encrypt mnemonic")
		}
		sealedMnemonic = &sealed
	} else {
		key, err := decodePrivateKey(c, req.PrivateKey)
		if err != nil {
			return nil, err
		}
		defer seed.Zero(key)

		km, err = s.addressService.FromPrivateKey(c, key)
		if err != nil {
			return nil, errors.Wrap(err, "failed to import private key")
		}
	}
	defer km.Zero()

	sealedKey, err := s.cipher.Encrypt(km.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt private key")
	}

	material := account.KeyMaterial{
		Address:             km.Address,
		DerivationPath:      km.Path,
		EncryptedPrivateKey: sealedKey,
		EncryptedMnemonic:   sealedMnemonic,
	}

	acc, err := s.persist(ctx, userID, account.KindUser, currency, c.Name, material)
	if err != nil {
		return nil, err
	}

	if !material.SameAddress(acc) {
		return nil, errors.Wrapf(account.ErrKeyMaterialExists, "%s wallet of user %s", currency, userID)
	}

	log.Info().Str("address", acc.Address).Msg("Wallet imported successfully")

	return FromAccount(acc), nil
}

// decodePrivateKey accepts hex (optionally 0x prefixed) for every chain and
// base58 for ed25519 chains.
func decodePrivateKey(c chain.Chain, s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	if key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")); err == nil {
		return key, nil
	}

	if c.Curve == chain.Ed25519 {
		if key, err := base58.Decode(s); err == nil {
			return key, nil
		}
	}

	return nil, errors.Wrapf(address.ErrInvalidPrivateKey, "undecodable %s key", c.Name)
}

func (s *service) GetWallet(ctx context.Context, userID string, currency string) (*Wallet, error) {
	if _, err := chain.ForCurrency(currency); err != nil {
		return nil, err
	}

	acc, err := s.store.Find(ctx, userID, account.NormalizeTag(currency))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get wallet")
	}

	return FromAccount(acc), nil
}

func (s *service) ListWallets(ctx context.Context, userID string) ([]*Wallet, error) {
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list wallets")
	}

	res := make([]*Wallet, 0, len(accounts))
	for _, acc := range accounts {
		res = append(res, FromAccount(acc))
	}

	return res, nil
}

func (s *service) EnsureSystemAccount(ctx context.Context, kind account.Kind, currency string) (*Wallet, error) {
	index, err := SystemAccountIndex(kind)
	if err != nil {
		return nil, err
	}

	c, err := chain.ForCurrency(currency)
	if err != nil {
		return nil, err
	}

	km, err := s.deriveSystem(c, index)
	if err != nil {
		return nil, err
	}
	defer km.Zero()

	currency = account.NormalizeTag(currency)
	userID := SystemUserID(kind)

	sealedKey, err := s.cipher.Encrypt(km.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt private key")
	}

	material := account.KeyMaterial{
		Address:             km.Address,
		DerivationPath:      km.Path,
		EncryptedPrivateKey: sealedKey,
	}

	acc, err := s.persist(ctx, userID, kind, currency, c.Name, material)
	if err != nil {
		return nil, err
	}

	if !material.SameAddress(acc) {
		return nil, errors.Wrapf(ErrSeedMismatch, "%s %s account holds %s", kind, currency, acc.Address)
	}

	util.LogFromContext(ctx).Debug().
		Str("kind", string(kind)).
		Str("currency", currency).
		Str("address", acc.Address).
		Msg("System account ensured")

	return FromAccount(acc), nil
}

func (s *service) deriveSystem(c chain.Chain, index uint32) (*address.KeyMaterial, error) {
	if !s.seedManager.IsInitialized() {
		return nil, ErrSeedNotInitialized
	}

	seedBytes := s.seedManager.GetSeed()
	if seedBytes == nil {
		return nil, ErrSeedNotInitialized
	}
	defer seed.Zero(seedBytes)

	km, err := s.addressService.DeriveAccount(seedBytes, c, index)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive system account")
	}

	return km, nil
}

func (s *service) VerifySystemSeed(ctx context.Context) error {
	log := util.LogFromContext(ctx).With().Str("component", "seed_verification").Logger()

	verified := 0
	for _, kind := range []account.Kind{account.KindTreasury, account.KindHot} {
		index, _ := SystemAccountIndex(kind)

		accounts, err := s.store.ListAccounts(ctx, SystemUserID(kind))
		if err != nil {
			return errors.Wrap(err, "failed to list system accounts")
		}

		for _, acc := range accounts {
			if acc.IsPlaceholder() {
				continue
			}

			c, err := chain.Get(acc.Chain)
			if err != nil {
				return err
			}

			km, err := s.deriveSystem(c, index)
			if err != nil {
				return err
			}
			derived := km.Address
			km.Zero()

			if derived != acc.Address {
				log.Error().Str("kind", string(kind)).Str("currency", acc.Tag()).Msg("Derived address does not match stored system account")
				return errors.Wrapf(ErrSeedMismatch, "%s %s", kind, acc.Tag())
			}
			verified++
		}
	}

	if verified == 0 {
		log.Info().Msg("No system accounts found - this is first startup")
		return nil
	}

	log.Info().Int("accounts", verified).Msg("System seed verification successful")

	return nil
}

func (s *service) ExportPrivateKey(ctx context.Context, userID string, currency string) ([]byte, error) {
	acc, err := s.store.Find(ctx, userID, account.NormalizeTag(currency))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get wallet")
	}

	if acc.IsPlaceholder() {
		return nil, ErrNoKeyMaterial
	}

	key, err := s.cipher.Decrypt(acc.EncryptedPrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt private key")
	}

	util.LogFromContext(ctx).Warn().
		Str("user_id", userID).
		Str("currency", acc.Tag()).
		Str("address", acc.Address).
		Msg("Private key exported")

	return key, nil
}

func (s *service) RemoveWallet(ctx context.Context, userID string, currency string) error {
	tag := account.NormalizeTag(currency)

	acc, err := s.store.Find(ctx, userID, tag)
	if err != nil {
		return errors.Wrap(err, "failed to get wallet")
	}

	if !acc.Balance.IsZero() {
		return errors.Wrapf(ErrNonZeroBalance, "%s balance %s", tag, acc.Balance)
	}

	if err := s.store.Delete(ctx, userID, tag); err != nil {
		return errors.Wrap(err, "failed to delete wallet")
	}

	util.LogFromContext(ctx).Info().Str("user_id", userID).Str("currency", tag).Msg("Wallet removed")

	return nil
}

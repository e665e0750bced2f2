package wallet

import (
	"context"
	"time"

	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Account indexes reserved for platform-owned accounts derived from the
// system seed. User wallets each get their own mnemonic and always use 0.
const (
	TreasuryAccountIndex uint32 = 0
	HotAccountIndex      uint32 = 1
)

// SystemUserPrefix prefixes the synthetic user ID of platform-owned accounts.
const SystemUserPrefix = "system:"

var (
	ErrInvalidUser          = errors.New("user id must not be empty")
	ErrInvalidKind          = errors.New("invalid account kind")
	ErrInvalidImport        = errors.New("exactly one of mnemonic or private key must be given")
	ErrSeedNotInitialized   = errors.New("system seed not initialized")
	ErrSeedMismatch         = errors.New("system seed does not match stored system accounts")
	ErrNoKeyMaterial        = errors.New("wallet has no key material yet")
	ErrNonZeroBalance       = errors.New("wallet balance is not zero")
	ErrNotSystemKind        = errors.New("kind is not a system account kind")
	ErrDerivationIncomplete = errors.New("no chain could be derived")
)

// Wallet is the public view of one WalletAccount. It never carries key material.
type Wallet struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"userId"`
	Kind           account.Kind    `json:"kind"`
	Network        string          `json:"network"`
	Chain          chain.Name      `json:"chain"`
	Address        string          `json:"address"`
	DerivationPath string          `json:"derivationPath,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	HasMnemonic    bool            `json:"hasMnemonic"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// FromAccount strips the sealed secrets off a.
func FromAccount(a *account.WalletAccount) *Wallet {
	return &Wallet{
		ID:             a.ID,
		UserID:         a.UserID,
		Kind:           a.Kind,
		Network:        a.Tag(),
		Chain:          a.Chain,
		Address:        a.Address,
		DerivationPath: a.DerivationPath,
		Balance:        a.Balance,
		HasMnemonic:    a.EncryptedMnemonic != nil,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// GenerateResult lists the wallets produced for every supported currency.
// A chain whose derivation failed is reported in Failures and has no wallets.
type GenerateResult struct {
	Wallets  []*Wallet
	Failures map[chain.Name]error
}

// ImportRequest carries either a mnemonic (with optional BIP39 passphrase) or
// a raw private key for a single currency. Private keys are hex for secp256k1
// chains; Solana keys may also be given as base58 of the 64 byte keypair.
type ImportRequest struct {
	Currency   string
	Mnemonic   string
	Passphrase string
	PrivateKey string
}

type Service interface {
	// GenerateWallet creates a fresh mnemonic for userID and a wallet for every
	// supported currency. Existing accounts with real keys are left untouched.
	GenerateWallet(ctx context.Context, userID string, kind account.Kind) (*GenerateResult, error)

	// ImportWallet attaches external key material to one currency.
	ImportWallet(ctx context.Context, userID string, req ImportRequest) (*Wallet, error)

	GetWallet(ctx context.Context, userID string, currency string) (*Wallet, error)
	ListWallets(ctx context.Context, userID string) ([]*Wallet, error)

	// EnsureSystemAccount derives a platform account from the system seed.
	EnsureSystemAccount(ctx context.Context, kind account.Kind, currency string) (*Wallet, error)

	// VerifySystemSeed checks the loaded system seed against already stored
	// system accounts.
	VerifySystemSeed(ctx context.Context) error

	// ExportPrivateKey decrypts the key of a wallet. Callers must zero the result.
	ExportPrivateKey(ctx context.Context, userID string, currency string) ([]byte, error)

	// RemoveWallet deletes an account whose balance is zero.
	RemoveWallet(ctx context.Context, userID string, currency string) error
}

// SystemUserID returns the synthetic owner of a platform account.
func SystemUserID(kind account.Kind) string {
	return SystemUserPrefix + string(kind)
}

// SystemAccountIndex returns the account index reserved for kind.
func SystemAccountIndex(kind account.Kind) (uint32, error) {
	switch kind {
	case account.KindTreasury:
		return TreasuryAccountIndex, nil
	case account.KindHot:
		return HotAccountIndex, nil
	case account.KindUser, account.KindMerchant:
		return 0, errors.Wrapf(ErrNotSystemKind, "kind %q", kind)
	default:
		return 0, errors.Wrapf(ErrInvalidKind, "kind %q", kind)
	}
}

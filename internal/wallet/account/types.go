package account

import (
	"context"
	"strings"
	"time"

	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/chapool/custody-engine/internal/wallet/keystore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind classifies who owns an account.
type Kind string

const (
	KindUser     Kind = "user"
	KindMerchant Kind = "merchant"
	KindTreasury Kind = "treasury"
	KindHot      Kind = "hot"
)

// Valid reports whether k is a known account kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindMerchant, KindTreasury, KindHot:
		return true
	default:
		return false
	}
}

// WalletAccount is the persistent unit of custody: one per (user, network).
type WalletAccount struct {
	ID     uuid.UUID
	UserID string
	Kind   Kind

	// Network is the canonical tag. Legacy records only carry Currency.
	Network  string
	Currency string
	Chain    chain.Name

	Address             string
	DerivationPath      string
	EncryptedPrivateKey keystore.Sealed
	EncryptedMnemonic   *keystore.Sealed

	Balance          decimal.Decimal
	LastCheckedBlock string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tag returns the network tag, falling back to the legacy currency field.
func (a *WalletAccount) Tag() string {
	if a.Network != "" {
		return a.Network
	}

	return a.Currency
}

// Matches implements the dual-key lookup: network equals tag, or network is
// absent and the legacy currency equals tag.
func (a *WalletAccount) Matches(userID string, tag string) bool {
	if a.UserID != userID {
		return false
	}

	return a.Network == tag || (a.Network == "" && a.Currency == tag)
}

// IsPlaceholder reports whether the account was created lazily by a credit and
// still lacks real key material.
func (a *WalletAccount) IsPlaceholder() bool {
	return a.Address == "" && a.EncryptedPrivateKey.IsZero()
}

// Clone returns a deep copy.
func (a *WalletAccount) Clone() *WalletAccount {
	c := *a
	if a.EncryptedMnemonic != nil {
		m := *a.EncryptedMnemonic
		c.EncryptedMnemonic = &m
	}

	return &c
}

// NewPlaceholder returns the safe defaults used when a credit reaches a
// (user, network) pair that has no account yet.
func NewPlaceholder(userID string, network string, c chain.Name) *WalletAccount {
	now := time.Now().UTC()

	return &WalletAccount{
		ID:               uuid.New(),
		UserID:           userID,
		Kind:             KindUser,
		Network:          network,
		Currency:         network,
		Chain:            c,
		Balance:          decimal.Zero,
		LastCheckedBlock: "0",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// KeyMaterial is the sealed, persistable form of derived keys.
type KeyMaterial struct {
	Address             string
	DerivationPath      string
	EncryptedPrivateKey keystore.Sealed
	EncryptedMnemonic   *keystore.Sealed
}

// SameAddress reports whether km describes the same key as a.
func (km KeyMaterial) SameAddress(a *WalletAccount) bool {
	return km.Address == a.Address
}

// TxType classifies a ledger entry.
type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxTransfer   TxType = "transfer"
	TxSwap       TxType = "swap"
	TxStake      TxType = "stake"
	TxUnstake    TxType = "unstake"
	TxYield      TxType = "yield"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransfer, TxSwap, TxStake, TxUnstake, TxYield:
		return true
	default:
		return false
	}
}

// TransactionRecord is the ledger log entry keyed by its unique Reference.
type TransactionRecord struct {
	ID        uuid.UUID       `json:"id"`
	UserID    string          `json:"userId"`
	Type      TxType          `json:"type"`
	Status    TxStatus        `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
	Metadata  map[string]any  `json:"metadata"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy with its own metadata map.
func (r *TransactionRecord) Clone() *TransactionRecord {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}

	return &c
}

// NormalizeTag returns the canonical upper-case form of a network/currency tag.
func NormalizeTag(tag string) string {
	return strings.ToUpper(strings.TrimSpace(tag))
}

// AccountStore persists WalletAccounts. Every balance mutation is a single
// atomic operation of the backend; callers never read-modify-write.
// Lookups by tag use the dual key described on WalletAccount.Matches.
type AccountStore interface {
	// CreateIfAbsent inserts defaults unless an account for (UserID, Network)
	// exists, in which case the existing record is returned unmodified.
	CreateIfAbsent(ctx context.Context, defaults *WalletAccount) (acc *WalletAccount, created bool, err error)

	// Find returns ErrAccountNotFound when no account matches.
	Find(ctx context.Context, userID string, tag string) (*WalletAccount, error)

	// ListAccounts returns the user's accounts ordered by tag.
	ListAccounts(ctx context.Context, userID string) ([]*WalletAccount, error)

	// Increment adds amount to the balance, inserting defaults first when absent.
	// The reference is recorded on the account in the same atomic step;
	// ErrReferenceApplied is returned and nothing changes if it already is.
	Increment(ctx context.Context, userID string, tag string, amount decimal.Decimal, reference string, defaults *WalletAccount) (*WalletAccount, error)

	// DecrementIfSufficient subtracts amount only while balance >= amount and
	// reference has not been applied to the account. It returns
	// ErrReferenceApplied for a seen reference, else ErrInsufficientBalance when
	// no account satisfies the predicate.
	DecrementIfSufficient(ctx context.Context, userID string, tag string, amount decimal.Decimal, reference string) (*WalletAccount, error)

	// AttachKeyMaterial fills a placeholder account. ErrKeyMaterialExists is
	// returned if the account already carries key material.
	AttachKeyMaterial(ctx context.Context, userID string, tag string, km KeyMaterial) (*WalletAccount, error)

	// Delete is administrative removal.
	Delete(ctx context.Context, userID string, tag string) error

	// MigrateLegacyNetwork copies Currency into Network on legacy records.
	MigrateLegacyNetwork(ctx context.Context) (int64, error)
}

// TransactionStore persists TransactionRecords.
type TransactionStore interface {
	// FindByReference returns ErrTransactionNotFound when absent.
	FindByReference(ctx context.Context, reference string) (*TransactionRecord, error)

	// Upsert writes status, amount, currency and metadata. ID, UserID, Type and
	// CreatedAt are only taken from rec when the record is created.
	Upsert(ctx context.Context, rec *TransactionRecord) (*TransactionRecord, error)

	// UpdateStatus applies a transition only from a status allowed by CanTransition.
	UpdateStatus(ctx context.Context, reference string, to TxStatus) (*TransactionRecord, error)

	// ListTransactions returns the newest records first. limit <= 0 means no limit.
	ListTransactions(ctx context.Context, userID string, limit int) ([]*TransactionRecord, error)
}

// Store bundles both stores over one backend.
type Store interface {
	AccountStore
	TransactionStore

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

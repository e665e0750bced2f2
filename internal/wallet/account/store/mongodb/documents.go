package mongodb

import (
	"slices"
	"time"

	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/chapool/custody-engine/internal/wallet/keystore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// accountDoc is the stored form of account.WalletAccount. Legacy documents
// have no network field at all.
type accountDoc struct {
	ID                  string               `bson:"_id"`
	UserID              string               `bson:"user_id"`
	Kind                string               `bson:"kind"`
	Network             string               `bson:"network,omitempty"`
	Currency            string               `bson:"currency"`
	Chain               string               `bson:"chain"`
	Address             string               `bson:"address"`
	DerivationPath      string               `bson:"derivation_path"`
	EncryptedPrivateKey keystore.Sealed      `bson:"encrypted_private_key"`
	EncryptedMnemonic   *keystore.Sealed     `bson:"encrypted_mnemonic,omitempty"`
	Balance             primitive.Decimal128 `bson:"balance"`
	LastCheckedBlock    string               `bson:"last_checked_block"`
	AppliedRefs         []string             `bson:"applied_refs,omitempty"`
	CreatedAt           time.Time            `bson:"created_at"`
	UpdatedAt           time.Time            `bson:"updated_at"`
}

func (d *accountDoc) applied(reference string) bool {
	return slices.Contains(d.AppliedRefs, reference)
}

type transactionDoc struct {
	ID        string               `bson:"_id"`
	UserID    string               `bson:"user_id"`
	Type      string               `bson:"type"`
	Status    string               `bson:"status"`
	Amount    primitive.Decimal128 `bson:"amount"`
	Currency  string               `bson:"currency"`
	Reference string               `bson:"reference"`
	Metadata  map[string]any       `bson:"metadata,omitempty"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, errors.Wrapf(err, "failed to convert %s to decimal128", d)
	}

	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to convert decimal128 %s", v)
	}

	return d, nil
}

func newAccountDoc(a *account.WalletAccount) (*accountDoc, error) {
	balance, err := toDecimal128(a.Balance)
	if err != nil {
		return nil, err
	}

	return &accountDoc{
		ID:                  a.ID.String(),
		UserID:              a.UserID,
		Kind:                string(a.Kind),
		Network:             a.Network,
		Currency:            a.Currency,
		Chain:               string(a.Chain),
		Address:             a.Address,
		DerivationPath:      a.DerivationPath,
		EncryptedPrivateKey: a.EncryptedPrivateKey,
		EncryptedMnemonic:   a.EncryptedMnemonic,
		Balance:             balance,
		LastCheckedBlock:    a.LastCheckedBlock,
		CreatedAt:           a.CreatedAt.UTC(),
		UpdatedAt:           a.UpdatedAt.UTC(),
	}, nil
}

func (d *accountDoc) model() (*account.WalletAccount, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse account id")
	}

	balance, err := fromDecimal128(d.Balance)
	if err != nil {
		return nil, err
	}

	return &account.WalletAccount{
		ID:                  id,
		UserID:              d.UserID,
		Kind:                account.Kind(d.Kind),
		Network:             d.Network,
		Currency:            d.Currency,
		Chain:               chain.Name(d.Chain),
		Address:             d.Address,
		DerivationPath:      d.DerivationPath,
		EncryptedPrivateKey: d.EncryptedPrivateKey,
		EncryptedMnemonic:   d.EncryptedMnemonic,
		Balance:             balance,
		LastCheckedBlock:    d.LastCheckedBlock,
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}, nil
}

// insertDefaults returns the fields written by $setOnInsert. user_id comes
// from the filter; balance and updated_at are owned by $inc/$set.
func (d *accountDoc) insertDefaults(withBalance bool) bson.M {
	m := bson.M{
		"_id":                   d.ID,
		"kind":                  d.Kind,
		"currency":              d.Currency,
		"chain":                 d.Chain,
		"address":               d.Address,
		"derivation_path":       d.DerivationPath,
		"encrypted_private_key": d.EncryptedPrivateKey,
		"last_checked_block":    d.LastCheckedBlock,
		"created_at":            d.CreatedAt,
	}

	if d.Network != "" {
		m["network"] = d.Network
	}

	if d.EncryptedMnemonic != nil {
		m["encrypted_mnemonic"] = d.EncryptedMnemonic
	}

	if withBalance {
		m["balance"] = d.Balance
		m["updated_at"] = d.UpdatedAt
	}

	return m
}

func (d *transactionDoc) model() (*account.TransactionRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse transaction id")
	}

	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return nil, err
	}

	return &account.TransactionRecord{
		ID:        id,
		UserID:    d.UserID,
		Type:      account.TxType(d.Type),
		Status:    account.TxStatus(d.Status),
		Amount:    amount,
		Currency:  d.Currency,
		Reference: d.Reference,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

// Package postgres implements account.Store on PostgreSQL. Every balance
// mutation is one UPDATE or INSERT ... ON CONFLICT statement; row locks taken
// by that statement are the only mutual exclusion.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/chapool/custody-engine/internal/util"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/chapool/custody-engine/internal/wallet/keystore"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, user_id, kind, network, currency, chain, address, derivation_path,
	private_key_ciphertext, private_key_iv, private_key_auth_tag,
	mnemonic_ciphertext, mnemonic_iv, mnemonic_auth_tag,
	balance, last_checked_block, created_at, updated_at`

const transactionColumns = `id, user_id, type, status, amount, currency, reference, metadata, created_at, updated_at`

// dualKey resolves a tag to at most one row, preferring the canonical network
// column over a legacy currency match. Expects $1 = user_id and $2 = tag.
const dualKey = `id = (
	SELECT id FROM wallet_accounts
	WHERE user_id = $1 AND (network = $2 OR (network IS NULL AND currency = $2))
	ORDER BY network NULLS LAST
	LIMIT 1)`

type Store struct {
	db *sql.DB
}

var _ account.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, account.Unavailable("ping", err)
	}

	return New(db), nil
}

// DB exposes the pool for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return account.Unavailable("ping", s.db.PingContext(ctx))
}

func (s *Store) Close(context.Context) error {
	return errors.Wrap(s.db.Close(), "failed to close database")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*account.WalletAccount, error) {
	var (
		a                    account.WalletAccount
		network              null.String
		chainName            string
		mnemonicCiphertext   null.String
		mnemonicIV           null.String
		mnemonicAuthTag      null.String
		balance              decimal.Decimal
		createdAt, updatedAt time.Time
	)

	err := row.Scan(&a.ID, &a.UserID, &a.Kind, &network, &a.Currency, &chainName, &a.Address, &a.DerivationPath,
		&a.EncryptedPrivateKey.Ciphertext, &a.EncryptedPrivateKey.IV, &a.EncryptedPrivateKey.AuthTag,
		&mnemonicCiphertext, &mnemonicIV, &mnemonicAuthTag,
		&balance, &a.LastCheckedBlock, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Network = network.String
	a.Chain = chain.Name(chainName)
	a.Balance = balance
	a.CreatedAt = createdAt.UTC()
	a.UpdatedAt = updatedAt.UTC()

	if mnemonicCiphertext.Valid {
		a.EncryptedMnemonic = &keystore.Sealed{
			Ciphertext: mnemonicCiphertext.String,
			IV:         mnemonicIV.String,
			AuthTag:    mnemonicAuthTag.String,
		}
	}

	return &a, nil
}

func mnemonicColumns(m *keystore.Sealed) (null.String, null.String, null.String) {
	if m == nil {
		return null.String{}, null.String{}, null.String{}
	}

	return null.StringFrom(m.Ciphertext), null.StringFrom(m.IV), null.StringFrom(m.AuthTag)
}

func accountArgs(a *account.WalletAccount) []any {
	mc, mi, mt := mnemonicColumns(a.EncryptedMnemonic)

	return []any{
		a.ID, a.UserID, string(a.Kind), null.NewString(a.Network, a.Network != ""), a.Currency, string(a.Chain),
		a.Address, a.DerivationPath,
		a.EncryptedPrivateKey.Ciphertext, a.EncryptedPrivateKey.IV, a.EncryptedPrivateKey.AuthTag,
		mc, mi, mt,
		a.Balance, a.LastCheckedBlock, a.CreatedAt, a.UpdatedAt,
	}
}

// CreateIfAbsent inserts unless a canonical or legacy record exists for the
// pair; the unique index on (user_id, network) arbitrates concurrent inserts.
func (s *Store) CreateIfAbsent(ctx context.Context, defaults *account.WalletAccount) (*account.WalletAccount, bool, error) {
	query := `INSERT INTO wallet_accounts (` + accountColumns + `)
	SELECT $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::text,
		$9::text, $10::text, $11::text, $12::text, $13::text, $14::text,
		$15::numeric, $16::text, $17::timestamptz, $18::timestamptz
	WHERE NOT EXISTS (
		SELECT 1 FROM wallet_accounts WHERE user_id = $2::text AND network IS NULL AND currency = $4::text)
	ON CONFLICT (user_id, network) DO NOTHING
	RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, accountArgs(defaults)...))
	if err == nil {
		return a, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, account.Unavailable("create account", err)
	}

	existing, err := s.Find(ctx, defaults.UserID, defaults.Network)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (s *Store) Find(ctx context.Context, userID string, tag string) (*account.WalletAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM wallet_accounts WHERE ` + dualKey

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, userID, tag))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrAccountNotFound
		}

		return nil, account.Unavailable("find account", err)
	}

	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]*account.WalletAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM wallet_accounts
	WHERE user_id = $1
	ORDER BY COALESCE(network, currency) ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, account.Unavailable("list accounts", err)
	}
	defer rows.Close()

	res := []*account.WalletAccount{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, account.Unavailable("list accounts", err)
		}

		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, account.Unavailable("list accounts", err)
	}

	return res, nil
}

// notApplied guards a balance mutation on the reference in $4.
const notApplied = `NOT ($4::text = ANY(applied_references))`

// Increment first updates an existing row by dual key. When none matches it
// inserts defaults carrying the amount, unless a legacy row for the pair
// exists; a concurrent insert of the same pair turns into an increment
// through ON CONFLICT. No row back from either statement means the reference
// is already on the account.
func (s *Store) Increment(ctx context.Context, userID string, tag string, amount decimal.Decimal, reference string, defaults *account.WalletAccount) (*account.WalletAccount, error) {
	update := `UPDATE wallet_accounts
	SET balance = balance + $3::numeric,
		applied_references = array_append(applied_references, $4::text),
		updated_at = now()
	WHERE ` + dualKey + ` AND ` + notApplied + `
	RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRowContext(ctx, update, userID, tag, amount, reference))
	if err == nil {
		return a, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, account.Unavailable("increment balance", err)
	}

	row := defaults.Clone()
	row.UserID = userID
	row.Network = tag
	row.Balance = amount

	insert := `INSERT INTO wallet_accounts (` + accountColumns + `, applied_references)
	SELECT $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::text,
		$9::text, $10::text, $11::text, $12::text, $13::text, $14::text,
		$15::numeric, $16::text, $17::timestamptz, $18::timestamptz, ARRAY[$19::text]
	WHERE NOT EXISTS (
		SELECT 1 FROM wallet_accounts WHERE user_id = $2::text AND network IS NULL AND currency = $4::text)
	ON CONFLICT (user_id, network) DO UPDATE
	SET balance = wallet_accounts.balance + EXCLUDED.balance,
		applied_references = array_append(wallet_accounts.applied_references, $19::text),
		updated_at = now()
	WHERE NOT ($19::text = ANY(wallet_accounts.applied_references))
	RETURNING ` + accountColumns

	a, err = scanAccount(s.db.QueryRowContext(ctx, insert, append(accountArgs(row), reference)...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrReferenceApplied
		}

		return nil, account.Unavailable("upsert balance", err)
	}

	util.LogFromContext(ctx).Debug().Str("user_id", userID).Str("network", tag).Msg("Upserted account on credit")

	return a, nil
}

// DecrementIfSufficient relies on PostgreSQL re-evaluating the balance
// predicate against the latest row version after waiting on a concurrent
// writer. Applied references are never removed, so telling the two rejections
// apart afterwards is race free.
func (s *Store) DecrementIfSufficient(ctx context.Context, userID string, tag string, amount decimal.Decimal, reference string) (*account.WalletAccount, error) {
	query := `UPDATE wallet_accounts
	SET balance = balance - $3::numeric,
		applied_references = array_append(applied_references, $4::text),
		updated_at = now()
	WHERE ` + dualKey + ` AND balance >= $3::numeric AND ` + notApplied + `
	RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, userID, tag, amount, reference))
	if err == nil {
		return a, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, account.Unavailable("decrement balance", err)
	}

	var applied bool
	err = s.db.QueryRowContext(ctx,
		`SELECT $3::text = ANY(applied_references) FROM wallet_accounts WHERE `+dualKey,
		userID, tag, reference).Scan(&applied)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, account.Unavailable("decrement balance", err)
	}

	if applied {
		return nil, account.ErrReferenceApplied
	}

	return nil, account.ErrInsufficientBalance
}

func (s *Store) AttachKeyMaterial(ctx context.Context, userID string, tag string, km account.KeyMaterial) (*account.WalletAccount, error) {
	mc, mi, mt := mnemonicColumns(km.EncryptedMnemonic)

	query := `UPDATE wallet_accounts
	SET address = $3, derivation_path = $4,
		private_key_ciphertext = $5, private_key_iv = $6, private_key_auth_tag = $7,
		mnemonic_ciphertext = $8, mnemonic_iv = $9, mnemonic_auth_tag = $10,
		updated_at = now()
	WHERE ` + dualKey + ` AND address = '' AND private_key_ciphertext = ''
	RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, userID, tag,
		km.Address, km.DerivationPath,
		km.EncryptedPrivateKey.Ciphertext, km.EncryptedPrivateKey.IV, km.EncryptedPrivateKey.AuthTag,
		mc, mi, mt))
	if err == nil {
		return a, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, account.Unavailable("attach key material", err)
	}

	if _, err := s.Find(ctx, userID, tag); err != nil {
		return nil, err
	}

	return nil, account.ErrKeyMaterialExists
}

func (s *Store) Delete(ctx context.Context, userID string, tag string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wallet_accounts WHERE `+dualKey, userID, tag)
	if err != nil {
		return account.Unavailable("delete account", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return account.Unavailable("delete account", err)
	}

	if n == 0 {
		return account.ErrAccountNotFound
	}

	return nil
}

// MigrateLegacyNetwork skips legacy rows shadowed by a canonical row for the
// same pair; those need manual reconciliation.
func (s *Store) MigrateLegacyNetwork(ctx context.Context) (int64, error) {
	query := `UPDATE wallet_accounts AS legacy
	SET network = legacy.currency, updated_at = now()
	WHERE legacy.network IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM wallet_accounts AS canonical
			WHERE canonical.user_id = legacy.user_id AND canonical.network = legacy.currency)`

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, account.Unavailable("migrate legacy network", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, account.Unavailable("migrate legacy network", err)
	}

	return n, nil
}

func scanTransaction(row scanner) (*account.TransactionRecord, error) {
	var (
		rec      account.TransactionRecord
		metadata []byte
	)

	err := row.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.Status, &rec.Amount, &rec.Currency, &rec.Reference,
		&metadata, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to decode metadata")
		}
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return &rec, nil
}

func (s *Store) FindByReference(ctx context.Context, reference string) (*account.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions WHERE reference = $1`

	rec, err := scanTransaction(s.db.QueryRowContext(ctx, query, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrTransactionNotFound
		}

		return nil, account.Unavailable("find transaction", err)
	}

	return rec, nil
}

func (s *Store) Upsert(ctx context.Context, rec *account.TransactionRecord) (*account.TransactionRecord, error) {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode metadata")
	}

	if rec.Metadata == nil {
		metadata = []byte("{}")
	}

	now := time.Now().UTC()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `INSERT INTO wallet_transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (reference) DO UPDATE
	SET status = EXCLUDED.status, amount = EXCLUDED.amount, currency = EXCLUDED.currency,
		metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at
	RETURNING ` + transactionColumns

	res, err := scanTransaction(s.db.QueryRowContext(ctx, query,
		rec.ID, rec.UserID, string(rec.Type), string(rec.Status), rec.Amount, rec.Currency, rec.Reference,
		string(metadata), createdAt, now))
	if err != nil {
		return nil, account.Unavailable("upsert transaction", err)
	}

	return res, nil
}

func (s *Store) UpdateStatus(ctx context.Context, reference string, to account.TxStatus) (*account.TransactionRecord, error) {
	sources := account.SourcesOf(to)
	from := make([]string, 0, len(sources))
	for _, st := range sources {
		from = append(from, string(st))
	}

	query := `UPDATE wallet_transactions
	SET status = $2, updated_at = now()
	WHERE reference = $1 AND status = ANY($3)
	RETURNING ` + transactionColumns

	rec, err := scanTransaction(s.db.QueryRowContext(ctx, query, reference, string(to), pq.Array(from)))
	if err == nil {
		return rec, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, account.Unavailable("update transaction status", err)
	}

	if _, err := s.FindByReference(ctx, reference); err != nil {
		return nil, err
	}

	return nil, account.ErrInvalidTransition
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]*account.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions
	WHERE user_id = $1
	ORDER BY created_at DESC, reference DESC`

	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, account.Unavailable("list transactions", err)
	}
	defer rows.Close()

	res := []*account.TransactionRecord{}
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, account.Unavailable("list transactions", err)
		}

		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, account.Unavailable("list transactions", err)
	}

	return res, nil
}

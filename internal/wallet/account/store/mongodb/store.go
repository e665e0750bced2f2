// Package mongodb implements account.Store on MongoDB. Balance mutations are
// single FindOneAndUpdate calls; unique indexes arbitrate concurrent upserts.
package mongodb

import (
	"context"
	"time"

	"github.com/chapool/custody-engine/internal/util"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	accountsCollection     = "wallet_accounts"
	transactionsCollection = "wallet_transactions"

	// concurrent upserts of one key race on the unique index; the loser retries
	// and then matches the winner's document.
	upsertAttempts = 3
)

type Store struct {
	client       *mongo.Client
	accounts     *mongo.Collection
	transactions *mongo.Collection
}

var _ account.Store = (*Store)(nil)

// Open connects, pings and ensures indexes.
func Open(ctx context.Context, uri string, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, account.Unavailable("connect", err)
	}

	s := New(client, database)

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return s, nil
}

func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)

	return &Store{
		client:       client,
		accounts:     db.Collection(accountsCollection),
		transactions: db.Collection(transactionsCollection),
	}
}

// EnsureIndexes creates the unique indexes the atomic primitives rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "network", Value: 1}},
			Options: options.Index().
				SetName("user_network_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"network": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "currency", Value: 1}}, Options: options.Index().SetName("user_currency")},
	})
	if err != nil {
		return account.Unavailable("create account indexes", err)
	}

	_, err = s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetName("reference_unique").SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("user_created")},
	})
	if err != nil {
		return account.Unavailable("create transaction indexes", err)
	}

	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return account.Unavailable("ping", s.client.Ping(ctx, readpref.Primary()))
}

func (s *Store) Close(ctx context.Context) error {
	return errors.Wrap(s.client.Disconnect(ctx), "failed to disconnect")
}

// dualKey matches the canonical network or, for legacy documents without a
// network field, the currency.
func dualKey(userID string, tag string) bson.M {
	return bson.M{
		"user_id": userID,
		"$or": bson.A{
			bson.M{"network": tag},
			bson.M{"network": bson.M{"$exists": false}, "currency": tag},
		},
	}
}

// canonicalFirst orders a canonical match before a legacy one.
var canonicalFirst = bson.D{{Key: "network", Value: -1}}

func (s *Store) findOneAndUpdate(ctx context.Context, filter any, update any, upsert bool) (*account.WalletAccount, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(upsert).
		SetReturnDocument(options.After).
		SetSort(canonicalFirst)

	var (
		doc accountDoc
		err error
	)

	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		err = s.accounts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if !upsert || !mongo.IsDuplicateKeyError(err) {
			break
		}

		util.LogFromContext(ctx).Debug().Int("attempt", attempt).Msg("Retrying account upsert after duplicate key")
	}

	if err != nil {
		return nil, err
	}

	return doc.model()
}

func (s *Store) CreateIfAbsent(ctx context.Context, defaults *account.WalletAccount) (*account.WalletAccount, bool, error) {
	doc, err := newAccountDoc(defaults)
	if err != nil {
		return nil, false, err
	}

	update := bson.M{"$setOnInsert": doc.insertDefaults(true)}

	a, err := s.findOneAndUpdate(ctx, dualKey(defaults.UserID, defaults.Network), update, true)
	if err != nil {
		return nil, false, account.Unavailable("create account", err)
	}

	return a, a.ID == defaults.ID, nil
}

// findDoc returns the document the dual key resolves to, nil if there is none.
func (s *Store) findDoc(ctx context.Context, userID string, tag string) (*accountDoc, error) {
	var doc accountDoc

	err := s.accounts.FindOne(ctx, dualKey(userID, tag), options.FindOne().SetSort(canonicalFirst)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil //nolint:nilnil // absence is not an error here
		}

		return nil, err
	}

	return &doc, nil
}

func (s *Store) Find(ctx context.Context, userID string, tag string) (*account.WalletAccount, error) {
	doc, err := s.findDoc(ctx, userID, tag)
	if err != nil {
		return nil, account.Unavailable("find account", err)
	}

	if doc == nil {
		return nil, account.ErrAccountNotFound
	}

	return doc.model()
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]*account.WalletAccount, error) {
	cur, err := s.accounts.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, account.Unavailable("list accounts", err)
	}
	defer cur.Close(ctx)

	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, account.Unavailable("list accounts", err)
	}

	res := make([]*account.WalletAccount, 0, len(docs))
	for i := range docs {
		a, err := docs[i].model()
		if err != nil {
			return nil, err
		}

		res = append(res, a)
	}

	sortByTag(res)

	return res, nil
}

// Increment resolves the dual key to one document and applies the increment
// to it only while the reference is absent from applied_refs. A missing
// account is upserted; losing that race to a concurrent insert resolves again.
func (s *Store) Increment(ctx context.Context, userID string, tag string, amount decimal.Decimal, reference string, defaults *account.WalletAccount) (*account.WalletAccount, error) {
	inc, err := toDecimal128(amount)
	if err != nil {
		return nil, err
	}

	row := defaults.Clone()
	row.UserID = userID
	row.Network = tag

	insert, err := newAccountDoc(row)
	if err != nil {
		return nil, err
	}

	mutation := bson.M{
		"$inc":  bson.M{"balance": inc},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
		"$push": bson.M{"applied_refs": reference},
	}

	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		doc, err := s.findDoc(ctx, userID, tag)
		if err != nil {
			return nil, account.Unavailable("increment balance", err)
		}

		if doc == nil {
			upsert := bson.M{"$setOnInsert": insert.insertDefaults(false)}
			for k, v := range mutation {
				upsert[k] = v
			}

			filter := dualKey(userID, tag)
			filter["applied_refs"] = bson.M{"$ne": reference}

			a, err := s.findOneAndUpdate(ctx, filter, upsert, true)
			if err == nil {
				return a, nil
			}

			if !mongo.IsDuplicateKeyError(err) {
				return nil, account.Unavailable("increment balance", err)
			}

			continue
		}

		if doc.applied(reference) {
			return nil, account.ErrReferenceApplied
		}

		a, err := s.findOneAndUpdate(ctx, bson.M{"_id": doc.ID, "applied_refs": bson.M{"$ne": reference}}, mutation, false)
		if err == nil {
			return a, nil
		}

		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, account.Unavailable("increment balance", err)
		}

		util.LogFromContext(ctx).Debug().Int("attempt", attempt).Msg("Account changed during increment, resolving again")
	}

	return nil, account.Unavailable("increment balance", errors.Errorf("no stable account after %d attempts", upsertAttempts))
}

func (s *Store) DecrementIfSufficient(ctx context.Context, userID string, tag string, amount decimal.Decimal, reference string) (*account.WalletAccount, error) {
	threshold, err := toDecimal128(amount)
	if err != nil {
		return nil, err
	}

	dec, err := toDecimal128(amount.Neg())
	if err != nil {
		return nil, err
	}

	doc, err := s.findDoc(ctx, userID, tag)
	if err != nil {
		return nil, account.Unavailable("decrement balance", err)
	}

	if doc == nil {
		return nil, account.ErrInsufficientBalance
	}

	if doc.applied(reference) {
		return nil, account.ErrReferenceApplied
	}

	filter := bson.M{
		"_id":          doc.ID,
		"balance":      bson.M{"$gte": threshold},
		"applied_refs": bson.M{"$ne": reference},
	}

	update := bson.M{
		"$inc":  bson.M{"balance": dec},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
		"$push": bson.M{"applied_refs": reference},
	}

	a, err := s.findOneAndUpdate(ctx, filter, update, false)
	if err == nil {
		return a, nil
	}

	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, account.Unavailable("decrement balance", err)
	}

	// applied references are never removed, so a second read settles which
	// predicate failed
	doc, err = s.findDoc(ctx, userID, tag)
	if err != nil {
		return nil, account.Unavailable("decrement balance", err)
	}

	if doc != nil && doc.applied(reference) {
		return nil, account.ErrReferenceApplied
	}

	return nil, account.ErrInsufficientBalance
}

func (s *Store) AttachKeyMaterial(ctx context.Context, userID string, tag string, km account.KeyMaterial) (*account.WalletAccount, error) {
	filter := dualKey(userID, tag)
	filter["address"] = ""
	filter["encrypted_private_key.ciphertext"] = ""

	set := bson.M{
		"address":               km.Address,
		"derivation_path":       km.DerivationPath,
		"encrypted_private_key": km.EncryptedPrivateKey,
		"updated_at":            time.Now().UTC(),
	}
	update := bson.M{"$set": set}
	if km.EncryptedMnemonic != nil {
		set["encrypted_mnemonic"] = km.EncryptedMnemonic
	} else {
		update["$unset"] = bson.M{"encrypted_mnemonic": ""}
	}

	a, err := s.findOneAndUpdate(ctx, filter, update, false)
	if err == nil {
		return a, nil
	}

	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, account.Unavailable("attach key material", err)
	}

	if _, err := s.Find(ctx, userID, tag); err != nil {
		return nil, err
	}

	return nil, account.ErrKeyMaterialExists
}

func (s *Store) Delete(ctx context.Context, userID string, tag string) error {
	err := s.accounts.FindOneAndDelete(ctx, dualKey(userID, tag), options.FindOneAndDelete().SetSort(canonicalFirst)).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return account.ErrAccountNotFound
		}

		return account.Unavailable("delete account", err)
	}

	return nil
}

// MigrateLegacyNetwork updates legacy documents one by one so that a legacy
// document shadowed by a canonical one is skipped instead of failing the batch.
func (s *Store) MigrateLegacyNetwork(ctx context.Context) (int64, error) {
	log := util.LogFromContext(ctx)

	cur, err := s.accounts.Find(ctx, bson.M{"network": bson.M{"$exists": false}})
	if err != nil {
		return 0, account.Unavailable("migrate legacy network", err)
	}
	defer cur.Close(ctx)

	var n int64
	for cur.Next(ctx) {
		var doc accountDoc
		if err := cur.Decode(&doc); err != nil {
			return n, account.Unavailable("migrate legacy network", err)
		}

		res, err := s.accounts.UpdateOne(ctx,
			bson.M{"_id": doc.ID, "network": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"network": doc.Currency, "updated_at": time.Now().UTC()}})
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				log.Warn().Str("account_id", doc.ID).Str("user_id", doc.UserID).Str("currency", doc.Currency).
					Msg("Skipping legacy account shadowed by canonical account")
				continue
			}

			return n, account.Unavailable("migrate legacy network", err)
		}

		n += res.ModifiedCount
	}

	if err := cur.Err(); err != nil {
		return n, account.Unavailable("migrate legacy network", err)
	}

	return n, nil
}

func (s *Store) FindByReference(ctx context.Context, reference string) (*account.TransactionRecord, error) {
	var doc transactionDoc

	err := s.transactions.FindOne(ctx, bson.M{"reference": reference}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, account.ErrTransactionNotFound
		}

		return nil, account.Unavailable("find transaction", err)
	}

	return doc.model()
}

func (s *Store) Upsert(ctx context.Context, rec *account.TransactionRecord) (*account.TransactionRecord, error) {
	amount, err := toDecimal128(rec.Amount)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	createdAt := rec.CreatedAt.UTC()
	if rec.CreatedAt.IsZero() {
		createdAt = now
	}

	set := bson.M{
		"status":     string(rec.Status),
		"amount":     amount,
		"currency":   rec.Currency,
		"updated_at": now,
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"_id":        rec.ID.String(),
			"user_id":    rec.UserID,
			"type":       string(rec.Type),
			"created_at": createdAt,
		},
	}
	if rec.Metadata != nil {
		set["metadata"] = rec.Metadata
	} else {
		update["$unset"] = bson.M{"metadata": ""}
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc transactionDoc
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		err = s.transactions.FindOneAndUpdate(ctx, bson.M{"reference": rec.Reference}, update, opts).Decode(&doc)
		if !mongo.IsDuplicateKeyError(err) {
			break
		}
	}

	if err != nil {
		return nil, account.Unavailable("upsert transaction", err)
	}

	return doc.model()
}

func (s *Store) UpdateStatus(ctx context.Context, reference string, to account.TxStatus) (*account.TransactionRecord, error) {
	sources := account.SourcesOf(to)
	from := make(bson.A, 0, len(sources))
	for _, st := range sources {
		from = append(from, string(st))
	}

	filter := bson.M{"reference": reference, "status": bson.M{"$in": from}}
	update := bson.M{"$set": bson.M{"status": string(to), "updated_at": time.Now().UTC()}}

	var doc transactionDoc
	err := s.transactions.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.model()
	}

	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, account.Unavailable("update transaction status", err)
	}

	if _, err := s.FindByReference(ctx, reference); err != nil {
		return nil, err
	}

	return nil, account.ErrInvalidTransition
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]*account.TransactionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "reference", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.transactions.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, account.Unavailable("list transactions", err)
	}
	defer cur.Close(ctx)

	var docs []transactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, account.Unavailable("list transactions", err)
	}

	res := make([]*account.TransactionRecord, 0, len(docs))
	for i := range docs {
		rec, err := docs[i].model()
		if err != nil {
			return nil, err
		}

		res = append(res, rec)
	}

	return res, nil
}

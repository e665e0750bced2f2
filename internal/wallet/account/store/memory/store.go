// Package memory is an in-process account.Store. A single mutex is the atomic
// primitive: every method runs its whole predicate-and-mutation under it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/shopspring/decimal"
)

type Store struct {
	lock         sync.RWMutex
	accounts     []*account.WalletAccount
	transactions map[string]*account.TransactionRecord

	// references already applied to each account's balance
	applied map[*account.WalletAccount]map[string]struct{}
}

func New() *Store {
	return &Store{
		accounts:     []*account.WalletAccount{},
		transactions: map[string]*account.TransactionRecord{},
		applied:      map[*account.WalletAccount]map[string]struct{}{},
	}
}

var _ account.Store = (*Store)(nil)

// Seed inserts accounts verbatim, including legacy records without a network.
func (s *Store) Seed(accounts ...*account.WalletAccount) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, a := range accounts {
		s.accounts = append(s.accounts, a.Clone())
	}
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

// find returns the account matching the dual key. Must hold the lock.
func (s *Store) find(userID string, tag string) *account.WalletAccount {
	for _, a := range s.accounts {
		if a.UserID == userID && a.Network == tag {
			return a
		}
	}

	for _, a := range s.accounts {
		if a.Matches(userID, tag) {
			return a
		}
	}

	return nil
}

func (s *Store) CreateIfAbsent(_ context.Context, defaults *account.WalletAccount) (*account.WalletAccount, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if existing := s.find(defaults.UserID, defaults.Network); existing != nil {
		return existing.Clone(), false, nil
	}

	a := defaults.Clone()
	s.accounts = append(s.accounts, a)

	return a.Clone(), true, nil
}

func (s *Store) Find(_ context.Context, userID string, tag string) (*account.WalletAccount, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	a := s.find(userID, tag)
	if a == nil {
		return nil, account.ErrAccountNotFound
	}

	return a.Clone(), nil
}

func (s *Store) ListAccounts(_ context.Context, userID string) ([]*account.WalletAccount, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	res := []*account.WalletAccount{}
	for _, a := range s.accounts {
		if a.UserID == userID {
			res = append(res, a.Clone())
		}
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Tag() < res[j].Tag() })

	return res, nil
}

// markApplied records reference on a and reports whether it was new. Must
// hold the lock.
func (s *Store) markApplied(a *account.WalletAccount, reference string) bool {
	refs, ok := s.applied[a]
	if !ok {
		refs = map[string]struct{}{}
		s.applied[a] = refs
	}

	if _, seen := refs[reference]; seen {
		return false
	}

	refs[reference] = struct{}{}

	return true
}

func (s *Store) isApplied(a *account.WalletAccount, reference string) bool {
	_, seen := s.applied[a][reference]
	return seen
}

func (s *Store) Increment(_ context.Context, userID string, tag string, amount decimal.Decimal, reference string, defaults *account.WalletAccount) (*account.WalletAccount, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	a := s.find(userID, tag)
	if a == nil {
		a = defaults.Clone()
		s.accounts = append(s.accounts, a)
	}

	if !s.markApplied(a, reference) {
		return nil, account.ErrReferenceApplied
	}

	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = time.Now().UTC()

	return a.Clone(), nil
}

func (s *Store) DecrementIfSufficient(_ context.Context, userID string, tag string, amount decimal.Decimal, reference string) (*account.WalletAccount, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	a := s.find(userID, tag)
	if a == nil {
		return nil, account.ErrInsufficientBalance
	}

	if s.isApplied(a, reference) {
		return nil, account.ErrReferenceApplied
	}

	if a.Balance.LessThan(amount) {
		return nil, account.ErrInsufficientBalance
	}

	s.markApplied(a, reference)
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = time.Now().UTC()

	return a.Clone(), nil
}

func (s *Store) AttachKeyMaterial(_ context.Context, userID string, tag string, km account.KeyMaterial) (*account.WalletAccount, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	a := s.find(userID, tag)
	if a == nil {
		return nil, account.ErrAccountNotFound
	}

	if !a.IsPlaceholder() {
		return nil, account.ErrKeyMaterialExists
	}

	a.Address = km.Address
	a.DerivationPath = km.DerivationPath
	a.EncryptedPrivateKey = km.EncryptedPrivateKey
	a.EncryptedMnemonic = nil
	if km.EncryptedMnemonic != nil {
		m := *km.EncryptedMnemonic
		a.EncryptedMnemonic = &m
	}
	a.UpdatedAt = time.Now().UTC()

	return a.Clone(), nil
}

func (s *Store) Delete(_ context.Context, userID string, tag string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	target := s.find(userID, tag)
	if target == nil {
		return account.ErrAccountNotFound
	}

	for i, a := range s.accounts {
		if a == target {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
			delete(s.applied, target)
			break
		}
	}

	return nil
}

func (s *Store) MigrateLegacyNetwork(context.Context) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var n int64
	for _, a := range s.accounts {
		if a.Network == "" && a.Currency != "" {
			a.Network = a.Currency
			a.UpdatedAt = time.Now().UTC()
			n++
		}
	}

	return n, nil
}

func (s *Store) FindByReference(_ context.Context, reference string) (*account.TransactionRecord, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	rec, ok := s.transactions[reference]
	if !ok {
		return nil, account.ErrTransactionNotFound
	}

	return rec.Clone(), nil
}

func (s *Store) Upsert(_ context.Context, rec *account.TransactionRecord) (*account.TransactionRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := time.Now().UTC()

	existing, ok := s.transactions[rec.Reference]
	if !ok {
		created := rec.Clone()
		created.UpdatedAt = now
		if created.CreatedAt.IsZero() {
			created.CreatedAt = now
		}
		s.transactions[rec.Reference] = created

		return created.Clone(), nil
	}

	updated := rec.Clone()
	existing.Status = updated.Status
	existing.Amount = updated.Amount
	existing.Currency = updated.Currency
	existing.Metadata = updated.Metadata
	existing.UpdatedAt = now

	return existing.Clone(), nil
}

func (s *Store) UpdateStatus(_ context.Context, reference string, to account.TxStatus) (*account.TransactionRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec, ok := s.transactions[reference]
	if !ok {
		return nil, account.ErrTransactionNotFound
	}

	if !account.CanTransition(rec.Status, to) {
		return nil, account.ErrInvalidTransition
	}

	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()

	return rec.Clone(), nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, limit int) ([]*account.TransactionRecord, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	res := []*account.TransactionRecord{}
	for _, rec := range s.transactions {
		if rec.UserID == userID {
			res = append(res, rec.Clone())
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Reference > res[j].Reference
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}

	return res, nil
}

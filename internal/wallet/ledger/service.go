package ledger

import (
	"context"
	"time"

	"github.com/chapool/custody-engine/internal/metrics"
	"github.com/chapool/custody-engine/internal/util"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	opCredit = "credit"
	opDebit  = "debit"
	opSettle = "settle"
)

type service struct {
	accounts     account.AccountStore
	transactions account.TransactionStore
	metrics      *metrics.Collector

	// collapses concurrent calls for the same reference within this process;
	// across processes the store's unique reference and the account's applied
	// references are the guard
	inflight singleflight.Group
}

// NewService creates a new ledger Service. m may be nil.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(accounts account.AccountStore, transactions account.TransactionStore, m *metrics.Collector) Service {
	return &service{
		accounts:     accounts,
		transactions: transactions,
		metrics:      m,
	}
}

// normalize validates e and returns it with a canonical currency tag and the
// chain serving it.
func normalize(e Entry) (Entry, chain.Chain, error) {
	if e.UserID == "" {
		return e, chain.Chain{}, ErrInvalidUser
	}

	if e.Reference == "" {
		return e, chain.Chain{}, ErrInvalidReference
	}

	if !e.Amount.IsPositive() {
		return e, chain.Chain{}, ErrInvalidAmount
	}

	if e.Type != "" && !e.Type.Valid() {
		return e, chain.Chain{}, errors.Wrapf(ErrInvalidType, "type %q", e.Type)
	}

	c, err := chain.ForCurrency(e.Currency)
	if err != nil {
		return e, chain.Chain{}, err
	}

	e.Currency = account.NormalizeTag(e.Currency)

	return e, c, nil
}

// typeOr returns t, or fallback when the entry left it empty.
func typeOr(t account.TxType, fallback account.TxType) account.TxType {
	if t == "" {
		return fallback
	}

	return t
}

// conflicts reports whether rec was written by an entry other than e.
func conflicts(rec *account.TransactionRecord, e Entry, txType account.TxType) bool {
	return rec.UserID != e.UserID || rec.Currency != e.Currency || rec.Type != txType
}

// existing returns the record for e's reference, nil if there is none.
func (s *service) existing(ctx context.Context, e Entry, txType account.TxType) (*account.TransactionRecord, error) {
	rec, err := s.transactions.FindByReference(ctx, e.Reference)
	if err != nil {
		if errors.Is(err, account.ErrTransactionNotFound) {
			return nil, nil //nolint:nilnil // absence is not an error here
		}

		return nil, errors.Wrap(err, "failed to look up reference")
	}

	if conflicts(rec, e, txType) {
		return nil, errors.Wrapf(ErrReferenceConflict, "reference %q is a %s of %s for %s", e.Reference, rec.Type, rec.Currency, rec.UserID)
	}

	return rec, nil
}

func (s *service) replay(ctx context.Context, e Entry, rec *account.TransactionRecord) (*Result, error) {
	acc, err := s.accounts.Find(ctx, e.UserID, e.Currency)
	if err != nil && !errors.Is(err, account.ErrAccountNotFound) {
		return nil, errors.Wrap(err, "failed to load account")
	}

	return &Result{Account: acc, Transaction: rec, Replayed: true}, nil
}

// do runs fn once per reference within this process. Callers joining a
// flight started by another entry get ErrReferenceConflict unless that entry
// matches theirs, and a matching joiner sees the outcome as a replay.
func (s *service) do(ctx context.Context, op string, e Entry, txType account.TxType, fn func(context.Context, Entry) (*Result, error)) (*Result, error) {
	led := false
	v, err, _ := s.inflight.Do(e.Reference, func() (any, error) {
		led = true
		// followers share this call, so the leader's cancellation must not end it
		return fn(context.WithoutCancel(ctx), e)
	})

	if err == nil && !led {
		res, _ := v.(*Result)
		if conflicts(res.Transaction, e, txType) {
			err = errors.Wrapf(ErrReferenceConflict, "reference %q is in flight for another entry", e.Reference)
		} else {
			res = res.clone()
			res.Replayed = true
			v = res
		}
	}

	switch {
	case err == nil:
		res, _ := v.(*Result)
		result := metrics.ResultOK
		if res.Replayed {
			result = metrics.ResultReplayed
		}
		s.metrics.LedgerOp(op, result)

		return res.clone(), nil
	case errors.Is(err, account.ErrInsufficientBalance):
		s.metrics.LedgerOp(op, metrics.ResultInsufficient)
	default:
		s.metrics.LedgerOp(op, metrics.ResultError)
	}

	return nil, err
}

func (s *service) Credit(ctx context.Context, entry Entry) (*Result, error) {
	e, c, err := normalize(entry)
	if err != nil {
		return nil, err
	}

	txType := typeOr(e.Type, account.TxDeposit)

	return s.do(ctx, opCredit, e, txType, func(ctx context.Context, e Entry) (*Result, error) {
		return s.credit(ctx, e, txType, c)
	})
}

func (s *service) credit(ctx context.Context, e Entry, txType account.TxType, c chain.Chain) (*Result, error) {
	log := util.LogFromContext(ctx).With().
		Str("user_id", e.UserID).
		Str("currency", e.Currency).
		Str("reference", e.Reference).
		Logger()

	rec, err := s.existing(ctx, e, txType)
	if err != nil {
		return nil, err
	}

	if rec != nil {
		if rec.Status == account.StatusCompleted {
			log.Debug().Msg("Credit reference already completed")
			return s.replay(ctx, e, rec)
		}

		// pending/confirming deposits are completed by their credit
		if !account.CanTransition(rec.Status, account.StatusCompleted) {
			return nil, errors.Wrapf(account.ErrInvalidTransition, "credit reference %q is %s", e.Reference, rec.Status)
		}
	}

	// balance first, record second; the store remembers the reference, so a
	// retry after a crash in between only re-creates the record
	acc, err := s.accounts.Increment(ctx, e.UserID, e.Currency, e.Amount, e.Reference, account.NewPlaceholder(e.UserID, e.Currency, c.Name))
	switch {
	case errors.Is(err, account.ErrReferenceApplied):
		log.Warn().Msg("Balance already credited for reference, writing missing record")

		acc, err = s.accounts.Find(ctx, e.UserID, e.Currency)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load account")
		}
	case err != nil:
		log.Error().Err(err).Msg("Failed to increment balance")
		return nil, errors.Wrap(err, "failed to increment balance")
	}

	rec, err = s.transactions.Upsert(ctx, newRecord(e, txType, account.StatusCompleted))
	if err != nil {
		log.Error().Err(err).Msg("Balance credited but transaction record not written")
		return nil, errors.Wrap(err, "failed to record credit")
	}

	log.Info().Str("amount", e.Amount.String()).Str("balance", acc.Balance.String()).Msg("Credited account")

	return &Result{Account: acc, Transaction: rec}, nil
}

func (s *service) Debit(ctx context.Context, entry Entry) (*Result, error) {
	e, _, err := normalize(entry)
	if err != nil {
		return nil, err
	}

	txType := typeOr(e.Type, account.TxWithdrawal)

	return s.do(ctx, opDebit, e, txType, func(ctx context.Context, e Entry) (*Result, error) {
		return s.debit(ctx, e, txType)
	})
}

func (s *service) debit(ctx context.Context, e Entry, txType account.TxType) (*Result, error) {
	log := util.LogFromContext(ctx).With().
		Str("user_id", e.UserID).
		Str("currency", e.Currency).
		Str("reference", e.Reference).
		Logger()

	rec, err := s.existing(ctx, e, txType)
	if err != nil {
		return nil, err
	}

	// a record of the same type means the decrement already happened
	if rec != nil {
		log.Debug().Str("status", string(rec.Status)).Msg("Debit reference already recorded")
		return s.replay(ctx, e, rec)
	}

	acc, err := s.accounts.DecrementIfSufficient(ctx, e.UserID, e.Currency, e.Amount, e.Reference)
	switch {
	case errors.Is(err, account.ErrReferenceApplied):
		log.Warn().Msg("Balance already debited for reference, writing missing record")

		acc, err = s.accounts.Find(ctx, e.UserID, e.Currency)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load account")
		}
	case errors.Is(err, account.ErrInsufficientBalance):
		log.Info().Str("amount", e.Amount.String()).Msg("Debit rejected, insufficient balance")
		return nil, err
	case err != nil:
		log.Error().Err(err).Msg("Failed to decrement balance")
		return nil, errors.Wrap(err, "failed to decrement balance")
	}

	rec, err = s.transactions.Upsert(ctx, newRecord(e, txType, account.StatusPending))
	if err != nil {
		log.Error().Err(err).Msg("Balance debited but transaction record not written")
		return nil, errors.Wrap(err, "failed to record debit")
	}

	log.Info().Str("amount", e.Amount.String()).Str("balance", acc.Balance.String()).Msg("Debited account")

	return &Result{Account: acc, Transaction: rec}, nil
}

func newRecord(e Entry, txType account.TxType, status account.TxStatus) *account.TransactionRecord {
	now := time.Now().UTC()

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &account.TransactionRecord{
		ID:        uuid.New(),
		UserID:    e.UserID,
		Type:      txType,
		Status:    status,
		Amount:    e.Amount,
		Currency:  e.Currency,
		Reference: e.Reference,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Settle never touches balances; a refund for a failed withdrawal is a
// separate credit with its own reference.
func (s *service) Settle(ctx context.Context, reference string, status account.TxStatus) (*account.TransactionRecord, error) {
	if reference == "" {
		return nil, ErrInvalidReference
	}

	if !status.Valid() {
		return nil, errors.Wrapf(account.ErrInvalidTransition, "unknown status %q", status)
	}

	rec, err := s.transactions.FindByReference(ctx, reference)
	if err != nil {
		s.metrics.LedgerOp(opSettle, metrics.ResultError)
		return nil, errors.Wrap(err, "failed to look up reference")
	}

	if rec.Status == status {
		s.metrics.LedgerOp(opSettle, metrics.ResultReplayed)
		return rec, nil
	}

	updated, err := s.transactions.UpdateStatus(ctx, reference, status)
	if err != nil {
		s.metrics.LedgerOp(opSettle, metrics.ResultError)
		return nil, errors.Wrapf(err, "failed to settle %s -> %s", rec.Status, status)
	}

	s.metrics.LedgerOp(opSettle, metrics.ResultOK)

	util.LogFromContext(ctx).Info().
		Str("reference", reference).
		Str("from", string(rec.Status)).
		Str("to", string(status)).
		Msg("Settled transaction")

	return updated, nil
}

func (s *service) Balance(ctx context.Context, userID string, currency string) (decimal.Decimal, error) {
	if _, err := chain.ForCurrency(currency); err != nil {
		return decimal.Zero, err
	}

	acc, err := s.accounts.Find(ctx, userID, account.NormalizeTag(currency))
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return decimal.Zero, nil
		}

		return decimal.Zero, errors.Wrap(err, "failed to load balance")
	}

	return acc.Balance, nil
}

func (s *service) History(ctx context.Context, userID string, limit int) ([]*account.TransactionRecord, error) {
	recs, err := s.transactions.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transactions")
	}

	return recs, nil
}

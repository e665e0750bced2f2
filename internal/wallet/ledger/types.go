package ledger

import (
	"context"

	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrInvalidReference = errors.New("reference must not be empty")
	ErrInvalidUser      = errors.New("user id must not be empty")
	ErrInvalidType      = errors.New("unknown transaction type")
	// ErrReferenceConflict is returned when a reference is reused by an entry
	// with a different user, currency or transaction type than the one it was
	// recorded for.
	ErrReferenceConflict = errors.New("reference already used by a different entry")
)

// Entry describes one balance mutation.
type Entry struct {
	UserID    string
	Currency  string
	Amount    decimal.Decimal
	Reference string
	Metadata  map[string]any

	// Type overrides deposit (credit) or withdrawal (debit). A replay must
	// carry the type the reference was recorded with.
	Type account.TxType
}

// Result is the state after a ledger operation. Replayed is set when the
// reference had already been applied and nothing changed.
type Result struct {
	Account     *account.WalletAccount
	Transaction *account.TransactionRecord
	Replayed    bool
}

func (r *Result) clone() *Result {
	c := &Result{Replayed: r.Replayed}
	if r.Account != nil {
		c.Account = r.Account.Clone()
	}
	if r.Transaction != nil {
		c.Transaction = r.Transaction.Clone()
	}

	return c
}

// Service provides balance mutations keyed by idempotency reference
type Service interface {
	// Credit increments the balance, creating a placeholder account on first credit
	Credit(ctx context.Context, entry Entry) (*Result, error)

	// Debit decrements the balance only if it covers the amount
	Debit(ctx context.Context, entry Entry) (*Result, error)

	// Settle moves a transaction to a later status (e.g. pending -> completed)
	Settle(ctx context.Context, reference string, status account.TxStatus) (*account.TransactionRecord, error)

	// Balance reads the current balance; a missing account has balance zero
	Balance(ctx context.Context, userID string, currency string) (decimal.Decimal, error)

	// History lists the user's transactions, newest first
	History(ctx context.Context, userID string, limit int) ([]*account.TransactionRecord, error)
}

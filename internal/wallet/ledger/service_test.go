package ledger_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/chapool/custody-engine/internal/metrics"
	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/account/store/memory"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/chapool/custody-engine/internal/wallet/ledger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) (ledger.Service, *memory.Store) {
	t.Helper()

	store := memory.New()

	return ledger.NewService(store, store, nil), store
}

func entry(user string, currency string, amount int64, ref string) ledger.Entry {
	return ledger.Entry{
		UserID:    user,
		Currency:  currency,
		Amount:    decimal.NewFromInt(amount),
		Reference: ref,
		Metadata:  map[string]any{"source": "test"},
	}
}

func requireBalance(t *testing.T, svc ledger.Service, user string, currency string, want string) {
	t.Helper()

	got, err := svc.Balance(context.Background(), user, currency)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString(want).Equal(got), "balance: want %s, got %s", want, got)
}

func TestCreditIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(t)

	e := ledger.Entry{UserID: "u1", Currency: "USDT", Amount: decimal.RequireFromString("1.0"), Reference: "REF1", Metadata: map[string]any{}}

	first, err := svc.Credit(ctx, e)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, account.StatusCompleted, first.Transaction.Status)
	assert.Equal(t, account.TxDeposit, first.Transaction.Type)

	second, err := svc.Credit(ctx, e)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	requireBalance(t, svc, "u1", "USDT", "1")

	recs, err := store.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "REF1", recs[0].Reference)
}

func TestUpsertOnFirstCredit(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(t)

	res, err := svc.Credit(ctx, entry("u1", "sol", 3, "dep-1"))
	require.NoError(t, err)
	assert.True(t, res.Account.IsPlaceholder())
	assert.Equal(t, "SOL", res.Account.Network)
	assert.Equal(t, chain.Solana, res.Account.Chain)
	assert.Empty(t, res.Account.Address)
	assert.True(t, res.Account.EncryptedPrivateKey.IsZero())
	assert.Nil(t, res.Account.EncryptedMnemonic)

	accounts, err := store.ListAccounts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.True(t, decimal.NewFromInt(3).Equal(accounts[0].Balance))
}

func TestDebitInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(t)

	_, err := svc.Credit(ctx, entry("u1", "ETH", 5, "dep-1"))
	require.NoError(t, err)

	_, err = svc.Debit(ctx, entry("u1", "ETH", 10, "REF2"))
	require.ErrorIs(t, err, account.ErrInsufficientBalance)

	requireBalance(t, svc, "u1", "ETH", "5")

	_, err = store.FindByReference(ctx, "REF2")
	require.ErrorIs(t, err, account.ErrTransactionNotFound)

	// no account at all
	_, err = svc.Debit(ctx, entry("u2", "ETH", 1, "REF3"))
	require.ErrorIs(t, err, account.ErrInsufficientBalance)
}

func TestDebitIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)

	_, err := svc.Credit(ctx, entry("u1", "BTC", 10, "dep-1"))
	require.NoError(t, err)

	first, err := svc.Debit(ctx, entry("u1", "BTC", 4, "wd-1"))
	require.NoError(t, err)
	assert.Equal(t, account.StatusPending, first.Transaction.Status)
	assert.Equal(t, account.TxWithdrawal, first.Transaction.Type)

	second, err := svc.Debit(ctx, entry("u1", "BTC", 4, "wd-1"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)

	requireBalance(t, svc, "u1", "BTC", "6")
}

func TestConcurrentDebitRace(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		svc, _ := newLedger(t)
		user := fmt.Sprintf("u-%d", round)

		_, err := svc.Credit(ctx, entry(user, "XRP", 10, "dep-"+user))
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)

		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = svc.Debit(ctx, entry(user, "XRP", 6, fmt.Sprintf("wd-%s-%d", user, i)))
			}(i)
		}
		close(start)
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			require.ErrorIs(t, err, account.ErrInsufficientBalance)
		}

		assert.Equal(t, 1, ok)
		requireBalance(t, svc, user, "XRP", "4")
	}
}

func TestConcurrentSameReferenceCreditsOnce(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, entry("u1", "TRX", 1, "same-ref"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	requireBalance(t, svc, "u1", "TRX", "1")

	recs, err := store.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCreditCompletesPendingDeposit(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(t)

	_, err := store.Upsert(ctx, &account.TransactionRecord{
		UserID:    "u1",
		Type:      account.TxDeposit,
		Status:    account.StatusConfirming,
		Amount:    decimal.NewFromInt(2),
		Currency:  "ETH",
		Reference: "0xdeadbeef",
	})
	require.NoError(t, err)

	res, err := svc.Credit(ctx, entry("u1", "ETH", 2, "0xdeadbeef"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, account.StatusCompleted, res.Transaction.Status)
	assert.Equal(t, account.TxDeposit, res.Transaction.Type)

	requireBalance(t, svc, "u1", "ETH", "2")
}

func TestCreditRejectsFailedReference(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(t)

	_, err := store.Upsert(ctx, &account.TransactionRecord{
		UserID:    "u1",
		Type:      account.TxDeposit,
		Status:    account.StatusFailed,
		Amount:    decimal.NewFromInt(2),
		Currency:  "ETH",
		Reference: "failed-dep",
	})
	require.NoError(t, err)

	_, err = svc.Credit(ctx, entry("u1", "ETH", 2, "failed-dep"))
	require.ErrorIs(t, err, account.ErrInvalidTransition)

	requireBalance(t, svc, "u1", "ETH", "0")
}

func TestReferenceConflict(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)

	_, err := svc.Credit(ctx, entry("u1", "ETH", 2, "ref-x"))
	require.NoError(t, err)

	_, err = svc.Debit(ctx, entry("u2", "ETH", 1, "ref-x"))
	require.ErrorIs(t, err, ledger.ErrReferenceConflict)

	_, err = svc.Credit(ctx, entry("u1", "BTC", 1, "ref-x"))
	require.ErrorIs(t, err, ledger.ErrReferenceConflict)
}

func TestCreditRejectsPendingWithdrawalReference(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(t)

	_, err := svc.Credit(ctx, entry("u1", "BTC", 10, "dep"))
	require.NoError(t, err)
	_, err = svc.Debit(ctx, entry("u1", "BTC", 6, "wd-1"))
	require.NoError(t, err)

	_, err = svc.Credit(ctx, entry("u1", "BTC", 100, "wd-1"))
	require.ErrorIs(t, err, ledger.ErrReferenceConflict)

	requireBalance(t, svc, "u1", "BTC", "4")

	rec, err := store.FindByReference(ctx, "wd-1")
	require.NoError(t, err)
	assert.Equal(t, account.TxWithdrawal, rec.Type)
	assert.Equal(t, account.StatusPending, rec.Status)
	assert.True(t, decimal.NewFromInt(6).Equal(rec.Amount))
}

func TestDebitRejectsDepositReference(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(t)

	_, err := svc.Credit(ctx, entry("u1", "BTC", 10, "dep"))
	require.NoError(t, err)

	_, err = svc.Debit(ctx, entry("u1", "BTC", 3, "dep"))
	require.ErrorIs(t, err, ledger.ErrReferenceConflict)

	requireBalance(t, svc, "u1", "BTC", "10")

	rec, err := store.FindByReference(ctx, "dep")
	require.NoError(t, err)
	assert.Equal(t, account.TxDeposit, rec.Type)
	assert.Equal(t, account.StatusCompleted, rec.Status)
}

func TestReplayWithAnotherTypeConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)

	e := entry("u1", "SOL", 5, "yield-1")
	e.Type = account.TxYield
	_, err := svc.Credit(ctx, e)
	require.NoError(t, err)

	// plain credit defaults to deposit
	_, err = svc.Credit(ctx, entry("u1", "SOL", 5, "yield-1"))
	require.ErrorIs(t, err, ledger.ErrReferenceConflict)

	res, err := svc.Credit(ctx, e)
	require.NoError(t, err)
	assert.True(t, res.Replayed)

	requireBalance(t, svc, "u1", "SOL", "5")
}

// gatedTransactions holds the first FindByReference until release is closed
// and then honours the caller's context.
type gatedTransactions struct {
	*memory.Store

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedTransactions(store *memory.Store) *gatedTransactions {
	return &gatedTransactions{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedTransactions) FindByReference(ctx context.Context, reference string) (*account.TransactionRecord, error) {
	first := false
	g.once.Do(func() { first = true })

	if first {
		close(g.entered)
		<-g.release
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return g.Store.FindByReference(ctx, reference)
}

func TestConcurrentReferenceFromAnotherUser(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gated := newGatedTransactions(store)
	svc := ledger.NewService(store, gated, nil)

	var (
		wg       sync.WaitGroup
		aliceRes *ledger.Result
		aliceErr error
		bobErr   error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		aliceRes, aliceErr = svc.Credit(ctx, entry("alice", "ETH", 5, "shared-ref"))
	}()
	<-gated.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, bobErr = svc.Credit(ctx, entry("bob", "ETH", 100, "shared-ref"))
	}()

	// give bob time to join alice's call
	time.Sleep(50 * time.Millisecond)
	close(gated.release)
	wg.Wait()

	require.NoError(t, aliceErr)
	assert.Equal(t, "alice", aliceRes.Account.UserID)
	assert.False(t, aliceRes.Replayed)

	require.ErrorIs(t, bobErr, ledger.ErrReferenceConflict)

	requireBalance(t, svc, "alice", "ETH", "5")
	requireBalance(t, svc, "bob", "ETH", "0")
}

func TestCancelledCallerDoesNotFailSharedCredit(t *testing.T) {
	store := memory.New()
	gated := newGatedTransactions(store)
	svc := ledger.NewService(store, gated, nil)

	leaderCtx, cancel := context.WithCancel(context.Background())

	var (
		wg        sync.WaitGroup
		leaderErr error
		follower  *ledger.Result
		followErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, leaderErr = svc.Credit(leaderCtx, entry("u1", "TRX", 7, "tx-1"))
	}()
	<-gated.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		follower, followErr = svc.Credit(context.Background(), entry("u1", "TRX", 7, "tx-1"))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	close(gated.release)
	wg.Wait()

	require.NoError(t, leaderErr)
	require.NoError(t, followErr)
	assert.True(t, follower.Replayed)

	requireBalance(t, svc, "u1", "TRX", "7")
}

// flakyTransactions fails the next fail Upserts after the balance moved.
type flakyTransactions struct {
	*memory.Store

	fail int
}

func (f *flakyTransactions) Upsert(ctx context.Context, rec *account.TransactionRecord) (*account.TransactionRecord, error) {
	if f.fail > 0 {
		f.fail--
		return nil, account.Unavailable("upsert transaction", &net.OpError{Op: "write", Err: net.UnknownNetworkError("tcp")})
	}

	return f.Store.Upsert(ctx, rec)
}

func TestRetryAfterLostRecordAppliesOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	flaky := &flakyTransactions{Store: store}
	svc := ledger.NewService(store, flaky, nil)

	flaky.fail = 1
	_, err := svc.Credit(ctx, entry("u1", "ETH", 10, "dep-1"))
	require.ErrorIs(t, err, account.ErrStoreUnavailable)
	requireBalance(t, svc, "u1", "ETH", "10")

	res, err := svc.Credit(ctx, entry("u1", "ETH", 10, "dep-1"))
	require.NoError(t, err)
	assert.Equal(t, account.StatusCompleted, res.Transaction.Status)
	requireBalance(t, svc, "u1", "ETH", "10")

	flaky.fail = 1
	_, err = svc.Debit(ctx, entry("u1", "ETH", 4, "wd-1"))
	require.ErrorIs(t, err, account.ErrStoreUnavailable)
	requireBalance(t, svc, "u1", "ETH", "6")

	res, err = svc.Debit(ctx, entry("u1", "ETH", 4, "wd-1"))
	require.NoError(t, err)
	assert.Equal(t, account.StatusPending, res.Transaction.Status)
	assert.Equal(t, account.TxWithdrawal, res.Transaction.Type)
	requireBalance(t, svc, "u1", "ETH", "6")

	recs, err := store.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)

	_, err := svc.Credit(ctx, entry("u1", "USDC", 10, "dep"))
	require.NoError(t, err)
	_, err = svc.Debit(ctx, entry("u1", "USDC", 3, "wd"))
	require.NoError(t, err)

	rec, err := svc.Settle(ctx, "wd", account.StatusConfirming)
	require.NoError(t, err)
	assert.Equal(t, account.StatusConfirming, rec.Status)

	rec, err = svc.Settle(ctx, "wd", account.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, account.StatusCompleted, rec.Status)

	// repeating the same settlement is a no-op
	_, err = svc.Settle(ctx, "wd", account.StatusCompleted)
	require.NoError(t, err)

	_, err = svc.Settle(ctx, "wd", account.StatusPending)
	require.ErrorIs(t, err, account.ErrInvalidTransition)

	_, err = svc.Settle(ctx, "wd", account.StatusFailed)
	require.ErrorIs(t, err, account.ErrInvalidTransition)

	_, err = svc.Settle(ctx, "missing", account.StatusCompleted)
	require.ErrorIs(t, err, account.ErrTransactionNotFound)

	_, err = svc.Settle(ctx, "wd", account.TxStatus("done"))
	require.ErrorIs(t, err, account.ErrInvalidTransition)

	// the replayed debit after completion is still a no-op
	res, err := svc.Debit(ctx, entry("u1", "USDC", 3, "wd"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)

	requireBalance(t, svc, "u1", "USDC", "7")
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)

	_, err := svc.Credit(ctx, entry("u1", "ETH", 0, "r"))
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Debit(ctx, entry("u1", "ETH", -1, "r"))
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Credit(ctx, entry("u1", "ETH", 1, ""))
	require.ErrorIs(t, err, ledger.ErrInvalidReference)

	_, err = svc.Credit(ctx, entry("", "ETH", 1, "r"))
	require.ErrorIs(t, err, ledger.ErrInvalidUser)

	_, err = svc.Credit(ctx, entry("u1", "DOGE", 1, "r"))
	require.ErrorIs(t, err, chain.ErrUnknownCurrency)

	e := entry("u1", "ETH", 1, "r")
	e.Type = "refund"
	_, err = svc.Credit(ctx, e)
	require.ErrorIs(t, err, ledger.ErrInvalidType)

	_, err = svc.Balance(ctx, "u1", "DOGE")
	require.ErrorIs(t, err, chain.ErrUnknownCurrency)
}

func TestCustomTypeOnFirstCreation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)

	e := entry("u1", "SOL", 5, "yield-1")
	e.Type = account.TxYield
	res, err := svc.Credit(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, account.TxYield, res.Transaction.Type)

	s := entry("u1", "SOL", 2, "stake-1")
	s.Type = account.TxStake
	res, err = svc.Debit(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, account.TxStake, res.Transaction.Type)
	assert.Equal(t, account.StatusPending, res.Transaction.Status)

	history, err := svc.History(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestLegacyAccountIsCredited(t *testing.T) {
	ctx := context.Background()
	svc, store := newLedger(t)

	legacy := account.NewPlaceholder("u1", "", chain.Ethereum)
	legacy.Currency = "USDT"
	legacy.Address = "0xlegacy"
	legacy.Balance = decimal.NewFromInt(4)
	store.Seed(legacy)

	res, err := svc.Credit(ctx, entry("u1", "USDT", 1, "dep"))
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, res.Account.ID)
	assert.Empty(t, res.Account.Network)

	requireBalance(t, svc, "u1", "USDT", "5")

	accounts, err := store.ListAccounts(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := metrics.New("test")
	svc := ledger.NewService(store, store, m)

	_, err := svc.Credit(ctx, entry("u1", "ETH", 1, "a"))
	require.NoError(t, err)
	_, err = svc.Credit(ctx, entry("u1", "ETH", 1, "a"))
	require.NoError(t, err)
	_, err = svc.Debit(ctx, entry("u1", "ETH", 5, "b"))
	require.ErrorIs(t, err, account.ErrInsufficientBalance)

	// credit/ok, credit/replayed, debit/insufficient
	n, err := testutil.GatherAndCount(m.Registry(), "test_ledger_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type unavailableStore struct {
	*memory.Store
}

func (unavailableStore) Increment(context.Context, string, string, decimal.Decimal, string, *account.WalletAccount) (*account.WalletAccount, error) {
	return nil, account.Unavailable("increment balance", &net.OpError{Op: "dial", Err: net.UnknownNetworkError("tcp")})
}

func TestStoreUnavailableIsRetryable(t *testing.T) {
	store := unavailableStore{memory.New()}
	svc := ledger.NewService(store, store, nil)

	_, err := svc.Credit(context.Background(), entry("u1", "ETH", 1, "r"))
	require.ErrorIs(t, err, account.ErrStoreUnavailable)

	var opErr *net.OpError
	require.ErrorAs(t, err, &opErr)
}

// Package storetest holds the conformance suite every account.Store backend runs.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chapool/custody-engine/internal/wallet/account"
	"github.com/chapool/custody-engine/internal/wallet/chain"
	"github.com/chapool/custody-engine/internal/wallet/keystore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness adapts a backend to the suite.
type Harness struct {
	// New returns a ready store. Stores may be shared between subtests; the
	// suite isolates itself with random user ids and references.
	New func(t *testing.T) account.Store

	// SeedLegacy inserts a record verbatim, including one without a network.
	SeedLegacy func(t *testing.T, s account.Store, a *account.WalletAccount)
}

// Run executes every conformance test against h.
func Run(t *testing.T, h Harness) {
	t.Helper()

	tests := map[string]func(t *testing.T, h Harness){
		"CreateIfAbsent":                 testCreateIfAbsent,
		"CreateIfAbsentConcurrent":       testCreateIfAbsentConcurrent,
		"FindNotFound":                   testFindNotFound,
		"IncrementUpsert":                testIncrementUpsert,
		"IncrementConcurrent":            testIncrementConcurrent,
		"DecrementInsufficient":          testDecrementInsufficient,
		"DecrementRace":                  testDecrementRace,
		"DecrementDrain":                 testDecrementDrain,
		"IncrementReferenceApplied":      testIncrementReferenceApplied,
		"DecrementReferenceApplied":      testDecrementReferenceApplied,
		"ReferenceAppliedConcurrent":     testReferenceAppliedConcurrent,
		"AttachKeyMaterial":              testAttachKeyMaterial,
		"DualKeyLegacy":                  testDualKeyLegacy,
		"ListAccountsAndDelete":          testListAccountsAndDelete,
		"TransactionUpsert":              testTransactionUpsert,
		"TransactionStatusTransitions":   testTransactionStatusTransitions,
		"TransactionListNewestFirst":     testTransactionList,
		"TransactionConcurrentUpsert":    testTransactionConcurrentUpsert,
		"PingAndDecimalPrecisionBalance": testPingAndPrecision,
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, h)
		})
	}
}

func newUser() string {
	return "user-" + uuid.NewString()
}

func newRef() string {
	return "ref-" + uuid.NewString()
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()

	d, err := decimal.NewFromString(s)
	require.NoError(t, err)

	return d
}

// AssertBalance compares decimals by value, ignoring scale.
func AssertBalance(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()

	w, err := decimal.NewFromString(want)
	require.NoError(t, err)
	assert.True(t, w.Equal(got), "balance: want %s, got %s", w, got)
}

func sealed(tag string) keystore.Sealed {
	return keystore.Sealed{Ciphertext: "c0ffee" + tag, IV: "000102030405060708090a0b", AuthTag: "00112233445566778899aabbccddeeff"}
}

func keyed(userID string, network string) *account.WalletAccount {
	a := account.NewPlaceholder(userID, network, chain.Ethereum)
	a.Address = "0xaddr-" + network
	a.DerivationPath = "m/44'/60'/0'/0/0"
	a.EncryptedPrivateKey = sealed(network)

	return a
}

func testCreateIfAbsent(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	first := keyed(user, "ETH")
	m := sealed("mnemonic")
	first.EncryptedMnemonic = &m

	got, created, err := s.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.Address, got.Address)
	require.NotNil(t, got.EncryptedMnemonic)
	assert.Equal(t, m, *got.EncryptedMnemonic)

	second := keyed(user, "ETH")
	second.Address = "0xother"
	second.EncryptedPrivateKey = sealed("other")

	got, created, err = s.CreateIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.Address, got.Address)
	assert.Equal(t, first.EncryptedPrivateKey, got.EncryptedPrivateKey)
	assert.Equal(t, account.KindUser, got.Kind)
	assert.Equal(t, chain.Ethereum, got.Chain)
	assert.Equal(t, "0", got.LastCheckedBlock)
}

func testCreateIfAbsentConcurrent(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[uuid.UUID]struct{}{}
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			a, ok, err := s.CreateIfAbsent(ctx, keyed(user, "BTC"))
			assert.NoError(t, err)
			if err != nil {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[a.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)

	list, err := s.ListAccounts(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testFindNotFound(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)

	_, err := s.Find(ctx, newUser(), "ETH")
	require.ErrorIs(t, err, account.ErrAccountNotFound)

	_, err = s.FindByReference(ctx, newRef())
	require.ErrorIs(t, err, account.ErrTransactionNotFound)

	err = s.Delete(ctx, newUser(), "ETH")
	require.ErrorIs(t, err, account.ErrAccountNotFound)
}

func testIncrementUpsert(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	a, err := s.Increment(ctx, user, "SOL", dec(t, "1.5"), newRef(), account.NewPlaceholder(user, "SOL", chain.Solana))
	require.NoError(t, err)
	AssertBalance(t, "1.5", a.Balance)
	assert.True(t, a.IsPlaceholder())
	assert.Equal(t, chain.Solana, a.Chain)

	b, err := s.Increment(ctx, user, "SOL", dec(t, "0.25"), newRef(), account.NewPlaceholder(user, "SOL", chain.Solana))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	AssertBalance(t, "1.75", b.Balance)

	found, err := s.Find(ctx, user, "SOL")
	require.NoError(t, err)
	AssertBalance(t, "1.75", found.Balance)
}

func testIncrementConcurrent(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, user, "TRX", decimal.NewFromInt(2), newRef(), account.NewPlaceholder(user, "TRX", chain.Tron))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, err := s.Find(ctx, user, "TRX")
	require.NoError(t, err)
	AssertBalance(t, "50", a.Balance)

	list, err := s.ListAccounts(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testDecrementInsufficient(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	_, err := s.DecrementIfSufficient(ctx, user, "XRP", decimal.NewFromInt(1), newRef())
	require.ErrorIs(t, err, account.ErrInsufficientBalance)

	_, err = s.Increment(ctx, user, "XRP", decimal.NewFromInt(5), newRef(), account.NewPlaceholder(user, "XRP", chain.Ripple))
	require.NoError(t, err)

	_, err = s.DecrementIfSufficient(ctx, user, "XRP", decimal.NewFromInt(10), newRef())
	require.ErrorIs(t, err, account.ErrInsufficientBalance)

	a, err := s.Find(ctx, user, "XRP")
	require.NoError(t, err)
	AssertBalance(t, "5", a.Balance)

	a, err = s.DecrementIfSufficient(ctx, user, "XRP", decimal.NewFromInt(5), newRef())
	require.NoError(t, err)
	AssertBalance(t, "0", a.Balance)
}

func testDecrementRace(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	_, err := s.Increment(ctx, user, "ETH", decimal.NewFromInt(10), newRef(), account.NewPlaceholder(user, "ETH", chain.Ethereum))
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
			_, errs[i] = s.DecrementIfSufficient(ctx, user, "ETH", decimal.NewFromInt(6), newRef())
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, account.ErrInsufficientBalance):
			insufficient++
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	a, err := s.Find(ctx, user, "ETH")
	require.NoError(t, err)
	AssertBalance(t, "4", a.Balance)
}

func testDecrementDrain(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	_, err := s.Increment(ctx, user, "USDC", decimal.NewFromInt(10), newRef(), account.NewPlaceholder(user, "USDC", chain.Ethereum))
	require.NoError(t, err)

	const workers = 30
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DecrementIfSufficient(ctx, user, "USDC", decimal.NewFromInt(1), newRef())
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, account.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)

	a, err := s.Find(ctx, user, "USDC")
	require.NoError(t, err)
	AssertBalance(t, "0", a.Balance)
}

func testIncrementReferenceApplied(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()
	ref := newRef()

	a, err := s.Increment(ctx, user, "BTC", decimal.NewFromInt(4), ref, account.NewPlaceholder(user, "BTC", chain.Bitcoin))
	require.NoError(t, err)
	AssertBalance(t, "4", a.Balance)

	_, err = s.Increment(ctx, user, "BTC", decimal.NewFromInt(4), ref, account.NewPlaceholder(user, "BTC", chain.Bitcoin))
	require.ErrorIs(t, err, account.ErrReferenceApplied)

	a, err = s.Find(ctx, user, "BTC")
	require.NoError(t, err)
	AssertBalance(t, "4", a.Balance)

	// the same reference on another account is independent
	_, err = s.Increment(ctx, user, "ETH", decimal.NewFromInt(1), ref, account.NewPlaceholder(user, "ETH", chain.Ethereum))
	require.NoError(t, err)

	list, err := s.ListAccounts(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testDecrementReferenceApplied(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()
	ref := newRef()

	_, err := s.Increment(ctx, user, "XRP", decimal.NewFromInt(10), newRef(), account.NewPlaceholder(user, "XRP", chain.Ripple))
	require.NoError(t, err)

	a, err := s.DecrementIfSufficient(ctx, user, "XRP", decimal.NewFromInt(3), ref)
	require.NoError(t, err)
	AssertBalance(t, "7", a.Balance)

	_, err = s.DecrementIfSufficient(ctx, user, "XRP", decimal.NewFromInt(3), ref)
	require.ErrorIs(t, err, account.ErrReferenceApplied)

	// an applied reference wins over an insufficient balance
	_, err = s.DecrementIfSufficient(ctx, user, "XRP", decimal.NewFromInt(100), ref)
	require.ErrorIs(t, err, account.ErrReferenceApplied)

	a, err = s.Find(ctx, user, "XRP")
	require.NoError(t, err)
	AssertBalance(t, "7", a.Balance)
}

func testReferenceAppliedConcurrent(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()
	ref := newRef()

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, user, "SOL", decimal.NewFromInt(5), ref, account.NewPlaceholder(user, "SOL", chain.Solana))
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, account.ErrReferenceApplied)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)

	a, err := s.Find(ctx, user, "SOL")
	require.NoError(t, err)
	AssertBalance(t, "5", a.Balance)
}

func testAttachKeyMaterial(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	_, err := s.AttachKeyMaterial(ctx, user, "BTC", account.KeyMaterial{Address: "1abc"})
	require.ErrorIs(t, err, account.ErrAccountNotFound)

	_, err = s.Increment(ctx, user, "BTC", decimal.NewFromInt(3), newRef(), account.NewPlaceholder(user, "BTC", chain.Bitcoin))
	require.NoError(t, err)

	m := sealed("mnemonic")
	km := account.KeyMaterial{
		Address:             "1abc",
		DerivationPath:      "m/44'/0'/0'/0/0",
		EncryptedPrivateKey: sealed("btc"),
		EncryptedMnemonic:   &m,
	}

	a, err := s.AttachKeyMaterial(ctx, user, "BTC", km)
	require.NoError(t, err)
	assert.False(t, a.IsPlaceholder())
	assert.Equal(t, "1abc", a.Address)
	assert.Equal(t, km.EncryptedPrivateKey, a.EncryptedPrivateKey)
	require.NotNil(t, a.EncryptedMnemonic)
	assert.Equal(t, m, *a.EncryptedMnemonic)
	AssertBalance(t, "3", a.Balance)

	_, err = s.AttachKeyMaterial(ctx, user, "BTC", account.KeyMaterial{Address: "1other", EncryptedPrivateKey: sealed("x")})
	require.ErrorIs(t, err, account.ErrKeyMaterialExists)

	a, err = s.Find(ctx, user, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "1abc", a.Address)
}

func testDualKeyLegacy(t *testing.T, h Harness) {
	if h.SeedLegacy == nil {
		t.Skip("backend cannot seed legacy records")
	}

	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	legacy := keyed(user, "")
	legacy.Currency = "USDT"
	legacy.Balance = decimal.NewFromInt(7)
	h.SeedLegacy(t, s, legacy)

	a, err := s.Find(ctx, user, "USDT")
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, a.ID)
	assert.Empty(t, a.Network)

	credited := newRef()
	a, err = s.Increment(ctx, user, "USDT", decimal.NewFromInt(1), credited, account.NewPlaceholder(user, "USDT", chain.Ethereum))
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, a.ID)
	AssertBalance(t, "8", a.Balance)

	// a legacy record with the reference applied must not spawn a canonical twin
	_, err = s.Increment(ctx, user, "USDT", decimal.NewFromInt(1), credited, account.NewPlaceholder(user, "USDT", chain.Ethereum))
	require.ErrorIs(t, err, account.ErrReferenceApplied)

	a, err = s.DecrementIfSufficient(ctx, user, "USDT", decimal.NewFromInt(3), newRef())
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, a.ID)
	AssertBalance(t, "5", a.Balance)

	_, created, err := s.CreateIfAbsent(ctx, keyed(user, "USDT"))
	require.NoError(t, err)
	assert.False(t, created)

	n, err := s.MigrateLegacyNetwork(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	a, err = s.Find(ctx, user, "USDT")
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, a.ID)
	assert.Equal(t, "USDT", a.Network)
	AssertBalance(t, "5", a.Balance)

	list, err := s.ListAccounts(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testListAccountsAndDelete(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	for _, tag := range []string{"SOL", "BTC", "ETH"} {
		_, _, err := s.CreateIfAbsent(ctx, keyed(user, tag))
		require.NoError(t, err)
	}

	_, _, err := s.CreateIfAbsent(ctx, keyed(newUser(), "ETH"))
	require.NoError(t, err)

	list, err := s.ListAccounts(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "BTC", list[0].Tag())
	assert.Equal(t, "ETH", list[1].Tag())
	assert.Equal(t, "SOL", list[2].Tag())

	require.NoError(t, s.Delete(ctx, user, "ETH"))

	_, err = s.Find(ctx, user, "ETH")
	require.ErrorIs(t, err, account.ErrAccountNotFound)

	list, err = s.ListAccounts(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func newRecord(user string, ref string, typ account.TxType, status account.TxStatus, amount string) *account.TransactionRecord {
	now := time.Now().UTC()

	return &account.TransactionRecord{
		ID:        uuid.New(),
		UserID:    user,
		Type:      typ,
		Status:    status,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USDT",
		Reference: ref,
		Metadata:  map[string]any{"source": "storetest"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testTransactionUpsert(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()
	ref := newRef()

	first := newRecord(user, ref, account.TxDeposit, account.StatusPending, "1")
	got, err := s.Upsert(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, account.TxDeposit, got.Type)
	assert.Equal(t, "storetest", got.Metadata["source"])

	second := newRecord("someone-else", ref, account.TxWithdrawal, account.StatusCompleted, "2.5")
	second.Metadata = map[string]any{"source": "replay"}
	second.CreatedAt = first.CreatedAt.Add(time.Hour)

	got, err = s.Upsert(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, user, got.UserID)
	assert.Equal(t, account.TxDeposit, got.Type)
	assert.Equal(t, account.StatusCompleted, got.Status)
	AssertBalance(t, "2.5", got.Amount)
	assert.Equal(t, "replay", got.Metadata["source"])
	assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Second)

	found, err := s.FindByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, account.StatusCompleted, found.Status)
	assert.Equal(t, account.TxDeposit, found.Type)
}

func testTransactionStatusTransitions(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()
	ref := newRef()

	_, err := s.UpdateStatus(ctx, ref, account.StatusCompleted)
	require.ErrorIs(t, err, account.ErrTransactionNotFound)

	_, err = s.Upsert(ctx, newRecord(user, ref, account.TxWithdrawal, account.StatusPending, "1"))
	require.NoError(t, err)

	rec, err := s.UpdateStatus(ctx, ref, account.StatusConfirming)
	require.NoError(t, err)
	assert.Equal(t, account.StatusConfirming, rec.Status)

	_, err = s.UpdateStatus(ctx, ref, account.StatusPending)
	require.ErrorIs(t, err, account.ErrInvalidTransition)

	rec, err = s.UpdateStatus(ctx, ref, account.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, account.StatusCompleted, rec.Status)

	for _, to := range []account.TxStatus{account.StatusPending, account.StatusFailed, account.StatusCancelled, account.StatusCompleted} {
		_, err = s.UpdateStatus(ctx, ref, to)
		require.ErrorIs(t, err, account.ErrInvalidTransition, to)
	}

	found, err := s.FindByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, account.StatusCompleted, found.Status)
}

func testTransactionList(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()
	base := time.Now().UTC().Add(-time.Hour)

	refs := []string{newRef(), newRef(), newRef()}
	for i, ref := range refs {
		rec := newRecord(user, ref, account.TxDeposit, account.StatusCompleted, "1")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := s.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	_, err := s.Upsert(ctx, newRecord(newUser(), newRef(), account.TxDeposit, account.StatusCompleted, "1"))
	require.NoError(t, err)

	list, err := s.ListTransactions(ctx, user, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, refs[2], list[0].Reference)
	assert.Equal(t, refs[0], list[2].Reference)

	list, err = s.ListTransactions(ctx, user, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, refs[2], list[0].Reference)
	assert.Equal(t, refs[1], list[1].Reference)
}

func testTransactionConcurrentUpsert(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()
	ref := newRef()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Upsert(ctx, newRecord(user, ref, account.TxDeposit, account.StatusCompleted, "1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := s.ListTransactions(ctx, user, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testPingAndPrecision(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	user := newUser()

	require.NoError(t, s.Ping(ctx))

	_, err := s.Increment(ctx, user, "ETH", dec(t, "0.000000000000000001"), newRef(), account.NewPlaceholder(user, "ETH", chain.Ethereum))
	require.NoError(t, err)
	a, err := s.Increment(ctx, user, "ETH", dec(t, "123456789.123456789"), newRef(), account.NewPlaceholder(user, "ETH", chain.Ethereum))
	require.NoError(t, err)
	AssertBalance(t, "123456789.123456789000000001", a.Balance)
}

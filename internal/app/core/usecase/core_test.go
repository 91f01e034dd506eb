package usecase_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/usecase"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newCore(t *testing.T, opts ...usecase.Option) (*usecase.CoreUseCase, *memory.Store) {
	t.Helper()
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	opts = append([]usecase.Option{usecase.WithClock(func() time.Time { return testNow })}, opts...)
	return usecase.NewCoreUseCase(store, opts...), store
}

func balanceOf(t *testing.T, core *usecase.CoreUseCase, accountID string) string {
	t.Helper()
	b, err := core.Balance(context.Background(), accountID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func TestScenarioA_CreditThenDebit(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	_, err := core.Credit(ctx, "a1", d("1000"))
	require.NoError(t, err)
	debit, err := core.Debit(ctx, "a1", d("500"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, debit.ID)
	assert.Equal(t, testNow, debit.Date)

	assert.Equal(t, "500.00", balanceOf(t, core, "a1"))
}

func TestScenarioB_DebitBeyondBalanceRejected(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	_, err := core.Credit(ctx, "a1", d("10"))
	require.NoError(t, err)

	_, err = core.Debit(ctx, "a1", d("20"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	var fundsErr *domain.InsufficientFundsError
	require.True(t, errors.As(err, &fundsErr))
	assert.Equal(t, usecase.ReasonInsufficientFunds, fundsErr.Reason)
	assert.Equal(t, "-20", fundsErr.Delta.String())
	assert.Equal(t, "10", fundsErr.Balance.String())
	assert.Equal(t, "-10", fundsErr.Resulting.String())

	assert.Equal(t, "10.00", balanceOf(t, core, "a1"))
	trans, err := core.ListTransactions(ctx, usecase.ListQuery{AccountID: "a1"})
	require.NoError(t, err)
	assert.Len(t, trans, 1)
}

func TestScenarioC_BalanceIsTruncatedNotRounded(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	_, err := core.Credit(ctx, "a1", d("21.134"))
	require.NoError(t, err)
	_, err = core.Debit(ctx, "a1", d("10.567"))
	require.NoError(t, err)

	// 21.134 - 10.567 = 10.567
	assert.Equal(t, "10.56", balanceOf(t, core, "a1"))

	raw, err := core.BalanceEngine().CurrentBalance(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "10.567", raw.String())
}

func TestScenarioD_DebitUpdateThatOverdrawsRejected(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	_, err := core.Credit(ctx, "a1", d("100"))
	require.NoError(t, err)
	debit, err := core.Debit(ctx, "a1", d("5"))
	require.NoError(t, err)

	_, err = core.UpdateTransaction(ctx, debit.ID, domain.Patch{Cost: decimal.NewNullDecimal(d("5000"))})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	stored, err := core.GetTransaction(ctx, debit.ID)
	require.NoError(t, err)
	assert.Equal(t, "5", stored.Cost.Decimal.String())

	// 在餘額內的更新: 95 + (5 - 100) = 0
	updated, err := core.UpdateTransaction(ctx, debit.ID, domain.Patch{Cost: decimal.NewNullDecimal(d("100"))})
	require.NoError(t, err)
	assert.Equal(t, "100", updated.Cost.Decimal.String())
	assert.Equal(t, "0.00", balanceOf(t, core, "a1"))
}

func TestScenarioE_CreditDeletionThatOverdrawsRejected(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	credit, err := core.Credit(ctx, "a1", d("1000"))
	require.NoError(t, err)
	_, err = core.Debit(ctx, "a1", d("1"))
	require.NoError(t, err)

	err = core.DeleteTransaction(ctx, credit.ID)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	var fundsErr *domain.InsufficientFundsError
	require.True(t, errors.As(err, &fundsErr))
	assert.Equal(t, usecase.ReasonDeleteNegative, fundsErr.Reason)
	assert.Equal(t, "-1", fundsErr.Resulting.String())

	_, err = core.GetTransaction(ctx, credit.ID)
	assert.NoError(t, err)
	assert.Equal(t, "999.00", balanceOf(t, core, "a1"))
}

func TestDebitDeletionIsNeverGated(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	_, err := core.Credit(ctx, "a1", d("10"))
	require.NoError(t, err)
	debit, err := core.Debit(ctx, "a1", d("10"))
	require.NoError(t, err)

	require.NoError(t, core.DeleteTransaction(ctx, debit.ID))
	assert.Equal(t, "10.00", balanceOf(t, core, "a1"))

	err = core.DeleteTransaction(ctx, debit.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreditAmountDecreaseIsGated(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	credit, err := core.Credit(ctx, "a1", d("100"))
	require.NoError(t, err)
	_, err = core.Debit(ctx, "a1", d("80"))
	require.NoError(t, err)

	_, err = core.UpdateTransaction(ctx, credit.ID, domain.Patch{Amount: decimal.NewNullDecimal(d("50"))})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = core.UpdateTransaction(ctx, credit.ID, domain.Patch{Amount: decimal.NewNullDecimal(d("80"))})
	require.NoError(t, err)
	_, err = core.UpdateTransaction(ctx, credit.ID, domain.Patch{Amount: decimal.NewNullDecimal(d("500"))})
	require.NoError(t, err)
	assert.Equal(t, "420.00", balanceOf(t, core, "a1"))
}

func TestUpdateNeverChangesTypeOrAccount(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	credit, err := core.Credit(ctx, "a1", d("100"))
	require.NoError(t, err)

	debitType := domain.TransactionTypeDebit
	otherAccount := "a2"
	patches := []domain.Patch{
		{Type: &debitType},
		{Type: &debitType, Cost: decimal.NewNullDecimal(d("1"))},
		{AccountID: &otherAccount},
		{AccountID: &otherAccount, Amount: decimal.NewNullDecimal(d("5"))},
		{Cost: decimal.NewNullDecimal(d("5"))},
		{},
	}
	for _, p := range patches {
		_, err := core.UpdateTransaction(ctx, credit.ID, p)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}

	stored, err := core.GetTransaction(ctx, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", stored.AccountID)
	assert.Equal(t, domain.TransactionTypeCredit, stored.Type)
	assert.Equal(t, "100", stored.Amount.Decimal.String())

	_, err = core.UpdateTransaction(ctx, uuid.New(), domain.Patch{Amount: decimal.NewNullDecimal(d("1"))})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommandValidation(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	_, err := core.Debit(ctx, "", d("1"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = core.Credit(ctx, "a1", d("0"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = core.Credit(ctx, "a1", d("-5"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = core.Balance(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, "0.00", balanceOf(t, core, "nobody"))
}

func TestListTransactionsFilterAndSort(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	_, err := core.Credit(ctx, "account1", d("500"))
	require.NoError(t, err)
	_, err = core.Debit(ctx, "account1", d("10.5"))
	require.NoError(t, err)
	_, err = core.Debit(ctx, "account1", d("7"))
	require.NoError(t, err)
	_, err = core.Debit(ctx, "account1", d("16"))
	require.NoError(t, err)
	_, err = core.Credit(ctx, "account2", d("9"))
	require.NoError(t, err)

	trans, err := core.ListTransactions(ctx, usecase.ListQuery{
		AccountID: "account1",
		Type:      "debit",
		MinAmount: decimal.NewNullDecimal(d("5")),
		MaxAmount: decimal.NewNullDecimal(d("15")),
		SortField: "cost",
		SortOrder: "asc",
	})
	require.NoError(t, err)
	require.Len(t, trans, 2)
	assert.Equal(t, "7", trans[0].Cost.Decimal.String())
	assert.Equal(t, "10.5", trans[1].Cost.Decimal.String())

	// 未指定 type 的區間作用在各自的金額欄位
	trans, err = core.ListTransactions(ctx, usecase.ListQuery{
		MinAmount: decimal.NewNullDecimal(d("8")),
		MaxAmount: decimal.NewNullDecimal(d("16")),
		SortField: "date",
		SortOrder: "desc",
	})
	require.NoError(t, err)
	assert.Len(t, trans, 3)

	trans, err = core.ListTransactions(ctx, usecase.ListQuery{Type: "credit", AccountID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, trans)

	_, err = core.ListTransactions(ctx, usecase.ListQuery{Type: "refund"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = core.ListTransactions(ctx, usecase.ListQuery{SortField: "password"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = core.ListTransactions(ctx, usecase.ListQuery{
		MinAmount: decimal.NewNullDecimal(d("9")),
		MaxAmount: decimal.NewNullDecimal(d("1")),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// 隨機交錯的 debit/credit：餘額必須等於 Σcredit - Σdebit，且永遠不為負
func TestBalanceDerivationProperty(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		core, store := newCore(t)
		expected := decimal.Zero
		var ids []uuid.UUID

		for i := 0; i < 200; i++ {
			value := decimal.New(rng.Int63n(100000)+1, -2)
			switch rng.Intn(4) {
			case 0, 1:
				tran, err := core.Credit(ctx, "x", value)
				require.NoError(t, err)
				expected = expected.Add(value)
				ids = append(ids, tran.ID)
			case 2:
				tran, err := core.Debit(ctx, "x", value)
				if expected.Sub(value).IsNegative() {
					require.ErrorIs(t, err, domain.ErrInsufficientFunds)
					continue
				}
				require.NoError(t, err)
				expected = expected.Sub(value)
				ids = append(ids, tran.ID)
			case 3:
				if len(ids) == 0 {
					continue
				}
				idx := rng.Intn(len(ids))
				tran, err := store.Get(ctx, ids[idx])
				require.NoError(t, err)
				err = core.DeleteTransaction(ctx, tran.ID)
				if expected.Sub(tran.Delta()).IsNegative() {
					require.ErrorIs(t, err, domain.ErrInsufficientFunds)
					continue
				}
				require.NoError(t, err)
				expected = expected.Sub(tran.Delta())
				ids = append(ids[:idx], ids[idx+1:]...)
			}

			balance, err := core.BalanceEngine().CurrentBalance(ctx, "x")
			require.NoError(t, err)
			require.True(t, balance.Equal(expected), "balance %s expected %s", balance, expected)
			require.False(t, balance.IsNegative())
		}

		all, err := store.FindByAccount(ctx, "x")
		require.NoError(t, err)
		assert.True(t, usecase.Fold(all).Equal(expected))
	}
}

// 同一帳戶的並發扣款不能重複花費
func TestConcurrentDebitsDoNotDoubleSpend(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	_, err := core.Credit(ctx, "a1", d("500"))
	require.NoError(t, err)
	_, err = core.Credit(ctx, "a2", d("500"))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account := "a1"
			if i%2 == 1 {
				account = "a2"
			}
			_, err := core.Debit(ctx, account, d("10"))
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrInsufficientFunds):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(100), accepted.Load())
	assert.Equal(t, int64(100), rejected.Load())
	assert.Equal(t, "0.00", balanceOf(t, core, "a1"))
	assert.Equal(t, "0.00", balanceOf(t, core, "a2"))
}

func TestConcurrentGatedMutationsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	core, store := newCore(t)

	// 10 筆 credit (各 50) 與 20 筆 debit (各 10)，餘額 300
	var credits, debits []uuid.UUID
	for i := 0; i < 10; i++ {
		tran, err := core.Credit(ctx, "a1", d("50"))
		require.NoError(t, err)
		credits = append(credits, tran.ID)
	}
	for i := 0; i < 20; i++ {
		tran, err := core.Debit(ctx, "a1", d("10"))
		require.NoError(t, err)
		debits = append(debits, tran.ID)
	}
	require.Equal(t, "300.00", balanceOf(t, core, "a1"))

	var (
		wg                                sync.WaitGroup
		newDebits, updates, deletes, nays atomic.Int64
	)
	tally := func(err error, counter *atomic.Int64) {
		switch {
		case err == nil:
			counter.Add(1)
		case errors.Is(err, domain.ErrInsufficientFunds):
			nays.Add(1)
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := core.Debit(ctx, "a1", d("10"))
			tally(err, &newDebits)
		}()
	}
	for _, id := range debits {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 10 -> 40，delta -30
			_, err := core.UpdateTransaction(ctx, id, domain.Patch{Cost: decimal.NewNullDecimal(d("40"))})
			tally(err, &updates)
		}()
	}
	for _, id := range credits {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			// delta -50
			tally(core.DeleteTransaction(ctx, id), &deletes)
		}()
	}
	wg.Wait()

	assert.Positive(t, nays.Load())
	expected := d("300").
		Sub(d("10").Mul(decimal.NewFromInt(newDebits.Load()))).
		Sub(d("30").Mul(decimal.NewFromInt(updates.Load()))).
		Sub(d("50").Mul(decimal.NewFromInt(deletes.Load())))
	assert.False(t, expected.IsNegative(), "accepted mutations overdraw: %s", expected)

	trans, err := store.FindByAccount(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, usecase.Fold(trans).Equal(expected))
	assert.Equal(t, expected.StringFixed(2), balanceOf(t, core, "a1"))
}

type failingStore struct {
	usecase.Store
	err error
}

func (s *failingStore) FindByAccount(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	return nil, s.err
}

func TestStorageErrorsSurfaceUnchanged(t *testing.T) {
	lost := domain.NewStorageError("find account transactions", errors.New("connection lost"))
	core := usecase.NewCoreUseCase(&failingStore{err: lost})

	_, err := core.Balance(context.Background(), "a1")
	assert.ErrorIs(t, err, domain.ErrStorage)

	_, err = core.Debit(context.Background(), "a1", d("1"))
	assert.ErrorIs(t, err, domain.ErrStorage)
}

type lockerFunc func(ctx context.Context, accountID string) (func(), error)

func (f lockerFunc) Lock(ctx context.Context, accountID string) (func(), error) {
	return f(ctx, accountID)
}

func TestLockFailureIsStorageError(t *testing.T) {
	core, store := newCore(t, usecase.WithLocker(lockerFunc(func(context.Context, string) (func(), error) {
		return nil, context.DeadlineExceeded
	})))

	_, err := core.Credit(context.Background(), "a1", d("1"))
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	trans, err := store.FindByAccount(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, trans)
}

type recordedOp struct {
	op  string
	err error
}

type spyRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (s *spyRecorder) ObserveOperation(op string, err error, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, recordedOp{op, err})
}

func TestRecorderSeesEveryOperation(t *testing.T) {
	spy := &spyRecorder{}
	core, _ := newCore(t, usecase.WithRecorder(spy))
	ctx := context.Background()

	_, _ = core.Credit(ctx, "a1", d("1"))
	_, _ = core.Debit(ctx, "a1", d("2"))
	_, _ = core.Balance(ctx, "a1")

	require.Len(t, spy.ops, 3)
	assert.Equal(t, usecase.OpCredit, spy.ops[0].op)
	assert.NoError(t, spy.ops[0].err)
	assert.Equal(t, usecase.OpDebit, spy.ops[1].op)
	assert.ErrorIs(t, spy.ops[1].err, domain.ErrInsufficientFunds)
	assert.Equal(t, usecase.OpBalance, spy.ops[2].op)
}

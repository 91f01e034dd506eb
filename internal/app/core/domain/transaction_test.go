package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewDebit(t *testing.T) {
	tran, err := NewDebit("a1", d("10.5"), testNow)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tran.ID)
	assert.Equal(t, TransactionTypeDebit, tran.Type)
	assert.True(t, tran.Cost.Valid)
	assert.False(t, tran.Amount.Valid)
	assert.Equal(t, testNow, tran.Date)
	assert.True(t, tran.Delta().Equal(d("-10.5")))
	assert.True(t, tran.Value().Equal(d("10.5")))
}

func TestNewCredit(t *testing.T) {
	tran, err := NewCredit("a1", d("1000"), testNow)
	require.NoError(t, err)
	assert.Equal(t, TransactionTypeCredit, tran.Type)
	assert.False(t, tran.Cost.Valid)
	assert.True(t, tran.Delta().Equal(d("1000")))
}

func TestNewTransactionRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		build func() (*Transaction, error)
		field string
	}{
		{"empty account", func() (*Transaction, error) { return NewCredit("  ", d("1"), testNow) }, "accountId"},
		{"zero cost", func() (*Transaction, error) { return NewDebit("a1", decimal.Zero, testNow) }, "cost"},
		{"negative amount", func() (*Transaction, error) { return NewCredit("a1", d("-3"), testNow) }, "amount"},
		{"too precise", func() (*Transaction, error) { return NewCredit("a1", d("0.123456789"), testNow) }, "amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build()
			require.ErrorIs(t, err, ErrValidation)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestValidateRequiresExactlyOneMonetaryField(t *testing.T) {
	tran := Transaction{
		ID:        uuid.New(),
		AccountID: "a1",
		Type:      TransactionTypeDebit,
		Cost:      decimal.NewNullDecimal(d("1")),
		Amount:    decimal.NewNullDecimal(d("1")),
	}
	assert.ErrorIs(t, tran.Validate(), ErrValidation)

	tran.Type = TransactionTypeCredit
	tran.Cost = decimal.NullDecimal{}
	assert.NoError(t, tran.Validate())

	tran.Type = "refund"
	assert.ErrorIs(t, tran.Validate(), ErrValidation)
}

func TestApplyKeepsTypeAndAccountImmutable(t *testing.T) {
	debit, err := NewDebit("a1", d("5"), testNow)
	require.NoError(t, err)

	credit := TransactionTypeCredit
	other := "a2"
	same := "a1"

	_, err = debit.Apply(Patch{Type: &credit})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = debit.Apply(Patch{AccountID: &other, Cost: decimal.NewNullDecimal(d("6"))})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = debit.Apply(Patch{Amount: decimal.NewNullDecimal(d("6"))})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = debit.Apply(Patch{})
	assert.ErrorIs(t, err, ErrValidation)

	updated, err := debit.Apply(Patch{AccountID: &same, Cost: decimal.NewNullDecimal(d("6"))})
	require.NoError(t, err)
	assert.Equal(t, "a1", updated.AccountID)
	assert.Equal(t, TransactionTypeDebit, updated.Type)
	assert.True(t, updated.Cost.Decimal.Equal(d("6")))
	assert.True(t, debit.Cost.Decimal.Equal(d("5")), "original must not change")
}

func TestTruncateBalance(t *testing.T) {
	assert.Equal(t, "10.56", TruncateBalance(d("10.567")).StringFixed(2))
	assert.Equal(t, "-10.56", TruncateBalance(d("-10.567")).StringFixed(2))
	assert.Equal(t, "500.00", TruncateBalance(d("500")).StringFixed(2))
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection reset")
	sErr := NewStorageError("find", cause)
	assert.ErrorIs(t, sErr, ErrStorage)
	assert.ErrorIs(t, sErr, cause)

	assert.ErrorIs(t, &NotFoundError{ID: "x"}, ErrNotFound)

	iErr := &InsufficientFundsError{AccountID: "a1", Delta: d("-20"), Balance: d("10"), Resulting: d("-10")}
	assert.ErrorIs(t, iErr, ErrInsufficientFunds)
	assert.Contains(t, iErr.Error(), "resulting -10")
}

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 金額使用 decimal，並限制精度：小數點後最多 8 位 (對應資料庫 decimal(30,8))
const (
	MaxScale = 8
	// 帳戶 ID 最大長度 (對應資料庫 varchar(64))
	MaxAccountIDLength = 64
)

// TransactionType 交易類型
type TransactionType string

const (
	// 扣款，以 cost 減少餘額
	TransactionTypeDebit TransactionType = "debit"
	// 入帳，以 amount 增加餘額
	TransactionTypeCredit TransactionType = "credit"
)

func (t TransactionType) Valid() bool {
	return t == TransactionTypeDebit || t == TransactionTypeCredit
}

func (t TransactionType) String() string { return string(t) }

// ParseTransactionType 解析交易類型字串 (不分大小寫)
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", NewValidationError("type", "must be one of debit, credit")
	}
	return t, nil
}

// Transaction 交易紀錄
//
// Type 與 AccountID 建立後不可變；Cost 只在 debit 時存在，Amount 只在 credit 時存在。
type Transaction struct {
	ID        uuid.UUID           `json:"id"`
	AccountID string              `json:"accountId"`
	Type      TransactionType     `json:"type"`
	Cost      decimal.NullDecimal `json:"cost"`
	Amount    decimal.NullDecimal `json:"amount"`
	Date      time.Time           `json:"date"`
}

// NewDebit 建立一筆扣款交易 (分配 ID、填入建立時間並驗證)
func NewDebit(accountID string, cost decimal.Decimal, now time.Time) (*Transaction, error) {
	tran := &Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      TransactionTypeDebit,
		Cost:      decimal.NewNullDecimal(cost),
		Date:      now,
	}
	if err := tran.Validate(); err != nil {
		return nil, err
	}
	return tran, nil
}

// NewCredit 建立一筆入帳交易 (分配 ID、填入建立時間並驗證)
func NewCredit(accountID string, amount decimal.Decimal, now time.Time) (*Transaction, error) {
	tran := &Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      TransactionTypeCredit,
		Amount:    decimal.NewNullDecimal(amount),
		Date:      now,
	}
	if err := tran.Validate(); err != nil {
		return nil, err
	}
	return tran, nil
}

// Validate 檢查交易的結構不變量
func (t *Transaction) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("id", "is required")
	}
	if err := ValidateAccountID(t.AccountID); err != nil {
		return err
	}
	switch t.Type {
	case TransactionTypeDebit:
		if t.Amount.Valid {
			return NewValidationError("amount", "must be absent for debit")
		}
		if !t.Cost.Valid {
			return NewValidationError("cost", "is required for debit")
		}
		return ValidateMoney("cost", t.Cost.Decimal)
	case TransactionTypeCredit:
		if t.Cost.Valid {
			return NewValidationError("cost", "must be absent for credit")
		}
		if !t.Amount.Valid {
			return NewValidationError("amount", "is required for credit")
		}
		return ValidateMoney("amount", t.Amount.Decimal)
	default:
		return NewValidationError("type", "must be one of debit, credit")
	}
}

// Value 回傳該筆交易的金額欄位 (debit 為 cost，credit 為 amount)
func (t *Transaction) Value() decimal.Decimal {
	if t.Type == TransactionTypeDebit {
		return t.Cost.Decimal
	}
	return t.Amount.Decimal
}

// Delta 回傳該筆交易對餘額的影響 (credit 為正，debit 為負)
func (t *Transaction) Delta() decimal.Decimal {
	if t.Type == TransactionTypeDebit {
		return t.Cost.Decimal.Neg()
	}
	return t.Amount.Decimal
}

// ValidateAccountID 帳戶 ID 必填且不可超過 MaxAccountIDLength
func ValidateAccountID(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return NewValidationError("accountId", "is required")
	}
	if len(accountID) > MaxAccountIDLength {
		return NewValidationError("accountId", "is too long")
	}
	return nil
}

// ValidateMoney 金額必須為正數，且小數位數不超過 MaxScale
func ValidateMoney(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return NewValidationError(field, "must be positive")
	}
	if !v.Equal(v.Truncate(MaxScale)) {
		return NewValidationError(field, "has too many decimal places")
	}
	return nil
}

// TruncateBalance 對外回報餘額時截斷至小數點後兩位 (不四捨五入)，例如 10.567 -> 10.56
func TruncateBalance(balance decimal.Decimal) decimal.Decimal {
	return balance.Truncate(2)
}

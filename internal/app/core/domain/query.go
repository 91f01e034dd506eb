package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Filter 交易查詢條件
//
// MinAmount/MaxAmount 為包含邊界的區間，作用在交易本身的金額欄位：
// debit 比對 cost，credit 比對 amount。未指定 Type 時兩種交易各自比對自己的金額欄位。
type Filter struct {
	AccountID string
	Type      *TransactionType
	MinAmount decimal.NullDecimal
	MaxAmount decimal.NullDecimal
}

func (f Filter) Validate() error {
	if f.Type != nil && !f.Type.Valid() {
		return NewValidationError("type", "must be one of debit, credit")
	}
	if f.MinAmount.Valid && f.MinAmount.Decimal.IsNegative() {
		return NewValidationError("minAmount", "must not be negative")
	}
	if f.MaxAmount.Valid && f.MaxAmount.Decimal.IsNegative() {
		return NewValidationError("maxAmount", "must not be negative")
	}
	if f.MinAmount.Valid && f.MaxAmount.Valid && f.MinAmount.Decimal.GreaterThan(f.MaxAmount.Decimal) {
		return NewValidationError("minAmount", "must not exceed maxAmount")
	}
	return nil
}

// HasRange 是否有金額區間條件
func (f Filter) HasRange() bool {
	return f.MinAmount.Valid || f.MaxAmount.Valid
}

// Matches 判斷交易是否符合條件
func (f Filter) Matches(t *Transaction) bool {
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.Type != nil && t.Type != *f.Type {
		return false
	}
	v := t.Value()
	if f.MinAmount.Valid && v.LessThan(f.MinAmount.Decimal) {
		return false
	}
	if f.MaxAmount.Valid && v.GreaterThan(f.MaxAmount.Decimal) {
		return false
	}
	return true
}

// SortField 可排序欄位
type SortField string

const (
	SortFieldNone      SortField = ""
	SortFieldID        SortField = "id"
	SortFieldAccountID SortField = "accountId"
	SortFieldType      SortField = "type"
	SortFieldCost      SortField = "cost"
	SortFieldAmount    SortField = "amount"
	SortFieldDate      SortField = "date"
)

// SortOrder 排序方向，預設升冪
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Sort 排序設定，Field 為空表示沿用儲存層的迭代順序
type Sort struct {
	Field SortField
	Order SortOrder
}

// ParseSort 解析排序欄位與方向
func ParseSort(field, order string) (Sort, error) {
	var s Sort
	switch f := SortField(strings.TrimSpace(field)); f {
	case SortFieldNone, SortFieldID, SortFieldAccountID, SortFieldType, SortFieldCost, SortFieldAmount, SortFieldDate:
		s.Field = f
	default:
		return s, NewValidationError("sortField", "unknown field "+field)
	}
	switch o := SortOrder(strings.ToLower(strings.TrimSpace(order))); o {
	case "", SortAsc:
		s.Order = SortAsc
	case SortDesc:
		s.Order = SortDesc
	default:
		return s, NewValidationError("sortOrder", "must be asc or desc")
	}
	return s, nil
}

func (s Sort) Desc() bool { return s.Order == SortDesc }

// Compare 依排序欄位比較兩筆交易，回傳 -1/0/1 (已套用排序方向)
// 金額欄位不存在的交易排在存在者之前 (升冪時)。
func (s Sort) Compare(a, b *Transaction) int {
	var c int
	switch s.Field {
	case SortFieldID:
		c = strings.Compare(a.ID.String(), b.ID.String())
	case SortFieldAccountID:
		c = strings.Compare(a.AccountID, b.AccountID)
	case SortFieldType:
		c = strings.Compare(string(a.Type), string(b.Type))
	case SortFieldCost:
		c = compareNullDecimal(a.Cost, b.Cost)
	case SortFieldAmount:
		c = compareNullDecimal(a.Amount, b.Amount)
	case SortFieldDate:
		c = a.Date.Compare(b.Date)
	}
	if s.Desc() {
		return -c
	}
	return c
}

func compareNullDecimal(a, b decimal.NullDecimal) int {
	switch {
	case !a.Valid && !b.Valid:
		return 0
	case !a.Valid:
		return -1
	case !b.Valid:
		return 1
	}
	return a.Decimal.Cmp(b.Decimal)
}

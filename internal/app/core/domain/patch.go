package domain

import "github.com/shopspring/decimal"

// Patch 部分更新的欄位
//
// Type 與 AccountID 只允許帶入原值 (等同未修改)，其餘一律視為驗證錯誤。
// 交易日期不開放更新。
type Patch struct {
	Type      *TransactionType
	AccountID *string
	Cost      decimal.NullDecimal
	Amount    decimal.NullDecimal
}

// IsEmpty 沒有任何可更新欄位
func (p Patch) IsEmpty() bool {
	return p.Type == nil && p.AccountID == nil && !p.Cost.Valid && !p.Amount.Valid
}

// Apply 將 patch 套用到交易上並回傳新的副本，原交易不會被修改
//
// 參數:
//
//	p: 部分更新欄位
//
// 回傳:
//
//	Transaction: 更新後的交易
//	error: ValidationError (嘗試修改 type/accountId、金額欄位與類型不符、金額不合法)
func (t Transaction) Apply(p Patch) (Transaction, error) {
	if p.IsEmpty() {
		return t, NewValidationError("", "no updatable fields provided")
	}
	if p.Type != nil && *p.Type != t.Type {
		return t, NewValidationError("type", "cannot be changed")
	}
	if p.AccountID != nil && *p.AccountID != t.AccountID {
		return t, NewValidationError("accountId", "cannot be changed")
	}

	switch t.Type {
	case TransactionTypeDebit:
		if p.Amount.Valid {
			return t, NewValidationError("amount", "cannot be set on a debit")
		}
		if p.Cost.Valid {
			if err := ValidateMoney("cost", p.Cost.Decimal); err != nil {
				return t, err
			}
			t.Cost = p.Cost
		}
	case TransactionTypeCredit:
		if p.Cost.Valid {
			return t, NewValidationError("cost", "cannot be set on a credit")
		}
		if p.Amount.Valid {
			if err := ValidateMoney("amount", p.Amount.Decimal); err != nil {
				return t, err
			}
			t.Amount = p.Amount
		}
	}
	return t, nil
}

package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation 欄位格式錯誤、缺少必要欄位或嘗試修改不可變欄位
	ErrValidation = errors.New("validation error")

	// ErrNotFound 找不到交易
	ErrNotFound = errors.New("transaction not found")

	// ErrInsufficientFunds 餘額不足 (變更後餘額會小於 0)
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStorage 底層儲存失敗 (連線中斷、逾時)，屬暫時性錯誤
	ErrStorage = errors.New("storage error")
)

// ValidationError 輸入驗證失敗
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError 指定的交易 ID 不存在
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InsufficientFundsError 變更會讓帳戶餘額變成負數
//
// Delta: 嘗試套用的餘額變化量
// Balance: 變更前的餘額
// Resulting: 變更後的餘額 (Balance + Delta)
type InsufficientFundsError struct {
	AccountID string
	Reason    string
	Delta     decimal.Decimal
	Balance   decimal.Decimal
	Resulting decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = ErrInsufficientFunds.Error()
	}
	return fmt.Sprintf("%s: account %s balance %s, delta %s, resulting %s",
		reason, e.AccountID, e.Balance.String(), e.Delta.String(), e.Resulting.String())
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// StorageError 包裝底層儲存錯誤，核心不會自動重試
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

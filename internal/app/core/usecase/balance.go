package usecase

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
)

// BalanceEngine 由完整交易紀錄推導帳戶餘額
//
// 餘額不落地、每次重算，確保與交易紀錄一致。
type BalanceEngine struct {
	store Store
}

func NewBalanceEngine(store Store) *BalanceEngine {
	return &BalanceEngine{store: store}
}

// Fold 加總交易：credit 加 amount，debit 減 cost
func Fold(trans []domain.Transaction) decimal.Decimal {
	total := decimal.Zero
	for i := range trans {
		total = total.Add(trans[i].Delta())
	}
	return total
}

// CurrentBalance 取得帳戶目前餘額，沒有任何交易的帳戶為 0
func (b *BalanceEngine) CurrentBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	trans, err := b.store.FindByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return Fold(trans), nil
}

// WouldBalanceBeNegative 判斷 目前餘額 + delta 是否小於 0
//
// 參數:
//
//	ctx: 上下文
//	accountID: 帳戶 ID
//	delta: 假設套用的餘額變化量
//
// 回傳:
//
//	bool: 是否會變成負數
//	decimal.Decimal: 目前餘額
//	error: 儲存層錯誤
func (b *BalanceEngine) WouldBalanceBeNegative(ctx context.Context, accountID string, delta decimal.Decimal) (bool, decimal.Decimal, error) {
	balance, err := b.CurrentBalance(ctx, accountID)
	if err != nil {
		return false, decimal.Zero, err
	}
	return balance.Add(delta).IsNegative(), balance, nil
}

// Check 閘門檢查，會變成負數時回傳 InsufficientFundsError。
// delta >= 0 的變更不會減少餘額，直接放行。
func (b *BalanceEngine) Check(ctx context.Context, accountID string, delta decimal.Decimal, reason string) error {
	if !delta.IsNegative() {
		return nil
	}
	negative, balance, err := b.WouldBalanceBeNegative(ctx, accountID, delta)
	if err != nil {
		return err
	}
	if negative {
		return &domain.InsufficientFundsError{
			AccountID: accountID,
			Reason:    reason,
			Delta:     delta,
			Balance:   balance,
			Resulting: balance.Add(delta),
		}
	}
	return nil
}

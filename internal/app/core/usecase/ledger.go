package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
)

// Store 是交易帳本的持久化介面，唯一保存狀態的元件
type Store interface {
	// Find 依條件查詢交易，沒有符合時回傳空 slice (不是錯誤)
	Find(ctx context.Context, filter domain.Filter, sort domain.Sort) ([]domain.Transaction, error)
	// FindByAccount 取得帳戶的全部交易 (餘額計算用，需有 accountId 索引)
	FindByAccount(ctx context.Context, accountID string) ([]domain.Transaction, error)
	// Get 依 ID 取得交易，不存在時回傳 NotFoundError
	Get(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	// Insert 新增交易
	Insert(ctx context.Context, tran domain.Transaction) error
	// Update 以新的金額欄位覆寫既有交易
	Update(ctx context.Context, tran domain.Transaction) error
	// Delete 刪除交易，不存在時回傳 NotFoundError
	Delete(ctx context.Context, id uuid.UUID) error
}

// Locker 提供帳戶層級的互斥，讓「讀餘額 -> 判斷 -> 寫入」成為一個單位
type Locker interface {
	// Lock 取得帳戶鎖，回傳的 unlock 必須呼叫
	Lock(ctx context.Context, accountID string) (unlock func(), err error)
}

// Recorder 記錄帳本操作結果 (metrics)
type Recorder interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error, time.Duration) {}

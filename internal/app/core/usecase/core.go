package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-txn-ledger/pkg/keylock"
)

// 拒絕原因，同時作為 metrics label
const (
	ReasonInsufficientFunds = "insufficient funds"
	ReasonUpdateNegative    = "update would make balance negative"
	ReasonDeleteNegative    = "deletion would make balance negative"
)

// 操作名稱
const (
	OpList    = "list"
	OpGet     = "get"
	OpBalance = "balance"
	OpDebit   = "debit"
	OpCredit  = "credit"
	OpUpdate  = "update"
	OpDelete  = "delete"
)

// ListQuery 交易查詢參數，accountId 為空時查詢全部帳戶
type ListQuery struct {
	AccountID string
	Type      string
	MinAmount decimal.NullDecimal
	MaxAmount decimal.NullDecimal
	SortField string
	SortOrder string
}

// CoreUseCase 是核心業務邏輯層
//
// 所有會改變帳戶交易集合的操作都在帳戶鎖內完成「讀餘額 -> 判斷 -> 寫入」，
// 同一帳戶的變更序列化，不同帳戶互不影響。
type CoreUseCase struct {
	store    Store
	balance  *BalanceEngine
	locker   Locker
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

// Option 設定 CoreUseCase
type Option func(*CoreUseCase)

// WithLocker 指定帳戶鎖實作 (預設為行程內的 keylock)
func WithLocker(locker Locker) Option {
	return func(c *CoreUseCase) {
		c.locker = locker
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(c *CoreUseCase) {
		c.recorder = recorder
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *CoreUseCase) {
		c.logger = logger
	}
}

// WithClock 指定交易建立時間來源 (測試用)
func WithClock(now func() time.Time) Option {
	return func(c *CoreUseCase) {
		c.now = now
	}
}

func NewCoreUseCase(store Store, opts ...Option) *CoreUseCase {
	c := &CoreUseCase{
		store:    store,
		balance:  NewBalanceEngine(store),
		locker:   keylock.New(),
		recorder: nopRecorder{},
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BalanceEngine 回傳底層的餘額引擎
func (c *CoreUseCase) BalanceEngine() *BalanceEngine {
	return c.balance
}

// ListTransactions 依條件查詢交易
func (c *CoreUseCase) ListTransactions(ctx context.Context, q ListQuery) (trans []domain.Transaction, err error) {
	defer c.observe(OpList, time.Now(), &err)

	filter := domain.Filter{
		AccountID: q.AccountID,
		MinAmount: q.MinAmount,
		MaxAmount: q.MaxAmount,
	}
	if q.Type != "" {
		t, err := domain.ParseTransactionType(q.Type)
		if err != nil {
			return nil, err
		}
		filter.Type = &t
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	sort, err := domain.ParseSort(q.SortField, q.SortOrder)
	if err != nil {
		return nil, err
	}
	return c.store.Find(ctx, filter, sort)
}

// GetTransaction 取得單筆交易
func (c *CoreUseCase) GetTransaction(ctx context.Context, id uuid.UUID) (tran domain.Transaction, err error) {
	defer c.observe(OpGet, time.Now(), &err)
	return c.store.Get(ctx, id)
}

// Balance 取得帳戶餘額 (截斷至小數點後兩位)
func (c *CoreUseCase) Balance(ctx context.Context, accountID string) (balance decimal.Decimal, err error) {
	defer c.observe(OpBalance, time.Now(), &err)

	if err := domain.ValidateAccountID(accountID); err != nil {
		return decimal.Zero, err
	}
	balance, err = c.balance.CurrentBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.TruncateBalance(balance), nil
}

// Debit 建立扣款交易，扣款後餘額小於 0 時拒絕
//
// 參數:
//
//	ctx: 上下文
//	accountID: 已驗證的帳戶 ID
//	cost: 扣款金額
//
// 回傳:
//
//	domain.Transaction: 建立的交易 (已分配 ID)
//	error: ValidationError / InsufficientFundsError / StorageError
func (c *CoreUseCase) Debit(ctx context.Context, accountID string, cost decimal.Decimal) (tran domain.Transaction, err error) {
	defer c.observe(OpDebit, time.Now(), &err)

	debit, err := domain.NewDebit(accountID, cost, c.now())
	if err != nil {
		return domain.Transaction{}, err
	}
	err = c.withAccountLock(ctx, accountID, func() error {
		if err := c.balance.Check(ctx, accountID, debit.Delta(), ReasonInsufficientFunds); err != nil {
			return err
		}
		return c.store.Insert(ctx, *debit)
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return *debit, nil
}

// Credit 建立入帳交易，入帳不會減少餘額所以不經過閘門，但仍與同帳戶的其他變更序列化
func (c *CoreUseCase) Credit(ctx context.Context, accountID string, amount decimal.Decimal) (tran domain.Transaction, err error) {
	defer c.observe(OpCredit, time.Now(), &err)

	credit, err := domain.NewCredit(accountID, amount, c.now())
	if err != nil {
		return domain.Transaction{}, err
	}
	err = c.withAccountLock(ctx, accountID, func() error {
		return c.store.Insert(ctx, *credit)
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return *credit, nil
}

// UpdateTransaction 更新交易的金額欄位
//
// debit 的 delta = 舊 cost - 新 cost；credit 的 delta = 新 amount - 舊 amount。
// delta 為負且會讓餘額變成負數時拒絕，原資料不變。
func (c *CoreUseCase) UpdateTransaction(ctx context.Context, id uuid.UUID, patch domain.Patch) (tran domain.Transaction, err error) {
	defer c.observe(OpUpdate, time.Now(), &err)

	current, err := c.store.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	// 先在鎖外驗證，避免無效請求佔用帳戶鎖
	if _, err := current.Apply(patch); err != nil {
		return domain.Transaction{}, err
	}

	var updated domain.Transaction
	err = c.withAccountLock(ctx, current.AccountID, func() error {
		// 取得鎖後重新讀取，期間可能已被其他請求修改或刪除
		latest, err := c.store.Get(ctx, id)
		if err != nil {
			return err
		}
		updated, err = latest.Apply(patch)
		if err != nil {
			return err
		}
		delta := updated.Delta().Sub(latest.Delta())
		if err := c.balance.Check(ctx, latest.AccountID, delta, ReasonUpdateNegative); err != nil {
			return err
		}
		return c.store.Update(ctx, updated)
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return updated, nil
}

// DeleteTransaction 刪除交易，刪除 credit 會讓餘額變成負數時拒絕；刪除 debit 不經過閘門
func (c *CoreUseCase) DeleteTransaction(ctx context.Context, id uuid.UUID) (err error) {
	defer c.observe(OpDelete, time.Now(), &err)

	current, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.withAccountLock(ctx, current.AccountID, func() error {
		latest, err := c.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := c.balance.Check(ctx, latest.AccountID, latest.Delta().Neg(), ReasonDeleteNegative); err != nil {
			return err
		}
		return c.store.Delete(ctx, id)
	})
}

// withAccountLock 在帳戶鎖內執行 fn
func (c *CoreUseCase) withAccountLock(ctx context.Context, accountID string, fn func() error) error {
	unlock, err := c.locker.Lock(ctx, accountID)
	if err != nil {
		var sErr *domain.StorageError
		if errors.As(err, &sErr) {
			return err
		}
		return domain.NewStorageError("lock account", err)
	}
	defer unlock()
	return fn()
}

func (c *CoreUseCase) observe(op string, start time.Time, errp *error) {
	err := *errp
	c.recorder.ObserveOperation(op, err, time.Since(start))
	if err == nil {
		return
	}

	var fundsErr *domain.InsufficientFundsError
	switch {
	case errors.As(err, &fundsErr):
		c.logger.Info().
			Str("op", op).
			Str("account_id", fundsErr.AccountID).
			Str("balance", fundsErr.Balance.String()).
			Str("delta", fundsErr.Delta.String()).
			Msg(fundsErr.Reason)
	case errors.Is(err, domain.ErrStorage):
		c.logger.Error().Err(err).Str("op", op).Msg("ledger storage failure")
	default:
		c.logger.Debug().Err(err).Str("op", op).Msg("ledger request rejected")
	}
}

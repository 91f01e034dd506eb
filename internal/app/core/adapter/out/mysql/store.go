package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-txn-ledger/pkg/mysql"
)

// sqlTransaction 對應資料庫的 transactions 表
type sqlTransaction struct {
	ID        string              `gorm:"primaryKey;type:char(36)"`
	AccountID string              `gorm:"type:varchar(64);not null;index:idx_transactions_account_id"`
	Type      string              `gorm:"type:varchar(8);not null;index:idx_transactions_type"`
	Cost      decimal.NullDecimal `gorm:"type:decimal(30,8)"`
	Amount    decimal.NullDecimal `gorm:"type:decimal(30,8)"`
	Date      time.Time           `gorm:"type:datetime(6);not null"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// sortColumns 可排序欄位與資料表欄位的對應 (白名單，避免 SQL injection)
var sortColumns = map[domain.SortField]string{
	domain.SortFieldID:        "id",
	domain.SortFieldAccountID: "account_id",
	domain.SortFieldType:      "type",
	domain.SortFieldCost:      "cost",
	domain.SortFieldAmount:    "amount",
	domain.SortFieldDate:      "date",
}

// Store 以 MySQL 保存交易紀錄
type Store struct {
	client *mysql.Client
}

func NewStore(client *mysql.Client) *Store {
	return &Store{
		client: client,
	}
}

// Migrate 建立或更新 transactions 表
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.client.DB().WithContext(ctx).AutoMigrate(&sqlTransaction{}); err != nil {
		return domain.NewStorageError("migrate", err)
	}
	return nil
}

// Find 依條件查詢交易，過濾與排序都下推到 SQL
func (s *Store) Find(ctx context.Context, filter domain.Filter, sort domain.Sort) ([]domain.Transaction, error) {
	q := s.client.DB().WithContext(ctx).Model(&sqlTransaction{})
	if filter.AccountID != "" {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if filter.Type != nil {
		q = q.Where("type = ?", string(*filter.Type))
	}
	if filter.HasRange() {
		column := rangeColumn(filter)
		if filter.MinAmount.Valid {
			q = q.Where(column+" >= ?", filter.MinAmount.Decimal)
		}
		if filter.MaxAmount.Valid {
			q = q.Where(column+" <= ?", filter.MaxAmount.Decimal)
		}
	}
	if sort.Field != domain.SortFieldNone {
		column, ok := sortColumns[sort.Field]
		if !ok {
			return nil, domain.NewValidationError("sortField", "unknown field "+string(sort.Field))
		}
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: sort.Desc()})
	}

	var rows []sqlTransaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, domain.NewStorageError("find transactions", err)
	}
	return toDomainList(rows)
}

// FindByAccount 取得帳戶的全部交易 (走 account_id 索引)
func (s *Store) FindByAccount(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	var rows []sqlTransaction
	err := s.client.DB().WithContext(ctx).
		Where("account_id = ?", accountID).
		Find(&rows).Error
	if err != nil {
		return nil, domain.NewStorageError("find account transactions", err)
	}
	return toDomainList(rows)
}

// Get 依 ID 取得交易
func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	var row sqlTransaction
	err := s.client.DB().WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Transaction{}, &domain.NotFoundError{ID: id.String()}
	}
	if err != nil {
		return domain.Transaction{}, domain.NewStorageError("get transaction", err)
	}
	return toDomain(row)
}

// Insert 新增交易
func (s *Store) Insert(ctx context.Context, tran domain.Transaction) error {
	if err := tran.Validate(); err != nil {
		return err
	}
	row := fromDomain(tran)
	if err := s.client.DB().WithContext(ctx).Create(&row).Error; err != nil {
		return domain.NewStorageError("insert transaction", err)
	}
	return nil
}

// Update 只更新金額欄位，type 與 accountId 作為條件，確保不會被修改
func (s *Store) Update(ctx context.Context, tran domain.Transaction) error {
	if err := tran.Validate(); err != nil {
		return err
	}
	row := fromDomain(tran)
	result := s.client.DB().WithContext(ctx).
		Model(&sqlTransaction{}).
		Where("id = ? AND account_id = ? AND type = ?", row.ID, row.AccountID, row.Type).
		Updates(map[string]any{
			"cost":   row.Cost,
			"amount": row.Amount,
		})
	if result.Error != nil {
		return domain.NewStorageError("update transaction", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// MySQL 在值未變動時回報 0 筆，需要再查一次區分「不存在」與「無變化」
	current, err := s.Get(ctx, tran.ID)
	if err != nil {
		return err
	}
	if current.AccountID != tran.AccountID {
		return domain.NewValidationError("accountId", "cannot be changed")
	}
	if current.Type != tran.Type {
		return domain.NewValidationError("type", "cannot be changed")
	}
	return nil
}

// Delete 刪除交易
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.client.DB().WithContext(ctx).
		Where("id = ?", id.String()).
		Delete(&sqlTransaction{})
	if result.Error != nil {
		return domain.NewStorageError("delete transaction", result.Error)
	}
	if result.RowsAffected == 0 {
		return &domain.NotFoundError{ID: id.String()}
	}
	return nil
}

// rangeColumn 金額區間作用的欄位；未指定類型時比對各自的金額欄位
func rangeColumn(filter domain.Filter) string {
	if filter.Type == nil {
		return "COALESCE(cost, amount)"
	}
	if *filter.Type == domain.TransactionTypeDebit {
		return "cost"
	}
	return "amount"
}

func fromDomain(tran domain.Transaction) sqlTransaction {
	return sqlTransaction{
		ID:        tran.ID.String(),
		AccountID: tran.AccountID,
		Type:      string(tran.Type),
		Cost:      tran.Cost,
		Amount:    tran.Amount,
		Date:      tran.Date.UTC(),
	}
}

func toDomain(row sqlTransaction) (domain.Transaction, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return domain.Transaction{}, domain.NewStorageError("decode transaction id", err)
	}
	return domain.Transaction{
		ID:        id,
		AccountID: row.AccountID,
		Type:      domain.TransactionType(row.Type),
		Cost:      row.Cost,
		Amount:    row.Amount,
		Date:      row.Date.UTC(),
	}, nil
}

func toDomainList(rows []sqlTransaction) ([]domain.Transaction, error) {
	trans := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		tran, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		trans = append(trans, tran)
	}
	return trans, nil
}

var _ usecase.Store = (*Store)(nil)

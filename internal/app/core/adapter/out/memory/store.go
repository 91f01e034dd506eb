package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-txn-ledger/pkg/wal"
)

const (
	walOpInsert = "insert"
	walOpUpdate = "update"
	walOpDelete = "delete"
)

// walEntry 一筆 WAL 紀錄
type walEntry struct {
	Op   string             `json:"op"`
	Seq  uint64             `json:"seq"`
	Tran domain.Transaction `json:"tran"`
}

// record 交易與其寫入順序號
type record struct {
	tran domain.Transaction
	seq  uint64
}

// Store 是一個使用 RWMutex 保護的記憶體帳本
//
// 結構:
//
//	records: 交易 ID -> 交易
//	byAccount: 帳戶 ID -> 交易 ID 集合 (accountId 索引)
//	seq: 全局遞增的寫入順序號，未指定排序時依此輸出
//	wal: Write-Ahead Log (可為 nil)
type Store struct {
	mu        sync.RWMutex
	records   map[uuid.UUID]*record
	byAccount map[string]map[uuid.UUID]struct{}
	seq       uint64
	wal       *wal.WAL
}

// NewStore 建立記憶體帳本，若有 WAL 會先重放恢復狀態
//
// 參數:
//
//	w: Write-Ahead Log 實例，nil 表示純記憶體
//
// 回傳:
//
//	*Store: Store 實例
//	error: WAL 恢復失敗
func NewStore(w *wal.WAL) (*Store, error) {
	s := &Store{
		records:   make(map[uuid.UUID]*record),
		byAccount: make(map[string]map[uuid.UUID]struct{}),
		wal:       w,
	}
	if w != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(raw json.RawMessage) error {
		var entry walEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("decode wal entry: %w", err)
		}
		if entry.Seq > s.seq {
			s.seq = entry.Seq
		}
		switch entry.Op {
		case walOpInsert:
			s.put(entry.Tran, entry.Seq)
		case walOpUpdate:
			if rec, ok := s.records[entry.Tran.ID]; ok {
				rec.tran = entry.Tran
			}
		case walOpDelete:
			s.remove(entry.Tran.ID)
		default:
			return fmt.Errorf("unknown wal op %q", entry.Op)
		}
		return nil
	})
}

// Find 依條件查詢交易
func (s *Store) Find(ctx context.Context, filter domain.Filter, sortBy domain.Sort) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*record
	if filter.AccountID != "" {
		for id := range s.byAccount[filter.AccountID] {
			candidates = append(candidates, s.records[id])
		}
	} else {
		candidates = make([]*record, 0, len(s.records))
		for _, rec := range s.records {
			candidates = append(candidates, rec)
		}
	}

	matched := make([]*record, 0, len(candidates))
	for _, rec := range candidates {
		if filter.Matches(&rec.tran) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	if sortBy.Field != domain.SortFieldNone {
		sort.SliceStable(matched, func(i, j int) bool {
			return sortBy.Compare(&matched[i].tran, &matched[j].tran) < 0
		})
	}

	result := make([]domain.Transaction, len(matched))
	for i, rec := range matched {
		result[i] = rec.tran
	}
	return result, nil
}

// FindByAccount 取得帳戶的全部交易 (依寫入順序)
func (s *Store) FindByAccount(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	return s.Find(ctx, domain.Filter{AccountID: accountID}, domain.Sort{})
}

// Get 依 ID 取得交易
func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.Transaction{}, &domain.NotFoundError{ID: id.String()}
	}
	return rec.tran, nil
}

// Insert 新增交易 (先寫 WAL 再更新記憶體)
func (s *Store) Insert(ctx context.Context, tran domain.Transaction) error {
	if err := tran.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[tran.ID]; ok {
		return domain.NewValidationError("id", "already exists")
	}
	seq := s.seq + 1
	if err := s.journal(walOpInsert, seq, tran); err != nil {
		return err
	}
	s.seq = seq
	s.put(tran, seq)
	return nil
}

// Update 覆寫既有交易的金額欄位，type 與 accountId 必須與原交易一致
func (s *Store) Update(ctx context.Context, tran domain.Transaction) error {
	if err := tran.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tran.ID]
	if !ok {
		return &domain.NotFoundError{ID: tran.ID.String()}
	}
	if rec.tran.Type != tran.Type {
		return domain.NewValidationError("type", "cannot be changed")
	}
	if rec.tran.AccountID != tran.AccountID {
		return domain.NewValidationError("accountId", "cannot be changed")
	}
	// 建立時間不可被覆寫
	tran.Date = rec.tran.Date
	if err := s.journal(walOpUpdate, rec.seq, tran); err != nil {
		return err
	}
	rec.tran = tran
	return nil
}

// Delete 刪除交易
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return &domain.NotFoundError{ID: id.String()}
	}
	if err := s.journal(walOpDelete, rec.seq, domain.Transaction{ID: id}); err != nil {
		return err
	}
	s.remove(id)
	return nil
}

// journal 寫入 WAL (Critical Path)，必須在持有寫鎖時呼叫
func (s *Store) journal(op string, seq uint64, tran domain.Transaction) error {
	if s.wal == nil {
		return nil
	}
	if err := s.wal.Append(walEntry{Op: op, Seq: seq, Tran: tran}); err != nil {
		return domain.NewStorageError("wal "+op, err)
	}
	return nil
}

func (s *Store) put(tran domain.Transaction, seq uint64) {
	s.records[tran.ID] = &record{tran: tran, seq: seq}
	ids, ok := s.byAccount[tran.AccountID]
	if !ok {
		ids = make(map[uuid.UUID]struct{})
		s.byAccount[tran.AccountID] = ids
	}
	ids[tran.ID] = struct{}{}
}

func (s *Store) remove(id uuid.UUID) {
	rec, ok := s.records[id]
	if !ok {
		return
	}
	delete(s.records, id)
	if ids, ok := s.byAccount[rec.tran.AccountID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byAccount, rec.tran.AccountID)
		}
	}
}

var _ usecase.Store = (*Store)(nil)

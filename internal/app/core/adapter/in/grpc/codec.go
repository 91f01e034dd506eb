package grpc

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
)

// 金額在線路上一律以十進位字串傳遞，避免浮點誤差

func transactionToMap(tran domain.Transaction) map[string]any {
	m := map[string]any{
		"id":        tran.ID.String(),
		"accountId": tran.AccountID,
		"type":      string(tran.Type),
		"date":      tran.Date.UTC().Format(time.RFC3339Nano),
	}
	if tran.Cost.Valid {
		m["cost"] = tran.Cost.Decimal.String()
	}
	if tran.Amount.Valid {
		m["amount"] = tran.Amount.Decimal.String()
	}
	return m
}

func transactionToStruct(tran domain.Transaction) (*structpb.Struct, error) {
	return newStruct(transactionToMap(tran))
}

// TransactionFromStruct 將回應轉回 domain.Transaction (client 端使用)
func TransactionFromStruct(s *structpb.Struct) (domain.Transaction, error) {
	var tran domain.Transaction
	id, err := uuid.Parse(stringField(s, "id"))
	if err != nil {
		return tran, fmt.Errorf("decode transaction id: %w", err)
	}
	date, err := time.Parse(time.RFC3339Nano, stringField(s, "date"))
	if err != nil {
		return tran, fmt.Errorf("decode transaction date: %w", err)
	}
	cost, err := decimalField(s, "cost")
	if err != nil {
		return tran, err
	}
	amount, err := decimalField(s, "amount")
	if err != nil {
		return tran, err
	}
	return domain.Transaction{
		ID:        id,
		AccountID: stringField(s, "accountId"),
		Type:      domain.TransactionType(stringField(s, "type")),
		Cost:      cost,
		Amount:    amount,
		Date:      date,
	}, nil
}

func stringField(s *structpb.Struct, key string) string {
	return strings.TrimSpace(s.GetFields()[key].GetStringValue())
}

// decimalField 讀取金額欄位，接受字串或數字；欄位不存在或為 null 時回傳 Valid=false
func decimalField(s *structpb.Struct, key string) (decimal.NullDecimal, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return decimal.NullDecimal{}, nil
	case *structpb.Value_StringValue:
		raw := strings.TrimSpace(kind.StringValue)
		if raw == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.NullDecimal{}, domain.NewValidationError(key, "is not a decimal number")
		}
		return decimal.NewNullDecimal(d), nil
	case *structpb.Value_NumberValue:
		// NaN/Inf 會讓 decimal.NewFromFloat panic
		if math.IsNaN(kind.NumberValue) || math.IsInf(kind.NumberValue, 0) {
			return decimal.NullDecimal{}, domain.NewValidationError(key, "must be a finite number")
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(kind.NumberValue)), nil
	default:
		return decimal.NullDecimal{}, domain.NewValidationError(key, "must be a string or number")
	}
}

// patchFromStruct 解析更新欄位，未知欄位 (例如 date) 一律拒絕
func patchFromStruct(s *structpb.Struct) (domain.Patch, error) {
	var p domain.Patch
	for key := range s.GetFields() {
		switch key {
		case "id", "type", "accountId", "cost", "amount":
		default:
			return p, domain.NewValidationError(key, "is not updatable")
		}
	}
	if _, ok := s.GetFields()["type"]; ok {
		t, err := domain.ParseTransactionType(stringField(s, "type"))
		if err != nil {
			return p, err
		}
		p.Type = &t
	}
	if _, ok := s.GetFields()["accountId"]; ok {
		accountID := stringField(s, "accountId")
		p.AccountID = &accountID
	}
	var err error
	if p.Cost, err = decimalField(s, "cost"); err != nil {
		return p, err
	}
	if p.Amount, err = decimalField(s, "amount"); err != nil {
		return p, err
	}
	return p, nil
}

// patchToMap 將 Patch 轉成請求欄位 (client 端使用)
func patchToMap(p domain.Patch) map[string]any {
	m := map[string]any{}
	if p.Type != nil {
		m["type"] = string(*p.Type)
	}
	if p.AccountID != nil {
		m["accountId"] = *p.AccountID
	}
	if p.Cost.Valid {
		m["cost"] = p.Cost.Decimal.String()
	}
	if p.Amount.Valid {
		m["amount"] = p.Amount.Decimal.String()
	}
	return m
}

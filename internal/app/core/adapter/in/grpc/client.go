package grpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/usecase"
)

// Client 帳本服務的 gRPC 客戶端，以指定帳戶身分呼叫
type Client struct {
	cc        grpc.ClientConnInterface
	accountID string
}

func NewClient(cc grpc.ClientConnInterface, accountID string) *Client {
	return &Client{cc: cc, accountID: accountID}
}

// AccountID 客戶端代表的帳戶
func (c *Client) AccountID() string {
	return c.accountID
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	ctx = metadata.AppendToOutgoingContext(ctx, MetadataAccountID, c.accountID)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) invokeTransaction(ctx context.Context, method string, req map[string]any) (domain.Transaction, error) {
	out, err := c.invoke(ctx, method, req)
	if err != nil {
		return domain.Transaction{}, err
	}
	return TransactionFromStruct(out)
}

// Debit 從自己的帳戶扣款
func (c *Client) Debit(ctx context.Context, cost decimal.Decimal) (domain.Transaction, error) {
	return c.invokeTransaction(ctx, MethodDebit, map[string]any{
		"accountId": c.accountID,
		"cost":      cost.String(),
	})
}

// Credit 對自己的帳戶入帳
func (c *Client) Credit(ctx context.Context, amount decimal.Decimal) (domain.Transaction, error) {
	return c.invokeTransaction(ctx, MethodCredit, map[string]any{
		"accountId": c.accountID,
		"amount":    amount.String(),
	})
}

// Balance 取得自己帳戶的餘額 (小數點後兩位)
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	out, err := c.invoke(ctx, MethodGetBalance, map[string]any{"accountId": c.accountID})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(stringField(out, "balance"))
}

func (c *Client) Get(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return c.invokeTransaction(ctx, MethodGetTransaction, map[string]any{"id": id.String()})
}

func (c *Client) Update(ctx context.Context, id uuid.UUID, patch domain.Patch) (domain.Transaction, error) {
	req := patchToMap(patch)
	req["id"] = id.String()
	return c.invokeTransaction(ctx, MethodUpdateTransaction, req)
}

func (c *Client) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := c.invoke(ctx, MethodDeleteTransaction, map[string]any{"id": id.String()})
	return err
}

// List 查詢交易
func (c *Client) List(ctx context.Context, q usecase.ListQuery) ([]domain.Transaction, error) {
	req := map[string]any{}
	if q.AccountID != "" {
		req["accountId"] = q.AccountID
	}
	if q.Type != "" {
		req["type"] = q.Type
	}
	if q.MinAmount.Valid {
		req["minAmount"] = q.MinAmount.Decimal.String()
	}
	if q.MaxAmount.Valid {
		req["maxAmount"] = q.MaxAmount.Decimal.String()
	}
	if q.SortField != "" {
		req["sortField"] = q.SortField
	}
	if q.SortOrder != "" {
		req["sortOrder"] = q.SortOrder
	}

	out, err := c.invoke(ctx, MethodListTransactions, req)
	if err != nil {
		return nil, err
	}
	items := out.GetFields()["transactions"].GetListValue().GetValues()
	trans := make([]domain.Transaction, 0, len(items))
	for _, item := range items {
		tran, err := TransactionFromStruct(item.GetStructValue())
		if err != nil {
			return nil, err
		}
		trans = append(trans, tran)
	}
	return trans, nil
}

package grpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/usecase"
)

// GrpcServer 把 gRPC 請求轉成 CoreUseCase 呼叫
//
// 呼叫者身分由上游驗證層放在 metadata (x-account-id)；
// 讀取餘額與所有變更操作都要求呼叫者就是目標帳戶。
type GrpcServer struct {
	core *usecase.CoreUseCase
}

func NewGrpcServer(core *usecase.CoreUseCase) *GrpcServer {
	return &GrpcServer{
		core: core,
	}
}

func (s *GrpcServer) ListTransactions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := callerAccountID(ctx); err != nil {
		return nil, err
	}
	minAmount, err := decimalField(req, "minAmount")
	if err != nil {
		return nil, toStatus(err)
	}
	maxAmount, err := decimalField(req, "maxAmount")
	if err != nil {
		return nil, toStatus(err)
	}

	trans, err := s.core.ListTransactions(ctx, usecase.ListQuery{
		AccountID: stringField(req, "accountId"),
		Type:      stringField(req, "type"),
		MinAmount: minAmount,
		MaxAmount: maxAmount,
		SortField: stringField(req, "sortField"),
		SortOrder: stringField(req, "sortOrder"),
	})
	if err != nil {
		return nil, toStatus(err)
	}

	items := make([]any, 0, len(trans))
	for _, tran := range trans {
		items = append(items, transactionToMap(tran))
	}
	return newStruct(map[string]any{"transactions": items})
}

func (s *GrpcServer) GetTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := callerAccountID(ctx); err != nil {
		return nil, err
	}
	id, err := transactionID(req)
	if err != nil {
		return nil, toStatus(err)
	}
	tran, err := s.core.GetTransaction(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return transactionToStruct(tran)
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := targetAccountID(ctx, req)
	if err != nil {
		return nil, err
	}
	balance, err := s.core.Balance(ctx, accountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"accountId": accountID,
		"balance":   balance.StringFixed(2),
	})
}

func (s *GrpcServer) Debit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := targetAccountID(ctx, req)
	if err != nil {
		return nil, err
	}
	cost, err := decimalField(req, "cost")
	if err != nil {
		return nil, toStatus(err)
	}
	if !cost.Valid {
		return nil, toStatus(domain.NewValidationError("cost", "is required"))
	}
	tran, err := s.core.Debit(ctx, accountID, cost.Decimal)
	if err != nil {
		return nil, toStatus(err)
	}
	return transactionToStruct(tran)
}

func (s *GrpcServer) Credit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := targetAccountID(ctx, req)
	if err != nil {
		return nil, err
	}
	amount, err := decimalField(req, "amount")
	if err != nil {
		return nil, toStatus(err)
	}
	if !amount.Valid {
		return nil, toStatus(domain.NewValidationError("amount", "is required"))
	}
	tran, err := s.core.Credit(ctx, accountID, amount.Decimal)
	if err != nil {
		return nil, toStatus(err)
	}
	return transactionToStruct(tran)
}

func (s *GrpcServer) UpdateTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.authorizeTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	patch, err := patchFromStruct(req)
	if err != nil {
		return nil, toStatus(err)
	}
	tran, err := s.core.UpdateTransaction(ctx, id, patch)
	if err != nil {
		return nil, toStatus(err)
	}
	return transactionToStruct(tran)
}

func (s *GrpcServer) DeleteTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.authorizeTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.core.DeleteTransaction(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"id": id.String(), "deleted": true})
}

// authorizeTransaction 確認交易屬於呼叫者 (accountId 不可變，查一次即可)
func (s *GrpcServer) authorizeTransaction(ctx context.Context, req *structpb.Struct) (uuid.UUID, error) {
	caller, err := callerAccountID(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := transactionID(req)
	if err != nil {
		return uuid.Nil, toStatus(err)
	}
	tran, err := s.core.GetTransaction(ctx, id)
	if err != nil {
		return uuid.Nil, toStatus(err)
	}
	if tran.AccountID != caller {
		return uuid.Nil, status.Error(codes.PermissionDenied, "not allowed to modify transactions of a different account")
	}
	return id, nil
}

// callerAccountID 從 metadata 取出已驗證的帳戶 ID
func callerAccountID(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing caller account")
	}
	values := md.Get(MetadataAccountID)
	if len(values) == 0 || values[0] == "" {
		return "", status.Error(codes.Unauthenticated, "missing caller account")
	}
	return values[0], nil
}

// targetAccountID 請求的目標帳戶 (未指定時為呼叫者本身)，必須與呼叫者一致
func targetAccountID(ctx context.Context, req *structpb.Struct) (string, error) {
	caller, err := callerAccountID(ctx)
	if err != nil {
		return "", err
	}
	target := stringField(req, "accountId")
	if target == "" {
		return caller, nil
	}
	if target != caller {
		return "", status.Error(codes.PermissionDenied, "not allowed to access a different account")
	}
	return target, nil
}

func transactionID(req *structpb.Struct) (uuid.UUID, error) {
	id, err := uuid.Parse(stringField(req, "id"))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("id", "is not a valid transaction id")
	}
	return id, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

// toStatus 將 domain 錯誤轉成 gRPC status
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrStorage):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

var _ LedgerServiceServer = (*GrpcServer)(nil)

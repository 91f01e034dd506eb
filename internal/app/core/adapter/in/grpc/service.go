package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName gRPC 服務名稱
// 訊息一律使用 google.protobuf.Struct，不需要產生 stub 程式碼
const ServiceName = "ledger.v1.LedgerService"

// MetadataAccountID 上游驗證層寫入的已驗證帳戶 ID
const MetadataAccountID = "x-account-id"

// 方法名稱
const (
	MethodListTransactions  = "ListTransactions"
	MethodGetTransaction    = "GetTransaction"
	MethodGetBalance        = "GetBalance"
	MethodDebit             = "Debit"
	MethodCredit            = "Credit"
	MethodUpdateTransaction = "UpdateTransaction"
	MethodDeleteTransaction = "DeleteTransaction"
)

// LedgerServiceServer 帳本服務介面
type LedgerServiceServer interface {
	ListTransactions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Debit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Credit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// LedgerServiceDesc 手寫的服務描述 (對應 protoc-gen-go-grpc 產生的 _ServiceDesc)
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodListTransactions, LedgerServiceServer.ListTransactions),
		unaryMethod(MethodGetTransaction, LedgerServiceServer.GetTransaction),
		unaryMethod(MethodGetBalance, LedgerServiceServer.GetBalance),
		unaryMethod(MethodDebit, LedgerServiceServer.Debit),
		unaryMethod(MethodCredit, LedgerServiceServer.Credit),
		unaryMethod(MethodUpdateTransaction, LedgerServiceServer.UpdateTransaction),
		unaryMethod(MethodDeleteTransaction, LedgerServiceServer.DeleteTransaction),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

// RegisterLedgerServiceServer 將服務註冊到 gRPC Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// FullMethod 回傳完整方法路徑，例如 /ledger.v1.LedgerService/Debit
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type unaryCall func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(LedgerServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

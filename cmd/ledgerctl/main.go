package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpc_adapter "github.com/JoeShih716/go-txn-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/usecase"
	grpcpool "github.com/JoeShih716/go-txn-ledger/pkg/grpc"
)

type globalFlags struct {
	addr    string
	account string
	timeout time.Duration
}

func main() {
	flags := &globalFlags{}
	pool := grpcpool.NewPool()

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Command line client for the ledger core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.addr, "addr", "localhost:50051", "core gRPC address")
	root.PersistentFlags().StringVarP(&flags.account, "account", "a", "", "caller account id")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "per command timeout")

	newClient := func() (*grpc_adapter.Client, error) {
		conn, err := pool.GetConnection(flags.addr)
		if err != nil {
			return nil, err
		}
		return grpc_adapter.NewClient(conn, flags.account), nil
	}

	root.AddCommand(
		balanceCmd(flags, newClient),
		creditCmd(flags, newClient),
		debitCmd(flags, newClient),
		listCmd(flags, newClient),
		updateCmd(flags, newClient),
		deleteCmd(flags, newClient),
		stressCmd(flags, newClient),
	)

	err := root.Execute()
	_ = pool.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type clientFactory func() (*grpc_adapter.Client, error)

func withClient(flags *globalFlags, newClient clientFactory, fn func(ctx context.Context, c *grpc_adapter.Client) error) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()
	return fn(ctx, c)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAmount(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func balanceCmd(flags *globalFlags, newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the caller account balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(flags, newClient, func(ctx context.Context, c *grpc_adapter.Client) error {
				balance, err := c.Balance(ctx)
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"accountId": c.AccountID(), "balance": balance.StringFixed(2)})
			})
		},
	}
}

func creditCmd(flags *globalFlags, newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "credit <amount>",
		Short: "Credit the caller account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return withClient(flags, newClient, func(ctx context.Context, c *grpc_adapter.Client) error {
				tran, err := c.Credit(ctx, amount)
				if err != nil {
					return err
				}
				return printJSON(tran)
			})
		},
	}
}

func debitCmd(flags *globalFlags, newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "debit <cost>",
		Short: "Debit the caller account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return withClient(flags, newClient, func(ctx context.Context, c *grpc_adapter.Client) error {
				tran, err := c.Debit(ctx, cost)
				if err != nil {
					return err
				}
				return printJSON(tran)
			})
		},
	}
}

func listCmd(flags *globalFlags, newClient clientFactory) *cobra.Command {
	var (
		q                    usecase.ListQuery
		minAmount, maxAmount string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if minAmount != "" {
				v, err := parseAmount(minAmount)
				if err != nil {
					return err
				}
				q.MinAmount = decimal.NewNullDecimal(v)
			}
			if maxAmount != "" {
				v, err := parseAmount(maxAmount)
				if err != nil {
					return err
				}
				q.MaxAmount = decimal.NewNullDecimal(v)
			}
			return withClient(flags, newClient, func(ctx context.Context, c *grpc_adapter.Client) error {
				trans, err := c.List(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(trans)
			})
		},
	}
	cmd.Flags().StringVar(&q.AccountID, "filter-account", "", "only transactions of this account")
	cmd.Flags().StringVar(&q.Type, "type", "", "debit or credit")
	cmd.Flags().StringVar(&minAmount, "min", "", "minimum amount (inclusive)")
	cmd.Flags().StringVar(&maxAmount, "max", "", "maximum amount (inclusive)")
	cmd.Flags().StringVar(&q.SortField, "sort", "", "sort field: id, accountId, type, cost, amount, date")
	cmd.Flags().StringVar(&q.SortOrder, "order", "", "asc or desc")
	return cmd
}

func updateCmd(flags *globalFlags, newClient clientFactory) *cobra.Command {
	var cost, amount string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the cost or amount of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid transaction id %q: %w", args[0], err)
			}
			var patch domain.Patch
			if cost != "" {
				v, err := parseAmount(cost)
				if err != nil {
					return err
				}
				patch.Cost = decimal.NewNullDecimal(v)
			}
			if amount != "" {
				v, err := parseAmount(amount)
				if err != nil {
					return err
				}
				patch.Amount = decimal.NewNullDecimal(v)
			}
			if patch.IsEmpty() {
				return fmt.Errorf("nothing to update, pass --cost or --amount")
			}
			return withClient(flags, newClient, func(ctx context.Context, c *grpc_adapter.Client) error {
				tran, err := c.Update(ctx, id, patch)
				if err != nil {
					return err
				}
				return printJSON(tran)
			})
		},
	}
	cmd.Flags().StringVar(&cost, "cost", "", "new cost (debit only)")
	cmd.Flags().StringVar(&amount, "amount", "", "new amount (credit only)")
	return cmd
}

func deleteCmd(flags *globalFlags, newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid transaction id %q: %w", args[0], err)
			}
			return withClient(flags, newClient, func(ctx context.Context, c *grpc_adapter.Client) error {
				if err := c.Delete(ctx, id); err != nil {
					return err
				}
				return printJSON(map[string]string{"deleted": id.String()})
			})
		},
	}
}

// stressCmd 併發送出扣款，統計成功與因餘額不足被拒的筆數
func stressCmd(flags *globalFlags, newClient clientFactory) *cobra.Command {
	var (
		total       int
		concurrency int
		cost        string
	)
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Fire concurrent debits against the caller account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := parseAmount(cost)
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = 1
			}

			var accepted, rejected, failed atomic.Int64
			var wg sync.WaitGroup
			sem := make(chan struct{}, concurrency)
			start := time.Now()

			for i := 0; i < total; i++ {
				sem <- struct{}{}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-sem }()

					ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
					defer cancel()
					_, err := c.Debit(ctx, value)
					switch status.Code(err) {
					case codes.OK:
						accepted.Add(1)
					case codes.FailedPrecondition:
						rejected.Add(1)
					default:
						failed.Add(1)
					}
				}()
			}
			wg.Wait()

			elapsed := time.Since(start)
			return printJSON(map[string]any{
				"requests": total,
				"accepted": accepted.Load(),
				"rejected": rejected.Load(),
				"failed":   failed.Load(),
				"elapsed":  elapsed.String(),
				"tps":      fmt.Sprintf("%.2f", float64(total)/elapsed.Seconds()),
			})
		},
	}
	cmd.Flags().IntVarP(&total, "count", "n", 1000, "number of debits")
	cmd.Flags().IntVar(&concurrency, "concurrency", 100, "max in-flight requests")
	cmd.Flags().StringVar(&cost, "cost", "1", "cost of each debit")
	return cmd
}

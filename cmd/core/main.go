package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-txn-ledger/internal/app/core/adapter/in/grpc"
	memory_adapter "github.com/JoeShih716/go-txn-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-txn-ledger/internal/app/core/adapter/out/mysql"
	prometheus_adapter "github.com/JoeShih716/go-txn-ledger/internal/app/core/adapter/out/prometheus"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-txn-ledger/internal/config"
	"github.com/JoeShih716/go-txn-ledger/pkg/keylock"
	"github.com/JoeShih716/go-txn-ledger/pkg/mysql"
	"github.com/JoeShih716/go-txn-ledger/pkg/redislock"
	"github.com/JoeShih716/go-txn-ledger/pkg/wal"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "core",
		Short:         "Ledger core gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the YAML config file")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg.Log, os.Stdout)

	// 1. 初始化儲存層
	store, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 2. 帳戶鎖
	locker, closeLocker, err := newLocker(ctx, cfg.Lock, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	// 3. 指標
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 4. 初始化 UseCase
	core := usecase.NewCoreUseCase(store,
		usecase.WithLocker(locker),
		usecase.WithRecorder(prometheus_adapter.NewRecorder(registry)),
		usecase.WithLogger(log.With().Str("component", "core").Logger()),
	)

	// 5. 啟動 gRPC Server
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	s := grpc.NewServer(grpc.UnaryInterceptor(grpc_adapter.LoggingInterceptor(log.With().Str("component", "grpc").Logger())))
	grpc_adapter.RegisterLedgerServiceServer(s, grpc_adapter.NewGrpcServer(core))
	if cfg.Server.Reflection {
		reflection.Register(s) // 方便 grpcurl 測試
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.Server.GRPCAddr).Msg("starting grpc server")
		if err := s.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsServer = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Server.MetricsAddr).Msg("starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics serve: %w", err)
			}
		}()
	}

	// Graceful Shutdown
	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("server failed")
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	s.GracefulStop()
	log.Info().Msg("server exited")
	return runErr
}

func newLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func newStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (usecase.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreMySQL:
		client, err := mysql.NewClient(ctx, cfg.MySQL, log.With().Str("component", "mysql").Logger())
		if err != nil {
			return nil, nil, fmt.Errorf("connect mysql: %w", err)
		}
		store := mysql_adapter.NewStore(client)
		if cfg.Store.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				client.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		log.Info().Str("host", cfg.MySQL.Host).Str("db", cfg.MySQL.DBName).Msg("connected to mysql")
		return store, func() { _ = client.Close() }, nil

	default:
		if cfg.Store.WALPath == "" {
			log.Warn().Msg("wal disabled, transactions will not survive restart")
			store, err := memory_adapter.NewStore(nil)
			return store, func() {}, err
		}
		w, err := wal.Open(cfg.Store.WALPath, wal.WithLogger(log.With().Str("component", "wal").Logger()))
		if err != nil {
			return nil, nil, fmt.Errorf("open wal: %w", err)
		}
		store, err := memory_adapter.NewStore(w)
		if err != nil {
			w.Close()
			return nil, nil, fmt.Errorf("recover from wal: %w", err)
		}
		log.Info().Str("wal", cfg.Store.WALPath).Msg("memory store recovered")
		return store, func() { _ = w.Close() }, nil
	}
}

func newLocker(ctx context.Context, cfg config.LockConfig, log zerolog.Logger) (usecase.Locker, func(), error) {
	if cfg.Driver != config.LockRedis {
		return keylock.New(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis account lock")
	locker := redislock.New(client, redislock.Config{
		Prefix:        cfg.Prefix,
		TTL:           cfg.TTL,
		WaitTimeout:   cfg.WaitTimeout,
		RetryInterval: cfg.RetryInterval,
	})
	return locker, func() { _ = client.Close() }, nil
}

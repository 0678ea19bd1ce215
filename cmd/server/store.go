package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ShopCx/PaymentService/internal/config"
	"github.com/ShopCx/PaymentService/internal/repository"
	"github.com/ShopCx/PaymentService/internal/usecase"
)

type store interface {
	usecase.TransactionStore
	usecase.RefundStore
	Ping(ctx context.Context) error
	Close() error
}

// openStore opens the configured store. Both drivers apply the schema on open.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		repo, err := repository.NewPostgresRepo(ctx, log, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return repo, nil
	default:
		repo, err := repository.NewSQLiteRepo(cfg.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return repo, nil
	}
}

package db

import (
	"context"
	"crypto/tls"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/urbanease-realtime/internal/config"
)

func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, err
	}

	if cfg.Database.SSL {
		poolConfig.ConnConfig.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

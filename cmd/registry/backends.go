package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/certledger/internal/contentstore"
	"github.com/jmerrifield20/certledger/internal/trustledger"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type ledgerBackend struct {
	trustledger.Ledger
	driver string
	close  func()
}

func (b *ledgerBackend) Close() {
	if b.close != nil {
		b.close()
	}
}

// openLedger selects the ledger driver from ledger.driver.
func openLedger(ctx context.Context, logger *zap.Logger) (*ledgerBackend, error) {
	switch driver := viper.GetString("ledger.driver"); driver {
	case "memory":
		logger.Warn("ledger.driver is memory; registry state is lost on restart")
		return &ledgerBackend{Ledger: trustledger.New(), driver: driver}, nil

	case "postgres":
		db, err := pgxpool.New(ctx, viper.GetString("database.url"))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return &ledgerBackend{
			Ledger: trustledger.NewPostgresLedger(db, logger),
			driver: driver,
			close:  db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown ledger.driver %q (want memory or postgres)", driver)
	}
}

type contentBackend struct {
	contentstore.Store
	close func() error
}

func (b *contentBackend) Close() {
	if b.close != nil {
		_ = b.close()
	}
}

// openContentStore selects the content store driver from content.driver.
func openContentStore(ctx context.Context, maxSize int64, logger *zap.Logger) (*contentBackend, error) {
	switch driver := viper.GetString("content.driver"); driver {
	case "memory":
		logger.Warn("content.driver is memory; stored certificates are lost on restart and not visible to other nodes")
		return &contentBackend{Store: contentstore.NewMemoryStore(maxSize)}, nil

	case "sqlite":
		path := viper.GetString("content.sqlite_path")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create content dir: %w", err)
		}
		s, err := contentstore.OpenSQLite(ctx, path, maxSize)
		if err != nil {
			return nil, fmt.Errorf("open sqlite content store: %w", err)
		}
		logger.Warn("content.driver is sqlite; content ids only resolve on this node", zap.String("path", path))
		return &contentBackend{Store: s, close: s.Close}, nil

	case "redis":
		ttl, err := contentTTL()
		if err != nil {
			return nil, err
		}
		s, err := contentstore.DialRedis(ctx, viper.GetString("content.redis_url"), ttl, maxSize)
		if err != nil {
			return nil, fmt.Errorf("connect redis content store: %w", err)
		}
		logger.Info("content store ready", zap.String("driver", driver))
		return &contentBackend{Store: s, close: s.Close}, nil

	default:
		return nil, fmt.Errorf("unknown content.driver %q (want memory, sqlite or redis)", driver)
	}
}

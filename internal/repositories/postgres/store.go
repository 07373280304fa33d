// Package postgres implements the repositories on PostgreSQL through gorm. Record locks are row
// locks taken with SELECT ... FOR UPDATE inside the transaction carried by the context; lock waits
// are bounded with a transaction-local lock_timeout.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hanko-field/ordercore/internal/repositories"
)

const defaultLockTimeout = 5 * time.Second

// Config describes how to reach the database.
type Config struct {
	DSN             string
	LockTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	Logger          *zap.Logger
}

// Store is the gorm-backed repository registry.
type Store struct {
	db          *gorm.DB
	lockTimeout time.Duration
	logger      *zap.Logger

	productRepo *productRepository
	cartRepo    *cartRepository
	orderRepo   *orderRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// Open connects, applies migrations when requested and returns the store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := gorm.Open(gormpg.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: sql handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, wrapError("ping", err)
	}
	if cfg.AutoMigrate {
		if err := Migrate(sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return New(db, cfg.LockTimeout, cfg.Logger)
}

// New wraps an existing gorm handle. The schema must already be migrated.
func New(db *gorm.DB, lockTimeout time.Duration, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: gorm handle is required")
	}
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, lockTimeout: lockTimeout, logger: logger}
	s.productRepo = &productRepository{store: s}
	s.cartRepo = &cartRepository{store: s}
	s.orderRepo = &orderRepository{store: s}

	health, err := repositories.NewProbeHealthRepository(nil, repositories.DependencyCheck{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})
	if err != nil {
		return nil, err
	}
	s.health = health
	return s, nil
}

func (s *Store) Products() repositories.ProductRepository { return s.productRepo }
func (s *Store) Carts() repositories.CartRepository       { return s.cartRepo }
func (s *Store) Orders() repositories.OrderRepository     { return s.orderRepo }
func (s *Store) Health() repositories.HealthRepository    { return s.health }

// Close releases the connection pool.
func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type txKey struct{}

// RunInTx runs fn inside a database transaction. A context that already carries a transaction is
// reused so nested calls join the outer unit of work.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if err := tx.Exec("SELECT set_config('lock_timeout', ?, true)", timeout).Error; err != nil {
			return wrapError("tx.lockTimeout", err)
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	if err != nil {
		s.logger.Debug("postgres transaction rolled back", zap.Error(err))
	}
	return wrapError("tx", err)
}

// conn returns the ambient transaction or the pool, bound to ctx.
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := txFrom(ctx); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// inTx runs fn in the ambient transaction or a short one of its own, for writes that span rows.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, db *gorm.DB) error) error {
	return s.RunInTx(ctx, func(txCtx context.Context) error {
		return fn(txCtx, s.conn(txCtx))
	})
}

func txFrom(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

package database

import (
	"context"
	"fmt"
	"time"

	"formio-api/internal/cache"
	"formio-api/internal/logger"
	"formio-api/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SchemaVersion is the schema the running code expects.
const SchemaVersion = "1.0.0"

const (
	lockStaleAfter = 5 * time.Minute
	lockRetry      = 2 * time.Second
	lockAttempts   = 30
)

// SchemaLocker guards migrations across instances.
type SchemaLocker interface {
	Acquire(ctx context.Context, key, owner string, staleAfter time.Duration) (bool, error)
	Release(ctx context.Context, key, version string) error
}

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string, debug bool) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if debug {
		cfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}
	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate brings the postgres schema to SchemaVersion under the schema lock.
func Migrate(ctx context.Context, db *gorm.DB, locks SchemaLocker, owner string, log *logger.Logger) error {
	// The lock record lives in its own table, which must exist first.
	if err := db.WithContext(ctx).AutoMigrate(&model.SchemaLock{}); err != nil {
		return fmt.Errorf("migrate schema lock: %w", err)
	}
	return Initialize(ctx, locks, owner, log, func(ctx context.Context) error {
		return db.WithContext(ctx).AutoMigrate(
			&model.Form{},
			&model.Submission{},
			&model.Action{},
			&model.Role{},
		)
	})
}

// Initialize takes the schema lock, runs migrate and records SchemaVersion.
// It waits while another instance holds the lock.
func Initialize(ctx context.Context, locks SchemaLocker, owner string, log *logger.Logger, migrate func(ctx context.Context) error) error {
	acquired := false
	for attempt := 0; attempt < lockAttempts; attempt++ {
		ok, err := locks.Acquire(ctx, cache.SchemaKey, owner, lockStaleAfter)
		if err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
		if ok {
			acquired = true
			break
		}
		log.Info("Schema locked by another instance, waiting", "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetry):
		}
	}
	if !acquired {
		return fmt.Errorf("schema lock not released after %d attempts", lockAttempts)
	}

	if err := migrate(ctx); err != nil {
		// Leave the record locked so requests keep answering 503 until an
		// operator or a stale-lock takeover fixes the schema.
		return fmt.Errorf("migrate: %w", err)
	}
	if err := locks.Release(ctx, cache.SchemaKey, SchemaVersion); err != nil {
		return fmt.Errorf("release schema lock: %w", err)
	}
	log.Info("Database schema ready", "version", SchemaVersion)
	return nil
}

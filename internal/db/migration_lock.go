package db

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema migrations so that several server
// replicas starting at once do not run AutoMigrate concurrently.
type MigrationLocker interface {
	// WithLock runs fn while holding the migration lock, blocking until
	// the lock is acquired.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a locking strategy for the database dialect.
// PostgreSQL gets an advisory lock; sqlite and mysql fall back to a lock
// table with stale-row cleanup.
func NewMigrationLocker(gormDB *gorm.DB) MigrationLocker {
	if gormDB == nil {
		return noopLock{}
	}
	if gormDB.Dialector.Name() == "postgres" {
		return &advisoryLock{
			db:     gormDB,
			lockID: int64(crc32.ChecksumIEEE([]byte("reqboard-migration"))),
		}
	}
	lock := &tableLock{db: gormDB}
	// Create the lock table up front so concurrent first callers never
	// race on "no such table".
	_ = gormDB.AutoMigrate(&migrationLockRow{})
	return lock
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

// advisoryLock holds a PostgreSQL advisory lock for the migration window.
type advisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

type migrationLockRow struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRow) TableName() string { return "migration_lock" }

// tableLock implements the lock with INSERT-or-fail semantics on a single
// row. Rows older than staleLockAge are treated as crashed holders and
// swept before each attempt.
type tableLock struct {
	db *gorm.DB
}

const (
	lockMaxRetries   = 30
	lockRetryBackoff = 1 * time.Second
	staleLockAge     = 5 * time.Minute
)

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	row := migrationLockRow{ID: "migration", LockedBy: hostname}

	acquired := false
	for i := 0; i < lockMaxRetries; i++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", "migration", time.Now().Add(-staleLockAge)).
			Delete(&migrationLockRow{})

		row.LockedAt = time.Now()
		result := l.db.WithContext(ctx).Create(&row)
		if result.Error == nil {
			acquired = true
			break
		}
		if i == lockMaxRetries-1 {
			return fmt.Errorf("acquire migration lock after %d retries: %w", lockMaxRetries, result.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryBackoff):
		}
	}
	if !acquired {
		return fmt.Errorf("acquire migration lock")
	}

	defer func() {
		l.db.Where("id = ?", "migration").Delete(&migrationLockRow{})
	}()
	return fn()
}

// Package reconciler integrates validated AlignedRecords into the canonical
// store, producing or updating canonical Organization/Location/Service rows
// plus their source trail and version history.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/foodatlas/pipeline/internal/db"
)

// lockTTL is how long a lock row is honoured after it was last acquired;
// AcquireLock treats an expired row as free. Nothing deletes lock rows.
const lockTTL = 30 * time.Second

// AcquireLock takes the per-entity advisory lock keyed by (entityKind,
// matchKey) by writing its row inside tx. The lock is not released when tx
// commits: another holder's AcquireLock on the same key fails until lockTTL
// has passed, while the same holder may re-acquire it at any time. GORM
// abstracts over both SQLite and Postgres and SQLite has no
// pg_advisory_lock equivalent, so this is expressed as a conditional
// insert/update on an ordinary row rather than a database-specific builtin —
// the same pattern the canonical store uses elsewhere for coordination state
// (e.g. PolicyDestination-style join rows in the teacher).
func AcquireLock(ctx context.Context, tx *gorm.DB, entityKind, matchKey, holder string) error {
	key := entityKind + ":" + matchKey
	now := time.Now()

	var existing db.ReconcilerLock
	err := tx.WithContext(ctx).Where("lock_key = ?", key).Take(&existing).Error
	switch {
	case err == nil:
		if existing.ExpiresAt.After(now) && existing.Holder != holder {
			return fmt.Errorf("reconciler: lock %s held by %s", key, existing.Holder)
		}
		return tx.WithContext(ctx).Model(&db.ReconcilerLock{}).Where("lock_key = ?", key).Updates(map[string]interface{}{
			"holder":      holder,
			"acquired_at": now,
			"expires_at":  now.Add(lockTTL),
		}).Error

	case gormNotFound(err):
		lock := db.ReconcilerLock{LockKey: key, Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(lockTTL)}
		if createErr := tx.WithContext(ctx).Create(&lock).Error; createErr != nil {
			return createErr
		}
		return nil

	default:
		return err
	}
}

func gormNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}

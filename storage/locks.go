package storage

import (
	"context"

	"github.com/go-pg/pg/v10"
	"golang.org/x/xerrors"
)

// An AdvisoryLock is a lock that is managed by Postgres but is only enforced
// by the application. Advisory locks are automatically released at the end of
// a session.
type AdvisoryLock int64

// LockExclusive tries to acquire a session scoped exclusive advisory lock.
func (l AdvisoryLock) LockExclusive(ctx context.Context, db *pg.DB) error {
	var acquired bool
	_, err := db.QueryOneContext(ctx, pg.Scan(&acquired), `SELECT pg_try_advisory_lock(?);`, int64(l))
	if err != nil {
		return xerrors.Errorf("acquiring exclusive lock: %w", err)
	}
	if !acquired {
		return xerrors.Errorf("failed to acquire exclusive lock")
	}
	return nil
}

// IndexerLock guards against two processor instances indexing into the same
// schema concurrently.
const IndexerLock AdvisoryLock = 17751

// A BoundLock is an advisory lock bound to a connection pool, for callers
// that hold a Database rather than a raw connection.
type BoundLock struct {
	db   *Database
	lock AdvisoryLock
}

func (d *Database) Lock(l AdvisoryLock) *BoundLock {
	return &BoundLock{db: d, lock: l}
}

func (l *BoundLock) Lock(ctx context.Context) error {
	return l.lock.LockExclusive(ctx, l.db.AsORM())
}

func (l *BoundLock) Unlock(ctx context.Context) error {
	return l.lock.UnlockExclusive(ctx, l.db.AsORM())
}

// UnlockExclusive releases an exclusive advisory lock.
func (l AdvisoryLock) UnlockExclusive(ctx context.Context, db *pg.DB) error {
	var released bool
	_, err := db.QueryOneContext(ctx, pg.Scan(&released), `SELECT pg_advisory_unlock(?);`, int64(l))
	if err != nil {
		return xerrors.Errorf("unlocking exclusive lock: %w", err)
	}
	if !released {
		return xerrors.Errorf("exclusive lock not released (maybe it was not held)")
	}
	return nil
}

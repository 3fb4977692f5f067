package cluster

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/tempo/errors"
)

// LeaseStore grants a node exclusive ownership of an entity for a TTL.
// Acquire and Renew return errors.ErrLeaseHeld when another owner holds
// an unexpired lease.
type LeaseStore interface {
	// Acquire takes name for owner. Re-acquiring an own lease extends it.
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) error
	Renew(ctx context.Context, name, owner string, ttl time.Duration) error
	// Release drops the lease if owner holds it.
	Release(ctx context.Context, name, owner string) error
}

// LeaseName is the lease key for an entity.
func LeaseName(entityID string) string {
	return "entity/" + entityID
}

// NopLeases grants every lease. Single-node deployments use it.
type NopLeases struct{}

func (NopLeases) Acquire(context.Context, string, string, time.Duration) error { return nil }
func (NopLeases) Renew(context.Context, string, string, time.Duration) error   { return nil }
func (NopLeases) Release(context.Context, string, string) error                { return nil }

// SQLiteLeases keeps leases in the leases table. Nodes sharing the
// database file share leases.
type SQLiteLeases struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteLeases(conn *sql.DB) *SQLiteLeases {
	return &SQLiteLeases{db: conn, now: time.Now}
}

func (l *SQLiteLeases) Acquire(ctx context.Context, name, owner string, ttl time.Duration) error {
	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO leases (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at <= ?
	`, name, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "failed to acquire lease %s", name)
	}
	return held(res, name)
}

func (l *SQLiteLeases) Renew(ctx context.Context, name, owner string, ttl time.Duration) error {
	now := l.now()
	res, err := l.db.ExecContext(ctx,
		`UPDATE leases SET expires_at = ? WHERE name = ? AND owner = ? AND expires_at > ?`,
		now.Add(ttl).UnixMilli(), name, owner, now.UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "failed to renew lease %s", name)
	}
	return held(res, name)
}

func (l *SQLiteLeases) Release(ctx context.Context, name, owner string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner)
	return errors.Wrapf(err, "failed to release lease %s", name)
}

// Owner returns the current holder of name, "" if free or expired.
func (l *SQLiteLeases) Owner(ctx context.Context, name string) (string, error) {
	var owner string
	err := l.db.QueryRowContext(ctx,
		`SELECT owner FROM leases WHERE name = ? AND expires_at > ?`, name, l.now().UnixMilli()).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read lease %s", name)
	}
	return owner, nil
}

func held(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read lease result")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrLeaseHeld, "lease %s", name)
	}
	return nil
}

package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

type sqliteLease struct {
	store  *SQLiteStore
	key    string
	holder string
}

// Acquire takes the advisory lease for key. An expired lease is taken over;
// a live lease held by another holder fails with ErrCodeStackBusy.
func (s *SQLiteStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (engine.Lease, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin lease transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM leases WHERE key = ? AND expires_at <= ?`, key, now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("failed to expire lease: %w", err)
	}

	var current string
	var expiresAt int64
	err = tx.QueryRowContext(ctx, `SELECT holder, expires_at FROM leases WHERE key = ?`, key).Scan(&current, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to read lease: %w", err)
	case current != holder:
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("stack busy: %s is held by run %s until %s", key, current, time.UnixMilli(expiresAt).UTC().Format(time.RFC3339)),
			nil,
		).WithCode(engine.ErrCodeStackBusy).WithResource(key)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO leases (key, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at
	`, key, holder, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to write lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease: %w", err)
	}
	return &sqliteLease{store: s, key: key, holder: holder}, nil
}

// Renew pushes the expiry of the lease to ttl from now.
func (l *sqliteLease) Renew(ctx context.Context, ttl time.Duration) error {
	res, err := l.store.db.ExecContext(ctx,
		`UPDATE leases SET expires_at = ? WHERE key = ? AND holder = ?`,
		l.store.now().Add(ttl).UnixMilli(), l.key, l.holder)
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", l.key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return engine.NewConfigurationError(fmt.Sprintf("stack busy: lease on %s was taken over by another run", l.key), nil).
			WithCode(engine.ErrCodeStackBusy).
			WithResource(l.key)
	}
	return nil
}

// Release drops the lease if it is still held by the same holder.
func (l *sqliteLease) Release(ctx context.Context) error {
	_, err := l.store.db.ExecContext(ctx, `DELETE FROM leases WHERE key = ? AND holder = ?`, l.key, l.holder)
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

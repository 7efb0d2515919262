package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PutSandboxResource inserts or replaces a sandbox document.
func (s *SQLiteStore) PutSandboxResource(ctx context.Context, res *SandboxResource) error {
	now := s.now()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sandbox_resources (kind, id, parent_id, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			document = excluded.document,
			updated_at = excluded.updated_at
	`, res.Kind, res.ID, res.ParentID, string(res.Document), res.CreatedAt.UTC(), res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put sandbox %s %s: %w", res.Kind, res.ID, err)
	}
	return nil
}

// GetSandboxResource returns one sandbox document.
func (s *SQLiteStore) GetSandboxResource(ctx context.Context, kind, id string) (*SandboxResource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT kind, id, parent_id, document, created_at, updated_at
		FROM sandbox_resources WHERE kind = ? AND id = ?
	`, kind, id)
	res, err := scanSandboxResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sandbox %s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sandbox %s %s: %w", kind, id, err)
	}
	return res, nil
}

// ListSandboxResources lists documents of a kind in creation order. An empty
// parentID lists every document of the kind.
func (s *SQLiteStore) ListSandboxResources(ctx context.Context, kind, parentID string) ([]*SandboxResource, error) {
	query := `SELECT kind, id, parent_id, document, created_at, updated_at FROM sandbox_resources WHERE kind = ?`
	args := []any{kind}
	if parentID != "" {
		query += ` AND parent_id = ?`
		args = append(args, parentID)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox %s: %w", kind, err)
	}
	defer rows.Close()

	out := []*SandboxResource{}
	for rows.Next() {
		res, err := scanSandboxResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sandbox %s: %w", kind, err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// DeleteSandboxResource removes one sandbox document.
func (s *SQLiteStore) DeleteSandboxResource(ctx context.Context, kind, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sandbox_resources WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return fmt.Errorf("failed to delete sandbox %s %s: %w", kind, id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("sandbox %s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// PutObject stores a blob under url.
func (s *SQLiteStore) PutObject(ctx context.Context, url string, body []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sandbox_objects (url, body, created_at) VALUES (?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET body = excluded.body
	`, url, body, s.now())
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", url, err)
	}
	return nil
}

// GetObject returns the blob stored under url.
func (s *SQLiteStore) GetObject(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM sandbox_objects WHERE url = ?`, url).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", url, err)
	}
	return body, nil
}

func scanSandboxResource(row interface{ Scan(...any) error }) (*SandboxResource, error) {
	res := &SandboxResource{}
	var doc string
	err := row.Scan(&res.Kind, &res.ID, &res.ParentID, &doc, &res.CreatedAt, &res.UpdatedAt)
	res.Document = []byte(doc)
	return res, err
}

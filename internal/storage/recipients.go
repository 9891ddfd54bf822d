package storage

import (
	"context"
	"time"
)

// UpsertRecipient registers a recipient id. Re-registering an existing id is
// a no-op; the original joined_at is preserved.
func (s *Store) UpsertRecipient(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(id, joined_at) VALUES(?,?)
		 ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().UnixMilli(),
	)
	return wrapErr(err)
}

// Recipients returns all known recipient ids, unordered.
func (s *Store) Recipients(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM recipients`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return out, nil
}

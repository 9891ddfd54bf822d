package storage

import (
	"context"
	"strings"
	"time"

	"castbot/internal/transport"
)

// CreateBroadcast persists a new scheduled row and returns the store-assigned
// identifier. The id is usable immediately for timer bookkeeping.
func (s *Store) CreateBroadcast(ctx context.Context, content transport.Content, sendAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(body, media_ref, media_kind, send_at, status, created_at)
		 VALUES(?,?,?,?,?,?)`,
		content.Text, content.MediaRef, string(content.MediaKind),
		sendAt.UTC().UnixMilli(), string(StatusScheduled), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, wrapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr(err)
	}
	return id, nil
}

// PendingBroadcasts returns all scheduled rows ordered by target time
// ascending, ties broken by creation (id) order.
func (s *Store) PendingBroadcasts(ctx context.Context) ([]Broadcast, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body, media_ref, media_kind, send_at, status, created_at
		 FROM broadcasts WHERE status = ? ORDER BY send_at ASC, id ASC`,
		string(StatusScheduled),
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return out, nil
}

// PendingBroadcast fetches a single row iff it is still scheduled.
// ErrNotFound means the row fired or was cancelled in the meantime.
func (s *Store) PendingBroadcast(ctx context.Context, id int64) (Broadcast, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, body, media_ref, media_kind, send_at, status, created_at
		 FROM broadcasts WHERE id = ? AND status = ?`,
		id, string(StatusScheduled),
	)
	b, err := scanBroadcast(row)
	if err != nil {
		return Broadcast{}, wrapErr(err)
	}
	return b, nil
}

// MarkSent transitions scheduled -> sent. ErrNotFound means the row is gone
// or already terminal; the transition never runs backward.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = ? WHERE id = ? AND status = ?`,
		string(StatusSent), id, string(StatusScheduled),
	)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBroadcast removes a row iff it is still scheduled. Terminal (sent)
// rows stay for the audit history; deleting one returns false, as does
// calling it again for an already-removed id.
func (s *Store) DeleteBroadcast(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM broadcasts WHERE id = ? AND status = ?`,
		id, string(StatusScheduled),
	)
	if err != nil {
		return false, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

// DeleteSentBefore prunes terminal rows older than the cutoff.
// Scheduled rows are never touched.
func (s *Store) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM broadcasts WHERE status = ? AND send_at < ?`,
		string(StatusSent), cutoff.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, broadcast_id, attempted, sent, failed, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, e.Action, e.BroadcastID,
		e.Attempted, e.Sent, e.Failed, nullStr(e.Error),
	)
	return wrapErr(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBroadcast(r rowScanner) (Broadcast, error) {
	var (
		b                 Broadcast
		body, ref, kind   string
		sendAt, createdAt int64
		status            string
	)
	if err := r.Scan(&b.ID, &body, &ref, &kind, &sendAt, &status, &createdAt); err != nil {
		return Broadcast{}, err
	}
	b.Content = transport.Content{Text: body, MediaRef: ref, MediaKind: transport.MediaKind(kind)}
	b.SendAt = time.UnixMilli(sendAt).UTC()
	b.Status = Status(status)
	b.CreatedAt = time.UnixMilli(createdAt).UTC()
	return b, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

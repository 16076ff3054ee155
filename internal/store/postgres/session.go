// Package postgres is the durable store backend. One session owns one
// connection-scoped batch transaction; each envelope applies inside a
// savepoint so a failed fold undoes only itself.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groundfault/groundfault/internal/store"
)

const (
	eventTypeSelectSQL = `
SELECT id FROM event_type WHERE name = @name;
`

	eventTypeInsertSQL = `
INSERT INTO event_type (name) VALUES (@name) RETURNING id;
`

	tagSelectSQL = `
SELECT id FROM tag WHERE name = @name AND value = @value;
`

	tagInsertSQL = `
INSERT INTO tag (name, value) VALUES (@name, @value) RETURNING id;
`

	groupSelectSQL = `
SELECT id, type_id, hash, message, count, state, first_seen, last_seen, score
FROM groups
WHERE type_id = @type_id AND hash = @hash;
`

	groupInsertSQL = `
INSERT INTO groups (type_id, hash, message, count, state, first_seen, last_seen, score)
VALUES (@type_id, @hash, @message, 0, NULL, @seen, @seen, 0)
RETURNING id;
`

	groupBumpSQL = `
UPDATE groups
SET count = count + 1,
    last_seen = @seen,
    score = floor(ln(count + 1) * 600 + @seen_epoch)::bigint
WHERE id = @id;
`

	eventInsertSQL = `
INSERT INTO event (event_id, type_id, hash, datetime, time_spent, data)
VALUES (@event_id, @type_id, @hash, @datetime, @time_spent, @data)
ON CONFLICT (event_id) DO NOTHING;
`

	groupEventInsertSQL = `
INSERT INTO group_events (group_id, event_id)
VALUES (@group_id, @event_id)
ON CONFLICT (group_id, event_id) DO NOTHING;
`

	eventTagInsertSQL = `
INSERT INTO event_tags (event_id, tag_id)
VALUES (@event_id, @tag_id)
ON CONFLICT (event_id, tag_id) DO NOTHING;
`
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Session implements store.Session on a pgx pool. The batch transaction
// opens lazily on the first Apply and stays open until Flush or Rollback.
type Session struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// NewSession wraps the pool. The pool stays owned by the caller.
func NewSession(pool *pgxpool.Pool) *Session {
	return &Session{pool: pool}
}

func (s *Session) batch(ctx context.Context) (pgx.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	if s.pool == nil {
		return nil, fmt.Errorf("postgres session: nil pool")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres session: begin batch: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// Apply runs fn inside a savepoint on the open batch.
func (s *Session) Apply(ctx context.Context, fn func(store.Aggregator) error) error {
	tx, err := s.batch(ctx)
	if err != nil {
		return err
	}
	nested, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres session: savepoint: %w", err)
	}
	if err := fn(&aggregator{q: nested}); err != nil {
		if rbErr := nested.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("postgres session: rollback savepoint: %w (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := nested.Commit(ctx); err != nil {
		return fmt.Errorf("postgres session: release savepoint: %w", err)
	}
	return nil
}

// Flush commits the open batch. A session with no open batch flushes
// trivially.
func (s *Session) Flush(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres session: commit batch: %w", err)
	}
	return nil
}

// Rollback discards the open batch.
func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres session: rollback batch: %w", err)
	}
	return nil
}

// Close discards any open batch. The pool itself is closed by its owner.
func (s *Session) Close(ctx context.Context) error {
	return s.Rollback(ctx)
}

type aggregator struct {
	q querier
}

func (a *aggregator) GetOrCreateEventType(ctx context.Context, name string) (int64, error) {
	var id int64
	err := a.q.QueryRow(ctx, eventTypeSelectSQL, pgx.NamedArgs{"name": name}).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres session: select event type: %w", err)
	}
	if err := a.q.QueryRow(ctx, eventTypeInsertSQL, pgx.NamedArgs{"name": name}).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres session: insert event type: %w", err)
	}
	return id, nil
}

func (a *aggregator) GetOrCreateTag(ctx context.Context, name, value string) (int64, error) {
	args := pgx.NamedArgs{"name": name, "value": value}
	var id int64
	err := a.q.QueryRow(ctx, tagSelectSQL, args).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres session: select tag: %w", err)
	}
	if err := a.q.QueryRow(ctx, tagInsertSQL, args).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres session: insert tag: %w", err)
	}
	return id, nil
}

func (a *aggregator) GetOrCreateGroup(ctx context.Context, typeID int64, hash, message string, seen time.Time) (store.GroupRow, bool, error) {
	row, err := a.scanGroup(ctx, typeID, hash)
	if err == nil {
		return row, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.GroupRow{}, false, fmt.Errorf("postgres session: select group: %w", err)
	}
	args := pgx.NamedArgs{
		"type_id": typeID,
		"hash":    hash,
		"message": message,
		"seen":    seen,
	}
	var id int64
	if err := a.q.QueryRow(ctx, groupInsertSQL, args).Scan(&id); err != nil {
		return store.GroupRow{}, false, fmt.Errorf("postgres session: insert group: %w", err)
	}
	return store.GroupRow{
		ID:        id,
		TypeID:    typeID,
		Hash:      hash,
		Message:   message,
		FirstSeen: seen,
		LastSeen:  seen,
	}, true, nil
}

func (a *aggregator) scanGroup(ctx context.Context, typeID int64, hash string) (store.GroupRow, error) {
	var row store.GroupRow
	err := a.q.QueryRow(ctx, groupSelectSQL, pgx.NamedArgs{"type_id": typeID, "hash": hash}).Scan(
		&row.ID,
		&row.TypeID,
		&row.Hash,
		&row.Message,
		&row.Count,
		&row.State,
		&row.FirstSeen,
		&row.LastSeen,
		&row.Score,
	)
	if err != nil {
		return store.GroupRow{}, err
	}
	row.FirstSeen = row.FirstSeen.UTC()
	row.LastSeen = row.LastSeen.UTC()
	return row, nil
}

func (a *aggregator) BumpGroup(ctx context.Context, groupID int64, seen time.Time) error {
	args := pgx.NamedArgs{
		"id":         groupID,
		"seen":       seen,
		"seen_epoch": seen.Unix(),
	}
	tag, err := a.q.Exec(ctx, groupBumpSQL, args)
	if err != nil {
		return fmt.Errorf("postgres session: bump group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres session: bump of unknown group %d", groupID)
	}
	return nil
}

func (a *aggregator) InsertEvent(ctx context.Context, row store.EventRow) (bool, error) {
	args := pgx.NamedArgs{
		"event_id":   row.EventID,
		"type_id":    row.TypeID,
		"hash":       row.Hash,
		"datetime":   row.Datetime,
		"time_spent": nullableInt64(row.TimeSpent),
		"data":       row.Data,
	}
	tag, err := a.q.Exec(ctx, eventInsertSQL, args)
	if err != nil {
		return false, fmt.Errorf("postgres session: insert event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (a *aggregator) LinkGroupEvent(ctx context.Context, groupID int64, eventID string) error {
	args := pgx.NamedArgs{"group_id": groupID, "event_id": eventID}
	if _, err := a.q.Exec(ctx, groupEventInsertSQL, args); err != nil {
		return fmt.Errorf("postgres session: link group event: %w", err)
	}
	return nil
}

func (a *aggregator) LinkEventTag(ctx context.Context, eventID string, tagID int64) error {
	args := pgx.NamedArgs{"event_id": eventID, "tag_id": tagID}
	if _, err := a.q.Exec(ctx, eventTagInsertSQL, args); err != nil {
		return fmt.Errorf("postgres session: link event tag: %w", err)
	}
	return nil
}

func nullableInt64(ptr *int64) any {
	if ptr == nil {
		return nil
	}
	return *ptr
}

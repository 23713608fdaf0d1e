package pointer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type postgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore keeps pointers in the hangout_pointer table next to the canonical schema.
func NewPostgresStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Put(ctx context.Context, p Pointer) error {
	payload, err := EncodeDocument(p)
	if err != nil {
		return err
	}
	query := `INSERT INTO hangout_pointer (group_id, hangout_id, time_key, version, payload, written_at)
			  VALUES ($1, $2, $3, $4, $5, now())
			  ON CONFLICT (group_id, hangout_id) DO UPDATE SET
				time_key = EXCLUDED.time_key,
				version = EXCLUDED.version,
				payload = EXCLUDED.payload,
				written_at = EXCLUDED.written_at
			  WHERE hangout_pointer.version <= EXCLUDED.version`
	result, err := s.db.Exec(ctx, query, p.GroupId, p.HangoutId, p.TimeKey, p.Version, payload)
	if err != nil {
		return fmt.Errorf("put pointer %s/%s: %w", p.GroupId, p.HangoutId, err)
	}
	if result.RowsAffected() == 0 {
		return ErrStaleVersion
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, groupId string, hangoutId string) (Pointer, error) {
	var payload []byte
	err := s.db.QueryRow(ctx,
		`SELECT payload FROM hangout_pointer WHERE group_id = $1 AND hangout_id = $2`, groupId, hangoutId,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pointer{}, ErrPointerNotFound
		}
		return Pointer{}, fmt.Errorf("get pointer %s/%s: %w", groupId, hangoutId, err)
	}
	return decodeRow(Key{GroupId: groupId, HangoutId: hangoutId}, payload)
}

func (s *postgresStore) Delete(ctx context.Context, groupId string, hangoutId string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM hangout_pointer WHERE group_id = $1 AND hangout_id = $2`, groupId, hangoutId)
	if err != nil {
		return fmt.Errorf("delete pointer %s/%s: %w", groupId, hangoutId, err)
	}
	return nil
}

func (s *postgresStore) DeleteByHangout(ctx context.Context, hangoutId string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM hangout_pointer WHERE hangout_id = $1`, hangoutId)
	if err != nil {
		return fmt.Errorf("delete pointers of hangout %s: %w", hangoutId, err)
	}
	return nil
}

func (s *postgresStore) ListByHangout(ctx context.Context, hangoutId string, limit int) ([]Pointer, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	rows, err := s.db.Query(ctx,
		`SELECT group_id, hangout_id, time_key, payload FROM hangout_pointer
		 WHERE hangout_id = $1 ORDER BY group_id LIMIT $2`, hangoutId, limit)
	if err != nil {
		return nil, fmt.Errorf("list pointers of hangout %s: %w", hangoutId, err)
	}
	scanned, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return decodeRows(scanned), nil
}

func (s *postgresStore) QueryFeed(ctx context.Context, q FeedQuery) (FeedResult, error) {
	if err := validateFeedQuery(q); err != nil {
		return FeedResult{}, err
	}

	scheduled := `SELECT 0 AS branch, group_id, hangout_id, time_key, payload FROM hangout_pointer
				  WHERE group_id = $1 AND time_key IS NOT NULL AND time_key >= $2`
	args := []any{q.GroupId, q.From, q.Limit, q.UnscheduledLimit}
	switch {
	case q.After != nil:
		scheduled += ` AND (time_key, hangout_id) > ($5, $6) ORDER BY time_key, hangout_id`
		args = append(args, q.After.TimeKey, q.After.HangoutId)
	case q.Before != nil:
		scheduled += ` AND (time_key, hangout_id) < ($5, $6) ORDER BY time_key DESC, hangout_id DESC`
		args = append(args, q.Before.TimeKey, q.Before.HangoutId)
	default:
		scheduled += ` ORDER BY time_key, hangout_id`
	}
	query := `(` + scheduled + ` LIMIT $3)
			  UNION ALL
			  (SELECT 1 AS branch, group_id, hangout_id, time_key, payload FROM hangout_pointer
			   WHERE group_id = $1 AND time_key IS NULL
			   ORDER BY hangout_id LIMIT $4)`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return FeedResult{}, fmt.Errorf("query feed of group %s: %w", q.GroupId, err)
	}
	defer rows.Close()

	var scheduledRows, unscheduledRows []row
	for rows.Next() {
		var branch int
		var r row
		if err := rows.Scan(&branch, &r.key.GroupId, &r.key.HangoutId, &r.timeKey, &r.payload); err != nil {
			return FeedResult{}, fmt.Errorf("scan feed row: %w", err)
		}
		if branch == 0 {
			scheduledRows = append(scheduledRows, r)
		} else {
			unscheduledRows = append(unscheduledRows, r)
		}
	}
	if err := rows.Err(); err != nil {
		return FeedResult{}, fmt.Errorf("read feed rows: %w", err)
	}

	// UNION ALL does not promise branch order, so restore the index order explicitly.
	sort.SliceStable(scheduledRows, func(i, j int) bool {
		a, b := scheduledRows[i].position(), scheduledRows[j].position()
		if q.Before != nil {
			a, b = b, a
		}
		return positionLess(a, b)
	})
	sort.SliceStable(unscheduledRows, func(i, j int) bool {
		return unscheduledRows[i].key.HangoutId < unscheduledRows[j].key.HangoutId
	})

	result := FeedResult{ScheduledRows: len(scheduledRows)}
	result.Scheduled = decodeRows(scheduledRows)
	result.Unscheduled = decodeRows(unscheduledRows)
	return result, nil
}

func (s *postgresStore) QueryScheduled(ctx context.Context, groupId string, from time.Time, limit int) ([]Pointer, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	rows, err := s.db.Query(ctx,
		`SELECT group_id, hangout_id, time_key, payload FROM hangout_pointer
		 WHERE group_id = $1 AND time_key IS NOT NULL AND time_key >= $2
		 ORDER BY time_key, hangout_id LIMIT $3`, groupId, from, limit)
	if err != nil {
		return nil, fmt.Errorf("query scheduled pointers of group %s: %w", groupId, err)
	}
	scanned, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return decodeRows(scanned), nil
}

func (s *postgresStore) ListKeys(ctx context.Context, after *Key, limit int) ([]Key, *Key, error) {
	if limit < 1 {
		return nil, nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	var from Key
	if after != nil {
		from = *after
	}
	rows, err := s.db.Query(ctx,
		`SELECT group_id, hangout_id FROM hangout_pointer
		 WHERE (group_id, hangout_id) > ($1, $2)
		 ORDER BY group_id, hangout_id LIMIT $3`, from.GroupId, from.HangoutId, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list pointer keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Key, error) {
		var k Key
		err := r.Scan(&k.GroupId, &k.HangoutId)
		return k, err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan pointer keys: %w", err)
	}
	if len(keys) < limit {
		return keys, nil, nil
	}
	next := keys[len(keys)-1]
	return keys, &next, nil
}

type row struct {
	key     Key
	timeKey *time.Time
	payload []byte
}

func (r row) position() Position {
	var t time.Time
	if r.timeKey != nil {
		t = *r.timeKey
	}
	return Position{TimeKey: t, HangoutId: r.key.HangoutId}
}

func scanRows(rows pgx.Rows) ([]row, error) {
	defer rows.Close()
	var scanned []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key.GroupId, &r.key.HangoutId, &r.timeKey, &r.payload); err != nil {
			return nil, fmt.Errorf("scan pointer row: %w", err)
		}
		scanned = append(scanned, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pointer rows: %w", err)
	}
	return scanned, nil
}

// decodeRows decodes every row, skipping and logging malformed documents.
func decodeRows(rows []row) []Pointer {
	pointers := make([]Pointer, 0, len(rows))
	for _, r := range rows {
		p, err := decodeRow(r.key, r.payload)
		if err != nil {
			continue
		}
		pointers = append(pointers, p)
	}
	return pointers
}

func decodeRow(key Key, payload []byte) (Pointer, error) {
	p, err := DecodeDocument(payload)
	if err == nil && p.Key() != key {
		err = fmt.Errorf("%w: document key %s/%s stored under %s/%s",
			ErrMalformedDocument, p.GroupId, p.HangoutId, key.GroupId, key.HangoutId)
	}
	if err != nil {
		log.WithFields(log.Fields{
			"group":   key.GroupId,
			"hangout": key.HangoutId,
		}).Warnf("skipping malformed pointer: %v", err)
		return Pointer{}, err
	}
	return p, nil
}

func validateFeedQuery(q FeedQuery) error {
	if q.Limit < 1 || q.UnscheduledLimit < 1 {
		return fmt.Errorf("%w: limits must be positive", ErrInvalidQuery)
	}
	if q.After != nil && q.Before != nil {
		return fmt.Errorf("%w: after and before are exclusive", ErrInvalidQuery)
	}
	return nil
}

func positionLess(a Position, b Position) bool {
	if !a.TimeKey.Equal(b.TimeKey) {
		return a.TimeKey.Before(b.TimeKey)
	}
	return a.HangoutId < b.HangoutId
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sessionkit/core/session"
)

// Store persists sessions in three relational tables: the session row keyed by
// a surrogate primary id, its serialized attributes and its index values.
// Renaming a session rewrites one column, so attributes and indexes never move.
type Store struct {
	db         *sql.DB
	dialect    Dialect
	table      string
	serializer session.Serializer
	q          queries
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the base table name. Default is "sessions".
func WithTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.table = name
		}
	}
}

// WithSerializer sets the attribute serializer. Default is session.NewJSONSerializer().
func WithSerializer(ser session.Serializer) Option {
	return func(s *Store) {
		if ser != nil {
			s.serializer = ser
		}
	}
}

// New creates a store. The schema from Migrations must already be applied.
func New(db *sql.DB, d Dialect, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if d.name == "" {
		return nil, ErrUnknownDialect
	}

	s := &Store{
		db:         db,
		dialect:    d,
		table:      "sessions",
		serializer: session.NewJSONSerializer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !tableNameRe.MatchString(s.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, s.table)
	}

	s.q = buildQueries(d, s.table)
	return s, nil
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, id string) (*session.Record, error) {
	_, rec, err := s.load(ctx, s.conn(ctx), s.q.selectSession, id, true)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, session.ErrNotFound
	}
	return rec, nil
}

// Apply implements session.Store. The rename, the delta and the index changes
// commit in one transaction.
func (s *Store) Apply(ctx context.Context, m session.Mutation) error {
	attrs, err := s.encodeChanges(m)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(q querier) error {
		if m.PreviousID != "" && m.PreviousID != m.ID {
			if _, err := q.ExecContext(ctx, s.q.rename, m.ID, m.PreviousID); err != nil {
				return unavailable(err)
			}
		}

		if m.IsNew {
			return s.insert(ctx, q, m, attrs)
		}

		var primaryID string
		err := q.QueryRowContext(ctx, s.q.selectPrimaryID, m.ID).Scan(&primaryID)
		if errors.Is(err, sql.ErrNoRows) {
			return s.insert(ctx, q, m, attrs)
		}
		if err != nil {
			return unavailable(err)
		}
		return s.update(ctx, q, primaryID, m, attrs)
	})
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) (*session.Record, error) {
	var removed *session.Record
	err := s.inTx(ctx, func(q querier) error {
		primaryID, rec, err := s.load(ctx, q, s.q.selectSessionForUpdate, id, false)
		if err != nil {
			return err
		}
		if rec == nil {
			return session.ErrNotFound
		}
		if _, err := q.ExecContext(ctx, s.q.deleteSession, primaryID); err != nil {
			return unavailable(err)
		}
		removed = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// DeleteIfExpired implements session.Store. The row is locked while the
// expiry check runs, so a concurrent touch either wins or sees the deletion.
func (s *Store) DeleteIfExpired(ctx context.Context, id string, now time.Time) (*session.Record, bool, error) {
	var (
		found   *session.Record
		deleted bool
	)
	err := s.inTx(ctx, func(q querier) error {
		primaryID, rec, err := s.load(ctx, q, s.q.selectSessionForUpdate, id, false)
		if err != nil || rec == nil {
			return err
		}
		found = rec
		if !rec.IsExpired(now) {
			return nil
		}
		if _, err := q.ExecContext(ctx, s.q.deleteSession, primaryID); err != nil {
			return unavailable(err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return found, deleted, nil
}

// FindIDsByIndex implements session.Store.
func (s *Store) FindIDsByIndex(ctx context.Context, name, value string) ([]string, error) {
	return s.queryIDs(ctx, s.q.findByIndex, name, value)
}

// RemoveIndexEntry implements session.Store.
func (s *Store) RemoveIndexEntry(ctx context.Context, name, value, id string) error {
	if _, err := s.conn(ctx).ExecContext(ctx, s.q.removeIndexEntry, name, value, id); err != nil {
		return unavailable(err)
	}
	return nil
}

// ScanExpired implements session.ExpiredScanner using the expiry_time column.
func (s *Store) ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit > 0 {
		return s.queryIDs(ctx, s.q.scanExpiredLimit, now.UnixMilli(), limit)
	}
	return s.queryIDs(ctx, s.q.scanExpired, now.UnixMilli())
}

// Ping implements session.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// load reads a session row with its attributes and indexes. With strict unset,
// attributes that fail to decode are left out of the record.
func (s *Store) load(ctx context.Context, q querier, query, id string, strict bool) (string, *session.Record, error) {
	var primaryID string
	var created, accessed, intervalMs int64
	err := q.QueryRowContext(ctx, query, id).Scan(&primaryID, &created, &accessed, &intervalMs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, unavailable(err)
	}

	rec := &session.Record{
		ID:                  id,
		CreationTime:        time.UnixMilli(created),
		LastAccessedTime:    time.UnixMilli(accessed),
		MaxInactiveInterval: time.Duration(intervalMs) * time.Millisecond,
		Attributes:          make(map[string]any),
		Indexes:             make(map[string]string),
	}

	if err := s.loadAttributes(ctx, q, primaryID, rec, strict); err != nil {
		return "", nil, err
	}
	if err := s.loadIndexes(ctx, q, primaryID, rec); err != nil {
		return "", nil, err
	}
	return primaryID, rec, nil
}

func (s *Store) loadAttributes(ctx context.Context, q querier, primaryID string, rec *session.Record, strict bool) error {
	rows, err := q.QueryContext(ctx, s.q.selectAttributes, primaryID)
	if err != nil {
		return unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			data []byte
		)
		if err := rows.Scan(&name, &data); err != nil {
			return unavailable(err)
		}
		v, err := s.serializer.Unmarshal(data)
		if err != nil && !strict {
			continue
		}
		if err != nil {
			return fmt.Errorf("attribute %q of session %s: %w", name, rec.ID, err)
		}
		rec.Attributes[name] = v
	}
	if err := rows.Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) loadIndexes(ctx context.Context, q querier, primaryID string, rec *session.Record) error {
	rows, err := q.QueryContext(ctx, s.q.selectIndexes, primaryID)
	if err != nil {
		return unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return unavailable(err)
		}
		rec.Indexes[name] = value
	}
	if err := rows.Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

// insert writes the full record under a fresh primary id.
func (s *Store) insert(ctx context.Context, q querier, m session.Mutation, changes map[string]session.Change) error {
	rec := m.Record
	attrs, err := s.encodeRecord(m, changes)
	if err != nil {
		return err
	}

	primaryID := uuid.NewString()
	_, err = q.ExecContext(ctx, s.q.insertSession,
		primaryID, m.ID,
		rec.CreationTime.UnixMilli(),
		rec.LastAccessedTime.UnixMilli(),
		rec.MaxInactiveInterval.Milliseconds(),
		expiryMillis(rec),
	)
	if err != nil {
		return unavailable(err)
	}

	for _, name := range sortedKeys(attrs) {
		if _, err := q.ExecContext(ctx, s.q.insertAttribute, primaryID, name, attrs[name]); err != nil {
			return unavailable(err)
		}
	}
	for _, name := range sortedKeys(rec.Indexes) {
		if _, err := q.ExecContext(ctx, s.q.insertIndex, primaryID, name, rec.Indexes[name]); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

// update writes only what the mutation changed.
func (s *Store) update(ctx context.Context, q querier, primaryID string, m session.Mutation, attrs map[string]session.Change) error {
	rec := m.Record

	var (
		sets []string
		args []any
	)
	if m.Delta.Fields.Has(session.FieldCreationTime) {
		sets = append(sets, "creation_time = ?")
		args = append(args, rec.CreationTime.UnixMilli())
	}
	if m.Delta.Fields.Has(session.FieldLastAccessedTime) {
		sets = append(sets, "last_access_time = ?")
		args = append(args, rec.LastAccessedTime.UnixMilli())
	}
	if m.Delta.Fields.Has(session.FieldMaxInactiveInterval) {
		sets = append(sets, "max_inactive_interval = ?")
		args = append(args, rec.MaxInactiveInterval.Milliseconds())
	}
	if m.Delta.Fields.Has(session.FieldLastAccessedTime) || m.Delta.Fields.Has(session.FieldMaxInactiveInterval) {
		sets = append(sets, "expiry_time = ?")
		args = append(args, expiryMillis(rec))
	}
	if len(sets) > 0 {
		query := s.dialect.rebind(fmt.Sprintf("UPDATE %s SET %s WHERE primary_id = ?", s.table, strings.Join(sets, ", ")))
		if _, err := q.ExecContext(ctx, query, append(args, primaryID)...); err != nil {
			return unavailable(err)
		}
	}

	for _, name := range sortedKeys(attrs) {
		c := attrs[name]
		var err error
		if c.Removed {
			_, err = q.ExecContext(ctx, s.q.deleteAttribute, primaryID, name)
		} else {
			_, err = q.ExecContext(ctx, s.q.upsertAttribute, primaryID, name, c.Value)
		}
		if err != nil {
			return unavailable(err)
		}
	}

	for _, name := range sortedKeys(m.Indexes) {
		c := m.Indexes[name]
		var err error
		if c.New == "" {
			_, err = q.ExecContext(ctx, s.q.deleteIndex, primaryID, name)
		} else {
			_, err = q.ExecContext(ctx, s.q.upsertIndex, primaryID, name, c.New)
		}
		if err != nil {
			return unavailable(err)
		}
	}
	return nil
}

// encodeChanges serializes changed attribute values. Change.Value holds []byte on return.
func (s *Store) encodeChanges(m session.Mutation) (map[string]session.Change, error) {
	out := make(map[string]session.Change, len(m.Delta.Attributes))
	for name, c := range m.Delta.Attributes {
		if c.Removed {
			out[name] = c
			continue
		}
		data, err := s.serializer.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = session.Change{Value: data}
	}
	return out, nil
}

func (s *Store) encodeRecord(m session.Mutation, changes map[string]session.Change) (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.Record.Attributes))
	for name, v := range m.Record.Attributes {
		if c, ok := changes[name]; ok && !c.Removed {
			out[name] = c.Value.([]byte)
			continue
		}
		data, err := s.serializer.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// expiryMillis returns nil for sessions that never expire.
func expiryMillis(rec *session.Record) any {
	t := rec.ExpiresAt()
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func unavailable(err error) error {
	if err == nil || errors.Is(err, session.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(session.ErrStoreUnavailable, err)
}

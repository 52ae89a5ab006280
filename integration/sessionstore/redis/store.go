package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/sessionkit/core/session"
)

// hashGrace keeps the session hash around after the shadow key expired, so
// expiry listeners can still read the last state.
const hashGrace = 5 * time.Minute

const maxWatchRetries = 5

// Store persists sessions in Redis.
//
// Layout, with ns the namespace:
//
//	ns:sessions:<id>          hash of metadata, attributes and index values
//	ns:sessions:expires:<id>  shadow key whose TTL is the idle timeout
//	ns:index:<name>:<value>   set of session ids
//	ns:expirations            sorted set of ids scored by expiry (unix ms)
//
// The store is written for a single Redis node or a primary with replicas.
// Scripts touch keys they compute at run time, which Redis Cluster rejects.
type Store struct {
	client     redis.UniversalClient
	keys       keys
	serializer session.Serializer
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace sets the key prefix. Default is "session".
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.keys.ns = ns
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

// WithDatabase sets the database index used in notification channel names.
// It is detected automatically for *redis.Client.
func WithDatabase(db int) Option {
	return func(s *Store) {
		s.keys.db = db
	}
}

// WithClock overrides the time source used to compute key TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store on top of client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		keys:       keys{ns: "session"},
		serializer: session.NewJSONSerializer(),
		now:        time.Now,
	}
	if c, ok := client.(*redis.Client); ok {
		s.keys.db = c.Options().DB
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, id string) (*session.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.session(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if _, ok := fields[fieldCreationTime]; !ok {
		return nil, session.ErrNotFound
	}
	rec, err := s.decode(id, fields)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Apply implements session.Store.
func (s *Store) Apply(ctx context.Context, m session.Mutation) error {
	attrs, err := s.encodeChanges(m)
	if err != nil {
		return err
	}

	if m.PreviousID != "" && m.PreviousID != m.ID {
		err := luaRename.Run(ctx, s.client,
			[]string{
				s.keys.session(m.PreviousID),
				s.keys.session(m.ID),
				s.keys.expires(m.PreviousID),
				s.keys.expires(m.ID),
				s.keys.expirations(),
			},
			m.PreviousID, m.ID, s.keys.indexPrefix(),
		).Err()
		if err != nil {
			return unavailable(err)
		}
	}

	key := s.keys.session(m.ID)
	for range maxWatchRetries {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			full := m.IsNew
			if !full {
				n, err := tx.Exists(ctx, key).Result()
				if err != nil {
					return err
				}
				full = n == 0
			}

			var fullAttrs map[string][]byte
			if full {
				encoded, err := s.encodeRecord(m, attrs)
				if err != nil {
					return err
				}
				fullAttrs = encoded
			}

			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if full {
					s.writeFull(ctx, pipe, m, fullAttrs)
				} else {
					s.writeDelta(ctx, pipe, m, attrs)
				}
				if m.IsNew {
					pipe.Publish(ctx, s.keys.created(m.ID), m.ID)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, session.ErrSerialization) {
				return err
			}
			return unavailable(err)
		}
		return nil
	}
	return unavailable(fmt.Errorf("session %s changed concurrently %d times", m.ID, maxWatchRetries))
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) (*session.Record, error) {
	status, rec, err := s.delete(ctx, id, s.now(), "force")
	if err != nil {
		return nil, err
	}
	if status == "missing" {
		return nil, session.ErrNotFound
	}
	return rec, nil
}

// DeleteIfExpired implements session.Store.
func (s *Store) DeleteIfExpired(ctx context.Context, id string, now time.Time) (*session.Record, bool, error) {
	status, rec, err := s.delete(ctx, id, now, "expired")
	if err != nil {
		return nil, false, err
	}
	switch status {
	case "deleted":
		return rec, true, nil
	case "alive":
		return rec, false, nil
	default:
		return nil, false, nil
	}
}

// FindIDsByIndex implements session.Store.
func (s *Store) FindIDsByIndex(ctx context.Context, name, value string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.keys.index(name, value)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	slices.Sort(ids)
	return ids, nil
}

// RemoveIndexEntry implements session.Store.
func (s *Store) RemoveIndexEntry(ctx context.Context, name, value, id string) error {
	if err := s.client.SRem(ctx, s.keys.index(name, value), id).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// ScanExpired implements session.ExpiredScanner using the expirations sorted set.
func (s *Store) ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.expirations(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(max(limit, 0)),
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

// Ping implements session.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, id string, now time.Time, mode string) (string, *session.Record, error) {
	res, err := luaDelete.Run(ctx, s.client,
		[]string{s.keys.session(id), s.keys.expires(id), s.keys.expirations()},
		id, s.keys.indexPrefix(), now.UnixMilli(), mode,
	).StringSlice()
	if err != nil {
		return "", nil, unavailable(err)
	}
	if len(res) == 0 {
		return "", nil, unavailable(errors.New("empty script reply"))
	}

	status := res[0]
	if status == "missing" {
		return status, nil, nil
	}

	fields := make(map[string]string, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	// The decision is already taken by the script. Attributes that no longer
	// decode are left out of the snapshot.
	rec, _ := s.decode(id, fields)
	return status, rec, nil
}

func (s *Store) writeFull(ctx context.Context, pipe redis.Pipeliner, m session.Mutation, attrs map[string][]byte) {
	key := s.keys.session(m.ID)
	rec := m.Record

	pipe.Del(ctx, key)
	values := []any{
		fieldCreationTime, rec.CreationTime.UnixMilli(),
		fieldLastAccessedTime, rec.LastAccessedTime.UnixMilli(),
		fieldMaxInactiveInterval, rec.MaxInactiveInterval.Milliseconds(),
		fieldExpiresAt, expiresAtMillis(rec),
	}
	for name, data := range attrs {
		values = append(values, attrPrefix+name, data)
	}
	for name, value := range rec.Indexes {
		values = append(values, indexFieldPrefix+name, value)
		pipe.SAdd(ctx, s.keys.index(name, value), m.ID)
	}
	pipe.HSet(ctx, key, values...)

	// Index values that moved away since the last save still point here.
	for name, c := range m.Indexes {
		if c.Old != "" && c.Old != rec.Indexes[name] {
			pipe.SRem(ctx, s.keys.index(name, c.Old), m.ID)
		}
	}

	s.writeExpiry(ctx, pipe, m.ID, rec)
}

func (s *Store) writeDelta(ctx context.Context, pipe redis.Pipeliner, m session.Mutation, attrs map[string]session.Change) {
	key := s.keys.session(m.ID)
	rec := m.Record

	var values []any
	if m.Delta.Fields.Has(session.FieldCreationTime) {
		values = append(values, fieldCreationTime, rec.CreationTime.UnixMilli())
	}
	expiryChanged := m.Delta.Fields.Has(session.FieldLastAccessedTime) ||
		m.Delta.Fields.Has(session.FieldMaxInactiveInterval)
	if m.Delta.Fields.Has(session.FieldLastAccessedTime) {
		values = append(values, fieldLastAccessedTime, rec.LastAccessedTime.UnixMilli())
	}
	if m.Delta.Fields.Has(session.FieldMaxInactiveInterval) {
		values = append(values, fieldMaxInactiveInterval, rec.MaxInactiveInterval.Milliseconds())
	}
	if expiryChanged {
		values = append(values, fieldExpiresAt, expiresAtMillis(rec))
	}

	var removed []string
	for name, c := range attrs {
		if c.Removed {
			removed = append(removed, attrPrefix+name)
			continue
		}
		values = append(values, attrPrefix+name, c.Value)
	}

	for name, c := range m.Indexes {
		if c.Old != "" {
			pipe.SRem(ctx, s.keys.index(name, c.Old), m.ID)
		}
		if c.New != "" {
			pipe.SAdd(ctx, s.keys.index(name, c.New), m.ID)
			values = append(values, indexFieldPrefix+name, c.New)
		} else {
			removed = append(removed, indexFieldPrefix+name)
		}
	}

	if len(values) > 0 {
		pipe.HSet(ctx, key, values...)
	}
	if len(removed) > 0 {
		pipe.HDel(ctx, key, removed...)
	}
	if expiryChanged {
		s.writeExpiry(ctx, pipe, m.ID, rec)
	}
}

func (s *Store) writeExpiry(ctx context.Context, pipe redis.Pipeliner, id string, rec *session.Record) {
	key := s.keys.session(id)
	shadow := s.keys.expires(id)

	expiresAt := rec.ExpiresAt()
	if expiresAt.IsZero() {
		// The shadow key is kept without a TTL. Deleting it would fire a del
		// notification for a live session.
		pipe.Persist(ctx, key)
		pipe.Persist(ctx, shadow)
		pipe.ZRem(ctx, s.keys.expirations(), id)
		return
	}

	ttl := max(expiresAt.Sub(s.now()), time.Millisecond)
	pipe.Set(ctx, shadow, "", ttl)
	pipe.PExpire(ctx, key, ttl+hashGrace)
	pipe.ZAdd(ctx, s.keys.expirations(), redis.Z{Score: float64(expiresAt.UnixMilli()), Member: id})
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

// encodeRecord serializes the full attribute set, reusing already encoded changes.
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
	for name, c := range changes {
		if _, ok := out[name]; !ok && !c.Removed {
			out[name] = c.Value.([]byte)
		}
	}
	return out, nil
}

// decode builds a record from hash fields. Attributes that fail to decode are
// skipped and reported in the joined error, so callers may keep the partial record.
func (s *Store) decode(id string, fields map[string]string) (*session.Record, error) {
	var errs []error
	rec := &session.Record{
		ID:         id,
		Attributes: make(map[string]any),
		Indexes:    make(map[string]string),
	}

	for field, value := range fields {
		switch {
		case field == fieldCreationTime:
			rec.CreationTime = parseMillis(value)
		case field == fieldLastAccessedTime:
			rec.LastAccessedTime = parseMillis(value)
		case field == fieldMaxInactiveInterval:
			ms, _ := strconv.ParseInt(value, 10, 64)
			rec.MaxInactiveInterval = time.Duration(ms) * time.Millisecond
		case strings.HasPrefix(field, attrPrefix):
			name := strings.TrimPrefix(field, attrPrefix)
			v, err := s.serializer.Unmarshal([]byte(value))
			if err != nil {
				errs = append(errs, fmt.Errorf("attribute %q of session %s: %w", name, id, err))
				continue
			}
			rec.Attributes[name] = v
		case strings.HasPrefix(field, indexFieldPrefix):
			rec.Indexes[strings.TrimPrefix(field, indexFieldPrefix)] = value
		}
	}
	return rec, errors.Join(errs...)
}

func expiresAtMillis(rec *session.Record) int64 {
	t := rec.ExpiresAt()
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseMillis(s string) time.Time {
	ms, _ := strconv.ParseInt(s, 10, 64)
	return time.UnixMilli(ms)
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

package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/dmitrymomot/sessionkit/core/session"
)

// Store persists one document per session in a MongoDB collection.
//
// Document ids cannot change, so a rename copies the document under the new
// id and deletes the old one. Both copies carry a marker that tells Feed to
// stay silent about them.
type Store struct {
	db         *mongodriver.Database
	coll       *mongodriver.Collection
	serializer session.Serializer
	ttlGrace   time.Duration
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCollection sets the collection name. Default is "sessions".
func WithCollection(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.coll = s.db.Collection(name)
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

// WithTTLIndex makes EnsureIndexes create a TTL index on expireAt, so the
// server removes sessions grace after they expire even if no sweeper runs.
func WithTTLIndex(grace time.Duration) Option {
	return func(s *Store) {
		if grace >= 0 {
			s.ttlGrace = grace
		}
	}
}

// WithClock overrides the time source Feed uses to classify deletions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store in db.
func New(db *mongodriver.Database, opts ...Option) *Store {
	s := &Store{
		db:         db,
		coll:       db.Collection("sessions"),
		serializer: session.NewJSONSerializer(),
		ttlGrace:   -1,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the underlying collection.
func (s *Store) Collection() *mongodriver.Collection { return s.coll }

// EnsureIndexes creates the indexes the store queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	expiry := options.Index().SetName("expireAt_1")
	if s.ttlGrace >= 0 {
		expiry.SetExpireAfterSeconds(int32(s.ttlGrace / time.Second))
	}

	_, err := s.coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: fieldExpireAt, Value: 1}}, Options: expiry},
		{Keys: bson.D{{Key: fieldIndexes + ".$**", Value: 1}}, Options: options.Index().SetName("indexes_wildcard")},
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// EnablePreImages turns on change stream pre-images for the collection.
// Feed needs them to tell expirations from deletions and to attach snapshots.
func (s *Store) EnablePreImages(ctx context.Context) error {
	err := s.db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: s.coll.Name()},
		{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
	}).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, id string) (*session.Record, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.D{{Key: fieldID, Value: id}}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	rec, err := fromDocument(&doc, s.serializer)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Apply implements session.Store.
func (s *Store) Apply(ctx context.Context, m session.Mutation) error {
	changes, err := s.encodeChanges(m)
	if err != nil {
		return err
	}

	if m.PreviousID != "" && m.PreviousID != m.ID {
		if err := s.rename(ctx, m.PreviousID, m.ID); err != nil {
			return err
		}
	}

	if m.IsNew {
		return s.replace(ctx, m, changes)
	}

	filter := bson.D{{Key: fieldID, Value: m.ID}}
	update := deltaUpdate(m, changes)
	if len(update) == 0 {
		err := s.coll.FindOne(ctx, filter, options.FindOne().SetProjection(bson.D{{Key: fieldID, Value: 1}})).Err()
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return s.replace(ctx, m, changes)
		}
		return unavailable(err)
	}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return unavailable(err)
	}
	if res.MatchedCount == 0 {
		return s.replace(ctx, m, changes)
	}
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) (*session.Record, error) {
	var doc document
	err := s.coll.FindOneAndDelete(ctx, bson.D{{Key: fieldID, Value: id}}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	// Attributes that no longer decode are dropped from the snapshot.
	rec, _ := fromDocument(&doc, s.serializer)
	return rec, nil
}

// DeleteIfExpired implements session.Store. The expiry check is part of the
// delete filter, so a concurrent touch that moved expireAt wins.
func (s *Store) DeleteIfExpired(ctx context.Context, id string, now time.Time) (*session.Record, bool, error) {
	var doc document
	err := s.coll.FindOneAndDelete(ctx, bson.D{
		{Key: fieldID, Value: id},
		{Key: fieldExpireAt, Value: bson.D{{Key: "$lt", Value: now}}},
	}).Decode(&doc)
	switch {
	case err == nil:
		rec, _ := fromDocument(&doc, s.serializer)
		return rec, true, nil
	case !errors.Is(err, mongodriver.ErrNoDocuments):
		return nil, false, unavailable(err)
	}

	rec, err := s.Load(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// FindIDsByIndex implements session.Store.
func (s *Store) FindIDsByIndex(ctx context.Context, name, value string) ([]string, error) {
	return s.findIDs(ctx, bson.D{{Key: indexPath(name), Value: value}},
		options.Find().SetSort(bson.D{{Key: fieldID, Value: 1}}))
}

// RemoveIndexEntry implements session.Store.
func (s *Store) RemoveIndexEntry(ctx context.Context, name, value, id string) error {
	path := indexPath(name)
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: fieldID, Value: id}, {Key: path, Value: value}},
		bson.D{{Key: "$unset", Value: bson.D{{Key: path, Value: ""}}}},
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ScanExpired implements session.ExpiredScanner. Documents with a null
// expireAt never match a $lt comparison with a date.
func (s *Store) ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	opts := options.Find().SetSort(bson.D{{Key: fieldExpireAt, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findIDs(ctx, bson.D{{Key: fieldExpireAt, Value: bson.D{{Key: "$lt", Value: now}}}}, opts)
}

// Ping implements session.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) findIDs(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]string, error) {
	opts.SetProjection(bson.D{{Key: fieldID, Value: 1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable(err)
	}

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, unavailable(err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// rename moves the document from oldID to newID. A missing source is not an
// error; the caller then recreates the record from the mutation.
func (s *Store) rename(ctx context.Context, oldID, newID string) error {
	var doc document
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: fieldID, Value: oldID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: fieldRenamedTo, Value: newID}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}

	doc.ID = newID
	doc.RenamedFrom = oldID
	doc.RenamedTo = ""
	if _, err := s.coll.ReplaceOne(ctx, bson.D{{Key: fieldID, Value: newID}}, &doc, options.Replace().SetUpsert(true)); err != nil {
		return unavailable(err)
	}
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: fieldID, Value: oldID}}); err != nil {
		return unavailable(err)
	}
	return nil
}

// replace writes the full record, creating the document when needed.
func (s *Store) replace(ctx context.Context, m session.Mutation, changes map[string]session.Change) error {
	attrs, err := s.encodeRecord(m, changes)
	if err != nil {
		return err
	}
	doc := toDocument(m.Record, attrs)
	doc.ID = m.ID
	if _, err := s.coll.ReplaceOne(ctx, bson.D{{Key: fieldID, Value: m.ID}}, doc, options.Replace().SetUpsert(true)); err != nil {
		return unavailable(err)
	}
	return nil
}

// deltaUpdate builds the $set and $unset update for the changed paths only.
func deltaUpdate(m session.Mutation, changes map[string]session.Change) bson.D {
	rec := m.Record
	var set, unset bson.D

	if m.Delta.Fields.Has(session.FieldCreationTime) {
		set = append(set, bson.E{Key: fieldCreated, Value: rec.CreationTime})
	}
	if m.Delta.Fields.Has(session.FieldLastAccessedTime) {
		set = append(set, bson.E{Key: fieldAccessed, Value: rec.LastAccessedTime})
	}
	if m.Delta.Fields.Has(session.FieldMaxInactiveInterval) {
		set = append(set, bson.E{Key: fieldInterval, Value: rec.MaxInactiveInterval.Milliseconds()})
	}
	if m.Delta.Fields.Has(session.FieldLastAccessedTime) || m.Delta.Fields.Has(session.FieldMaxInactiveInterval) {
		set = append(set, bson.E{Key: fieldExpireAt, Value: expireAt(rec)})
	}

	for _, name := range sortedKeys(changes) {
		c := changes[name]
		if c.Removed {
			unset = append(unset, bson.E{Key: attrPath(name), Value: ""})
			continue
		}
		set = append(set, bson.E{Key: attrPath(name), Value: c.Value})
	}

	for _, name := range sortedKeys(m.Indexes) {
		c := m.Indexes[name]
		if c.New == "" {
			unset = append(unset, bson.E{Key: indexPath(name), Value: ""})
			continue
		}
		set = append(set, bson.E{Key: indexPath(name), Value: c.New})
	}

	var update bson.D
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	return update
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

package mongo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrymomot/sessionkit/core/session"
)

// Field names may not contain '.' and may not start with '$', so attribute
// and index names are stored with full-width replacements.
const (
	dotReplacement    = "．"
	dollarReplacement = "＄"
)

const (
	fieldID          = "_id"
	fieldCreated     = "created"
	fieldAccessed    = "accessed"
	fieldInterval    = "interval"
	fieldExpireAt    = "expireAt"
	fieldAttrs       = "attrs"
	fieldIndexes     = "indexes"
	fieldRenamedFrom = "renamedFrom"
	fieldRenamedTo   = "renamedTo"
)

// document is the stored form of a session. Times have millisecond precision.
type document struct {
	ID          string            `bson:"_id"`
	Created     time.Time         `bson:"created"`
	Accessed    time.Time         `bson:"accessed"`
	IntervalMs  int64             `bson:"interval"`
	ExpireAt    *time.Time        `bson:"expireAt"`
	Attrs       map[string][]byte `bson:"attrs"`
	Indexes     map[string]string `bson:"indexes"`
	RenamedFrom string            `bson:"renamedFrom,omitempty"`
	RenamedTo   string            `bson:"renamedTo,omitempty"`
}

func escapeKey(name string) string {
	name = strings.ReplaceAll(name, ".", dotReplacement)
	if strings.HasPrefix(name, "$") {
		name = dollarReplacement + name[1:]
	}
	return name
}

func unescapeKey(name string) string {
	if strings.HasPrefix(name, dollarReplacement) {
		name = "$" + strings.TrimPrefix(name, dollarReplacement)
	}
	return strings.ReplaceAll(name, dotReplacement, ".")
}

func attrPath(name string) string  { return fieldAttrs + "." + escapeKey(name) }
func indexPath(name string) string { return fieldIndexes + "." + escapeKey(name) }

// expireAt returns nil for sessions that never expire.
func expireAt(rec *session.Record) *time.Time {
	t := rec.ExpiresAt()
	if t.IsZero() {
		return nil
	}
	t = t.Truncate(time.Millisecond)
	return &t
}

func toDocument(rec *session.Record, attrs map[string][]byte) *document {
	doc := &document{
		ID:         rec.ID,
		Created:    rec.CreationTime,
		Accessed:   rec.LastAccessedTime,
		IntervalMs: rec.MaxInactiveInterval.Milliseconds(),
		ExpireAt:   expireAt(rec),
		Attrs:      make(map[string][]byte, len(attrs)),
		Indexes:    make(map[string]string, len(rec.Indexes)),
	}
	for name, data := range attrs {
		doc.Attrs[escapeKey(name)] = data
	}
	for name, value := range rec.Indexes {
		doc.Indexes[escapeKey(name)] = value
	}
	return doc
}

// fromDocument always returns the record. Attributes that fail to decode are
// left out and reported in the joined error.
func fromDocument(doc *document, ser session.Serializer) (*session.Record, error) {
	var errs []error
	rec := &session.Record{
		ID:                  doc.ID,
		CreationTime:        doc.Created,
		LastAccessedTime:    doc.Accessed,
		MaxInactiveInterval: time.Duration(doc.IntervalMs) * time.Millisecond,
		Attributes:          make(map[string]any, len(doc.Attrs)),
		Indexes:             make(map[string]string, len(doc.Indexes)),
	}
	for key, data := range doc.Attrs {
		name := unescapeKey(key)
		v, err := ser.Unmarshal(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("attribute %q of session %s: %w", name, doc.ID, err))
			continue
		}
		rec.Attributes[name] = v
	}
	for key, value := range doc.Indexes {
		rec.Indexes[unescapeKey(key)] = value
	}
	return rec, errors.Join(errs...)
}

// expiredAt reports whether the stored expiry passed by now.
func (d *document) expiredAt(now time.Time) bool {
	return d.ExpireAt != nil && !d.ExpireAt.After(now)
}

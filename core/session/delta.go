package session

import (
	"maps"
	"time"
)

// Field is a bitmask of session metadata that changed since the last save.
type Field uint8

const (
	FieldCreationTime Field = 1 << iota
	FieldLastAccessedTime
	FieldMaxInactiveInterval
)

// Has reports whether all bits of f are set.
func (f Field) Has(flag Field) bool {
	return f&flag == flag
}

// Change is a pending attribute write. Removed marks a tombstone.
type Change struct {
	Value   any
	Removed bool
}

// Delta is the set of unsaved changes of a single session.
type Delta struct {
	Fields     Field
	Attributes map[string]Change
}

// IsEmpty reports whether the delta carries no changes.
func (d Delta) IsEmpty() bool {
	return d.Fields == 0 && len(d.Attributes) == 0
}

func (d *Delta) mark(f Field) {
	d.Fields |= f
}

func (d *Delta) set(name string, value any) {
	if d.Attributes == nil {
		d.Attributes = make(map[string]Change)
	}
	d.Attributes[name] = Change{Value: value}
}

func (d *Delta) remove(name string) {
	if d.Attributes == nil {
		d.Attributes = make(map[string]Change)
	}
	d.Attributes[name] = Change{Removed: true}
}

func (d Delta) clone() Delta {
	return Delta{Fields: d.Fields, Attributes: maps.Clone(d.Attributes)}
}

func (d *Delta) reset() {
	d.Fields = 0
	d.Attributes = nil
}

// Record is the persisted shape of a session as seen by store adapters.
type Record struct {
	ID                  string
	CreationTime        time.Time
	LastAccessedTime    time.Time
	MaxInactiveInterval time.Duration
	Attributes          map[string]any
	Indexes             map[string]string
}

// ExpiresAt returns the instant after which the record is expired.
// The zero time is returned for records that never expire.
func (r *Record) ExpiresAt() time.Time {
	if r.MaxInactiveInterval <= 0 {
		return time.Time{}
	}
	return r.LastAccessedTime.Add(r.MaxInactiveInterval)
}

// IsExpired reports whether the record is expired at now.
func (r *Record) IsExpired(now time.Time) bool {
	return isExpired(r.LastAccessedTime, r.MaxInactiveInterval, now)
}

// Clone returns a copy with its own attribute and index maps.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Attributes = maps.Clone(r.Attributes)
	c.Indexes = maps.Clone(r.Indexes)
	return &c
}

// IndexChange describes how a single index value moved during a save.
// An empty Old means the entry is added, an empty New means it is retracted.
type IndexChange struct {
	Old string
	New string
}

// Mutation is everything a store needs to persist one save.
type Mutation struct {
	// ID is the session id after the save.
	ID string
	// PreviousID is set when the id changed since the last save and the record must be renamed.
	PreviousID string
	// IsNew is true for the first save of a session.
	IsNew bool
	// Record is the full in-memory state at save time. Stores use it to compute
	// expiry and to recreate a record that vanished between load and save.
	Record *Record
	// Delta is the set of fields and attributes to write.
	Delta Delta
	// Indexes holds only the index names whose value changed.
	Indexes map[string]IndexChange
}

func isExpired(lastAccessed time.Time, maxInactive time.Duration, now time.Time) bool {
	if maxInactive <= 0 {
		return false
	}
	return now.Sub(lastAccessed) > maxInactive
}

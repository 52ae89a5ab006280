package session

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// ExpirationTracker buckets session ids by expiry time so a periodic sweep can
// find expired sessions without relying on store-native TTL notifications.
//
// Buckets are keyed by the expiry instant rounded down to the granularity.
// Bucket sets and the id-to-bucket index are lock-striped; moving an id
// between buckets happens under its id stripe, so a save that extends a
// session can never leave a stale entry behind.
type ExpirationTracker struct {
	granularity time.Duration
	ids         []idStripe
	buckets     []bucketStripe
}

type idStripe struct {
	mu      sync.Mutex
	current map[string]int64
}

type bucketStripe struct {
	mu      sync.Mutex
	buckets map[int64]map[string]struct{}
}

// NewExpirationTracker creates a tracker. Non-positive arguments fall back to
// one minute granularity and 32 stripes.
func NewExpirationTracker(granularity time.Duration, stripes int) *ExpirationTracker {
	if granularity <= 0 {
		granularity = time.Minute
	}
	if stripes <= 0 {
		stripes = 32
	}
	t := &ExpirationTracker{
		granularity: granularity,
		ids:         make([]idStripe, stripes),
		buckets:     make([]bucketStripe, stripes),
	}
	for i := range t.ids {
		t.ids[i].current = make(map[string]int64)
		t.buckets[i].buckets = make(map[int64]map[string]struct{})
	}
	return t
}

// Granularity returns the bucket width.
func (t *ExpirationTracker) Granularity() time.Duration {
	return t.granularity
}

// BucketOf returns the bucket key, in unix milliseconds, for an expiry instant.
func (t *ExpirationTracker) BucketOf(expireAt time.Time) int64 {
	g := t.granularity.Milliseconds()
	ms := expireAt.UnixMilli()
	key := ms / g * g
	if ms < 0 && ms%g != 0 {
		key -= g
	}
	return key
}

// Track moves id into the bucket for expireAt. A zero expireAt untracks the id.
func (t *ExpirationTracker) Track(id string, expireAt time.Time) {
	if expireAt.IsZero() {
		t.Untrack(id)
		return
	}

	key := t.BucketOf(expireAt)
	is := t.idStripe(id)
	is.mu.Lock()
	defer is.mu.Unlock()

	if old, ok := is.current[id]; ok {
		if old == key {
			return
		}
		t.removeFromBucket(old, id)
	}
	t.addToBucket(key, id)
	is.current[id] = key
}

// Untrack forgets id.
func (t *ExpirationTracker) Untrack(id string) {
	is := t.idStripe(id)
	is.mu.Lock()
	defer is.mu.Unlock()

	if old, ok := is.current[id]; ok {
		t.removeFromBucket(old, id)
		delete(is.current, id)
	}
}

// Due removes every bucket whose time is at or before now and returns its ids.
// The caller must re-validate each id against the store before expiring it.
func (t *ExpirationTracker) Due(now time.Time) []string {
	limit := now.UnixMilli()

	type member struct {
		id  string
		key int64
	}
	var popped []member

	for i := range t.buckets {
		bs := &t.buckets[i]
		bs.mu.Lock()
		for key, set := range bs.buckets {
			if key > limit {
				continue
			}
			for id := range set {
				popped = append(popped, member{id: id, key: key})
			}
			delete(bs.buckets, key)
		}
		bs.mu.Unlock()
	}

	ids := make([]string, 0, len(popped))
	for _, m := range popped {
		is := t.idStripe(m.id)
		is.mu.Lock()
		if is.current[m.id] == m.key {
			delete(is.current, m.id)
		}
		is.mu.Unlock()
		ids = append(ids, m.id)
	}
	return ids
}

// Bucket returns the bucket key id is tracked under.
func (t *ExpirationTracker) Bucket(id string) (int64, bool) {
	is := t.idStripe(id)
	is.mu.Lock()
	defer is.mu.Unlock()
	key, ok := is.current[id]
	return key, ok
}

// Len returns the number of tracked ids.
func (t *ExpirationTracker) Len() int {
	n := 0
	for i := range t.ids {
		is := &t.ids[i]
		is.mu.Lock()
		n += len(is.current)
		is.mu.Unlock()
	}
	return n
}

func (t *ExpirationTracker) idStripe(id string) *idStripe {
	return &t.ids[murmur3.Sum32([]byte(id))%uint32(len(t.ids))]
}

func (t *ExpirationTracker) bucketStripe(key int64) *bucketStripe {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(key))
	return &t.buckets[murmur3.Sum32(b[:])%uint32(len(t.buckets))]
}

func (t *ExpirationTracker) addToBucket(key int64, id string) {
	bs := t.bucketStripe(key)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	set, ok := bs.buckets[key]
	if !ok {
		set = make(map[string]struct{})
		bs.buckets[key] = set
	}
	set[id] = struct{}{}
}

func (t *ExpirationTracker) removeFromBucket(key int64, id string) {
	bs := t.bucketStripe(key)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if set, ok := bs.buckets[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(bs.buckets, key)
		}
	}
}

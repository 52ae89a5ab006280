package event

import "time"

// lifecycle remembers which events were already delivered for a session id.
type lifecycle struct {
	created  bool
	terminal Kind
	seenAt   time.Time
}

// dedupe drops duplicate Created events, repeated terminal events and anything
// that arrives after a terminal event for the same id. Entries are forgotten
// after window; the map never grows beyond limit.
type dedupe struct {
	window    time.Duration
	limit     int
	entries   map[string]lifecycle
	lastPrune time.Time
}

func newDedupe(window time.Duration, limit int) *dedupe {
	return &dedupe{
		window:  window,
		limit:   limit,
		entries: make(map[string]lifecycle),
	}
}

// admit reports whether e should be delivered and records it.
func (d *dedupe) admit(e Event, now time.Time) bool {
	d.prune(now)

	ent, known := d.entries[e.SessionID]
	switch {
	case e.Kind == Created:
		if ent.created || ent.terminal != 0 {
			return false
		}
		ent.created = true
	case e.Kind.IsTerminal():
		if ent.terminal != 0 {
			return false
		}
		ent.terminal = e.Kind
	default:
		return !known || ent.terminal == 0
	}

	ent.seenAt = now
	d.entries[e.SessionID] = ent
	return true
}

func (d *dedupe) prune(now time.Time) {
	full := d.limit > 0 && len(d.entries) >= d.limit
	if !full && now.Sub(d.lastPrune) < d.window {
		return
	}
	d.lastPrune = now

	for id, ent := range d.entries {
		if now.Sub(ent.seenAt) >= d.window {
			delete(d.entries, id)
		}
	}
	// Still full after dropping stale entries: start over. Losing history only
	// weakens dedupe, and delivery is at-least-once anyway.
	if d.limit > 0 && len(d.entries) >= d.limit {
		clear(d.entries)
	}
}

func (d *dedupe) len() int {
	return len(d.entries)
}

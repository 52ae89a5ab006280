// Package memory provides an in-process session.Store.
//
// Records are copied on every read and write, so callers never share state
// with the store. WithSerializer additionally round-trips attribute values to
// surface serialization problems the way a remote store would.
//
//	store := memory.New()
//	repo, _ := session.NewRepository(store)
//
// Stats exposes write and delete counters, which makes the store convenient
// for asserting how many writes a code path issues.
package memory

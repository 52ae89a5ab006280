// Package session implements a store-agnostic session repository with
// sliding expiration, secondary indexes and lifecycle events.
//
// # Overview
//
// A Session holds an id, creation and last-access times, an idle timeout and
// a map of attributes. Every mutation is recorded in a Delta, so a save writes
// only what changed. The Repository turns those deltas into Store mutations,
// keeps secondary indexes consistent and publishes lifecycle events.
//
// Store adapters live under integration/sessionstore (memory, redis, sqlstore,
// mongo). Any type implementing Store can back a Repository.
//
// # Basic Usage
//
//	repo, err := session.NewRepository(store,
//		session.WithMaxInactiveInterval(30*time.Minute),
//		session.WithPublisher(bridge),
//	)
//	if err != nil {
//		return err
//	}
//
//	sess, _ := repo.CreateSession(ctx)
//	_ = sess.SetAttribute(ctx, "cart", cart)
//	if err := repo.Save(ctx, sess); err != nil {
//		return err
//	}
//
//	found, err := repo.FindByID(ctx, sess.ID())
//	if err != nil {
//		return err // store unavailable
//	}
//	if found == nil {
//		// absent or expired
//	}
//
// # Expiration
//
// A session is expired once it has been idle longer than its
// MaxInactiveInterval; a non-positive interval never expires. FindByID checks
// expiry on every load, deletes stale records and publishes an Expired event,
// whatever the store does natively.
//
// Sessions saved through a repository are also tracked in an
// ExpirationTracker, which groups ids into time buckets. CleanupExpired pops
// every due bucket, adds ids reported by stores implementing ExpiredScanner,
// and asks the store to delete each one only if it is still expired. A
// session extended by a concurrent save survives the sweep. Sweeper runs
// CleanupExpired on a cron schedule:
//
//	sweeper, _ := session.NewSweeper(repo, session.WithSchedule("0 * * * * *"))
//	eg.Go(sweeper.Run(ctx))
//
// # Indexes
//
// An IndexResolver derives index values from attributes on every save. The
// default resolver indexes the PrincipalNameIndexName attribute:
//
//	_ = sess.SetAttribute(ctx, session.PrincipalNameIndexName, "alice")
//	_ = repo.Save(ctx, sess)
//	sessions, _ := repo.FindByPrincipalName(ctx, "alice")
//
// Removing or changing the attribute retracts the old entry on the next save.
// Entries that point to missing sessions are removed when encountered.
//
// # Flush and save modes
//
// FlushOnSave (default) writes only on Save. FlushImmediate saves on every
// mutation. SaveOnSetAttribute (default) writes only attributes that were set
// or removed, SaveAlways rewrites every loaded attribute, and
// SaveOnGetAttribute also writes attributes that were read. In every mode the
// persisted attributes equal the in-memory attributes after a save.
//
// # Errors
//
// Store failures wrap ErrStoreUnavailable and encoding failures wrap
// ErrSerialization; both reach the caller unchanged and leave the session's
// delta intact for a retry. A missing session is not an error: FindByID
// returns nil.
package session

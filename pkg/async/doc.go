// Package async provides generic futures for running blocking calls off the
// caller's goroutine.
//
//	f := async.Go(ctx, func(ctx context.Context) (*session.Session, error) {
//		return repo.FindByID(ctx, id)
//	})
//	// ... other work ...
//	sess, err := f.Await()
//
// Futures complete exactly once. Await may be called any number of times from
// any goroutine. Panics inside the function are recovered and reported as
// ErrPanic.
package async

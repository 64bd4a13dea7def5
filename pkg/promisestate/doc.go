// Package promisestate tracks the lifecycle of one asynchronous operation.
//
// A Tracker wraps an Operation and records, for its most recent invocation,
// whether it is loading, whether it finished successfully, when it started
// and finished, the last successful result and the last error. Failures are
// never returned from Execute; they land in State.Err and are delivered to
// the callbacks registered with OnError.
//
//	t := promisestate.New(func(ctx context.Context, dto users.CreateInput) (user.User, error) {
//		return svc.Create(ctx, dto)
//	}, func(err error) {
//		log.WithError(err).Warn("create failed")
//	})
//	created := t.Execute(ctx, 200*time.Millisecond, dto)
//
// Calls to Execute on the same Tracker are not serialized. Every field write
// is synchronized, but when two invocations overlap the state reflects
// whichever one wrote last, and the returned result may belong to the other
// call. Use one Tracker per in-flight call when that matters.
package promisestate

// Package async runs functions in goroutines and hands back typed futures.
//
// The dispatch engine starts one future per (recipient, channel) send and
// waits for all of them with a bounded timeout, so a stuck transport can never
// hold the caller forever.
//
//	futures := make([]*async.Future[Result], 0, len(jobs))
//	for _, j := range jobs {
//		futures = append(futures, async.Async(ctx, j, send))
//	}
//	results := async.WaitAllWithTimeout(timeout, futures...)
package async

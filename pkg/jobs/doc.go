// Package jobs runs named periodic functions on independent timers inside
// the current process.
//
// A job never overlaps with itself: when a tick arrives while the previous
// run is still in flight the tick is skipped. An optional Locker extends
// the guarantee across processes.
//
//	r := jobs.NewRunner(jobs.WithLogger(log), jobs.WithLocker(jobs.NewRedisLocker(rdb)))
//	_ = r.Add("reminders", jobs.Every(20*time.Second), reminders.Run)
//	err := r.Start(ctx) // blocks until ctx is done
package jobs

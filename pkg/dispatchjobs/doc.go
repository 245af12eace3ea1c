// Package dispatchjobs holds the timer-driven producers that raise
// notifications for time-based business conditions:
//
//   - attendance auto-close: open check-ins past the shift cutoff are closed
//     and their owners notified
//   - onboarding expiry: milestones about to expire and already overdue
//   - reminders: user reminders whose time has come
//   - scheduled dispatch and stale-delivery reconciliation for the engine
//
// Every producer raises with a stable dedupe key before flagging the source
// row, so a run that dies midway or races with another run coalesces into
// the notification that already exists instead of sending twice.
package dispatchjobs

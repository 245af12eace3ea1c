// Package notifications mounts the HTTP surface of the notification engine:
//
//	GET    /t/{token}.gif                  open-tracking pixel (public)
//	POST   /push/report                    push provider per-token report
//	POST   /email/webhook                  Postmark delivery webhook
//	POST   /notifications                  raise a notification
//	GET    /preferences                    effective channel preferences
//	PUT    /preferences                    update channel preferences
//	GET    /inbox/counts                   unread/total per inbox
//	GET    /inbox                          filtered inbox listing
//	POST   /inbox/read-all                 mark every visible item read
//	POST   /inbox/{id}/{action}            seen, read, dismiss, archive, unarchive, pin, unpin
//	POST   /devices                        register a push device token
//	DELETE /devices/{token}                revoke a device token
//	GET    /recipients/{id}/deliveries     delivery diagnostics
//
// Authenticated routes read the caller from a trusted header set by the
// gateway (X-User-ID by default). Provider callbacks can be protected with a
// shared token.
package notifications

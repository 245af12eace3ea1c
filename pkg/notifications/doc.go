// Package notifications is the dispatch engine of the operations hub: it turns
// one business event into per-recipient, per-channel deliveries, tracks each
// delivery through its lifecycle and serves per-user inbox listings.
//
// # Architecture
//
//   - Storage: persistence split into small interfaces (catalog,
//     notifications, deliveries, inbox, preferences, devices, templates).
//     MemoryStorage backs tests and local runs; pgstore backs production.
//   - PreferenceResolver: decides whether a (user, type, channel) triple is
//     enabled. An explicit ChannelPreference wins, otherwise the type's default
//     channel list applies.
//   - Renderer: produces channel content from an admin template, a built-in
//     fallback for the type, or a generic default. Rendering never fails.
//   - Sender: one per channel (InAppChannel, EmailChannel, PushChannel).
//     Prepare checks eligibility and renders, Send talks to the transport.
//   - Engine: Raise validates input, persists the Notification with its
//     Recipients atomically and fans out to eligible senders concurrently,
//     each bounded by a timeout.
//   - Tracker: the only writer of Delivery state. Transitions are monotonic
//     (queued, sent, delivered, opened, read) with failed reachable from
//     queued or sent only; regressing writes are ignored.
//   - InboxService: counts, filtered listings and per-recipient actions.
//
// # Raising a notification
//
//	n, err := engine.Raise(ctx, notifications.RaiseRequest{
//		Type:       "tarea_asignada",
//		Title:      "Nueva tarea",
//		Payload:    map[string]any{"task_title": "Revisar contrato"},
//		Refs:       notifications.Refs{TaskID: task.ID},
//		Recipients: []string{assigneeID},
//	})
//
// Raise only fails for malformed input (unknown type, empty recipient list,
// payload that cannot be encoded). Channel failures are recorded on the
// Delivery and logged; they never surface to the caller.
//
// # Push fan-out policy
//
// A user may own several device tokens but a Recipient has at most one push
// Delivery. The Delivery reflects the aggregate outcome: it is sent when at
// least one token was accepted and failed when none were. Per-token results
// are kept on the Delivery in TokenResults.
package notifications

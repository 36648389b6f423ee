// Package webhooks authenticates vendor callbacks and turns them into
// workflow transitions, document attachments and completion events.
//
// A callback is accepted only when every check passes:
// headers present -> timestamp within tolerance -> nonce unseen ->
// signature valid -> nonce committed. Nothing is written on a failed check.
package webhooks

// Package workflow drives a loan through the fixed fulfillment stage
// sequence.
//
// The Executor is a resumable state machine. Every side effect it performs
// (activity results, step transitions, consumed signals and consumed
// completion events) is written to a per-workflow journal before the
// machine moves on. A restarted Run replays the journal instead of invoking
// activities again and suspends at the first point the journal does not
// cover. Steps that block wait for an unblock signal; steps that fail wait
// for a compensate signal. Neither wait times out.
package workflow

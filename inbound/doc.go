// Package inbound routes vendor callbacks and command deliveries to their
// handlers.
//
// Deliveries are de-duplicated per tenant and vendor with claim, complete
// and fail semantics: a failed delivery releases its claim so the vendor's
// redelivery is processed, a completed one is acknowledged without running
// the handler again until the key TTL (10 minutes by default) lapses.
package inbound

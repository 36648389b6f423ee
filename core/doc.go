// Package core contains canonical fulfillment domain contracts, entities, and
// shared runtime plumbing (config, errors, logging, metrics, redaction).
// Call, webhook, and workflow packages depend on core; core must not depend on
// vendor-specific or transport-specific adapters.
package core

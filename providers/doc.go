// Package providers contains the typed vendor providers the pipeline stages
// call: credit tri-merge, income and employment verification, asset
// refresh, appraisal orders, flood determination, mortgage insurance
// quotes, AUS submission, title and e-sign.
//
// Each vendor kind has a mock implementation for sandbox pipelines and a
// vendorcall-backed implementation. Pre-call validation failures are
// non-retryable core.VendorError values raised before any network call.
package providers

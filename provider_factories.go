package fulfillment

import (
	"time"

	"github.com/goliatone/go-fulfillment/pipeline"
	"github.com/goliatone/go-fulfillment/providers"
	"github.com/goliatone/go-fulfillment/vendorcall"
)

// MockProviders returns canned providers for every vendor kind, for
// sandboxes and demos.
func MockProviders(now func() time.Time) providers.Set {
	return providers.NewMockSet(now)
}

func VendorProviders(client *vendorcall.Client) (providers.Set, error) {
	return providers.NewVendorSet(client)
}

func MemoryLoans(files ...pipeline.LoanFile) *pipeline.MemoryLoanSource {
	return pipeline.NewMemoryLoanSource(files...)
}

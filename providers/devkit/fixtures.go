package devkit

import (
	"strconv"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/webhooks"
)

// VendorBaseURL is the base URL fixture credentials point at.
const VendorBaseURL = "https://vendor.test"

// Vendors lists every vendor kind the fulfillment pipeline calls.
func Vendors() []string {
	return []string{
		webhooks.VendorCredit,
		webhooks.VendorIncomeEmployment,
		webhooks.VendorAssets,
		webhooks.VendorAMC,
		webhooks.VendorFlood,
		webhooks.VendorMI,
		webhooks.VendorAUS,
		webhooks.VendorTitle,
		webhooks.VendorESign,
	}
}

// CredentialFixture returns a credential for tenantID and vendor pointing at
// VendorBaseURL in both modes.
func CredentialFixture(tenantID string, vendor string, mode core.CredentialMode) core.VendorCredential {
	return core.VendorCredential{
		TenantID:       tenantID,
		Vendor:         vendor,
		Mode:           mode,
		SandboxBaseURL: VendorBaseURL,
		LiveBaseURL:    VendorBaseURL,
		APIKey:         "key_" + vendor,
		HMACSecret:     "whsec_" + vendor,
	}
}

// CredentialStoreFixture holds a credential for every vendor kind.
func CredentialStoreFixture(tenantID string, mode core.CredentialMode) *core.MemoryCredentialStore {
	credentials := make([]core.VendorCredential, 0, len(Vendors()))
	for _, vendor := range Vendors() {
		credentials = append(credentials, CredentialFixture(tenantID, vendor, mode))
	}
	return core.NewMemoryCredentialStore(credentials...)
}

// SignedWebhookFixture builds a callback signed with the fixture secret of
// vendor.
func SignedWebhookFixture(tenantID string, vendor string, nonce string, sentAt time.Time, body string) core.InboundRequest {
	timestamp := strconv.FormatInt(sentAt.UnixMilli(), 10)
	return core.InboundRequest{
		TenantID: tenantID,
		Vendor:   vendor,
		Surface:  webhooks.SurfaceWebhook,
		Body:     []byte(body),
		Headers: map[string]string{
			webhooks.HeaderVendor:    vendor,
			webhooks.HeaderTenant:    tenantID,
			webhooks.HeaderSignature: webhooks.Sign("whsec_"+vendor, timestamp, []byte(body)),
			webhooks.HeaderTimestamp: timestamp,
			webhooks.HeaderNonce:     nonce,
		},
	}
}

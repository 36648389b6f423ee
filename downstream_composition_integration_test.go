package fulfillment_test

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"
	"testing"
	"time"

	fulfillment "github.com/goliatone/go-fulfillment"
	fcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/core"
	fulfillmentmigrations "github.com/goliatone/go-fulfillment/migrations"
	"github.com/goliatone/go-fulfillment/pipeline"
	"github.com/goliatone/go-fulfillment/providers"
	sqlstore "github.com/goliatone/go-fulfillment/store/sql"
	"github.com/goliatone/go-fulfillment/webhooks"
	"github.com/goliatone/go-fulfillment/workflow"
)

const downstreamSecret = "whsec_downstream"

func TestDownstreamComposition_SQLBackedPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	dsn := fmt.Sprintf("file:fulfillment-downstream-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	client, err := sqlstore.Open(sqlstore.ConnectionConfig{Driver: sqlstore.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = client.Close() }()
	if _, err := fulfillmentmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == fulfillmentmigrations.DialectSQLite {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, fulfillmentmigrations.WithValidationTargets(fulfillmentmigrations.DialectSQLite)); err != nil {
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("repository factory: %v", err)
	}
	for _, vendor := range []string{"amc", "title", "esign"} {
		if err := factory.Credentials().Put(ctx, core.VendorCredential{TenantID: "tenant_1", Vendor: vendor, HMACSecret: downstreamSecret}); err != nil {
			t.Fatalf("put %s credential: %v", vendor, err)
		}
	}

	sink := &core.RecordingPublisher{}
	facade, err := fulfillment.Setup(fulfillment.DefaultConfig(),
		[]fulfillment.Option{
			fulfillment.WithPersistenceClient(client),
			fulfillment.WithRepositoryFactory(factory),
		},
		fulfillment.WithProviders(fulfillment.MockProviders(nil)),
		fulfillment.WithLoanSource(fulfillment.MemoryLoans(downstreamLoanFile())),
		fulfillment.WithOutboxSink(sink),
	)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	for i, item := range []struct {
		vendor string
		body   string
	}{
		{"amc", `{"loanId":"loan_7","orderId":"o1","status":"delivered"}`},
		{"title", `{"loanId":"loan_7","orderId":"t1","status":"clear"}`},
		{"esign", `{"loanId":"loan_7","envelopeId":"env_1","status":"completed","purpose":"disclosure"}`},
		{"esign", `{"loanId":"loan_7","envelopeId":"env_2","status":"completed","purpose":"closing"}`},
	} {
		req := downstreamWebhook(item.vendor, item.body, "d-"+strconv.Itoa(i))
		if err := facade.Commands().ProcessWebhook.Execute(ctx, fcommand.ProcessWebhookMessage{Request: req}); err != nil {
			t.Fatalf("process %s webhook: %v", item.vendor, err)
		}
	}
	if seen, err := factory.NonceStore().Has(ctx, "tenant_1", "amc", "d-0"); err != nil || !seen {
		t.Fatalf("expected webhook nonce persisted, got %v %v", seen, err)
	}

	if err := facade.Commands().StartPipeline.Execute(ctx, fcommand.StartPipelineMessage{
		Input: workflow.Input{TenantID: "tenant_1", LoanID: "loan_7"},
	}); err != nil {
		t.Fatalf("start pipeline: %v", err)
	}

	steps, err := factory.WorkflowStore().ListSteps(ctx, "loan_7")
	if err != nil {
		t.Fatalf("list persisted steps: %v", err)
	}
	for _, step := range steps {
		if step.Status != core.StepStatusComplete && !(step.Code == core.StepMI && step.Status == core.StepStatusWaived) {
			t.Fatalf("expected persisted %s complete, got %s", step.Code, step.Status)
		}
	}
	journal, err := factory.WorkflowStore().LoadJournal(ctx, "loan_7")
	if err != nil || len(journal) == 0 {
		t.Fatalf("expected journal entries, got %d %v", len(journal), err)
	}

	for {
		stats, err := facade.Outbox().DispatchPending(ctx, 100)
		if err != nil {
			t.Fatalf("drain outbox: %v", err)
		}
		if stats.Claimed == 0 {
			break
		}
	}
	pending, err := factory.Outbox().ListByStatus(ctx, core.OutboxStatusPending, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected drained outbox, got %d %v", len(pending), err)
	}
	if len(sink.Named(core.EventLoanClosed)) != 1 || len(sink.Named(core.EventCTCGranted)) != 1 {
		t.Fatalf("expected closing events at the sink")
	}
}

func downstreamLoanFile() pipeline.LoanFile {
	return pipeline.LoanFile{
		TenantID:     "tenant_1",
		LoanID:       "loan_7",
		ConsentToken: "consent_7",
		Borrower:     providers.Borrower{FirstName: "Lin", LastName: "Okafor", SSN: "987-65-4321", DOB: "1990-01-20"},
		Appraisal: providers.AppraisalOrderRequest{
			Contact: providers.Contact{Name: "Lin Okafor", Email: "lin@example.test"},
		},
		AUS:                providers.AUSSubmitRequest{System: providers.AUSSystemDU},
		Title:              providers.TitleOpenRequest{SettlementAgent: "First Title"},
		DisclosureTemplate: "LE-2026",
		ClosingTemplate:    "CD-2026",
		Recipients:         []providers.Recipient{{Role: "borrower", Name: "Lin Okafor", Email: "lin@example.test"}},
	}
}

func downstreamWebhook(vendor string, body string, nonce string) core.InboundRequest {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return core.InboundRequest{
		TenantID: "tenant_1",
		Vendor:   vendor,
		Body:     []byte(body),
		Headers: map[string]string{
			"X-Haizel-Vendor": vendor,
			"X-Haizel-Tenant": "tenant_1",
			"X-Signature":     webhooks.Sign(downstreamSecret, timestamp, []byte(body)),
			"X-Timestamp":     timestamp,
			"X-Nonce":         nonce,
		},
	}
}

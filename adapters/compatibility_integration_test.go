package adapters_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-fulfillment/adapters/gocommand"
	"github.com/goliatone/go-fulfillment/adapters/gojob"
	"github.com/goliatone/go-fulfillment/adapters/gologger"
	fcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/inbound"
	"github.com/goliatone/go-fulfillment/workflow"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	bridge := gologger.NewBridge("signal_worker", &compatProvider{logger: compatLogger{}}, nil)
	if bridge.JobProvider() == nil || bridge.JobLogger() == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	subs, err := gocommand.Wire(commandAdapter, gocommand.Handlers{
		DispatchOutbox: fcommand.NewDispatchOutboxCommand(compatDrainer{}),
	})
	if err != nil {
		t.Fatalf("wire handlers: %v", err)
	}
	defer subs.Unsubscribe()
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get(fcommand.TypeDispatchOutbox); !ok {
		t.Fatalf("expected outbox dispatch to be mirrored into go-job queue registry")
	}
}

// An operator unblock arrives on the command surface, is dispatched as a
// go-command message, relayed through the job queue and finally delivered
// to the workflow signaler by the worker.
func TestRuntimeCompatibility_OperatorSignalTravelsThroughQueue(t *testing.T) {
	ctx := context.Background()
	jobs := &compatQueue{}
	relay := gojob.NewRelay(gojob.NewQueue(jobs, nil))

	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	subs, err := gocommand.Wire(adapter, gocommand.Handlers{
		SignalWorkflow: fcommand.NewSignalWorkflowCommand(relay),
	})
	if err != nil {
		t.Fatalf("wire handlers: %v", err)
	}
	defer subs.Unsubscribe()

	dispatcher := inbound.NewDispatcher(nil, inbound.NewMemoryClaimStore())
	if err := dispatcher.Register(&dispatchingInboundHandler{
		surface: inbound.SurfaceCommand,
		run: func(ctx context.Context, req core.InboundRequest) error {
			return gocommand.SignalWorkflow(ctx, workflow.Signal{
				WorkflowID: metadataString(req.Metadata, "workflow_id"),
				Name:       metadataString(req.Metadata, "signal"),
				Step:       core.StepCode(metadataString(req.Metadata, "step")),
				Actor:      metadataString(req.Metadata, "actor"),
			})
		},
	}); err != nil {
		t.Fatalf("register command inbound handler: %v", err)
	}

	req := core.InboundRequest{
		TenantID: "tenant_1",
		Vendor:   "operator",
		Surface:  inbound.SurfaceCommand,
		Metadata: map[string]any{
			"idempotency_key": "unblock-1",
			"workflow_id":     "loan_1",
			"signal":          workflow.SignalUnblock,
			"step":            string(core.StepAUS),
			"actor":           "uw_1",
		},
	}
	result, err := dispatcher.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("dispatch command inbound request: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected command inbound request accepted")
	}
	if _, err := dispatcher.Dispatch(ctx, req); err != nil {
		t.Fatalf("dispatch duplicate request: %v", err)
	}
	if jobs.len() != 1 {
		t.Fatalf("expected one relayed signal job, got %d", jobs.len())
	}

	signaler := &compatSignaler{}
	worker := gojob.NewWorker(gojob.NewQueue(nil, jobs), gojob.Handlers{Signals: signaler})
	worker.Policy = gojob.DeliveryPolicy{MaxAttempts: 3, DeadLetterOnMax: true}
	worker.Observer = gologger.NewBridge("signal_worker", nil, compatLogger{}).Observer(nil)
	if err := worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process relayed signal: %v", err)
	}
	if len(signaler.signals) != 1 {
		t.Fatalf("expected one delivered signal, got %d", len(signaler.signals))
	}
	got := signaler.signals[0]
	if got.WorkflowID != "loan_1" || got.Step != core.StepAUS || got.Actor != "uw_1" {
		t.Fatalf("unexpected delivered signal %#v", got)
	}
	if jobs.acked != 1 {
		t.Fatalf("expected relayed job to be acked, got %d", jobs.acked)
	}
}

type compatQueue struct {
	mu      sync.Mutex
	pending []*job.ExecutionMessage
	acked   int
}

func (q *compatQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
	return nil
}

func (q *compatQueue) Dequeue(context.Context) (queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, fmt.Errorf("queue is empty")
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return &compatDelivery{queue: q, msg: msg}, nil
}

func (q *compatQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

type compatDelivery struct {
	queue *compatQueue
	msg   *job.ExecutionMessage
}

func (d *compatDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *compatDelivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.queue.acked++
	return nil
}

func (d *compatDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if opts.Requeue {
		return d.queue.Enqueue(ctx, d.msg)
	}
	return nil
}

type compatSignaler struct {
	signals []workflow.Signal
}

func (s *compatSignaler) Signal(_ context.Context, signal workflow.Signal) error {
	s.signals = append(s.signals, signal)
	return nil
}

type compatDrainer struct{}

func (compatDrainer) DispatchPending(context.Context, int) (core.DispatchStats, error) {
	return core.DispatchStats{}, nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type dispatchingInboundHandler struct {
	surface string
	run     func(ctx context.Context, req core.InboundRequest) error
}

func (h *dispatchingInboundHandler) Surface() string {
	return h.surface
}

func (h *dispatchingInboundHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if h == nil || h.run == nil {
		return core.InboundResult{}, fmt.Errorf("handler is not configured")
	}
	if err := h.run(ctx, req); err != nil {
		return core.InboundResult{Accepted: false, StatusCode: 500}, err
	}
	return core.InboundResult{Accepted: true, StatusCode: 202}, nil
}

func metadataString(metadata map[string]any, key string) string {
	if len(metadata) == 0 {
		return ""
	}
	raw, ok := metadata[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

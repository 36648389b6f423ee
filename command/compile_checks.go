package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/inbound"
	"github.com/goliatone/go-fulfillment/workflow"
)

var (
	_ gocmd.Commander[StartPipelineMessage]  = (*StartPipelineCommand)(nil)
	_ gocmd.Commander[SignalWorkflowMessage] = (*SignalWorkflowCommand)(nil)
	_ gocmd.Commander[ProcessWebhookMessage] = (*ProcessWebhookCommand)(nil)
	_ gocmd.Commander[DispatchOutboxMessage] = (*DispatchOutboxCommand)(nil)

	_ WorkflowRunner    = (*workflow.Executor)(nil)
	_ WorkflowSignaler  = (*workflow.Executor)(nil)
	_ OutboxDrainer     = (*core.OutboxDispatcher)(nil)
	_ InboundDispatcher = (*inbound.Dispatcher)(nil)
)

package fulfillment

import (
	"fmt"

	"github.com/goliatone/go-fulfillment/adapters/gojob"
	fcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/compliance"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/inbound"
	"github.com/goliatone/go-fulfillment/pipeline"
	"github.com/goliatone/go-fulfillment/providers"
	fquery "github.com/goliatone/go-fulfillment/query"
	"github.com/goliatone/go-fulfillment/vendorcall"
	"github.com/goliatone/go-fulfillment/webhooks"
	"github.com/goliatone/go-fulfillment/workflow"
)

type Commands struct {
	StartPipeline  *fcommand.StartPipelineCommand
	SignalWorkflow *fcommand.SignalWorkflowCommand
	ProcessWebhook *fcommand.ProcessWebhookCommand
	DispatchOutbox *fcommand.DispatchOutboxCommand
}

type Queries struct {
	ListWorkflowSteps   *fquery.ListWorkflowStepsQuery
	ListStepTransitions *fquery.ListStepTransitionsQuery
	GetVendorCall       *fquery.GetVendorCallQuery
	EvaluateCompliance  *fquery.EvaluateComplianceQuery
}

// Facade assembles the fulfillment runtime from one Service: the vendor
// call client, webhook intake, the workflow executor, and the outbox, plus
// the command and query handlers over them.
type Facade struct {
	service    *Service
	client     *vendorcall.Client
	verifier   *webhooks.Verifier
	controller *webhooks.Controller
	dispatcher *inbound.Dispatcher
	engine     *compliance.Engine
	executor   *workflow.Executor
	outbox     *core.OutboxDispatcher
	commands   Commands
	queries    Queries
	bundles    map[string]any
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	activities workflow.Activities
	providers  *providers.Set
	loans      pipeline.LoanSource
	secrets    core.WebhookSecretProvider
	signaler   fcommand.WorkflowSignaler
	sink       core.EventPublisher
	waivers    compliance.WaiverSource
	hooks      *ExtensionHooks
	clientOpts []vendorcall.Option
	execOpts   []workflow.Option
	outboxCfg  core.OutboxDispatcherConfig
}

// WithActivities replaces the stage activities built from the providers.
func WithActivities(activities workflow.Activities) FacadeOption {
	return func(o *facadeOptions) {
		o.activities = activities
	}
}

// WithProviders replaces the vendor providers. Without it the providers
// call vendors through the facade's vendor call client.
func WithProviders(set providers.Set) FacadeOption {
	return func(o *facadeOptions) {
		o.providers = &set
	}
}

func WithLoanSource(loans pipeline.LoanSource) FacadeOption {
	return func(o *facadeOptions) {
		o.loans = loans
	}
}

// WithWebhookSecrets is consulted before the vendor credential secrets.
func WithWebhookSecrets(secrets core.WebhookSecretProvider) FacadeOption {
	return func(o *facadeOptions) {
		o.secrets = secrets
	}
}

// WithSignaler routes the signal command elsewhere, for example through a
// job queue relay, instead of into the local executor.
func WithSignaler(signaler fcommand.WorkflowSignaler) FacadeOption {
	return func(o *facadeOptions) {
		o.signaler = signaler
	}
}

// WithOutboxSink sets where drained outbox events are delivered. It
// defaults to the service event publisher.
func WithOutboxSink(sink core.EventPublisher) FacadeOption {
	return func(o *facadeOptions) {
		o.sink = sink
	}
}

func WithWaivers(waivers compliance.WaiverSource) FacadeOption {
	return func(o *facadeOptions) {
		o.waivers = waivers
	}
}

func WithExtensionHooks(hooks *ExtensionHooks) FacadeOption {
	return func(o *facadeOptions) {
		o.hooks = hooks
	}
}

func WithVendorCallOptions(opts ...vendorcall.Option) FacadeOption {
	return func(o *facadeOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

func WithExecutorOptions(opts ...workflow.Option) FacadeOption {
	return func(o *facadeOptions) {
		o.execOpts = append(o.execOpts, opts...)
	}
}

func WithOutboxConfig(cfg core.OutboxDispatcherConfig) FacadeOption {
	return func(o *facadeOptions) {
		o.outboxCfg = cfg
	}
}

func NewFacade(service *Service, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("fulfillment: service is required")
	}
	cfg := facadeOptions{outboxCfg: core.DefaultOutboxDispatcherConfig()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	config := service.Config()
	deps := service.Dependencies()

	sink := cfg.sink
	if sink == nil {
		sink = deps.EventPublisher
	}
	if sink == nil {
		sink = &core.RecordingPublisher{}
	}
	outbox, err := core.NewOutboxDispatcher(deps.OutboxStore, sink, cfg.outboxCfg)
	if err != nil {
		return nil, service.MapError(err)
	}

	// Producers write through the outbox; completion events also reach the
	// executor directly so waiting steps resume without a drain.
	events := workflow.NewEventBus()

	client, err := vendorcall.NewClientFromService(service,
		append([]vendorcall.Option{vendorcall.WithPublisher(outbox)}, cfg.clientOpts...)...,
	)
	if err != nil {
		return nil, service.MapError(err)
	}

	engine := compliance.NewEngine()
	engine.Publisher = outbox
	engine.Observer = service.Observer("fulfillment.compliance")
	engine.Waivers = cfg.waivers
	if err := cfg.hooks.ApplyRulePacks(engine); err != nil {
		return nil, service.MapError(err)
	}

	activities := cfg.activities
	if activities == nil {
		set := cfg.providers
		if set == nil {
			vendorSet, err := providers.NewVendorSet(client)
			if err != nil {
				return nil, service.MapError(err)
			}
			set = &vendorSet
		}
		loans := cfg.loans
		if loans == nil {
			loans = pipeline.NewMemoryLoanSource()
		}
		built, err := pipeline.NewActivities(*set, loans, engine)
		if err != nil {
			return nil, service.MapError(err)
		}
		built.Publisher = core.MultiPublisher{outbox, events}
		built.Observer = service.Observer("fulfillment.pipeline")
		activities = built
	}

	executor, err := workflow.NewExecutorFromService(service, activities,
		append([]workflow.Option{
			workflow.WithEventSource(events),
			workflow.WithPublisher(outbox),
		}, cfg.execOpts...)...,
	)
	if err != nil {
		return nil, service.MapError(err)
	}

	nonces := deps.NonceStore
	if nonces == nil {
		nonces = webhooks.NewMemoryNonceStore(config.Webhook.MaxNonces)
	}
	secrets := webhooks.ChainSecretProvider{
		cfg.secrets,
		webhooks.CredentialSecretProvider{Credentials: deps.CredentialStore},
	}
	verifier := webhooks.NewVerifier(secrets, nonces, config.Webhook.Tolerance)
	verifier.Observer = service.Observer("fulfillment.webhooks")

	controller := webhooks.NewController(verifier, core.MultiPublisher{events, outbox})
	controller.Observer = service.Observer("fulfillment.webhooks")
	if err := cfg.hooks.ApplyNormalizerPacks(controller); err != nil {
		return nil, service.MapError(err)
	}

	claims := deps.IdempotencyClaimStore
	if claims == nil {
		claims = inbound.NewMemoryClaimStore()
	}
	dispatcher := inbound.NewDispatcher(nil, claims)
	dispatcher.KeyTTL = config.Inbound.KeyTTL
	dispatcher.Observer = service.Observer("fulfillment.inbound")
	if err := dispatcher.Register(controller); err != nil {
		return nil, service.MapError(err)
	}

	signaler := cfg.signaler
	if signaler == nil {
		signaler = executor
	}

	facade := &Facade{
		service:    service,
		client:     client,
		verifier:   verifier,
		controller: controller,
		dispatcher: dispatcher,
		engine:     engine,
		executor:   executor,
		outbox:     outbox,
	}
	facade.commands = Commands{
		StartPipeline:  fcommand.NewStartPipelineCommand(executor),
		SignalWorkflow: fcommand.NewSignalWorkflowCommand(signaler),
		ProcessWebhook: fcommand.NewProcessWebhookCommand(dispatcher),
		DispatchOutbox: fcommand.NewDispatchOutboxCommand(outbox),
	}
	facade.queries = Queries{
		ListWorkflowSteps:   fquery.NewListWorkflowStepsQuery(executor),
		ListStepTransitions: fquery.NewListStepTransitionsQuery(executor),
		GetVendorCall:       fquery.NewGetVendorCallQuery(client.Store()),
		EvaluateCompliance:  fquery.NewEvaluateComplianceQuery(engine),
	}
	bundles, err := cfg.hooks.BuildCommandQueryBundles(facade)
	if err != nil {
		return nil, service.MapError(err)
	}
	facade.bundles = bundles
	return facade, nil
}

// Bundle returns the command/query bundle registered under name.
func (f *Facade) Bundle(name string) (any, bool) {
	if f == nil {
		return nil, false
	}
	bundle, ok := f.bundles[name]
	return bundle, ok
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() *Service {
	if f == nil {
		return nil
	}
	return f.service
}

func (f *Facade) VendorCalls() *vendorcall.Client {
	if f == nil {
		return nil
	}
	return f.client
}

func (f *Facade) Verifier() *webhooks.Verifier {
	if f == nil {
		return nil
	}
	return f.verifier
}

func (f *Facade) Webhooks() *webhooks.Controller {
	if f == nil {
		return nil
	}
	return f.controller
}

func (f *Facade) Inbound() *inbound.Dispatcher {
	if f == nil {
		return nil
	}
	return f.dispatcher
}

func (f *Facade) Compliance() *compliance.Engine {
	if f == nil {
		return nil
	}
	return f.engine
}

func (f *Facade) Workflow() *workflow.Executor {
	if f == nil {
		return nil
	}
	return f.executor
}

func (f *Facade) Outbox() *core.OutboxDispatcher {
	if f == nil {
		return nil
	}
	return f.outbox
}

// JobHandlers routes queued fulfillment jobs into this facade. Signals go to
// the local executor even when SignalWorkflow is backed by a relay.
func (f *Facade) JobHandlers() gojob.Handlers {
	handlers := gojob.Handlers{}
	if f == nil {
		return handlers
	}
	if f.executor != nil {
		handlers.Signals = f.executor
	}
	if f.commands.StartPipeline != nil {
		handlers.Pipelines = f.commands.StartPipeline
	}
	if f.commands.DispatchOutbox != nil {
		handlers.Outbox = f.commands.DispatchOutbox
	}
	return handlers
}

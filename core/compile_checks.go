package core

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ CredentialStore = (*MemoryCredentialStore)(nil)
	_ OutboxStore     = (*MemoryOutboxStore)(nil)
	_ EventPublisher  = (*RecordingPublisher)(nil)
	_ EventPublisher  = EventPublisherFunc(nil)
	_ EventPublisher  = MultiPublisher(nil)
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ RawConfigLoader = StaticConfigLoader{}
)

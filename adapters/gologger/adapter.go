// Package gologger bridges the fulfillment glog loggers to go-job workers.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-fulfillment/core"
)

// Bridge holds the resolved logger for one component, for example the
// signal worker, and hands out the views each runtime expects.
type Bridge struct {
	component string
	provider  glog.LoggerProvider
	logger    glog.Logger
}

// NewBridge resolves with precedence provider > logger > nop.
func NewBridge(component string, provider glog.LoggerProvider, logger glog.Logger) Bridge {
	resolvedProvider, resolvedLogger := glog.Resolve(component, provider, logger)
	return Bridge{
		component: component,
		provider:  resolvedProvider,
		logger:    glog.Ensure(resolvedLogger),
	}
}

func (b Bridge) Logger() glog.Logger { return b.logger }

func (b Bridge) Provider() glog.LoggerProvider { return b.provider }

// JobProvider maps the provider to the go-job logger provider contract.
func (b Bridge) JobProvider() job.LoggerProvider {
	if b.provider == nil {
		return nil
	}
	return job.GoLoggerProvider(b.provider)
}

// JobLogger maps the logger to the go-job logger contract.
func (b Bridge) JobLogger() job.Logger {
	if b.logger == nil {
		return nil
	}
	return job.GoLogger(b.logger)
}

// Observer returns a fulfillment observer logging through the same logger.
func (b Bridge) Observer(metrics core.MetricsRecorder) core.Observer {
	return core.NewObserver(b.component, b.provider, b.logger, metrics)
}

package otel

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/goliatone/go-fulfillment/core"
)

// MetricsRecorder implements core.MetricsRecorder. Instruments are created
// on first use and cached by name.
type MetricsRecorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

func NewMetricsRecorder(meter metric.Meter) *MetricsRecorder {
	return &MetricsRecorder{
		meter:      meter,
		counters:   map[string]metric.Int64Counter{},
		histograms: map[string]metric.Float64Histogram{},
	}
}

func (r *MetricsRecorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	counter, ok := r.counter(name)
	if !ok {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *MetricsRecorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	histogram, ok := r.histogram(name)
	if !ok {
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *MetricsRecorder) counter(name string) (metric.Int64Counter, bool) {
	if r == nil || r.meter == nil || name == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter, true
	}
	counter, err := r.meter.Int64Counter(name)
	if err != nil {
		return nil, false
	}
	r.counters[name] = counter
	return counter, true
}

func (r *MetricsRecorder) histogram(name string) (metric.Float64Histogram, bool) {
	if r == nil || r.meter == nil || name == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[name]; ok {
		return histogram, true
	}
	histogram, err := r.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return nil, false
	}
	r.histograms[name] = histogram
	return histogram, true
}

func attributes(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, attribute.String(key, tags[key]))
	}
	return out
}

var _ core.MetricsRecorder = (*MetricsRecorder)(nil)

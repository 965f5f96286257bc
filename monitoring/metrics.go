// Package monitoring keeps in-process counters and latency series for the prediction API.
package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phishguard/apperr"
)

type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
)

const (
	MetricPredictions      = "predictions_total"
	MetricValidationErrors = "validation_errors_total"
	MetricInferenceErrors  = "inference_errors_total"
	MetricCacheHits        = "cache_hits_total"
	MetricLatency          = "prediction_latency_ms"
)

// maxSeries bounds each latency series; the oldest samples are dropped in blocks.
const maxSeries = 1000

type Metric struct {
	Name   string            `json:"name"`
	Type   MetricType        `json:"type"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Latest float64 `json:"latest"`
}

type Snapshot struct {
	Uptime    string             `json:"uptime"`
	Counters  []Metric           `json:"counters"`
	Latencies map[string]Summary `json:"latencies"`
	System    map[string]any     `json:"system"`
}

type series struct {
	name   string
	labels map[string]string
	value  float64
}

// MetricsCollector keeps the JSON snapshot series and mirrors every
// observation into its own Prometheus registry.
type MetricsCollector struct {
	mu        sync.RWMutex
	counters  map[string]*series
	latencies map[string][]float64
	startTime time.Time

	registry         *prometheus.Registry
	predictions      *prometheus.CounterVec
	validationErrors *prometheus.CounterVec
	inferenceErrors  *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	latency          *prometheus.SummaryVec
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		counters:  make(map[string]*series),
		latencies: make(map[string][]float64),
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPredictions,
			Help: "Predictions served by mode and label",
		}, []string{"mode", "label"}),
		validationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricValidationErrors,
			Help: "Rejected payloads by error kind",
		}, []string{"kind"}),
		inferenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricInferenceErrors,
			Help: "Model invocation failures by mode",
		}, []string{"mode"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCacheHits,
			Help: "Predictions answered from the memo cache",
		}, []string{"mode"}),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       MetricLatency,
			Help:       "Prediction latency in milliseconds",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"mode"}),
	}
	mc.registry.MustRegister(
		mc.predictions, mc.validationErrors, mc.inferenceErrors, mc.cacheHits, mc.latency,
		collectors.NewGoCollector(),
	)
	return mc
}

// Handler serves the registry in the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

func (mc *MetricsCollector) incrCounter(name string, value float64, labels map[string]string) {
	key := seriesKey(name, labels)
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.counters[key]
	if !ok {
		s = &series{name: name, labels: labels}
		mc.counters[key] = s
	}
	s.value += value
}

// Counter returns the current value of one labelled counter.
func (mc *MetricsCollector) Counter(name string, labels map[string]string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if s, ok := mc.counters[seriesKey(name, labels)]; ok {
		return s.value
	}
	return 0
}

func (mc *MetricsCollector) RecordLatency(mode string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	mc.latency.WithLabelValues(mode).Observe(ms)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	values := append(mc.latencies[mode], ms)
	if len(values) > maxSeries {
		values = values[100:]
	}
	mc.latencies[mode] = values
}

func (mc *MetricsCollector) ObservePrediction(mode string, label int, latency time.Duration, cached bool) {
	labelValue := strconv.Itoa(label)
	mc.predictions.WithLabelValues(mode, labelValue).Inc()
	mc.incrCounter(MetricPredictions, 1, map[string]string{"mode": mode, "label": labelValue})
	if cached {
		mc.cacheHits.WithLabelValues(mode).Inc()
		mc.incrCounter(MetricCacheHits, 1, map[string]string{"mode": mode})
	}
	mc.RecordLatency(mode, latency)
}

func (mc *MetricsCollector) ObserveFailure(mode string, kind apperr.Kind) {
	if kind == apperr.KindInferenceError {
		mc.inferenceErrors.WithLabelValues(mode).Inc()
		mc.incrCounter(MetricInferenceErrors, 1, map[string]string{"mode": mode})
		return
	}
	mc.validationErrors.WithLabelValues(kind.String()).Inc()
	mc.incrCounter(MetricValidationErrors, 1, map[string]string{"kind": kind.String()})
}

// GetMetricSummary summarizes the latency series of one mode.
func (mc *MetricsCollector) GetMetricSummary(mode string) (Summary, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	values, ok := mc.latencies[mode]
	if !ok || len(values) == 0 {
		return Summary{}, fmt.Errorf("no latency samples for %s", mode)
	}
	return summarize(values), nil
}

func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	counters := make([]Metric, 0, len(mc.counters))
	for _, key := range sortedKeys(mc.counters) {
		s := mc.counters[key]
		counters = append(counters, Metric{Name: s.name, Type: MetricTypeCounter, Value: s.value, Labels: s.labels})
	}
	latencies := make(map[string]Summary, len(mc.latencies))
	for mode, values := range mc.latencies {
		if len(values) > 0 {
			latencies[mode] = summarize(values)
		}
	}
	return Snapshot{
		Uptime:    time.Since(mc.startTime).Round(time.Second).String(),
		Counters:  counters,
		Latencies: latencies,
		System:    systemStats(),
	}
}

func summarize(values []float64) Summary {
	s := Summary{Count: len(values), Min: values[0], Max: values[0], Latest: values[len(values)-1]}
	sum := 0.0
	for _, v := range values {
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = sum / float64(len(values))
	return s
}

func systemStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"heap_alloc": m.HeapAlloc,
		"gc_count":   m.NumGC,
	}
}

func seriesKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, labels[k])
	}
	return b.String()
}

func sortedKeys(m map[string]*series) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package telemetry keeps in-process counters, gauges and histograms for the
// document pipeline and the HTTP server, and serves them in Prometheus text
// exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the telemetry provider settings.
type Config struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil = use default (true)
}

// metricsOn returns whether metrics are enabled (defaults to true).
func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "docproc"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Metric names.
const (
	metricRunsTotal         = "docproc.runs.total"
	metricRunDuration       = "docproc.run.duration"
	metricEffectsTotal      = "docproc.effects.total"
	metricMatchTotal        = "docproc.match.total"
	metricPrefilledTotal    = "docproc.prefill.templates.total"
	metricCallbacksTotal    = "docproc.callbacks.total"
	metricHTTPDuration      = "http.server.request.duration"
	metricHTTPActive        = "http.server.active_requests"
	metricDBPoolActive      = "db.pool.active_connections"
	metricDBPoolIdle        = "db.pool.idle_connections"
	labelSeparator          = "|"
	prometheusContentHeader = "text/plain; version=0.0.4; charset=utf-8"
)

// ---------------------------------------------------------------------------
// Histogram with Prometheus-style buckets
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64 // one per boundary, non-cumulative
	count        int64
	sum          uint64 // math.Float64bits for atomic add
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Keyed stores: "name|label1|label2"
// ---------------------------------------------------------------------------

type histogramStore struct {
	mu    sync.RWMutex
	items map[string]*histogram
}

func (s *histogramStore) getOrCreate(key string, boundaries []float64) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.items[key]; !ok {
		h = newHistogram(boundaries)
		s.items[key] = h
	}
	return h
}

func (s *histogramStore) get(key string) *histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[key]
}

func (s *histogramStore) snapshot() map[string]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]*histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

// valueStore backs both counters and gauges.
type valueStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func (s *valueStore) ptr(key string) *int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.items[key]; !ok {
		p = new(int64)
		s.items[key] = p
	}
	return p
}

func (s *valueStore) add(key string, delta int64) { atomic.AddInt64(s.ptr(key), delta) }

func (s *valueStore) set(key string, val int64) { atomic.StoreInt64(s.ptr(key), val) }

func (s *valueStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *valueStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// Key builds a store key from a metric name and label values. Exported so
// tests can construct the same key.
func Key(name string, labels ...string) string {
	return strings.Join(append([]string{name}, labels...), labelSeparator)
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// runDurationBuckets are in seconds; extraction runs take seconds to minutes.
var runDurationBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// httpDurationBuckets are in seconds.
var httpDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// Provider manages all metric state.
type Provider struct {
	cfg        Config
	counters   *valueStore
	gauges     *valueStore
	histograms *histogramStore
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:        cfg,
		counters:   &valueStore{items: make(map[string]*int64)},
		gauges:     &valueStore{items: make(map[string]*int64)},
		histograms: &histogramStore{items: make(map[string]*histogram)},
	}
}

// Resource returns the service attributes.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// Counter returns the value of the counter with the given labels.
func (p *Provider) Counter(name string, labels ...string) int64 {
	return p.counters.get(Key(name, labels...))
}

// Gauge returns the value of the named gauge.
func (p *Provider) Gauge(name string) int64 {
	return p.gauges.get(name)
}

// Histogram returns the histogram with the given labels, or nil.
func (p *Provider) Histogram(name string, labels ...string) *histogram {
	return p.histograms.get(Key(name, labels...))
}

// ---------------------------------------------------------------------------
// Pipeline metrics
// ---------------------------------------------------------------------------

// RunFinished counts a processing run by status and records its duration.
func (p *Provider) RunFinished(status string, d time.Duration) {
	if !p.cfg.metricsOn() {
		return
	}
	p.counters.add(Key(metricRunsTotal, status), 1)
	p.histograms.getOrCreate(Key(metricRunDuration), runDurationBuckets).Observe(d.Seconds())
}

// EffectEmitted counts an emitted effect by type.
func (p *Provider) EffectEmitted(effectType string) {
	if !p.cfg.metricsOn() {
		return
	}
	p.counters.add(Key(metricEffectsTotal, effectType), 1)
}

// MatchOutcome counts a patient or reviewer lookup by tier and status.
func (p *Provider) MatchOutcome(subject, tier, status string) {
	if !p.cfg.metricsOn() {
		return
	}
	if tier == "" {
		tier = "none"
	}
	p.counters.add(Key(metricMatchTotal, subject, tier, status), 1)
}

// TemplatesPrefilled adds n filled templates.
func (p *Provider) TemplatesPrefilled(n int) {
	if !p.cfg.metricsOn() || n <= 0 {
		return
	}
	p.counters.add(Key(metricPrefilledTotal), int64(n))
}

// CallbackDelivered counts an effect callback delivery by outcome.
func (p *Provider) CallbackDelivered(ok bool) {
	if !p.cfg.metricsOn() {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failed"
	}
	p.counters.add(Key(metricCallbacksTotal, outcome), 1)
}

// SetDBPool records the pool's acquired and idle connection counts.
func (p *Provider) SetDBPool(active, idle int64) {
	p.gauges.set(metricDBPoolActive, active)
	p.gauges.set(metricDBPoolIdle, idle)
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware returns an Echo middleware that records HTTP server metrics.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}

			p.gauges.add(metricHTTPActive, 1)
			start := time.Now()
			err := next(c)
			duration := time.Since(start).Seconds()
			p.gauges.add(metricHTTPActive, -1)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			key := Key(metricHTTPDuration, c.Request().Method, route, fmt.Sprintf("%d", status))
			p.histograms.getOrCreate(key, httpDurationBuckets).Observe(duration)
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

type counterFamily struct {
	otel   string
	prom   string
	help   string
	labels []string
}

var counterFamilies = []counterFamily{
	{metricRunsTotal, "docproc_runs_total", "Processing runs by status.", []string{"status"}},
	{metricEffectsTotal, "docproc_effects_total", "Emitted effects by type.", []string{"type"}},
	{metricMatchTotal, "docproc_match_total", "Patient and reviewer lookups by tier and status.", []string{"subject", "tier", "status"}},
	{metricPrefilledTotal, "docproc_prefill_templates_total", "Templates filled from extracted fields.", nil},
	{metricCallbacksTotal, "docproc_callbacks_total", "Effect callback deliveries by outcome.", []string{"outcome"}},
}

// PrometheusHandler serves all metrics in Prometheus text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		counters := p.counters.snapshot()
		for _, f := range counterFamilies {
			fmt.Fprintf(&b, "# HELP %s %s\n", f.prom, f.help)
			fmt.Fprintf(&b, "# TYPE %s counter\n", f.prom)
			for _, key := range sortedKeys(counters) {
				parts := strings.Split(key, labelSeparator)
				if parts[0] != f.otel || len(parts)-1 != len(f.labels) {
					continue
				}
				fmt.Fprintf(&b, "%s%s %d\n", f.prom, formatLabels(f.labels, parts[1:]), counters[key])
			}
			b.WriteByte('\n')
		}

		hists := p.histograms.snapshot()
		writeHistogramFamily(&b, hists, metricRunDuration, "docproc_run_duration_seconds",
			"Duration of processing runs in seconds.", nil, runDurationBuckets)
		writeHistogramFamily(&b, hists, metricHTTPDuration, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", []string{"method", "route", "status_code"}, httpDurationBuckets)

		gauges := []struct{ otel, prom, help string }{
			{metricHTTPActive, "http_server_active_requests", "Number of active HTTP requests."},
			{metricDBPoolActive, "db_pool_active_connections", "Number of active database pool connections."},
			{metricDBPoolIdle, "db_pool_idle_connections", "Number of idle database pool connections."},
		}
		for _, g := range gauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.prom, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.prom)
			fmt.Fprintf(&b, "%s %d\n\n", g.prom, p.gauges.get(g.otel))
		}

		res := p.Resource()
		fmt.Fprintf(&b, "# HELP target_info Target metadata.\n")
		fmt.Fprintf(&b, "# TYPE target_info gauge\n")
		fmt.Fprintf(&b, "target_info%s 1\n", formatLabels(
			[]string{"service_name", "service_version", "deployment_environment"},
			[]string{res["service.name"], res["service.version"], res["deployment.environment"]},
		))

		c.Response().Header().Set(echo.HeaderContentType, prometheusContentHeader)
		return c.String(http.StatusOK, b.String())
	}
}

// ---------------------------------------------------------------------------
// Prometheus format helpers
// ---------------------------------------------------------------------------

func writeHistogramFamily(b *strings.Builder, hists map[string]*histogram, otel, prom, help string,
	labelNames []string, boundaries []float64) {

	fmt.Fprintf(b, "# HELP %s %s\n", prom, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", prom)
	for _, key := range sortedKeys(hists) {
		parts := strings.Split(key, labelSeparator)
		if parts[0] != otel || len(parts)-1 != len(labelNames) {
			continue
		}
		writeSingleHistogram(b, prom, labelNames, parts[1:], hists[key], boundaries)
	}
	b.WriteByte('\n')
}

func writeSingleHistogram(b *strings.Builder, name string, labelNames, labelValues []string,
	h *histogram, boundaries []float64) {

	cum := h.cumulativeBuckets()
	total := h.Count()

	for i, boundary := range boundaries {
		labels := formatLabels(append(append([]string{}, labelNames...), "le"),
			append(append([]string{}, labelValues...), fmt.Sprintf("%g", boundary)))
		fmt.Fprintf(b, "%s_bucket%s %d\n", name, labels, cum[i])
	}
	inf := formatLabels(append(append([]string{}, labelNames...), "le"),
		append(append([]string{}, labelValues...), "+Inf"))
	fmt.Fprintf(b, "%s_bucket%s %d\n", name, inf, total)

	suffix := formatLabels(labelNames, labelValues)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, total)
}

func formatLabels(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	pairs := make([]string, len(names))
	for i, n := range names {
		pairs[i] = fmt.Sprintf("%s=%q", n, values[i])
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

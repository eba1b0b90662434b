package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type latencyKey struct {
	handler string
	method  string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu           sync.Mutex
	requests     map[requestKey]uint64
	latency      map[latencyKey]*histogram
	runs         map[string]uint64
	steps        map[string]uint64
	nonceAlloc   map[string]uint64
	nonceRelease map[string]uint64
	syncFailures map[string]uint64
}

var defaultCollector = &collector{
	requests:     make(map[requestKey]uint64),
	latency:      make(map[latencyKey]*histogram),
	runs:         make(map[string]uint64),
	steps:        make(map[string]uint64),
	nonceAlloc:   make(map[string]uint64),
	nonceRelease: make(map[string]uint64),
	syncFailures: make(map[string]uint64),
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	reqKey := requestKey{handler: handler, method: method, code: strconv.Itoa(status)}
	c.requests[reqKey]++

	latKey := latencyKey{handler: handler, method: method}
	hist := c.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		c.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveRun counts a finished workflow run by terminal status.
func ObserveRun(status string) {
	c := defaultCollector
	c.mu.Lock()
	c.runs[status]++
	c.mu.Unlock()
}

// ObserveStep counts a workflow step reaching a terminal state.
func ObserveStep(state string) {
	c := defaultCollector
	c.mu.Lock()
	c.steps[state]++
	c.mu.Unlock()
}

// ObserveNonceAllocation counts a nonce handed out for the given chain.
func ObserveNonceAllocation(chain string) {
	c := defaultCollector
	c.mu.Lock()
	c.nonceAlloc[chain]++
	c.mu.Unlock()
}

// ObserveNonceRelease counts a nonce returned before broadcast.
func ObserveNonceRelease(chain string) {
	c := defaultCollector
	c.mu.Lock()
	c.nonceRelease[chain]++
	c.mu.Unlock()
}

// ObserveNonceSyncFailure counts a swallowed chain sync error.
func ObserveNonceSyncFailure(chain string) {
	c := defaultCollector
	c.mu.Lock()
	c.syncFailures[chain]++
	c.mu.Unlock()
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func renderLabeledCounter(builder *strings.Builder, name, help, label string, values map[string]uint64) {
	builder.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	builder.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		builder.WriteString(fmt.Sprintf("%s{%s=\"%s\"} %d\n", name, label, escape(k), values[k]))
	}
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	renderLabeledCounter(&builder, "agentfi_runs_total",
		"Total number of workflow runs by terminal status.", "status", c.runs)
	renderLabeledCounter(&builder, "agentfi_workflow_steps_total",
		"Total number of workflow steps by terminal state.", "state", c.steps)
	renderLabeledCounter(&builder, "agentfi_nonce_allocations_total",
		"Total number of nonces handed out.", "chain", c.nonceAlloc)
	renderLabeledCounter(&builder, "agentfi_nonce_releases_total",
		"Total number of nonces released before broadcast.", "chain", c.nonceRelease)
	renderLabeledCounter(&builder, "agentfi_nonce_sync_failures_total",
		"Total number of swallowed chain sync errors.", "chain", c.syncFailures)

	type requestMetric struct {
		requestKey
		value uint64
	}
	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler == reqs[j].handler {
			if reqs[i].method == reqs[j].method {
				return reqs[i].code < reqs[j].code
			}
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].handler < reqs[j].handler
	})

	builder.WriteString("# HELP agentfi_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE agentfi_http_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("agentfi_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(metric.handler), escape(metric.method), escape(metric.code), metric.value))
	}

	type latencyMetric struct {
		latencyKey
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{
			latencyKey: key,
			buckets:    append([]float64(nil), hist.buckets...),
			counts:     append([]uint64(nil), hist.counts...),
			sum:        hist.sum,
			count:      hist.count,
		})
	}
	sort.Slice(lats, func(i, j int) bool {
		if lats[i].handler == lats[j].handler {
			return lats[i].method < lats[j].method
		}
		return lats[i].handler < lats[j].handler
	})

	builder.WriteString("# HELP agentfi_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE agentfi_http_request_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("agentfi_http_request_duration_seconds_bucket{handler=\"%s\",method=\"%s\",le=\"%s\"} %d\n",
				escape(metric.handler), escape(metric.method), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("agentfi_http_request_duration_seconds_bucket{handler=\"%s\",method=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.handler), escape(metric.method), metric.count))
		builder.WriteString(fmt.Sprintf("agentfi_http_request_duration_seconds_sum{handler=\"%s\",method=\"%s\"} %s\n",
			escape(metric.handler), escape(metric.method), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("agentfi_http_request_duration_seconds_count{handler=\"%s\",method=\"%s\"} %d\n",
			escape(metric.handler), escape(metric.method), metric.count))
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

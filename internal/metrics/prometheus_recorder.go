package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "i3configger"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	rebuildDuration prom.Histogram
	rebuildOutcome  *prom.CounterVec
	fragments       prom.Gauge
	unreadable      prom.Counter
	coalesced       prom.Counter
	hookResults     *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them, together with
// the Go runtime and process collectors, on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		rebuildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of a full rebuild pass",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		rebuildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Rebuilds by outcome",
		}, []string{"outcome"}),
		fragments: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_build_fragments",
			Help:      "Fragments merged by the most recent successful rebuild",
		}),
		unreadable: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "unreadable_fragments_total",
			Help:      "Fragments skipped because they could not be read",
		}),
		coalesced: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_requests_total",
			Help:      "Rebuild requests received, before coalescing",
		}),
		hookResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "hook_results_total",
			Help:      "Post-build hook runs by hook and result",
		}, []string{"hook", "result"}),
	}
	reg.MustRegister(pr.rebuildDuration, pr.rebuildOutcome, pr.fragments, pr.unreadable, pr.coalesced, pr.hookResults)
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	return pr
}

func (p *PrometheusRecorder) ObserveRebuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.rebuildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRebuildOutcome(outcome Outcome) {
	if p == nil {
		return
	}
	p.rebuildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) SetFragments(n int) {
	if p == nil {
		return
	}
	p.fragments.Set(float64(n))
}

func (p *PrometheusRecorder) AddUnreadableFragments(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.unreadable.Add(float64(n))
}

func (p *PrometheusRecorder) AddCoalescedRequests(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.coalesced.Add(float64(n))
}

func (p *PrometheusRecorder) IncHookResult(hook string, success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.hookResults.WithLabelValues(hook, res).Inc()
}

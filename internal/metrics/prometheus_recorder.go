package metrics

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration    *prom.HistogramVec
	buildDuration    prom.Histogram
	stageResults     *prom.CounterVec
	buildOutcome     *prom.CounterVec
	requeues         prom.Counter
	requeueExhausted prom.Counter
	webhooks         *prom.CounterVec
	queueDepth       prom.Gauge
}

// NewPrometheusRecorder constructs and registers the coursebuilder metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "coursebuilder",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "coursebuilder",
			Name:      "update_duration_seconds",
			Help:      "Total duration of one update run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "coursebuilder",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "coursebuilder",
			Name:      "update_outcomes_total",
			Help:      "Updates by terminal status",
		}, []string{"outcome"}),
		requeues: prom.NewCounter(prom.CounterOpts{
			Namespace: "coursebuilder",
			Name:      "job_requeues_total",
			Help:      "Jobs requeued because the course lock was held",
		}),
		requeueExhausted: prom.NewCounter(prom.CounterOpts{
			Namespace: "coursebuilder",
			Name:      "job_requeue_exhausted_total",
			Help:      "Jobs dropped after reaching the requeue limit",
		}),
		webhooks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "coursebuilder",
			Name:      "webhooks_total",
			Help:      "Inbound webhook calls by provider and acceptance",
		}, []string{"provider", "accepted"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: "coursebuilder",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the build queue",
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.stageResults, pr.buildOutcome,
		pr.requeues, pr.requeueExhausted, pr.webhooks, pr.queueDepth)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncRequeue() { p.requeues.Inc() }

func (p *PrometheusRecorder) IncRequeueExhausted() { p.requeueExhausted.Inc() }

func (p *PrometheusRecorder) IncWebhook(provider string, accepted bool) {
	p.webhooks.WithLabelValues(provider, strconv.FormatBool(accepted)).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) { p.queueDepth.Set(float64(n)) }

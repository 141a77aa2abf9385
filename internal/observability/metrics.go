package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	activeSessions    prometheus.Gauge
	messagesTotal     *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec
	idleSweepsTotal   prometheus.Counter

	pipelineRunTotal    *prometheus.CounterVec
	pipelineRunDuration prometheus.Histogram
	stageDuration       *prometheus.HistogramVec
	streamChunksTotal   prometheus.Counter
	audioBufferBytes    prometheus.Histogram

	upstreamRequestTotal    *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec
	upstreamRetriesTotal    *prometheus.CounterVec

	transcriptWritesTotal *prometheus.CounterVec
	transcriptPruneTotal  prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_connections",
					Help: "Current open websocket connection count.",
				},
			),
			connectionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "connections_total",
					Help: "Total accepted websocket connections.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			messagesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "messages_total",
					Help: "Total inbound messages by type.",
				},
				[]string{"type"},
			),
			protocolErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "protocol_errors_total",
					Help: "Total error messages sent to clients by code.",
				},
				[]string{"code"},
			),
			idleSweepsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "idle_connections_swept_total",
					Help: "Total connections closed by the idle sweeper.",
				},
			),
			pipelineRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pipeline_runs_total",
					Help: "Total pipeline runs by status.",
				},
				[]string{"status"},
			),
			pipelineRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pipeline_run_duration_seconds",
					Help:    "End to end pipeline run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			stageDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pipeline_stage_duration_seconds",
					Help:    "Pipeline stage duration in seconds by stage.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"stage"},
			),
			streamChunksTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "audio_stream_chunks_total",
					Help: "Total reply audio chunks streamed to clients.",
				},
			),
			audioBufferBytes: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "audio_buffer_bytes",
					Help:    "Decoded audio bytes per processed utterance.",
					Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
				},
			),
			upstreamRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "upstream_requests_total",
					Help: "Total upstream requests by provider, operation and status.",
				},
				[]string{"provider", "op", "status"},
			),
			upstreamRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "upstream_request_duration_seconds",
					Help:    "Upstream request duration in seconds by provider and operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider", "op"},
			),
			upstreamRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "upstream_retries_total",
					Help: "Total upstream retry attempts by operation.",
				},
				[]string{"op"},
			),
			transcriptWritesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transcript_writes_total",
					Help: "Total transcript turn writes by status.",
				},
				[]string{"status"},
			),
			transcriptPruneTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "transcript_turns_pruned_total",
					Help: "Total transcript turns removed by retention pruning.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeConnections,
			m.connectionsTotal,
			m.activeSessions,
			m.messagesTotal,
			m.protocolErrors,
			m.idleSweepsTotal,
			m.pipelineRunTotal,
			m.pipelineRunDuration,
			m.stageDuration,
			m.streamChunksTotal,
			m.audioBufferBytes,
			m.upstreamRequestTotal,
			m.upstreamRequestDuration,
			m.upstreamRetriesTotal,
			m.transcriptWritesTotal,
			m.transcriptPruneTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveConnections(count int) {
	m := getMetrics()
	m.activeConnections.Set(float64(count))
}

func RecordConnectionAccepted() {
	m := getMetrics()
	m.connectionsTotal.Inc()
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordMessage(messageType string) {
	m := getMetrics()
	m.messagesTotal.WithLabelValues(messageType).Inc()
}

func RecordProtocolError(code string) {
	m := getMetrics()
	m.protocolErrors.WithLabelValues(code).Inc()
}

func RecordIdleSweep(closed int) {
	m := getMetrics()
	m.idleSweepsTotal.Add(float64(closed))
}

func RecordPipelineRun(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.pipelineRunTotal.WithLabelValues(status).Inc()
	m.pipelineRunDuration.Observe(duration.Seconds())
}

func RecordStageDuration(stage string, duration time.Duration) {
	m := getMetrics()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordStreamChunks(count int) {
	m := getMetrics()
	m.streamChunksTotal.Add(float64(count))
}

func RecordAudioBufferBytes(size int) {
	m := getMetrics()
	m.audioBufferBytes.Observe(float64(size))
}

func RecordUpstreamRequest(provider, op string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.upstreamRequestTotal.WithLabelValues(provider, op, status).Inc()
	m.upstreamRequestDuration.WithLabelValues(provider, op).Observe(duration.Seconds())
}

func RecordUpstreamRetry(op string) {
	m := getMetrics()
	m.upstreamRetriesTotal.WithLabelValues(op).Inc()
}

func RecordTranscriptWrite(success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.transcriptWritesTotal.WithLabelValues(status).Inc()
}

func RecordTranscriptPrune(removed int64) {
	m := getMetrics()
	m.transcriptPruneTotal.Add(float64(removed))
}

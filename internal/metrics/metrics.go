package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service metrics for production monitoring
var (
	// Tool metrics
	ToolRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmaflow_tool_runs_total",
			Help: "Total number of statistical tool runs",
		},
		[]string{"tool", "status"}, // status: ok/invalid/error
	)

	ToolRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmaflow_tool_run_duration_seconds",
			Help:    "Statistical tool run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"tool"},
	)

	// Analysis metrics
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmaflow_analyses_total",
			Help: "Total number of analysis reports generated",
		},
		[]string{"dimension", "status"}, // status: report status
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmaflow_analysis_duration_seconds",
			Help:    "Analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"dimension"},
	)

	IssuesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmaflow_issues_found_total",
			Help: "Total number of issues found by analyses",
		},
		[]string{"severity"},
	)

	// Instruction metrics
	InstructionsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmaflow_instructions_generated_total",
			Help: "Total number of instructions persisted",
		},
		[]string{"role", "priority"},
	)

	InstructionsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pharmaflow_instructions_deduplicated_total",
			Help: "Total number of duplicate instructions skipped",
		},
	)

	InstructionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmaflow_instruction_transitions_total",
			Help: "Total number of instruction lifecycle transitions",
		},
		[]string{"to"}, // to: Read/Done
	)

	// Ingestion metrics
	MeasurementsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmaflow_measurements_ingested_total",
			Help: "Total number of measurements ingested",
		},
		[]string{"source"},
	)

	BatchesAutoCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pharmaflow_batches_auto_created_total",
			Help: "Total number of batches auto-created on first measurement",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmaflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmaflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pharmaflow_websocket_connections",
			Help: "Current number of active monitor WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmaflow_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segpost_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segpost_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Segmentation metrics
	segmentRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segpost_segment_requests_total",
			Help: "Total number of segmentation requests",
		},
		[]string{"source", "status"}, // source: http, websocket
	)

	segmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segpost_segment_duration_seconds",
			Help:    "Segmentation duration in seconds, including waiting for a handle",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	detectionsPerImage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segpost_detections_per_image",
			Help:    "Number of detections reported per image",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 300},
		},
		[]string{"source"},
	)

	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "segpost_rate_limit_hits_total",
			Help: "Total number of rejected rate-limited requests",
		},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segpost_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "segpost_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segpost_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

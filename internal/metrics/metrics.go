// Package metrics exposes the Prometheus counters for the ledger pipeline.
// Per-node published/consumed counts are the reconciliation primitive for
// detecting ledger gaps, so they are first-class metrics rather than logs.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsPublished counts transactions handed to the broadcast
	// channel (or the local fallback store) by this node.
	TransactionsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditmesh_transactions_published_total",
		Help: "Total transactions published by this node.",
	})

	// PublishFailures counts publishes that returned an error. Every one of
	// these is a potential audit-trail gap until retried.
	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditmesh_publish_failures_total",
		Help: "Total failed transaction publishes.",
	})

	// TransactionsConsumed counts messages appended (or deduplicated) from
	// this node's queue.
	TransactionsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditmesh_transactions_consumed_total",
		Help: "Total transactions consumed from the broadcast queue.",
	})

	// DuplicateTransactions counts appends absorbed by the transaction_id
	// uniqueness constraint. Expected under at-least-once delivery.
	DuplicateTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditmesh_duplicate_transactions_total",
		Help: "Total duplicate transaction ids silently absorbed on append.",
	})

	// ConsumeFailures counts messages that could not be decoded or stored.
	ConsumeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditmesh_consume_failures_total",
		Help: "Total messages that failed to decode or store.",
	})

	// MutationsSkipped counts mutations with zero ledger-eligible fields.
	MutationsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditmesh_mutations_skipped_total",
		Help: "Total mutations skipped because no fields were ledger-eligible.",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditmesh_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auditmesh_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Middleware returns a Gin middleware that records per-request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики claim-очереди.
var (
	// ClaimBatches число вызовов claim по результату:
	// claimed, empty, aborted (ClaimFunc вернула ошибку), error.
	ClaimBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schedq_claim_batches_total",
		Help: "Claim calls by result",
	}, []string{"result"})

	ClaimedItems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schedq_claimed_items_total",
		Help: "Workflow/schedule pairs claimed and committed",
	})

	ClaimErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schedq_claim_errors_total",
		Help: "Failed claim calls by error kind",
	}, []string{"kind"})

	ClaimDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedq_claim_duration_seconds",
		Help:    "Duration of the claim transaction including dispatch",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// ClaimFanoutTruncated schedules, у которых связей больше размера пачки.
	ClaimFanoutTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schedq_claim_fanout_truncated_total",
		Help: "Schedules whose workflow fan-out exceeded the batch size",
	})
)

// Метрики poller.
var (
	PollerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schedq_poller_ticks_total",
		Help: "Poller ticks by outcome",
	}, []string{"outcome"})

	DispatchedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schedq_dispatched_items_total",
		Help: "Claimed items handed to a dispatcher, by dispatcher",
	}, []string{"dispatcher"})
)

// Метрики пула соединений. Обновляются poller на каждом тике.
var (
	PoolConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "schedq_db_pool_conns",
		Help: "Database pool connections by state",
	}, []string{"state"})
)

// Метрики HTTP API.
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schedq_api_http_requests_total",
		Help: "HTTP requests handled by schedq-api",
	}, []string{"method", "status"})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsTotal counts finished transactions by outcome.
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relic_transactions_total",
			Help: "Total number of finished transactions",
		},
		[]string{"status"},
	)
	// CommitConflicts counts commits rejected by first-committer-wins.
	CommitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relic_commit_conflicts_total",
			Help: "Total number of commits rejected due to write-write conflicts",
		},
	)
	// QueriesTotal counts executed queries by outcome.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relic_queries_total",
			Help: "Total number of queries executed",
		},
		[]string{"status"},
	)
	// QueryDuration is the latency of whole queries.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relic_query_duration_seconds",
			Help:    "Query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	// RowsScanned counts rows produced by the two access paths.
	RowsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relic_rows_scanned_total",
			Help: "Total number of rows read from tables",
		},
		[]string{"access"},
	)
	// WALRecords counts appended WAL records by operation.
	WALRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relic_wal_records_total",
			Help: "Total number of WAL records appended",
		},
		[]string{"op"},
	)
	// WALBytes counts bytes appended to the WAL.
	WALBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relic_wal_bytes_total",
			Help: "Total bytes appended to the WAL",
		},
	)
	// VacuumReclaimed counts row versions removed by the vacuum.
	VacuumReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relic_vacuum_versions_reclaimed_total",
			Help: "Total number of row versions reclaimed by vacuum",
		},
	)
	// RowCacheEvents counts decoded-row cache hits and misses.
	RowCacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relic_row_cache_events_total",
			Help: "Decoded-row cache events",
		},
		[]string{"event"},
	)
)

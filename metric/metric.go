package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ozontech/mempool/buildinfo"
	"github.com/ozontech/mempool/mempool"
	"github.com/ozontech/mempool/memsim"
)

const namespace = "mempool"

var (
	Version = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "version",
		Help:      "",
	}, []string{"version"})

	// SecondsBuckets covers range from 1µs to 4.7s.
	SecondsBuckets = prometheus.ExponentialBuckets(0.000001, 3, 15)
)

func init() {
	Version.WithLabelValues(buildinfo.Version).Inc()
}

var (
	poolAllocsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "allocs_total",
		Help:      "Successful allocations by the path that served them",
	}, []string{"pool", "path"})

	poolRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "retries_total",
		Help:      "Source calls repeated with the caller's flags after the fast path and the reserve missed",
	}, []string{"pool"})

	poolFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "failures_total",
		Help:      "Non-blocking allocations that returned nothing",
	}, []string{"pool"})

	poolWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "waits_total",
		Help:      "",
	}, []string{"pool"})

	poolHandoffsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "handoffs_total",
		Help:      "Wakeups passed on by a waiter that was served by the source",
	}, []string{"pool"})

	poolFreesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "frees_total",
		Help:      "Freed elements by destination",
	}, []string{"pool", "dest"})

	poolPrefillFailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "prefill_fails_total",
		Help:      "",
	}, []string{"pool"})

	poolResizesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "resizes_total",
		Help:      "",
	}, []string{"pool", "direction"})

	poolLockWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "lock_waits_total",
		Help:      "How many times the pool lock was found taken",
	}, []string{"pool"})

	poolCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "count",
		Help:      "Elements currently banked in the reserve",
	}, []string{"pool"})

	poolCapacity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "capacity",
		Help:      "",
	}, []string{"pool"})
)

// PoolMetrics returns collectors for the pool called name.
func PoolMetrics(name string) *mempool.Metrics {
	return &mempool.Metrics{
		FastHitsTotal:     poolAllocsTotal.WithLabelValues(name, "fast"),
		ReserveHitsTotal:  poolAllocsTotal.WithLabelValues(name, "reserve"),
		RetriesTotal:      poolRetriesTotal.WithLabelValues(name),
		FailuresTotal:     poolFailuresTotal.WithLabelValues(name),
		WaitsTotal:        poolWaitsTotal.WithLabelValues(name),
		HandoffsTotal:     poolHandoffsTotal.WithLabelValues(name),
		BankedTotal:       poolFreesTotal.WithLabelValues(name, "reserve"),
		ReleasedTotal:     poolFreesTotal.WithLabelValues(name, "source"),
		PrefillFailsTotal: poolPrefillFailsTotal.WithLabelValues(name),
		GrowsTotal:        poolResizesTotal.WithLabelValues(name, "grow"),
		ShrinksTotal:      poolResizesTotal.WithLabelValues(name, "shrink"),
		LockWaitsTotal:    poolLockWaitsTotal.WithLabelValues(name),
		Count:             poolCount.WithLabelValues(name),
		Capacity:          poolCapacity.WithLabelValues(name),
	}
}

var (
	arenaFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "arena",
		Name:      "faults_total",
		Help:      "Injected allocation failures",
	}, []string{"arena"})

	arenaFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "arena",
		Name:      "failures_total",
		Help:      "Charges refused because the arena is full",
	}, []string{"arena"})

	arenaReclaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "arena",
		Name:      "reclaims_total",
		Help:      "",
	}, []string{"arena"})

	arenaReclaimedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "arena",
		Name:      "reclaimed_bytes_total",
		Help:      "",
	}, []string{"arena"})

	arenaUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "arena",
		Name:      "used_bytes",
		Help:      "",
	}, []string{"arena"})
)

// ArenaMetrics returns collectors for the arena called name.
func ArenaMetrics(name string) *memsim.Metrics {
	return &memsim.Metrics{
		FaultsTotal:         arenaFaultsTotal.WithLabelValues(name),
		FailuresTotal:       arenaFailuresTotal.WithLabelValues(name),
		ReclaimsTotal:       arenaReclaimsTotal.WithLabelValues(name),
		ReclaimedBytesTotal: arenaReclaimedBytesTotal.WithLabelValues(name),
		Used:                arenaUsedBytes.WithLabelValues(name),
	}
}

var (
	StressAllocSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stress",
		Name:      "alloc_seconds",
		Help:      "Allocation latency by flags",
		Buckets:   SecondsBuckets,
	}, []string{"pool", "flags"})

	StressCompressedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stress",
		Name:      "compressed_bytes_total",
		Help:      "",
	}, []string{"codec"})
)

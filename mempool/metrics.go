package mempool

import "github.com/prometheus/client_golang/prometheus"

// Metrics is a set of per-pool collectors. A nil *Metrics disables reporting.
type Metrics struct {
	FastHitsTotal     prometheus.Counter
	ReserveHitsTotal  prometheus.Counter
	RetriesTotal      prometheus.Counter
	FailuresTotal     prometheus.Counter
	WaitsTotal        prometheus.Counter
	HandoffsTotal     prometheus.Counter
	BankedTotal       prometheus.Counter
	ReleasedTotal     prometheus.Counter
	PrefillFailsTotal prometheus.Counter
	GrowsTotal        prometheus.Counter
	ShrinksTotal      prometheus.Counter
	LockWaitsTotal    prometheus.Counter

	Count    prometheus.Gauge
	Capacity prometheus.Gauge
}

func (m *Metrics) reportFastHit() {
	if m != nil {
		m.FastHitsTotal.Inc()
	}
}

func (m *Metrics) reportReserveHit() {
	if m != nil {
		m.ReserveHitsTotal.Inc()
	}
}

func (m *Metrics) reportRetry() {
	if m != nil {
		m.RetriesTotal.Inc()
	}
}

func (m *Metrics) reportFailure() {
	if m != nil {
		m.FailuresTotal.Inc()
	}
}

func (m *Metrics) reportWait() {
	if m != nil {
		m.WaitsTotal.Inc()
	}
}

func (m *Metrics) reportHandoff() {
	if m != nil {
		m.HandoffsTotal.Inc()
	}
}

func (m *Metrics) reportBanked() {
	if m != nil {
		m.BankedTotal.Inc()
	}
}

func (m *Metrics) reportReleased() {
	if m != nil {
		m.ReleasedTotal.Inc()
	}
}

func (m *Metrics) reportPrefillFail() {
	if m != nil {
		m.PrefillFailsTotal.Inc()
	}
}

func (m *Metrics) reportResize(grow bool) {
	if m == nil {
		return
	}
	if grow {
		m.GrowsTotal.Inc()
	} else {
		m.ShrinksTotal.Inc()
	}
}

func (m *Metrics) reportLockWait() {
	if m != nil {
		m.LockWaitsTotal.Inc()
	}
}

func (m *Metrics) setCount(count int) {
	if m != nil {
		m.Count.Set(float64(count))
	}
}

func (m *Metrics) setCapacity(capacity int) {
	if m != nil {
		m.Capacity.Set(float64(capacity))
	}
}

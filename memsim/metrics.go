package memsim

import "github.com/prometheus/client_golang/prometheus"

// Metrics is a set of per-arena collectors. A nil *Metrics disables reporting.
type Metrics struct {
	FaultsTotal         prometheus.Counter
	FailuresTotal       prometheus.Counter
	ReclaimsTotal       prometheus.Counter
	ReclaimedBytesTotal prometheus.Counter
	Used                prometheus.Gauge
}

func (m *Metrics) reportFault() {
	if m != nil {
		m.FaultsTotal.Inc()
	}
}

func (m *Metrics) reportFailure() {
	if m != nil {
		m.FailuresTotal.Inc()
	}
}

func (m *Metrics) reportReclaim(freed int64) {
	if m != nil {
		m.ReclaimsTotal.Inc()
		m.ReclaimedBytesTotal.Add(float64(freed))
	}
}

func (m *Metrics) setUsed(used int64) {
	if m != nil {
		m.Used.Set(float64(used))
	}
}

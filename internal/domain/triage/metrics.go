package triage

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the triage subsystem. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	AdmissionsTotal   *prometheus.CounterVec
	AdmissionFailures *prometheus.CounterVec
	QueuePatients     *prometheus.GaugeVec
	PatientsInSystem  prometheus.Gauge
	SessionResets     prometheus.Counter
	ClassifyDuration  prometheus.Histogram
	HistoryWrites     *prometheus.CounterVec
	CapacityUpdates   *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_admissions_total",
			Help: "Admitted patients by assigned department and overflow flag.",
		}, []string{"department", "load_balanced"}),
		AdmissionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_admission_failures_total",
			Help: "Rejected admissions by reason.",
		}, []string{"reason"}),
		QueuePatients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triage_queue_patients",
			Help: "Patients currently queued per department.",
		}, []string{"department"}),
		PatientsInSystem: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triage_patients_in_system",
			Help: "Patients in the current session across all departments.",
		}),
		SessionResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_session_resets_total",
			Help: "Triage session resets.",
		}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_classify_duration_seconds",
			Help:    "Duration of classifier calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}),
		HistoryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_history_writes_total",
			Help: "Patient history writes by result.",
		}, []string{"result"}),
		CapacityUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_capacity_updates_total",
			Help: "Capacity updates by persistence result.",
		}, []string{"persisted"}),
	}

	reg.MustRegister(
		m.AdmissionsTotal,
		m.AdmissionFailures,
		m.QueuePatients,
		m.PatientsInSystem,
		m.SessionResets,
		m.ClassifyDuration,
		m.HistoryWrites,
		m.CapacityUpdates,
	)

	return m
}

func (m *Metrics) admitted(r *AdmissionResult) {
	if m == nil {
		return
	}
	m.AdmissionsTotal.WithLabelValues(r.Department, strconv.FormatBool(r.WasLoadBalanced)).Inc()
}

func (m *Metrics) failed(reason string) {
	if m == nil {
		return
	}
	m.AdmissionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeQueues(counts map[string]int, total int) {
	if m == nil {
		return
	}
	for dept, n := range counts {
		m.QueuePatients.WithLabelValues(dept).Set(float64(n))
	}
	m.PatientsInSystem.Set(float64(total))
}

func (m *Metrics) reset() {
	if m == nil {
		return
	}
	m.SessionResets.Inc()
}

func (m *Metrics) classified(seconds float64) {
	if m == nil {
		return
	}
	m.ClassifyDuration.Observe(seconds)
}

func (m *Metrics) historyWrite(result string) {
	if m == nil {
		return
	}
	m.HistoryWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) capacityUpdated(persisted bool) {
	if m == nil {
		return
	}
	m.CapacityUpdates.WithLabelValues(strconv.FormatBool(persisted)).Inc()
}

//go:build metrics

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	AdmissionExecuted  = "executed"
	AdmissionConfirm   = "confirm"
	AdmissionRejected  = "rejected"
	AdmissionTripped   = "tripped"
	AdmissionDuplicate = "duplicate"
	AdmissionInvalid   = "invalid"
)

var (
	protectionDailyPnLGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "protection_daily_pnl",
		Help: "protection.daily_pnl – realized PnL accumulated in the current trading day",
	}, []string{"user_id"})

	protectionTrippedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "protection_tripped",
		Help: "protection.tripped – 1 when the circuit breaker blocks new admissions",
	}, []string{"user_id"})

	protectionTripsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "protection_trips_total",
		Help: "protection.trips – cumulative count of circuit breaker trips",
	}, []string{"user_id"})

	admissionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_admissions_total",
		Help: "intake.admissions – signal admission outcomes by result",
	}, []string{"user_id", "result"})

	admissionLatencyGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signal_admission_latency_ms",
		Help: "intake.admission_latency_ms – duration of the latest admission pipeline run",
	}, []string{"user_id"})

	orderRejectionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_rejections_total",
		Help: "order.rejections – order plans aborted by exchange rejection",
	}, []string{"user_id"})

	ocoCancellationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oco_cancellations_total",
		Help: "order.oco_cancellations – sibling orders cancelled after a protective fill",
	}, []string{"user_id"})

	persistenceAttemptsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "state_persistence_attempts_total",
		Help: "db.persistence_attempts – attempts to persist protection or plan state",
	}, []string{"user_id"})

	persistenceFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "state_persistence_failures_total",
		Help: "db.persistence_failures – errors persisting protection or plan state",
	}, []string{"user_id"})

	persistLatencyGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "state_persist_latency_ms",
		Help: "db.persist_latency_ms – time spent persisting state",
	}, []string{"user_id"})

	riskAccuracyGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "risk_accuracy",
		Help: "risk.accuracy – actual vs target risk of the latest computed plan",
	}, []string{"user_id"})

	riskWarningsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_warnings_total",
		Help: "risk.warnings – sizing deviations surfaced on computed plans",
	}, []string{"user_id", "code"})
)

func init() {
	prometheus.MustRegister(
		protectionDailyPnLGauge,
		protectionTrippedGauge,
		protectionTripsCounter,
		admissionsCounter,
		admissionLatencyGauge,
		orderRejectionsCounter,
		ocoCancellationsCounter,
		persistenceAttemptsCounter,
		persistenceFailuresCounter,
		persistLatencyGauge,
		riskAccuracyGauge,
		riskWarningsCounter,
	)
}

func ObserveProtectionDailyPnL(userID string, value float64) {
	protectionDailyPnLGauge.WithLabelValues(userID).Set(value)
}

func SetProtectionTripped(userID string, tripped bool) {
	if tripped {
		protectionTrippedGauge.WithLabelValues(userID).Set(1)
		return
	}
	protectionTrippedGauge.WithLabelValues(userID).Set(0)
}

func IncProtectionTrips(userID string) {
	protectionTripsCounter.WithLabelValues(userID).Inc()
}

func IncAdmissions(userID, result string) {
	admissionsCounter.WithLabelValues(userID, result).Inc()
}

func ObserveAdmissionLatency(userID string, duration time.Duration) {
	admissionLatencyGauge.WithLabelValues(userID).Set(duration.Seconds() * 1000)
}

func IncOrderRejections(userID string) {
	orderRejectionsCounter.WithLabelValues(userID).Inc()
}

func IncOCOCancellations(userID string) {
	ocoCancellationsCounter.WithLabelValues(userID).Inc()
}

func IncPersistenceAttempts(userID string) {
	persistenceAttemptsCounter.WithLabelValues(userID).Inc()
}

func IncPersistenceFailures(userID string) {
	persistenceFailuresCounter.WithLabelValues(userID).Inc()
}

func ObservePersistLatency(userID string, duration time.Duration) {
	persistLatencyGauge.WithLabelValues(userID).Set(duration.Seconds() * 1000)
}

func ObserveRiskAccuracy(userID string, value float64) {
	riskAccuracyGauge.WithLabelValues(userID).Set(value)
}

func IncRiskWarnings(userID, code string) {
	riskWarningsCounter.WithLabelValues(userID, code).Inc()
}

package metrics

import (
	"testing"
	"time"
)

func mustNotPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("%s panicked: %v", name, r)
		}
	}()
	fn()
}

func TestMetricsHooksAreSafe(t *testing.T) {
	testCases := []struct {
		name string
		fn   func()
	}{
		{"ObserveProtectionDailyPnL", func() { ObserveProtectionDailyPnL("user", -42.5) }},
		{"SetProtectionTripped", func() { SetProtectionTripped("user", true) }},
		{"IncProtectionTrips", func() { IncProtectionTrips("user") }},
		{"IncAdmissions", func() { IncAdmissions("user", AdmissionExecuted) }},
		{"ObserveAdmissionLatency", func() { ObserveAdmissionLatency("user", 12*time.Millisecond) }},
		{"IncOrderRejections", func() { IncOrderRejections("user") }},
		{"IncOCOCancellations", func() { IncOCOCancellations("user") }},
		{"IncPersistenceAttempts", func() { IncPersistenceAttempts("user") }},
		{"IncPersistenceFailures", func() { IncPersistenceFailures("user") }},
		{"ObservePersistLatency", func() { ObservePersistLatency("user", time.Second) }},
		{"ObserveRiskAccuracy", func() { ObserveRiskAccuracy("user", 1.0) }},
		{"IncRiskWarnings", func() { IncRiskWarnings("user", "LEVERAGE_CLAMPED") }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			mustNotPanic(t, tc.name, func() {
				tc.fn()
				tc.fn()
			})
		})
	}
}

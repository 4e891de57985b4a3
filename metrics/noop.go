//go:build !metrics

package metrics

import "time"

const (
	AdmissionExecuted  = "executed"
	AdmissionConfirm   = "confirm"
	AdmissionRejected  = "rejected"
	AdmissionTripped   = "tripped"
	AdmissionDuplicate = "duplicate"
	AdmissionInvalid   = "invalid"
)

func ObserveProtectionDailyPnL(string, float64)       {}
func SetProtectionTripped(string, bool)               {}
func IncProtectionTrips(string)                       {}
func IncAdmissions(string, string)                    {}
func ObserveAdmissionLatency(string, time.Duration)   {}
func IncOrderRejections(string)                       {}
func IncOCOCancellations(string)                      {}
func IncPersistenceAttempts(string)                   {}
func IncPersistenceFailures(string)                   {}
func ObservePersistLatency(string, time.Duration)     {}
func ObserveRiskAccuracy(string, float64)             {}
func IncRiskWarnings(string, string)                  {}

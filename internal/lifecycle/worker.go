package lifecycle

// WorkerStatus is the liveness state a worker instance reports in heartbeats.
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerRunning  WorkerStatus = "running"
	WorkerIdle     WorkerStatus = "idle"
	WorkerError    WorkerStatus = "error"
	WorkerStopped  WorkerStatus = "stopped"
)

func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStarting, WorkerRunning, WorkerIdle, WorkerError, WorkerStopped:
		return true
	default:
		return false
	}
}

// Active reports whether the instance counts toward stage health.
func (s WorkerStatus) Active() bool {
	return s == WorkerRunning || s == WorkerIdle
}

// Result is a binary market outcome.
type Result string

const (
	ResultYes Result = "YES"
	ResultNo  Result = "NO"
)

func (r Result) Valid() bool {
	return r == ResultYes || r == ResultNo
}

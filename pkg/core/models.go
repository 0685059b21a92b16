package core

import (
	"time"
)

type ExperimentStatus struct {
	Running   bool
	StartTime time.Time
	EndTime   time.Time
	Errors    []error
	// Step is the number of batched steps completed so far.
	Step int
}

// Summary condenses a finished rollout.
type Summary struct {
	RunID      string
	Env        string
	NumEnvs    int
	Steps      int
	Episodes   int
	MeanReturn float64
	Duration   time.Duration
}

// StepsPerSecond returns instance transitions per second.
func (s Summary) StepsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Steps*s.NumEnvs) / s.Duration.Seconds()
}

// Package observer decouples the execution core from metrics backends.
package observer

import "time"

// MetricsRecorder receives execution-core events. Implementations must be
// safe for concurrent use.
type MetricsRecorder interface {
	// RunStarted is called when a streaming run begins.
	RunStarted()
	// TestFinished is called once per classified test with its verdict status.
	TestFinished(status string, duration time.Duration)
	// RunFinished is called when a streaming run ends; ok is false when the
	// run terminated on an error or disconnect.
	RunFinished(ok bool, duration time.Duration)
	// PoolState reports box-pool occupancy after an acquire or release.
	PoolState(total, inUse, free int)
}

// Noop discards every event.
type Noop struct{}

func (Noop) RunStarted()                        {}
func (Noop) TestFinished(string, time.Duration) {}
func (Noop) RunFinished(bool, time.Duration)    {}
func (Noop) PoolState(int, int, int)            {}

var _ MetricsRecorder = Noop{}

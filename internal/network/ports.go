package network

import (
	"time"

	"poolnet"
)

// Miner consumes dispatched jobs and owns the set of enabled algorithms.
// Production: *miner.Miner
// Testing: fake.Miner
type Miner interface {
	SetJob(job poolnet.Job)
	Pause()
	IsEnabled(algo poolnet.Algorithm) bool
	Algorithms() poolnet.Algorithms
	Paused() bool
}

// ResultSource delivers job results from compute backends.
// Production: *results.Queue
// Testing: fake.ResultSource
type ResultSource interface {
	SetListener(l poolnet.ResultListener)
	// Stop returns once no further results will be delivered.
	Stop()
}

// Ticker is an introspection collaborator driven by the coordinator's tick.
// Production: *api.Server
// Testing: fake that records tick times
type Ticker interface {
	Tick(now time.Time)
}

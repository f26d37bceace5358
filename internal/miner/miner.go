// Package miner fans jobs out to compute backends.
package miner

import (
	"log/slog"
	"sync"

	"poolnet"
)

// Backend is a compute backend. Results go to the poolnet.ResultListener
// the backend was built with.
type Backend interface {
	Name() string
	SetJob(job poolnet.Job)
	Pause()
}

// Miner tracks the current job and the enabled algorithms. It is safe for
// concurrent use.
type Miner struct {
	log *slog.Logger

	mu       sync.Mutex
	algos    poolnet.Algorithms
	backends []Backend
	job      poolnet.Job
	paused   bool
}

// New creates a Miner working on algos in preference order.
func New(algos poolnet.Algorithms, backends ...Backend) *Miner {
	return &Miner{
		log:      slog.With("component", "miner"),
		algos:    append(poolnet.Algorithms(nil), algos...),
		backends: backends,
	}
}

// SetJob dispatches job to every backend and clears the pause. Jobs that
// cannot be worked on are dropped and leave the current state unchanged.
func (m *Miner) SetJob(job poolnet.Job) {
	if !job.IsValid() {
		m.log.Warn("ignoring incomplete job", "job", job.ID, "diff", job.Diff)
		return
	}
	m.mu.Lock()
	m.job = job
	resumed := m.paused
	m.paused = false
	backends := append([]Backend(nil), m.backends...)
	m.mu.Unlock()

	if resumed {
		m.log.Info("resumed", "job", job.ID)
	}
	for _, b := range backends {
		b.SetJob(job)
	}
}

// Pause suspends every backend until the next SetJob.
func (m *Miner) Pause() {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = true
	backends := append([]Backend(nil), m.backends...)
	m.mu.Unlock()

	for _, b := range backends {
		b.Pause()
	}
}

// IsEnabled reports whether algo is configured.
func (m *Miner) IsEnabled(algo poolnet.Algorithm) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.algos.Contains(algo)
}

// Algorithms returns a copy of the enabled algorithms in preference order.
func (m *Miner) Algorithms() poolnet.Algorithms {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(poolnet.Algorithms(nil), m.algos...)
}

// SetAlgorithms replaces the enabled algorithms.
func (m *Miner) SetAlgorithms(algos poolnet.Algorithms) {
	m.mu.Lock()
	m.algos = append(poolnet.Algorithms(nil), algos...)
	m.mu.Unlock()
}

func (m *Miner) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Job returns the last dispatched job.
func (m *Miner) Job() poolnet.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job
}

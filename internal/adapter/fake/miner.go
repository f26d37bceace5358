package fake

import (
	"sync"
	"time"

	"poolnet"
)

// Miner records job dispatch and pause calls.
type Miner struct {
	CallRecorder

	mu     sync.Mutex
	algos  poolnet.Algorithms
	paused bool
	jobs   []poolnet.Job
}

// NewMiner creates a Miner with algos enabled in preference order.
func NewMiner(algos ...poolnet.Algorithm) *Miner {
	return &Miner{algos: algos}
}

func (m *Miner) SetJob(job poolnet.Job) {
	m.record("SetJob", job)
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.paused = false
	m.mu.Unlock()
}

func (m *Miner) Pause() {
	m.record("Pause")
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

func (m *Miner) IsEnabled(algo poolnet.Algorithm) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.algos.Contains(algo)
}

func (m *Miner) Algorithms() poolnet.Algorithms {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(poolnet.Algorithms(nil), m.algos...)
}

func (m *Miner) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Jobs returns every dispatched job in order.
func (m *Miner) Jobs() []poolnet.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]poolnet.Job(nil), m.jobs...)
}

// ResultSource hands results to whatever listener was registered.
type ResultSource struct {
	CallRecorder

	mu       sync.Mutex
	listener poolnet.ResultListener
}

func (s *ResultSource) SetListener(l poolnet.ResultListener) {
	s.record("SetListener", l)
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *ResultSource) Stop() { s.record("Stop") }

// Emit delivers r to the registered listener on the calling goroutine.
func (s *ResultSource) Emit(r poolnet.JobResult) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnJobResult(r)
	}
}

// Ticker records tick times.
type Ticker struct {
	CallRecorder
}

func (t *Ticker) Tick(now time.Time) { t.record("Tick", now) }

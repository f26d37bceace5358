package fake

import (
	"sync"
	"time"

	"poolnet"
	"poolnet/internal/strategy"
)

var (
	_ strategy.Strategy = (*Strategy)(nil)
	_ strategy.Client   = (*Client)(nil)
)

// Client is a fixed strategy.Client.
type Client struct {
	id          int
	pool        poolnet.Pool
	ip          string
	tlsVersion  string
	fingerprint string
}

// NewClient creates a Client for pool at position id.
func NewClient(id int, pool poolnet.Pool) *Client {
	return &Client{id: id, pool: pool, ip: "192.0.2.1"}
}

// WithTLS returns a copy of c that reports a TLS session.
func (c *Client) WithTLS(version, fingerprint string) *Client {
	out := *c
	out.tlsVersion = version
	out.fingerprint = fingerprint
	return &out
}

func (c *Client) ID() int                { return c.id }
func (c *Client) Pool() poolnet.Pool     { return c.pool }
func (c *Client) Mode() string           { return c.pool.Mode }
func (c *Client) IP() string             { return c.ip }
func (c *Client) TLSVersion() string     { return c.tlsVersion }
func (c *Client) TLSFingerprint() string { return c.fingerprint }

// Strategy records calls and lets tests raise listener callbacks.
type Strategy struct {
	CallRecorder
	Pools    poolnet.Pools
	Listener strategy.Listener

	// StopHook runs inside Stop, before it returns.
	StopHook   func()
	// SubmitHook runs inside Submit, before it returns.
	SubmitHook func(result poolnet.JobResult)

	mu      sync.Mutex
	active  bool
	stopped bool
	seq     int64
}

func (s *Strategy) Connect() { s.record("Connect") }

func (s *Strategy) Stop() {
	s.record("Stop")
	if s.StopHook != nil {
		s.StopHook()
	}
	s.mu.Lock()
	s.stopped = true
	s.active = false
	s.mu.Unlock()
}

func (s *Strategy) Submit(result poolnet.JobResult) int64 {
	s.record("Submit", result)
	if s.SubmitHook != nil {
		s.SubmitHook(result)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return -1
	}
	s.seq++
	return s.seq
}

func (s *Strategy) Tick(now time.Time) { s.record("Tick", now) }

func (s *Strategy) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive sets what IsActive reports.
func (s *Strategy) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

func (s *Strategy) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// StrategyFactory builds recording Strategies and remembers each one.
type StrategyFactory struct {
	mu      sync.Mutex
	created []*Strategy
	// Active sets the initial IsActive of new strategies.
	Active bool
}

// New implements strategy.Factory.
func (f *StrategyFactory) New(pools poolnet.Pools, listener strategy.Listener) strategy.Strategy {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &Strategy{Pools: pools, Listener: listener, active: f.Active}
	f.created = append(f.created, s)
	return s
}

// Count returns how many strategies were built.
func (f *StrategyFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// At returns the i-th strategy built.
func (f *StrategyFactory) At(i int) *Strategy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

// Last returns the most recently built strategy.
func (f *StrategyFactory) Last() *Strategy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

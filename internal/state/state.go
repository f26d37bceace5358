// Package state accumulates share outcomes and connection metadata for the
// active pool and renders them for operators and the summary API.
package state

import (
	"io"
	"os"
	"slices"
	"time"

	"poolnet"
)

const (
	topDiffSlots   = 10
	errorLogSize   = 10
	maxLatencySamp = 1024
)

// Share is one submit outcome handed to a Recorder.
type Share struct {
	Seq        int64
	Backend    string
	Pool       string
	Diff       uint64
	ActualDiff uint64
	Accepted   bool
	Error      string
	Elapsed    time.Duration
	At         time.Time
}

// Recorder persists share outcomes.
// Production: *journal.Journal
// Testing: in-memory slice
type Recorder interface {
	Record(s Share)
}

// NetworkState tracks the active connection and share counters.
//
// It is owned by the network coordinator's event loop and is not safe for
// concurrent use.
type NetworkState struct {
	clock    poolnet.Clock
	out      io.Writer
	recorder Recorder

	pool        string
	ip          string
	tlsVersion  string
	fingerprint string
	algorithm   poolnet.Algorithm
	diff        uint64
	height      uint64
	active      bool
	connectedAt time.Time

	accepted uint64
	rejected uint64
	failures uint64
	hashes   uint64

	lifetimeAccepted uint64
	lifetimeRejected uint64

	latency  []time.Duration
	topDiff  [topDiffSlots]uint64
	errorLog []string

	closed bool
}

type Option func(*NetworkState)

// WithClock overrides the time source used for uptime.
func WithClock(c poolnet.Clock) Option {
	return func(s *NetworkState) { s.clock = c }
}

// WithOutput sets where PrintResults and PrintConnection write.
func WithOutput(w io.Writer) Option {
	return func(s *NetworkState) { s.out = w }
}

// WithRecorder persists every share outcome.
func WithRecorder(r Recorder) Option {
	return func(s *NetworkState) { s.recorder = r }
}

// WithLifetime seeds lifetime totals, typically from the share journal.
func WithLifetime(accepted, rejected uint64) Option {
	return func(s *NetworkState) {
		s.lifetimeAccepted = accepted
		s.lifetimeRejected = rejected
	}
}

func New(opts ...Option) *NetworkState {
	s := &NetworkState{
		clock: poolnet.RealClock{},
		out:   os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnActive records a newly active pool connection.
func (s *NetworkState) OnActive(pool poolnet.Pool, ip, tlsVersion, fingerprint string) {
	s.pool = pool.Address()
	s.ip = ip
	s.tlsVersion = tlsVersion
	s.fingerprint = fingerprint
	s.active = true
	s.connectedAt = s.clock.Now()
}

// OnJob records the algorithm and difficulty of the latest job.
func (s *NetworkState) OnJob(job poolnet.Job) {
	s.algorithm = job.Algorithm
	s.diff = job.Diff
	s.height = job.Height
}

// OnPause records loss of every pool connection.
func (s *NetworkState) OnPause() {
	if !s.active {
		return
	}
	s.active = false
	s.pool = ""
	s.ip = ""
	s.tlsVersion = ""
	s.fingerprint = ""
	s.diff = 0
	s.height = 0
	s.algorithm = poolnet.Algorithm{}
	s.connectedAt = time.Time{}
	s.latency = s.latency[:0]
	s.failures++
}

// OnResultAccepted counts a pool answer. A non-empty errText is a rejection.
func (s *NetworkState) OnResultAccepted(result poolnet.SubmitResult, errText string) {
	if s.closed {
		return
	}
	accepted := errText == ""
	if accepted {
		s.accepted++
		s.lifetimeAccepted++
		s.hashes += result.Diff
		s.pushTopDiff(result.ActualDiff)
	} else {
		s.rejected++
		s.lifetimeRejected++
		s.errorLog = append(s.errorLog, errText)
		if len(s.errorLog) > errorLogSize {
			s.errorLog = s.errorLog[len(s.errorLog)-errorLogSize:]
		}
	}

	if result.Elapsed > 0 {
		s.latency = append(s.latency, result.Elapsed)
		if len(s.latency) > maxLatencySamp {
			s.latency = s.latency[len(s.latency)-maxLatencySamp:]
		}
	}

	if s.recorder != nil {
		s.recorder.Record(Share{
			Seq:        result.Seq,
			Backend:    result.Backend,
			Pool:       s.pool,
			Diff:       result.Diff,
			ActualDiff: result.ActualDiff,
			Accepted:   accepted,
			Error:      errText,
			Elapsed:    result.Elapsed,
			At:         s.clock.Now(),
		})
	}
}

func (s *NetworkState) pushTopDiff(diff uint64) {
	last := len(s.topDiff) - 1
	if diff <= s.topDiff[last] {
		return
	}
	s.topDiff[last] = diff
	for i := last; i > 0 && s.topDiff[i] > s.topDiff[i-1]; i-- {
		s.topDiff[i], s.topDiff[i-1] = s.topDiff[i-1], s.topDiff[i]
	}
}

func (s *NetworkState) Accepted() uint64 { return s.accepted }
func (s *NetworkState) Rejected() uint64 { return s.rejected }
func (s *NetworkState) Failures() uint64 { return s.failures }
func (s *NetworkState) IsActive() bool   { return s.active }

func (s *NetworkState) Algorithm() poolnet.Algorithm { return s.algorithm }

// Uptime is the age of the active connection, or zero.
func (s *NetworkState) Uptime() time.Duration {
	if !s.active || s.connectedAt.IsZero() {
		return 0
	}
	return s.clock.Now().Sub(s.connectedAt)
}

// AvgTime is the mean interval between accepted shares on this connection.
func (s *NetworkState) AvgTime() time.Duration {
	if s.accepted == 0 {
		return 0
	}
	return s.Uptime() / time.Duration(s.accepted)
}

// Latency returns the median submit round trip.
func (s *NetworkState) Latency() time.Duration {
	if len(s.latency) == 0 {
		return 0
	}
	sorted := slices.Clone(s.latency)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// Close detaches the recorder. Later results are ignored.
func (s *NetworkState) Close() {
	s.closed = true
	s.recorder = nil
}

// ScaleDiff reduces diff to a display magnitude and returns its suffix.
func ScaleDiff(diff uint64) (uint64, string) {
	switch {
	case diff >= 100_000_000_000_000:
		return diff / 1_000_000_000_000, "T"
	case diff >= 100_000_000_000:
		return diff / 1_000_000_000, "G"
	case diff >= 100_000_000:
		return diff / 1_000_000, "M"
	default:
		return diff, ""
	}
}

// Package strategy decides which pool connection supplies jobs.
package strategy

import (
	"time"

	"poolnet"
)

// Client is a read-only view of one pool connection.
type Client interface {
	ID() int
	Pool() poolnet.Pool
	Mode() string
	IP() string
	TLSVersion() string
	TLSFingerprint() string
}

// Strategy owns a set of pool connections, at most one of them active.
type Strategy interface {
	Connect()
	// Stop disconnects every pool. No Listener method is called after it
	// returns.
	Stop()
	// Submit forwards a share to the active pool and returns its sequence
	// number, or -1 when no pool is active.
	Submit(result poolnet.JobResult) int64
	// Tick drives time-based work. It never calls the Listener
	// synchronously.
	Tick(now time.Time)
	IsActive() bool
}

// Listener receives strategy events. Methods may be called from any
// goroutine owned by the strategy.
type Listener interface {
	OnActive(s Strategy, c Client)
	OnPause(s Strategy)
	OnJob(s Strategy, c Client, job poolnet.Job)
	OnLogin(s Strategy, c Client, params map[string]any)
	OnResultAccepted(s Strategy, c Client, result poolnet.SubmitResult, errText string)
	OnVerifyAlgorithm(s Strategy, c Client, algo poolnet.Algorithm) bool
}

// Factory builds a Strategy over pools that reports to listener.
// Production: strategy.NewFactory(opts...)
// Testing: func returning a recording fake
type Factory func(pools poolnet.Pools, listener Listener) Strategy

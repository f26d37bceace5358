package poolnet

import (
	"net"
	"strconv"
)

// Pool modes.
const (
	ModePool       = "pool"
	ModeDaemon     = "daemon"
	ModeSelfSelect = "self-select"
	ModeBenchmark  = "benchmark"
)

// Pool describes one job-providing endpoint. It is a plain value: once a
// Pool is handed to a strategy it is never mutated.
type Pool struct {
	Host           string
	Port           int
	ZMQPort        int // side-channel notification port; 0 when unused
	TLS            bool
	TLSFingerprint string // hex SHA-256 of the leaf certificate; empty disables pinning
	Mode           string
	Algorithm      Algorithm // preferred algorithm; may be invalid
	User           string
	Password       string
	RigID          string
	Keepalive      bool
	Enabled        bool
}

// Address returns host:port.
func (p Pool) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Pool) String() string {
	scheme := "stratum+tcp://"
	if p.TLS {
		scheme = "stratum+ssl://"
	}
	return scheme + p.Address()
}

// HasZMQ reports whether the pool advertises a ZMQ notification port.
func (p Pool) HasZMQ() bool { return p.ZMQPort > 0 }

// IsBenchmark reports whether the pool is a local benchmark source.
func (p Pool) IsBenchmark() bool { return p.Mode == ModeBenchmark }

// Pools is an ordered pool list. Order is failover priority.
type Pools []Pool

// Equal reports whether both lists hold the same pools in the same order.
func (l Pools) Equal(other Pools) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] != other[i] {
			return false
		}
	}
	return true
}

// Active reports whether at least one pool is enabled.
func (l Pools) Active() bool {
	for _, p := range l {
		if p.Enabled {
			return true
		}
	}
	return false
}

// Enabled returns the enabled pools in order.
func (l Pools) Enabled() Pools {
	out := make(Pools, 0, len(l))
	for _, p := range l {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

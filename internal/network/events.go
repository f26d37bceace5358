package network

import (
	"sync"

	"poolnet"
	"poolnet/config"
	"poolnet/internal/strategy"
)

type eventKind int

const (
	evConnect eventKind = iota
	evActive
	evPause
	evJob
	evLogin
	evVerify
	evJobResult
	evResultAccepted
	evConfig
	evCommand
	evSummary
)

func (k eventKind) String() string {
	switch k {
	case evConnect:
		return "connect"
	case evActive:
		return "active"
	case evPause:
		return "pause"
	case evJob:
		return "job"
	case evLogin:
		return "login"
	case evVerify:
		return "verify"
	case evJobResult:
		return "job_result"
	case evResultAccepted:
		return "result_accepted"
	case evConfig:
		return "config"
	case evCommand:
		return "command"
	case evSummary:
		return "summary"
	default:
		return "unknown"
	}
}

// clientInfo is a snapshot of a strategy client taken when its callback
// fired, so the loop never reads live connection state.
type clientInfo struct {
	id          int
	pool        poolnet.Pool
	mode        string
	ip          string
	tlsVersion  string
	fingerprint string
}

func snapshot(c strategy.Client) clientInfo {
	return clientInfo{
		id:          c.ID(),
		pool:        c.Pool(),
		mode:        c.Mode(),
		ip:          c.IP(),
		tlsVersion:  c.TLSVersion(),
		fingerprint: c.TLSFingerprint(),
	}
}

// event is one unit of work for the loop. gen is zero for events that do
// not come from a strategy. At most one reply channel is set; replies are
// buffered so the loop never blocks on them.
type event struct {
	kind   eventKind
	gen    uint64
	client clientInfo

	job     poolnet.Job
	result  poolnet.JobResult
	submit  poolnet.SubmitResult
	errText string
	algo    poolnet.Algorithm
	command byte
	next    *config.Config
	prev    *config.Config

	done      chan struct{}
	algoReply chan []string
	okReply   chan bool
	summary   chan Summary
}

// sink is the strategy.Listener handed to one strategy generation. Once
// retired, its callbacks return immediately and anything it already queued
// is ignored by the loop.
type sink struct {
	c       *Coordinator
	gen     uint64
	retired chan struct{}
	once    sync.Once
}

func newSink(c *Coordinator, gen uint64) *sink {
	return &sink{c: c, gen: gen, retired: make(chan struct{})}
}

func (s *sink) retire() {
	s.once.Do(func() { close(s.retired) })
}

func (s *sink) post(ev event) bool {
	ev.gen = s.gen
	return s.c.post(ev, s.retired)
}

func (s *sink) OnActive(_ strategy.Strategy, c strategy.Client) {
	s.post(event{kind: evActive, client: snapshot(c)})
}

func (s *sink) OnPause(strategy.Strategy) {
	s.post(event{kind: evPause})
}

func (s *sink) OnJob(_ strategy.Strategy, c strategy.Client, job poolnet.Job) {
	s.post(event{kind: evJob, client: snapshot(c), job: job})
}

func (s *sink) OnResultAccepted(_ strategy.Strategy, c strategy.Client, result poolnet.SubmitResult, errText string) {
	s.post(event{kind: evResultAccepted, client: snapshot(c), submit: result, errText: errText})
}

// OnLogin writes the algorithm list into params on the calling goroutine.
func (s *sink) OnLogin(_ strategy.Strategy, c strategy.Client, params map[string]any) {
	reply := make(chan []string, 1)
	if !s.post(event{kind: evLogin, client: snapshot(c), algoReply: reply}) {
		return
	}
	select {
	case names, ok := <-reply:
		if ok && names != nil {
			params["algo"] = names
		}
	case <-s.retired:
	case <-s.c.quit:
	}
}

func (s *sink) OnVerifyAlgorithm(_ strategy.Strategy, c strategy.Client, algo poolnet.Algorithm) bool {
	reply := make(chan bool, 1)
	if !s.post(event{kind: evVerify, client: snapshot(c), algo: algo, okReply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-s.retired:
		return false
	case <-s.c.quit:
		return false
	}
}

var _ strategy.Listener = (*sink)(nil)

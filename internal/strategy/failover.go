package strategy

import (
	"log/slog"
	"sync"
	"time"

	"poolnet"
	"poolnet/internal/check"
	"poolnet/internal/stratum"
)

const DefaultRetries = 5

// poolClient is the part of a stratum client the failover logic drives.
type poolClient interface {
	Client
	Connect()
	Disconnect()
	Stop()
	Submit(result poolnet.JobResult) int64
	Tick(now time.Time)
}

type config struct {
	retries int
	stratum []stratum.Option
}

type Option func(*config)

// WithRetries sets how many consecutive failures of the current pool are
// tolerated before the next pool is tried.
func WithRetries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.retries = n
		}
	}
}

func WithRetryPause(d time.Duration) Option {
	return func(c *config) { c.stratum = append(c.stratum, stratum.WithRetryPause(d)) }
}

func WithDialer(d stratum.DialFunc) Option {
	return func(c *config) { c.stratum = append(c.stratum, stratum.WithDialer(d)) }
}

func WithUserAgent(ua string) Option {
	return func(c *config) { c.stratum = append(c.stratum, stratum.WithUserAgent(ua)) }
}

// WithStratumOptions passes options through to every pool client.
func WithStratumOptions(opts ...stratum.Option) Option {
	return func(c *config) { c.stratum = append(c.stratum, opts...) }
}

// NewFactory returns a Factory building Failover strategies.
func NewFactory(opts ...Option) Factory {
	return func(pools poolnet.Pools, listener Listener) Strategy {
		return New(pools, listener, opts...)
	}
}

// Failover uses the first pool that logs in, in priority order. The
// primary keeps reconnecting in the background and takes over again once
// it logs in; backups are disconnected when that happens.
type Failover struct {
	listener Listener
	retries  int
	log      *slog.Logger

	mu      sync.Mutex
	clients []poolClient
	active  int
	index   int
	stopped bool
}

// New builds a Failover over the enabled entries of pools.
func New(pools poolnet.Pools, listener Listener, opts ...Option) *Failover {
	check.Assert(listener != nil, "strategy.New: listener must not be nil")
	cfg := config{retries: DefaultRetries}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &Failover{
		listener: listener,
		retries:  cfg.retries,
		active:   -1,
		log:      slog.With("component", "failover"),
	}
	enabled := pools.Enabled()
	f.clients = make([]poolClient, len(enabled))
	sl := stratumListener{f: f}
	for i, p := range enabled {
		f.clients[i] = stratum.New(i, p, sl, cfg.stratum...)
	}
	return f
}

func newWithClients(clients []poolClient, listener Listener, retries int) *Failover {
	return &Failover{
		listener: listener,
		retries:  retries,
		active:   -1,
		clients:  clients,
		log:      slog.With("component", "failover"),
	}
}

func (f *Failover) Connect() {
	f.mu.Lock()
	if f.stopped || len(f.clients) == 0 {
		f.mu.Unlock()
		return
	}
	c := f.clients[f.index]
	f.mu.Unlock()
	c.Connect()
}

// Stop disconnects every client and waits for their goroutines.
func (f *Failover) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.active = -1
	f.index = 0
	clients := f.clients
	f.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}

func (f *Failover) Submit(result poolnet.JobResult) int64 {
	f.mu.Lock()
	if f.active < 0 {
		f.mu.Unlock()
		return -1
	}
	c := f.clients[f.active]
	f.mu.Unlock()
	return c.Submit(result)
}

func (f *Failover) Tick(now time.Time) {
	f.mu.Lock()
	clients := f.clients
	f.mu.Unlock()
	for _, c := range clients {
		c.Tick(now)
	}
}

func (f *Failover) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active >= 0
}

func (f *Failover) isCurrent(c Client) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.stopped && f.active == c.ID()
}

func (f *Failover) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *Failover) onClose(c poolClient, failures int) {
	if failures < 0 {
		return
	}
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	paused := false
	if f.active == c.ID() {
		f.active = -1
		paused = true
	}

	var next poolClient
	if (f.index != 0 || failures >= f.retries) && f.index == c.ID() && len(f.clients)-f.index > 1 {
		f.index++
		next = f.clients[f.index]
	}
	f.mu.Unlock()

	if paused {
		f.listener.OnPause(f)
	}
	if next != nil {
		f.log.Info("switching to next pool", "pool", next.Pool().Address(), "failures", failures)
		next.Connect()
	}
}

func (f *Failover) onLoginSuccess(c poolClient) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	active := f.active
	notify := false
	if c.ID() == 0 || active < 0 {
		active = c.ID()
		notify = true
	}
	var drop []poolClient
	for i := 1; i < len(f.clients); i++ {
		if i != active {
			drop = append(drop, f.clients[i])
		}
	}
	f.index = 0
	f.active = active
	f.mu.Unlock()

	for _, d := range drop {
		d.Disconnect()
	}
	if notify {
		f.listener.OnActive(f, c)
	}
}

// stratumListener adapts stratum callbacks onto the Failover.
type stratumListener struct {
	f *Failover
}

func (l stratumListener) OnClose(c *stratum.Client, failures int) {
	l.f.onClose(c, failures)
}

func (l stratumListener) OnLoginSuccess(c *stratum.Client) {
	l.f.onLoginSuccess(c)
}

func (l stratumListener) OnJobReceived(c *stratum.Client, job poolnet.Job) {
	if l.f.isCurrent(c) {
		l.f.listener.OnJob(l.f, c, job)
	}
}

func (l stratumListener) OnLogin(c *stratum.Client, params map[string]any) {
	if !l.f.isStopped() {
		l.f.listener.OnLogin(l.f, c, params)
	}
}

func (l stratumListener) OnResultAccepted(c *stratum.Client, result poolnet.SubmitResult, errText string) {
	if !l.f.isStopped() {
		l.f.listener.OnResultAccepted(l.f, c, result, errText)
	}
}

func (l stratumListener) OnVerifyAlgorithm(c *stratum.Client, algo poolnet.Algorithm) bool {
	if l.f.isStopped() {
		return false
	}
	return l.f.listener.OnVerifyAlgorithm(l.f, c, algo)
}

var (
	_ Strategy         = (*Failover)(nil)
	_ poolClient       = (*stratum.Client)(nil)
	_ stratum.Listener = stratumListener{}
)

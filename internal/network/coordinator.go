// Package network coordinates the active pool strategy with the miner.
//
// A Coordinator owns exactly one Strategy and one NetworkState. Every entry
// point, whether a strategy callback, a job result, a config change, an
// operator command or a summary query, becomes an event handled one at a
// time by the loop started with Run. Once shutdown begins the loop handles
// nothing further, and teardown runs on the loop after the last handler
// returned.
package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"poolnet"
	"poolnet/config"
	"poolnet/internal/check"
	"poolnet/internal/state"
	"poolnet/internal/strategy"
)

const (
	DefaultTickInterval = time.Second
	eventQueueSize      = 64
	tracerName          = "poolnet/internal/network"
)

var errAlreadyRunning = errors.New("network: coordinator already running")

// Summary is the introspection view of the coordinator.
type Summary struct {
	Algo       poolnet.Algorithm `json:"algo"`
	Paused     bool              `json:"paused"`
	Connection state.Connection  `json:"connection"`
	Results    state.Results     `json:"results"`
}

type Option func(*Coordinator)

// WithTicker registers an introspection collaborator driven by the tick.
func WithTicker(t Ticker) Option {
	return func(c *Coordinator) { c.ticker = t }
}

func WithClock(clock poolnet.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithOutput sets where operator commands print.
func WithOutput(w io.Writer) Option {
	return func(c *Coordinator) { c.stateOpts = append(c.stateOpts, state.WithOutput(w)) }
}

// WithRecorder persists every share outcome.
func WithRecorder(r state.Recorder) Option {
	return func(c *Coordinator) { c.stateOpts = append(c.stateOpts, state.WithRecorder(r)) }
}

// WithLifetime seeds lifetime share totals.
func WithLifetime(accepted, rejected uint64) Option {
	return func(c *Coordinator) { c.stateOpts = append(c.stateOpts, state.WithLifetime(accepted, rejected)) }
}

// WithBenchmark suppresses per-job and connection logging.
func WithBenchmark(enabled bool) Option {
	return func(c *Coordinator) { c.benchmark = enabled }
}

func WithTickInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.tickEvery = d
		}
	}
}

// Coordinator mediates between one pool Strategy, the Miner and the
// NetworkState.
type Coordinator struct {
	miner     Miner
	factory   strategy.Factory
	source    ResultSource
	ticker    Ticker
	clock     poolnet.Clock
	tracer    trace.Tracer
	tickEvery time.Duration
	benchmark bool
	stateOpts []state.Option
	log       *slog.Logger

	events   chan event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool

	// Owned by the loop once Run starts.
	strategy strategy.Strategy
	sink     *sink
	gen      uint64
	state    *state.NetworkState
	pools    poolnet.Pools
}

// New builds the NetworkState and a Strategy over cfg's pools and registers
// the Coordinator as source's result listener. Nothing connects until
// Connect.
func New(miner Miner, factory strategy.Factory, source ResultSource, cfg *config.Config, opts ...Option) *Coordinator {
	check.Assert(miner != nil, "network.New: miner must not be nil")
	check.Assert(factory != nil, "network.New: strategy factory must not be nil")
	check.Assert(source != nil, "network.New: result source must not be nil")
	check.Assert(cfg != nil, "network.New: config must not be nil")

	c := &Coordinator{
		miner:     miner,
		factory:   factory,
		source:    source,
		clock:     poolnet.RealClock{},
		tickEvery: DefaultTickInterval,
		log:       slog.With("component", "network"),
		events:    make(chan event, eventQueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	c.state = state.New(append([]state.Option{state.WithClock(c.clock)}, c.stateOpts...)...)
	c.pools = cfg.PoolList()
	c.install(c.pools)
	source.SetListener(c)
	return c
}

// Run handles events until ctx is cancelled or Close is called, then tears
// down the Strategy and NetworkState. It returns ErrStopping if the
// Coordinator was closed before Run.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		if c.stopping() {
			return ErrStopping
		}
		return errAlreadyRunning
	}
	c.started = true
	c.mu.Unlock()

	defer close(c.done)
	defer c.teardown()

	ticker := time.NewTicker(c.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.beginStop()
			return nil
		case <-c.quit:
			return nil
		case <-ticker.C:
			c.tick()
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

// Close stops the Coordinator and waits for teardown. It is safe to call
// more than once and without Run.
func (c *Coordinator) Close() error {
	c.beginStop()

	c.mu.Lock()
	started := c.started
	c.started = true
	c.mu.Unlock()

	if !started {
		c.teardown()
		close(c.done)
	}
	<-c.done
	return nil
}

// Done is closed once teardown has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Connect asks the Strategy to connect and waits until the loop has done so.
func (c *Coordinator) Connect() {
	c.call(event{kind: evConnect})
}

// ExecCommand handles a single-character operator command: s prints share
// results and c prints the connection. Other commands are ignored.
func (c *Coordinator) ExecCommand(cmd byte) {
	c.call(event{kind: evCommand, command: cmd})
}

// OnConfigChanged swaps the Strategy when the pool list changed. It returns
// after the swap.
func (c *Coordinator) OnConfigChanged(next, prev *config.Config) {
	c.call(event{kind: evConfig, next: next, prev: prev})
}

// OnJobResult queues result for submission to the active pool.
func (c *Coordinator) OnJobResult(result poolnet.JobResult) {
	c.post(event{kind: evJobResult, result: result}, nil)
}

// Summary returns the current algorithm, connection and results.
func (c *Coordinator) Summary(ctx context.Context) (Summary, error) {
	reply := make(chan Summary, 1)
	if !c.post(event{kind: evSummary, summary: reply}, nil) {
		return Summary{}, ErrStopping
	}
	select {
	case s, ok := <-reply:
		if !ok {
			return Summary{}, ErrStopping
		}
		return s, nil
	case <-c.quit:
		return Summary{}, ErrStopping
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

func (c *Coordinator) stopping() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func (c *Coordinator) beginStop() {
	c.stopOnce.Do(func() {
		close(c.quit)
		c.source.Stop()
	})
}

// post hands ev to the loop. It gives up when stopping or when retired is
// closed.
func (c *Coordinator) post(ev event, retired <-chan struct{}) bool {
	if c.stopping() {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	case <-retired:
		return false
	}
}

func (c *Coordinator) call(ev event) {
	ev.done = make(chan struct{})
	if !c.post(ev, nil) {
		return
	}
	select {
	case <-ev.done:
	case <-c.quit:
	}
}

func (c *Coordinator) install(pools poolnet.Pools) {
	c.gen++
	c.sink = newSink(c, c.gen)
	c.strategy = c.factory(pools, c.sink)
}

func (c *Coordinator) teardown() {
	_, span := c.tracer.Start(context.Background(), "network.teardown", trace.WithAttributes(
		attribute.Int64("strategy.generation", int64(c.gen)),
		attribute.Int64("shares.accepted", int64(c.state.Accepted())),
		attribute.Int64("shares.rejected", int64(c.state.Rejected())),
	))
	defer span.End()

	c.sink.retire()
	c.strategy.Stop()
	c.state.Close()
	c.log.Debug("stopped")
}

func (c *Coordinator) connect() {
	_, span := c.tracer.Start(context.Background(), "network.connect", trace.WithAttributes(
		attribute.Int("pools", len(c.pools)),
		attribute.Int("pools.enabled", len(c.pools.Enabled())),
		attribute.Int64("strategy.generation", int64(c.gen)),
	))
	defer span.End()
	c.strategy.Connect()
}

func (c *Coordinator) tick() {
	if c.stopping() {
		return
	}
	now := c.clock.Now()
	c.strategy.Tick(now)
	if c.ticker != nil {
		c.ticker.Tick(now)
	}
}

func (c *Coordinator) dispatch(ev event) {
	if c.stopping() || (ev.gen != 0 && ev.gen != c.gen) {
		abandon(ev)
		return
	}

	switch ev.kind {
	case evConnect:
		c.connect()
	case evActive:
		c.onActive(ev.client)
	case evPause:
		c.onPause()
	case evJob:
		c.onJob(ev.client, ev.job)
	case evLogin:
		ev.algoReply <- c.loginAlgorithms(ev.client.pool)
	case evVerify:
		ev.okReply <- c.miner.IsEnabled(ev.algo)
	case evJobResult:
		if seq := c.strategy.Submit(ev.result); seq < 0 {
			c.log.Debug("result dropped, no active pool", "job", ev.result.JobID)
		}
	case evResultAccepted:
		c.onResultAccepted(ev.submit, ev.errText)
	case evConfig:
		c.onConfigChanged(ev.next, ev.prev)
	case evCommand:
		c.execCommand(ev.command)
	case evSummary:
		ev.summary <- Summary{
			Algo:       c.state.Algorithm(),
			Paused:     c.miner.Paused(),
			Connection: c.state.Connection(),
			Results:    c.state.Results(),
		}
	default:
		check.Assertf(false, "network: unhandled event %s", ev.kind)
	}

	if ev.done != nil {
		close(ev.done)
	}
}

// abandon releases the waiters of an event that will not be handled.
func abandon(ev event) {
	if ev.done != nil {
		close(ev.done)
	}
	if ev.algoReply != nil {
		close(ev.algoReply)
	}
	if ev.okReply != nil {
		ev.okReply <- false
	}
	if ev.summary != nil {
		close(ev.summary)
	}
}

func (c *Coordinator) onActive(client clientInfo) {
	c.state.OnActive(client.pool, client.ip, client.tlsVersion, client.fingerprint)
	if client.pool.IsBenchmark() {
		return
	}

	attrs := []any{"pool", client.pool.Address(), "ip", client.ip}
	if client.pool.HasZMQ() {
		attrs = append(attrs, "zmq", client.pool.ZMQPort)
	}
	if client.tlsVersion != "" {
		attrs = append(attrs, "tls", client.tlsVersion)
	}
	if client.fingerprint != "" {
		attrs = append(attrs, "fingerprint", client.fingerprint)
	}
	c.log.Info("use "+client.mode, attrs...)
}

func (c *Coordinator) onPause() {
	if c.strategy.IsActive() {
		return
	}
	c.state.OnPause()
	c.log.Error("no active pools, stop mining")
	c.miner.Pause()
}

func (c *Coordinator) onJob(client clientInfo, job poolnet.Job) {
	c.state.OnJob(job)
	if !c.benchmark {
		diff, scale := state.ScaleDiff(job.Diff)
		attrs := []any{"pool", client.pool.Address(), "diff", diff, "scale", scale, "algo", job.Algorithm.Name()}
		if client.pool.HasZMQ() {
			attrs = append(attrs, "zmq", client.pool.ZMQPort)
		}
		if job.Height > 0 {
			attrs = append(attrs, "height", job.Height)
		}
		if job.TxCount > 0 {
			attrs = append(attrs, "tx", job.TxCount)
		}
		c.log.Info("new job", attrs...)
	}
	c.miner.SetJob(job)
}

// loginAlgorithms lists the enabled algorithms with the pool's preferred one
// first.
func (c *Coordinator) loginAlgorithms(pool poolnet.Pool) []string {
	return c.miner.Algorithms().Prefer(pool.Algorithm).Names()
}

func (c *Coordinator) onResultAccepted(result poolnet.SubmitResult, errText string) {
	c.state.OnResultAccepted(result, errText)

	diff, scale := state.ScaleDiff(result.Diff)
	attrs := []any{
		"backend", result.Backend,
		"accepted", c.state.Accepted(),
		"rejected", c.state.Rejected(),
		"diff", diff,
		"scale", scale,
		"ms", result.Elapsed.Milliseconds(),
	}
	if errText != "" {
		c.log.Info("rejected", append(attrs, "err", errText)...)
		return
	}
	c.log.Info("accepted", attrs...)
}

func (c *Coordinator) onConfigChanged(next, prev *config.Config) {
	if next == nil {
		return
	}
	nextPools := next.PoolList()
	if prev != nil && nextPools.Equal(prev.PoolList()) {
		return
	}
	if !nextPools.Active() {
		return
	}

	_, span := c.tracer.Start(context.Background(), "network.config_swap", trace.WithAttributes(
		attribute.Int("pools.previous", len(c.pools)),
		attribute.Int("pools.next", len(nextPools)),
	))
	defer span.End()

	c.sink.retire()
	c.strategy.Stop()

	for i, p := range nextPools {
		c.log.Info("pool", "index", i+1, "url", p.String(), "algo", p.Algorithm.Name(), "enabled", p.Enabled)
	}
	c.pools = nextPools
	c.install(nextPools)
	span.SetAttributes(attribute.Int64("strategy.generation", int64(c.gen)))

	if !c.stopping() {
		c.strategy.Connect()
	}
}

func (c *Coordinator) execCommand(cmd byte) {
	switch cmd {
	case 's', 'S':
		c.state.PrintResults()
	case 'c', 'C':
		c.state.PrintConnection()
	}
}

var (
	_ poolnet.ResultListener = (*Coordinator)(nil)
	_ config.Listener        = (*Coordinator)(nil)
)

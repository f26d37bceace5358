// Package stratum implements the JSON-RPC pool protocol over TCP or TLS.
package stratum

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"poolnet"
	"poolnet/internal/check"
)

const (
	loginID          = 1
	responseTimeout  = 20 * time.Second
	keepaliveEvery   = 60 * time.Second
	dialTimeout      = 10 * time.Second
	writeTimeout     = 10 * time.Second
	maxRetryInterval = time.Minute
	readBufferSize   = 16 * 1024

	defaultUserAgent  = "poolnet/1.0"
	defaultRetryPause = 5 * time.Second
)

var (
	ErrFingerprint           = errors.New("tls fingerprint mismatch")
	ErrIncompatibleAlgorithm = errors.New("incompatible algorithm")
	errResponseTimeout       = errors.New("response timeout")
)

// Listener receives protocol events from a Client. Calls come from the
// client's connection goroutine and never overlap for one client.
type Listener interface {
	OnClose(c *Client, failures int)
	OnJobReceived(c *Client, job poolnet.Job)
	OnLogin(c *Client, params map[string]any)
	OnLoginSuccess(c *Client)
	OnResultAccepted(c *Client, result poolnet.SubmitResult, errText string)
	OnVerifyAlgorithm(c *Client, algo poolnet.Algorithm) bool
}

// DialFunc opens the raw transport to a pool.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type pendingSubmit struct {
	result poolnet.JobResult
	actual uint64
	sent   time.Time
}

// Client is one pool connection. It reconnects on its own after failures
// until Disconnect or Stop is called.
type Client struct {
	id         int
	pool       poolnet.Pool
	listener   Listener
	dial       DialFunc
	userAgent  string
	retryPause time.Duration
	newBackOff func() backoff.BackOff
	clock      poolnet.Clock
	log        *slog.Logger

	wg sync.WaitGroup

	mu          sync.Mutex
	cancel      context.CancelFunc
	out         *writer
	rpcID       string
	loggedIn    bool
	timedOut    bool
	pending     map[int64]pendingSubmit
	seq         int64
	lastWrite   time.Time
	ip          string
	tlsVersion  string
	fingerprint string
	failures    int
}

type Option func(*Client)

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRetryPause sets the first reconnect delay.
func WithRetryPause(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryPause = d
		}
	}
}

// WithBackOff overrides the reconnect delay policy.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

func WithClock(clock poolnet.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// New creates a disconnected client for pool. id is the client's position in
// its strategy's pool list.
func New(id int, pool poolnet.Pool, listener Listener, opts ...Option) *Client {
	check.Assert(listener != nil, "stratum.New: listener must not be nil")
	c := &Client{
		id:         id,
		pool:       pool,
		listener:   listener,
		userAgent:  defaultUserAgent,
		retryPause: defaultRetryPause,
		clock:      poolnet.RealClock{},
		seq:        loginID,
		pending:    make(map[int64]pendingSubmit),
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	c.dial = d.DialContext
	for _, opt := range opts {
		opt(c)
	}
	if c.newBackOff == nil {
		pause := c.retryPause
		c.newBackOff = func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(pause),
				backoff.WithMaxInterval(maxRetryInterval),
				backoff.WithMaxElapsedTime(0),
			)
		}
	}
	c.log = slog.With("component", "stratum", "pool", pool.Address(), "client", id)
	return c
}

func (c *Client) ID() int            { return c.id }
func (c *Client) Pool() poolnet.Pool { return c.pool }
func (c *Client) Mode() string       { return c.pool.Mode }

func (c *Client) IP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ip
}

func (c *Client) TLSVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tlsVersion
}

func (c *Client) TLSFingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fingerprint
}

// IsActive reports whether the client is logged in.
func (c *Client) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// Connect starts the connection goroutine. It is a no-op while one runs.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.failures = 0
	c.wg.Add(1)
	go c.run(ctx)
}

// Disconnect closes the connection without reconnecting. It does not wait
// for the connection goroutine and raises no callbacks.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.resetLocked()
}

// Stop disconnects and waits until no further callbacks can happen.
func (c *Client) Stop() {
	c.Disconnect()
	c.wg.Wait()
}

// Submit sends a share and returns its sequence number, or -1 when the
// client is not logged in.
func (c *Client) Submit(result poolnet.JobResult) int64 {
	now := c.clock.Now()
	c.mu.Lock()
	if c.out == nil || !c.loggedIn {
		c.mu.Unlock()
		return -1
	}
	c.seq++
	seq := c.seq
	out := c.out
	c.pending[seq] = pendingSubmit{result: result, actual: actualDiff(result.Result), sent: now}
	c.lastWrite = now
	params := map[string]string{
		"id":     c.rpcID,
		"job_id": result.JobID,
		"nonce":  result.Nonce,
		"result": result.Result,
	}
	c.mu.Unlock()

	if result.Algorithm.IsValid() {
		params["algo"] = result.Algorithm.Name()
	}
	if err := c.send(out, seq, "submit", params); err != nil {
		c.log.Warn("submit failed", "seq", seq, "err", err)
	}
	return seq
}

// Tick expires unanswered submits and sends keepalives. It never raises
// callbacks itself: an expired submit closes the connection and the
// connection goroutine reports the close.
func (c *Client) Tick(now time.Time) {
	c.mu.Lock()
	out := c.out
	if out == nil || !c.loggedIn {
		c.mu.Unlock()
		return
	}
	for _, p := range c.pending {
		if now.Sub(p.sent) > responseTimeout {
			c.timedOut = true
			break
		}
	}
	expired := c.timedOut
	var seq int64
	keepalive := !expired && c.pool.Keepalive && now.Sub(c.lastWrite) >= keepaliveEvery
	if keepalive {
		c.seq++
		seq = c.seq
		c.lastWrite = now
	}
	rpcID := c.rpcID
	c.mu.Unlock()

	if expired {
		out.raw.Close()
		return
	}
	if keepalive {
		if err := c.send(out, seq, "keepalived", map[string]string{"id": rpcID}); err != nil {
			c.log.Debug("keepalive failed", "err", err)
		}
	}
}

func (c *Client) resetLocked() {
	c.out = nil
	c.rpcID = ""
	c.loggedIn = false
	c.timedOut = false
	c.ip = ""
	c.tlsVersion = ""
	c.fingerprint = ""
	clear(c.pending)
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	bo := c.newBackOff()

	for {
		loggedIn, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if loggedIn {
			bo.Reset()
		}

		c.mu.Lock()
		c.failures++
		failures := c.failures
		c.resetLocked()
		c.mu.Unlock()

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = c.retryPause
		}
		c.log.Warn("connection closed", "err", err, "failures", failures, "retry_in", delay)
		c.listener.OnClose(c, failures)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails. loggedIn reports whether the
// pool accepted the login.
func (c *Client) session(ctx context.Context) (loggedIn bool, err error) {
	conn, err := c.dial(ctx, "tcp", c.pool.Address())
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	raw := conn
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()
	defer raw.Close()

	var tlsVersion, fingerprint string
	if c.pool.TLS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName: c.pool.Host,
			// Pool certificates are usually self-signed; trust comes from the pin.
			InsecureSkipVerify: true,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return false, fmt.Errorf("tls handshake: %w", err)
		}
		state := tlsConn.ConnectionState()
		tlsVersion = tls.VersionName(state.Version)
		if len(state.PeerCertificates) > 0 {
			sum := sha256.Sum256(state.PeerCertificates[0].Raw)
			fingerprint = hex.EncodeToString(sum[:])
		}
		if c.pool.TLSFingerprint != "" && c.pool.TLSFingerprint != fingerprint {
			return false, fmt.Errorf("%w: got %s", ErrFingerprint, fingerprint)
		}
		conn = tlsConn
	}

	out := newWriter(conn, raw)
	defer out.close()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := out.run(); err != nil {
			c.log.Debug("write failed", "err", err)
		}
	}()

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false, ctx.Err()
	}
	c.out = out
	c.ip = remoteIP(conn)
	c.tlsVersion = tlsVersion
	c.fingerprint = fingerprint
	c.lastWrite = c.clock.Now()
	c.mu.Unlock()

	params := map[string]any{
		"login": c.pool.User,
		"pass":  c.pool.Password,
		"agent": c.userAgent,
	}
	if c.pool.RigID != "" {
		params["rigid"] = c.pool.RigID
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	c.listener.OnLogin(c, params)
	if err := c.send(out, loginID, "login", params); err != nil {
		return false, fmt.Errorf("send login: %w", err)
	}

	r := bufio.NewReaderSize(conn, readBufferSize)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			c.mu.Lock()
			timedOut := c.timedOut
			c.mu.Unlock()
			if timedOut {
				err = errResponseTimeout
			}
			return loggedIn, fmt.Errorf("read: %w", err)
		}
		if len(line) <= 1 {
			continue
		}
		ok, err := c.handle(ctx, line)
		if ok {
			loggedIn = true
		}
		if err != nil {
			return loggedIn, err
		}
	}
}

// handle processes one line. ok is true when the line completed the login.
func (c *Client) handle(ctx context.Context, line []byte) (ok bool, err error) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		return false, fmt.Errorf("decode message: %w", err)
	}

	if msg.Method == "job" {
		var p jobParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return false, fmt.Errorf("decode job: %w", err)
		}
		return false, c.onJob(ctx, p)
	}

	id, hasID := msg.requestID()
	if !hasID {
		return false, nil
	}
	if id == loginID {
		return c.onLoginResponse(ctx, msg)
	}
	c.onSubmitResponse(ctx, id, msg)
	return false, nil
}

func (c *Client) onLoginResponse(ctx context.Context, msg message) (bool, error) {
	if msg.Error != nil {
		return false, fmt.Errorf("login rejected: %s", msg.Error.Message)
	}
	var res loginResult
	if err := json.Unmarshal(msg.Result, &res); err != nil {
		return false, fmt.Errorf("decode login result: %w", err)
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false, ctx.Err()
	}
	c.rpcID = res.ID
	c.loggedIn = true
	c.failures = 0
	c.mu.Unlock()

	c.log.Debug("logged in", "rpc_id", res.ID)
	c.listener.OnLoginSuccess(c)
	if res.Job != nil {
		return true, c.onJob(ctx, *res.Job)
	}
	return true, nil
}

func (c *Client) onJob(ctx context.Context, p jobParams) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	algo := c.pool.Algorithm
	if p.Algo != "" {
		algo = poolnet.ParseAlgorithm(p.Algo)
	}
	if !algo.IsValid() {
		return fmt.Errorf("%w: %q", ErrIncompatibleAlgorithm, p.Algo)
	}
	if !c.listener.OnVerifyAlgorithm(c, algo) {
		return fmt.Errorf("%w: %s", ErrIncompatibleAlgorithm, algo)
	}
	diff, err := targetToDiff(p.Target)
	if err != nil {
		return fmt.Errorf("job %s: %w", p.JobID, err)
	}
	if p.JobID == "" || p.Blob == "" {
		return fmt.Errorf("job without id or blob")
	}

	var txCount uint32
	if cryptonoteFamilies[algo.Family()] {
		txCount, _ = blobTxCount(p.Blob)
	}

	c.listener.OnJobReceived(c, poolnet.Job{
		ClientID:  c.id,
		ID:        p.JobID,
		Algorithm: algo,
		Diff:      diff,
		Height:    p.Height,
		TxCount:   txCount,
		Blob:      p.Blob,
		Target:    p.Target,
		SeedHash:  p.SeedHash,
	})
	return nil
}

func (c *Client) onSubmitResponse(ctx context.Context, id int64, msg message) {
	now := c.clock.Now()
	c.mu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok || ctx.Err() != nil {
		return
	}

	var errText string
	if msg.Error != nil {
		errText = msg.Error.Message
		if errText == "" {
			errText = "rejected"
		}
	} else {
		var res submitResult
		if len(msg.Result) > 0 && json.Unmarshal(msg.Result, &res) == nil && res.Status != "" && res.Status != "OK" {
			errText = res.Status
		}
	}

	c.listener.OnResultAccepted(c, poolnet.SubmitResult{
		Seq:        id,
		Backend:    p.result.Backend,
		Diff:       p.result.Diff,
		ActualDiff: p.actual,
		Elapsed:    now.Sub(p.sent),
	}, errText)
}

// send encodes a request and queues it on the session writer.
func (c *Client) send(out *writer, id int64, method string, params any) error {
	data, err := json.Marshal(request{ID: id, JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	return out.send(append(data, '\n'))
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

package stratum

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"poolnet"
)

func TestTargetToDiff(t *testing.T) {
	tests := []struct {
		target  string
		want    uint64
		wantErr bool
	}{
		{"b88d0600", math.MaxUint32 / 0x00068db8, false},
		{"ffffffff", 1, false},
		{"0000000000000100", math.MaxUint64 / 0x0001000000000000, false},
		{"00000000", 0, true},
		{"zz", 0, true},
		{"aabbcc", 0, true},
	}
	for _, tt := range tests {
		got, err := targetToDiff(tt.target)
		if tt.wantErr {
			if err == nil {
				t.Errorf("targetToDiff(%q) expected error", tt.target)
			}
			continue
		}
		if err != nil {
			t.Errorf("targetToDiff(%q): %v", tt.target, err)
			continue
		}
		if got != tt.want {
			t.Errorf("targetToDiff(%q) = %d, want %d", tt.target, got, tt.want)
		}
	}
}

func TestActualDiff(t *testing.T) {
	hash := strings.Repeat("00", 24) + "0000000000000100"
	if got, want := actualDiff(hash), uint64(math.MaxUint64/0x0001000000000000); got != want {
		t.Errorf("actualDiff = %d, want %d", got, want)
	}
	if got := actualDiff("abc"); got != 0 {
		t.Errorf("actualDiff(malformed) = %d, want 0", got)
	}
}

// hashingBlob builds a CryptoNote hashing blob whose count varint is count.
func hashingBlob(count uint64) string {
	var b []byte
	b = binary.AppendUvarint(b, 16)
	b = binary.AppendUvarint(b, 16)
	b = binary.AppendUvarint(b, 1_700_000_000)
	b = append(b, make([]byte, 32+4+32)...)
	b = binary.AppendUvarint(b, count)
	return hex.EncodeToString(b)
}

func TestBlobTxCount(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want uint32
		ok   bool
	}{
		{"miner tx only", hashingBlob(1), 0, true},
		{"eleven transactions", hashingBlob(12), 11, true},
		{"multi-byte count", hashingBlob(301), 300, true},
		{"zero count", hashingBlob(0), 0, false},
		{"truncated", hashingBlob(12)[:40], 0, false},
		{"not hex", "zz", 0, false},
		{"short", "0707", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := blobTxCount(tt.blob)
			if got != tt.want || ok != tt.ok {
				t.Errorf("blobTxCount = %d, %v; want %d, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

type event struct {
	kind     string
	job      poolnet.Job
	result   poolnet.SubmitResult
	errText  string
	failures int
}

type recordingListener struct {
	mu      sync.Mutex
	events  chan event
	allowed map[string]bool
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan event, 32)}
}

func (l *recordingListener) OnClose(c *Client, failures int) {
	l.events <- event{kind: "close", failures: failures}
}

func (l *recordingListener) OnJobReceived(c *Client, job poolnet.Job) {
	l.events <- event{kind: "job", job: job}
}

func (l *recordingListener) OnLogin(c *Client, params map[string]any) {
	params["algo"] = []string{"rx/0", "cn/r"}
}

func (l *recordingListener) OnLoginSuccess(c *Client) {
	l.events <- event{kind: "login"}
}

func (l *recordingListener) OnResultAccepted(c *Client, result poolnet.SubmitResult, errText string) {
	l.events <- event{kind: "result", result: result, errText: errText}
}

func (l *recordingListener) OnVerifyAlgorithm(c *Client, algo poolnet.Algorithm) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowed == nil {
		return true
	}
	return l.allowed[algo.Name()]
}

func (l *recordingListener) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-l.events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client event")
		return event{}
	}
}

// fakePool accepts one connection at a time and exposes line-level access.
type fakePool struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakePool(t *testing.T) *fakePool {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	p := &fakePool{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *fakePool) pool() poolnet.Pool {
	addr := p.ln.Addr().(*net.TCPAddr)
	return poolnet.Pool{
		Host:      "127.0.0.1",
		Port:      addr.Port,
		Mode:      poolnet.ModePool,
		User:      "wallet",
		Password:  "x",
		Algorithm: poolnet.NewAlgorithm(poolnet.AlgoRX0),
		Enabled:   true,
	}
}

type poolConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func (p *fakePool) accept(t *testing.T) *poolConn {
	t.Helper()
	select {
	case conn := <-p.conns:
		t.Cleanup(func() { conn.Close() })
		return &poolConn{conn: conn, r: bufio.NewReader(conn)}
	case <-time.After(3 * time.Second):
		t.Fatal("client did not connect")
		return nil
	}
}

func (pc *poolConn) read(t *testing.T) map[string]any {
	t.Helper()
	pc.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := pc.r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("pool read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		t.Fatalf("pool decode %q: %v", line, err)
	}
	return m
}

func (pc *poolConn) write(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pc.conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("pool write: %v", err)
	}
}

func fastRetry() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }

var testJob = map[string]any{
	"blob":   "0707",
	"job_id": "j1",
	"target": "ffffffff",
	"algo":   "rx/0",
	"height": 42,
}

func TestClientLoginJobSubmit(t *testing.T) {
	fp := newFakePool(t)
	l := newRecordingListener()
	c := New(0, fp.pool(), l, WithBackOff(fastRetry), WithUserAgent("test-agent"))
	c.Connect()
	defer c.Stop()

	pc := fp.accept(t)
	login := pc.read(t)
	if login["method"] != "login" {
		t.Fatalf("first message = %v, want login", login)
	}
	params := login["params"].(map[string]any)
	if params["login"] != "wallet" || params["agent"] != "test-agent" {
		t.Errorf("login params = %v", params)
	}
	if algos, ok := params["algo"].([]any); !ok || len(algos) != 2 || algos[0] != "rx/0" {
		t.Errorf("login algo = %v, want listener-provided list", params["algo"])
	}

	if got := c.Submit(poolnet.JobResult{JobID: "j1"}); got != -1 {
		t.Errorf("Submit before login = %d, want -1", got)
	}

	pc.write(t, map[string]any{
		"id":      1,
		"jsonrpc": "2.0",
		"error":   nil,
		"result":  map[string]any{"id": "rpc-1", "status": "OK", "job": testJob},
	})
	if ev := l.next(t); ev.kind != "login" {
		t.Fatalf("event = %s, want login", ev.kind)
	}
	ev := l.next(t)
	if ev.kind != "job" {
		t.Fatalf("event = %s, want job", ev.kind)
	}
	if ev.job.ID != "j1" || ev.job.Diff != 1 || ev.job.Height != 42 || ev.job.Algorithm.Name() != "rx/0" {
		t.Errorf("job = %+v", ev.job)
	}
	if !c.IsActive() || c.IP() != "127.0.0.1" {
		t.Errorf("active=%v ip=%q", c.IsActive(), c.IP())
	}

	seq := c.Submit(poolnet.JobResult{Backend: "cpu", JobID: "j1", Nonce: "00000001", Result: strings.Repeat("00", 32), Diff: 1})
	if seq < 2 {
		t.Fatalf("Submit seq = %d", seq)
	}
	submit := pc.read(t)
	if submit["method"] != "submit" {
		t.Fatalf("message = %v, want submit", submit)
	}
	if p := submit["params"].(map[string]any); p["id"] != "rpc-1" || p["nonce"] != "00000001" {
		t.Errorf("submit params = %v", p)
	}
	pc.write(t, map[string]any{"id": seq, "jsonrpc": "2.0", "error": nil, "result": map[string]any{"status": "OK"}})

	ev = l.next(t)
	if ev.kind != "result" || ev.errText != "" || ev.result.Seq != seq || ev.result.Backend != "cpu" {
		t.Errorf("result event = %+v", ev)
	}

	seq = c.Submit(poolnet.JobResult{Backend: "cpu", JobID: "j1", Nonce: "00000002"})
	pc.read(t)
	pc.write(t, map[string]any{"id": seq, "jsonrpc": "2.0", "error": map[string]any{"code": -1, "message": "Low difficulty share"}})
	if ev := l.next(t); ev.kind != "result" || ev.errText != "Low difficulty share" {
		t.Errorf("reject event = %+v", ev)
	}

	pc.conn.Close()
	if ev := l.next(t); ev.kind != "close" || ev.failures != 1 {
		t.Errorf("close event = %+v, want failures=1", ev)
	}
	// The client reconnects on its own.
	fp.accept(t)
}

func TestClientRejectsDisabledAlgorithm(t *testing.T) {
	fp := newFakePool(t)
	l := newRecordingListener()
	l.allowed = map[string]bool{"cn/r": true}
	c := New(0, fp.pool(), l, WithBackOff(fastRetry))
	c.Connect()
	defer c.Stop()

	pc := fp.accept(t)
	pc.read(t)
	pc.write(t, map[string]any{"id": 1, "jsonrpc": "2.0", "result": map[string]any{"id": "rpc-1", "job": testJob}})

	if ev := l.next(t); ev.kind != "login" {
		t.Fatalf("event = %s, want login", ev.kind)
	}
	ev := l.next(t)
	if ev.kind != "close" {
		t.Fatalf("event = %s, want close after incompatible job", ev.kind)
	}
}

func TestClientLoginErrorCountsFailures(t *testing.T) {
	fp := newFakePool(t)
	l := newRecordingListener()
	c := New(0, fp.pool(), l, WithBackOff(fastRetry))
	c.Connect()
	defer c.Stop()

	for want := 1; want <= 2; want++ {
		pc := fp.accept(t)
		pc.read(t)
		pc.write(t, map[string]any{"id": 1, "jsonrpc": "2.0", "error": map[string]any{"code": -1, "message": "invalid address"}})
		ev := l.next(t)
		if ev.kind != "close" || ev.failures != want {
			t.Fatalf("event = %+v, want close with failures=%d", ev, want)
		}
	}
}

func TestClientStopIsQuiet(t *testing.T) {
	fp := newFakePool(t)
	l := newRecordingListener()
	c := New(0, fp.pool(), l, WithBackOff(fastRetry))
	c.Connect()
	pc := fp.accept(t)
	pc.read(t)

	c.Stop()
	// The client closed its side; a late reply must not surface.
	data, _ := json.Marshal(map[string]any{"id": 1, "jsonrpc": "2.0", "result": map[string]any{"id": "rpc-1", "job": testJob}})
	pc.conn.Write(append(data, '\n'))

	select {
	case ev := <-l.events:
		t.Fatalf("callback after Stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if c.IsActive() {
		t.Error("client active after Stop")
	}
}

func TestClientDialFailure(t *testing.T) {
	l := newRecordingListener()
	dialErr := errors.New("refused")
	c := New(0, poolnet.Pool{Host: "pool.invalid", Port: 1}, l,
		WithBackOff(fastRetry),
		WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, dialErr
		}),
	)
	c.Connect()
	defer c.Stop()

	for want := 1; want <= 3; want++ {
		if ev := l.next(t); ev.kind != "close" || ev.failures != want {
			t.Fatalf("event = %+v, want close failures=%d", ev, want)
		}
	}
}

func TestClientStalledPoolDoesNotBlockCallers(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close() })
	conns := make(chan net.Conn, 1)
	conns <- client

	l := newRecordingListener()
	pool := poolnet.Pool{
		Host:      "pool.test",
		Port:      3333,
		Mode:      poolnet.ModePool,
		User:      "wallet",
		Algorithm: poolnet.NewAlgorithm(poolnet.AlgoRX0),
		Keepalive: true,
		Enabled:   true,
	}
	c := New(0, pool, l,
		WithBackOff(fastRetry),
		WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
			select {
			case conn := <-conns:
				return conn, nil
			default:
				return nil, errors.New("refused")
			}
		}),
	)
	c.Connect()
	defer c.Stop()

	pc := &poolConn{conn: server, r: bufio.NewReader(server)}
	pc.read(t)
	pc.write(t, map[string]any{"id": 1, "jsonrpc": "2.0", "result": map[string]any{"id": "rpc-1", "job": testJob}})
	if ev := l.next(t); ev.kind != "login" {
		t.Fatalf("event = %s, want login", ev.kind)
	}
	if ev := l.next(t); ev.kind != "job" {
		t.Fatalf("event = %s, want job", ev.kind)
	}

	// The pool no longer reads. Neither keepalives nor submits may wait on it.
	start := time.Now()
	c.Tick(time.Now().Add(2 * keepaliveEvery))
	for i := 0; i < 2*writeQueueSize; i++ {
		c.Submit(poolnet.JobResult{Backend: "cpu", JobID: "j1", Nonce: "00000001"})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Tick and Submit blocked for %v on a stalled pool", elapsed)
	}

	// Overflowing the write queue drops the connection.
	if ev := l.next(t); ev.kind != "close" || ev.failures != 1 {
		t.Fatalf("event = %+v, want close with failures=1", ev)
	}
	if c.IsActive() {
		t.Error("client active after its write queue overflowed")
	}
}

func TestClientJobTransactionCount(t *testing.T) {
	fp := newFakePool(t)
	l := newRecordingListener()
	c := New(0, fp.pool(), l, WithBackOff(fastRetry))
	c.Connect()
	defer c.Stop()

	pc := fp.accept(t)
	pc.read(t)
	pc.write(t, map[string]any{"id": 1, "jsonrpc": "2.0", "result": map[string]any{"id": "rpc-1"}})
	if ev := l.next(t); ev.kind != "login" {
		t.Fatalf("event = %s, want login", ev.kind)
	}

	tests := []struct {
		algo string
		want uint32
	}{
		{"rx/0", 11},
		{"cn/r", 11},
		{"kawpow", 0},
	}
	for i, tt := range tests {
		pc.write(t, map[string]any{"jsonrpc": "2.0", "method": "job", "params": map[string]any{
			"blob":   hashingBlob(12),
			"job_id": fmt.Sprintf("j%d", i),
			"target": "ffffffff",
			"algo":   tt.algo,
		}})
		ev := l.next(t)
		if ev.kind != "job" {
			t.Fatalf("%s: event = %s, want job", tt.algo, ev.kind)
		}
		if ev.job.TxCount != tt.want {
			t.Errorf("%s: TxCount = %d, want %d", tt.algo, ev.job.TxCount, tt.want)
		}
	}
}

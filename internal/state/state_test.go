package state

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"poolnet"
	"poolnet/internal/ui"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

type memRecorder struct{ shares []Share }

func (r *memRecorder) Record(s Share) { r.shares = append(r.shares, s) }

var testPool = poolnet.Pool{Host: "pool.example.com", Port: 3333, Enabled: true}

func TestScaleDiff(t *testing.T) {
	tests := []struct {
		diff       uint64
		wantValue  uint64
		wantSuffix string
	}{
		{0, 0, ""},
		{99_999_999, 99_999_999, ""},
		{100_000_000, 100, "M"},
		{250_000_000_000, 250, "G"},
		{99_999_999_999, 99_999, "M"},
		{100_000_000_000_000, 100, "T"},
		{1_500_000_000_000_000, 1500, "T"},
	}
	for _, tt := range tests {
		v, s := ScaleDiff(tt.diff)
		if v != tt.wantValue || s != tt.wantSuffix {
			t.Errorf("ScaleDiff(%d) = %d%s, want %d%s", tt.diff, v, s, tt.wantValue, tt.wantSuffix)
		}
	}
}

func TestAcceptedAndRejectedCounters(t *testing.T) {
	clock := &stepClock{now: time.Unix(1000, 0)}
	rec := &memRecorder{}
	s := New(WithClock(clock), WithRecorder(rec), WithLifetime(7, 2))
	s.OnActive(testPool, "10.0.0.1", "TLSv1.3", "abcd")

	s.OnResultAccepted(poolnet.SubmitResult{Seq: 1, Backend: "cpu", Diff: 100, ActualDiff: 500, Elapsed: 40 * time.Millisecond}, "")
	s.OnResultAccepted(poolnet.SubmitResult{Seq: 2, Backend: "cpu", Diff: 100, ActualDiff: 900, Elapsed: 60 * time.Millisecond}, "")
	s.OnResultAccepted(poolnet.SubmitResult{Seq: 3, Backend: "cpu", Diff: 100, Elapsed: 80 * time.Millisecond}, "Low difficulty share")

	if s.Accepted() != 2 || s.Rejected() != 1 {
		t.Fatalf("accepted/rejected = %d/%d, want 2/1", s.Accepted(), s.Rejected())
	}
	r := s.Results()
	if r.HashesTotal != 200 {
		t.Errorf("HashesTotal = %d, want 200", r.HashesTotal)
	}
	if r.Best[0] != 900 || r.Best[1] != 500 || r.Best[2] != 0 {
		t.Errorf("Best = %v, want [900 500 0 ...]", r.Best)
	}
	if len(r.ErrorLog) != 1 || r.ErrorLog[0] != "Low difficulty share" {
		t.Errorf("ErrorLog = %v", r.ErrorLog)
	}
	if r.LifetimeGood != 9 || r.LifetimeBad != 3 {
		t.Errorf("lifetime = %d/%d, want 9/3", r.LifetimeGood, r.LifetimeBad)
	}
	if got := s.Latency(); got != 60*time.Millisecond {
		t.Errorf("Latency = %s, want 60ms", got)
	}

	if len(rec.shares) != 3 {
		t.Fatalf("recorded %d shares, want 3", len(rec.shares))
	}
	if !rec.shares[0].Accepted || rec.shares[2].Accepted || rec.shares[2].Error == "" {
		t.Errorf("recorded shares = %+v", rec.shares)
	}
	if rec.shares[0].Pool != "pool.example.com:3333" {
		t.Errorf("recorded pool = %q", rec.shares[0].Pool)
	}
}

func TestTopDiffKeepsTenBest(t *testing.T) {
	s := New()
	for i := uint64(1); i <= 15; i++ {
		s.OnResultAccepted(poolnet.SubmitResult{Diff: 1, ActualDiff: i * 10}, "")
	}
	best := s.Results().Best
	if len(best) != 10 {
		t.Fatalf("len(best) = %d", len(best))
	}
	for i, d := range best {
		if want := uint64(150 - i*10); d != want {
			t.Errorf("best[%d] = %d, want %d", i, d, want)
		}
	}
}

func TestErrorLogBounded(t *testing.T) {
	s := New()
	for i := 0; i < 25; i++ {
		s.OnResultAccepted(poolnet.SubmitResult{}, "err"+string(rune('a'+i)))
	}
	log := s.Results().ErrorLog
	if len(log) != errorLogSize {
		t.Fatalf("error log len = %d, want %d", len(log), errorLogSize)
	}
	if log[len(log)-1] != "erry" {
		t.Errorf("last error = %q, want erry", log[len(log)-1])
	}
}

func TestPauseClearsConnection(t *testing.T) {
	clock := &stepClock{now: time.Unix(1000, 0)}
	s := New(WithClock(clock))
	s.OnActive(testPool, "10.0.0.1", "", "")
	s.OnJob(poolnet.Job{ID: "1", Algorithm: poolnet.NewAlgorithm(poolnet.AlgoRX0), Diff: 5000, Blob: "00"})
	clock.now = clock.now.Add(30 * time.Second)

	if got := s.Uptime(); got != 30*time.Second {
		t.Errorf("Uptime = %s, want 30s", got)
	}

	s.OnPause()
	if s.IsActive() {
		t.Error("still active after pause")
	}
	if s.Algorithm().IsValid() {
		t.Error("algorithm should be invalid after pause")
	}
	c := s.Connection()
	if c.IP != "" || c.Diff != 0 || c.Uptime != 0 || c.Failures != 1 {
		t.Errorf("connection after pause = %+v", c)
	}
	if c.Pool != "" || c.Height != 0 {
		t.Errorf("paused connection still names pool %q at height %d", c.Pool, c.Height)
	}

	// A second pause without an intervening connection is not a new failure.
	s.OnPause()
	if s.Failures() != 1 {
		t.Errorf("Failures = %d, want 1", s.Failures())
	}
}

func TestConnectionJSON(t *testing.T) {
	s := New()
	s.OnActive(testPool, "10.0.0.1", "", "")
	data, err := json.Marshal(s.Connection())
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["pool"] != "pool.example.com:3333" {
		t.Errorf("pool = %v", got["pool"])
	}
	if got["tls"] != nil || got["algo"] != nil {
		t.Errorf("tls/algo should be null without TLS or job: %s", data)
	}
}

func TestCloseDetachesRecorder(t *testing.T) {
	rec := &memRecorder{}
	s := New(WithRecorder(rec))
	s.Close()
	s.OnResultAccepted(poolnet.SubmitResult{Diff: 1}, "")
	if len(rec.shares) != 0 || s.Accepted() != 0 {
		t.Errorf("results recorded after Close: %d shares, %d accepted", len(rec.shares), s.Accepted())
	}
}

func TestPrint(t *testing.T) {
	ui.ConfigureColor(false)
	var buf bytes.Buffer
	s := New(WithOutput(&buf))

	s.PrintResults()
	s.PrintConnection()
	out := buf.String()
	if !strings.Contains(out, "no results yet") || !strings.Contains(out, "disconnected") {
		t.Fatalf("idle output = %q", out)
	}

	buf.Reset()
	s.OnActive(testPool, "10.0.0.1", "TLSv1.3", "abcd")
	s.OnResultAccepted(poolnet.SubmitResult{Diff: 10, ActualDiff: 250_000_000}, "")
	s.PrintResults()
	s.PrintConnection()
	out = buf.String()
	for _, want := range []string{"1/1", "250M", "pool.example.com:3333", "TLSv1.3", "abcd"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

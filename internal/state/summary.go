package state

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"poolnet"
	"poolnet/internal/ui"
)

// Results is the JSON shape of share statistics.
type Results struct {
	DiffCurrent  uint64   `json:"diff_current"`
	SharesGood   uint64   `json:"shares_good"`
	SharesTotal  uint64   `json:"shares_total"`
	AvgTime      int64    `json:"avg_time"`
	AvgTimeMS    int64    `json:"avg_time_ms"`
	HashesTotal  uint64   `json:"hashes_total"`
	Best         []uint64 `json:"best"`
	ErrorLog     []string `json:"error_log"`
	LifetimeGood uint64   `json:"lifetime_good"`
	LifetimeBad  uint64   `json:"lifetime_bad"`
}

// Connection is the JSON shape of the active pool connection.
type Connection struct {
	Pool           string            `json:"pool"`
	IP             string            `json:"ip"`
	Uptime         int64             `json:"uptime"`
	UptimeMS       int64             `json:"uptime_ms"`
	Ping           int64             `json:"ping"`
	Failures       uint64            `json:"failures"`
	TLS            *string           `json:"tls"`
	TLSFingerprint *string           `json:"tls-fingerprint"`
	Algo           poolnet.Algorithm `json:"algo"`
	Diff           uint64            `json:"diff"`
	Height         uint64            `json:"height"`
	Accepted       uint64            `json:"accepted"`
	Rejected       uint64            `json:"rejected"`
	AvgTime        int64             `json:"avg_time"`
	AvgTimeMS      int64             `json:"avg_time_ms"`
	HashesTotal    uint64            `json:"hashes_total"`
}

// Results summarises share outcomes on the current connection.
func (s *NetworkState) Results() Results {
	best := make([]uint64, len(s.topDiff))
	copy(best, s.topDiff[:])
	errs := make([]string, len(s.errorLog))
	copy(errs, s.errorLog)
	avg := s.AvgTime()
	return Results{
		DiffCurrent:  s.diff,
		SharesGood:   s.accepted,
		SharesTotal:  s.accepted + s.rejected,
		AvgTime:      int64(avg / time.Second),
		AvgTimeMS:    avg.Milliseconds(),
		HashesTotal:  s.hashes,
		Best:         best,
		ErrorLog:     errs,
		LifetimeGood: s.lifetimeAccepted,
		LifetimeBad:  s.lifetimeRejected,
	}
}

// Connection summarises the active pool connection.
func (s *NetworkState) Connection() Connection {
	uptime := s.Uptime()
	avg := s.AvgTime()
	c := Connection{
		Pool:        s.pool,
		IP:          s.ip,
		Uptime:      int64(uptime / time.Second),
		UptimeMS:    uptime.Milliseconds(),
		Ping:        s.Latency().Milliseconds(),
		Failures:    s.failures,
		Algo:        s.algorithm,
		Diff:        s.diff,
		Height:      s.height,
		Accepted:    s.accepted,
		Rejected:    s.rejected,
		AvgTime:     int64(avg / time.Second),
		AvgTimeMS:   avg.Milliseconds(),
		HashesTotal: s.hashes,
	}
	if s.tlsVersion != "" {
		v := s.tlsVersion
		c.TLS = &v
	}
	if s.fingerprint != "" {
		fp := s.fingerprint
		c.TLSFingerprint = &fp
	}
	return c
}

// PrintResults writes the share summary table.
func (s *NetworkState) PrintResults() {
	writeResults(s.out, s)
}

// PrintConnection writes the connection summary.
func (s *NetworkState) PrintConnection() {
	writeConnection(s.out, s)
}

func writeResults(w io.Writer, s *NetworkState) {
	total := s.accepted + s.rejected
	if total == 0 {
		fmt.Fprintln(w, ui.Warn("no results yet"))
		return
	}

	pct := float64(s.accepted) / float64(total) * 100
	fmt.Fprint(w, ui.KeyValues("",
		ui.KV("accepted", fmt.Sprintf("%d/%d (%.1f%%)", s.accepted, total, pct)),
		ui.KV("avg time", s.AvgTime().Round(time.Second).String()),
		ui.KV("lifetime", fmt.Sprintf("%d good, %d bad", s.lifetimeAccepted, s.lifetimeRejected)),
	))

	var rows [][]string
	for i, d := range s.topDiff {
		if d == 0 {
			break
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), formatDiff(d)})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, ui.Table([]string{"#", "BEST DIFF"}, rows))
	}
	for _, e := range s.errorLog {
		fmt.Fprintln(w, ui.Error("rejected: "+e))
	}
}

func writeConnection(w io.Writer, s *NetworkState) {
	if !s.active {
		fmt.Fprintln(w, ui.Error("disconnected"))
		return
	}

	pairs := []ui.Pair{
		ui.KV("pool", ui.Pool(s.pool)),
		ui.KV("ip", s.ip),
		ui.KV("algo", s.algorithm.Name()),
		ui.KV("difficulty", formatDiff(s.diff)),
		ui.KV("uptime", s.Uptime().Round(time.Second).String()),
		ui.KV("ping", s.Latency().String()),
		ui.KV("failures", strconv.FormatUint(s.failures, 10)),
	}
	if s.tlsVersion != "" {
		pairs = append(pairs, ui.KV("tls", s.tlsVersion))
	}
	if s.fingerprint != "" {
		pairs = append(pairs, ui.KV("fingerprint", s.fingerprint))
	}
	fmt.Fprint(w, ui.KeyValues("", pairs...))
}

func formatDiff(diff uint64) string {
	v, suffix := ScaleDiff(diff)
	return strconv.FormatUint(v, 10) + suffix
}

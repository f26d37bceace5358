// Package journal persists share outcomes in SQLite.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"poolnet/internal/state"

	_ "modernc.org/sqlite"
)

const (
	queueSize = 512
	batchSize = 64
)

// Totals are lifetime share counts across runs.
type Totals struct {
	Accepted uint64
	Rejected uint64
}

// Journal records shares asynchronously. Record never blocks the caller;
// shares that do not fit the queue are dropped and logged.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
	in  chan state.Share

	mu      sync.Mutex
	closed  bool
	dropped uint64

	wg       sync.WaitGroup
	closeErr error
	once     sync.Once
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS shares (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	seq INTEGER NOT NULL,
	backend TEXT NOT NULL,
	pool TEXT NOT NULL,
	diff INTEGER NOT NULL,
	actual_diff INTEGER NOT NULL,
	accepted INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	elapsed_ms INTEGER NOT NULL,
	created_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize shares schema: %w", err)
	}

	j := &Journal{
		db:  db,
		log: slog.With("component", "journal", "path", path),
		in:  make(chan state.Share, queueSize),
	}
	j.wg.Add(1)
	go j.write()
	return j, nil
}

// Record queues s for writing.
func (j *Journal) Record(s state.Share) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.in <- s:
	default:
		j.dropped++
		j.log.Warn("journal queue full, dropping share", "seq", s.Seq, "dropped", j.dropped)
	}
}

// Totals returns lifetime accepted and rejected counts.
func (j *Journal) Totals() (Totals, error) {
	var t Totals
	err := j.db.QueryRow(`
SELECT
	coalesce(sum(CASE WHEN accepted != 0 THEN 1 ELSE 0 END), 0),
	coalesce(sum(CASE WHEN accepted = 0 THEN 1 ELSE 0 END), 0)
FROM shares`).Scan(&t.Accepted, &t.Rejected)
	if err != nil {
		return Totals{}, fmt.Errorf("query share totals: %w", err)
	}
	return t, nil
}

// Recent returns up to limit shares, newest first.
func (j *Journal) Recent(limit int) ([]state.Share, error) {
	rows, err := j.db.Query(`
SELECT seq, backend, pool, diff, actual_diff, accepted, error, elapsed_ms, created_at
FROM shares ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	out := make([]state.Share, 0, limit)
	for rows.Next() {
		var s state.Share
		var accepted int
		var elapsedMS int64
		var createdAt string
		if err := rows.Scan(&s.Seq, &s.Backend, &s.Pool, &s.Diff, &s.ActualDiff, &accepted, &s.Error, &elapsedMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan share row: %w", err)
		}
		s.Accepted = accepted != 0
		s.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			s.At = ts
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share rows: %w", err)
	}
	return out, nil
}

// Close writes queued shares and closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.in)
		j.mu.Unlock()

		j.wg.Wait()
		j.closeErr = j.db.Close()
	})
	return j.closeErr
}

func (j *Journal) write() {
	defer j.wg.Done()
	batch := make([]state.Share, 0, batchSize)
	for s := range j.in {
		batch = append(batch[:0], s)
	fill:
		for len(batch) < batchSize {
			select {
			case next, ok := <-j.in:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		if err := j.insert(batch); err != nil {
			j.log.Error("write shares", "count", len(batch), "err", err)
		}
	}
}

func (j *Journal) insert(batch []state.Share) (err error) {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	stmt, err := tx.Prepare(`
INSERT INTO shares (seq, backend, pool, diff, actual_diff, accepted, error, elapsed_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range batch {
		accepted := 0
		if s.Accepted {
			accepted = 1
		}
		at := s.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.Exec(s.Seq, s.Backend, s.Pool, clampInt64(s.Diff), clampInt64(s.ActualDiff), accepted, s.Error,
			s.Elapsed.Milliseconds(), at.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert share %d: %w", s.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

var _ state.Recorder = (*Journal)(nil)

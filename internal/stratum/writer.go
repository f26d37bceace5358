package stratum

import (
	"errors"
	"net"
	"sync"
	"time"
)

const writeQueueSize = 64

var (
	errWriterClosed   = errors.New("connection closed")
	errWriteQueueFull = errors.New("write queue full")
)

// writer owns the outgoing side of one session. Callers enqueue encoded
// lines and return at once; a stalled pool costs queue space, not time.
type writer struct {
	conn  net.Conn
	raw   net.Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// newWriter writes to conn. raw is the transport under conn and is closed
// when a write fails or the queue overflows, which ends the session's read
// loop.
func newWriter(conn, raw net.Conn) *writer {
	return &writer{
		conn:  conn,
		raw:   raw,
		queue: make(chan []byte, writeQueueSize),
		done:  make(chan struct{}),
	}
}

func (w *writer) run() error {
	for {
		select {
		case <-w.done:
			return nil
		case data := <-w.queue:
			err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err == nil {
				_, err = w.conn.Write(data)
			}
			if err != nil {
				w.raw.Close()
				w.close()
				return err
			}
		}
	}
}

func (w *writer) send(data []byte) error {
	select {
	case <-w.done:
		return errWriterClosed
	default:
	}
	select {
	case w.queue <- data:
		return nil
	default:
		w.raw.Close()
		w.close()
		return errWriteQueueFull
	}
}

func (w *writer) close() {
	w.once.Do(func() { close(w.done) })
}

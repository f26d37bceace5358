// Package api serves the read-only HTTP introspection surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"poolnet"
	"poolnet/internal/buildinfo"
	"poolnet/internal/network"
)

const (
	// staleTicks is how many missed tick intervals make /health fail.
	staleTicks      = 3
	shutdownTimeout = 5 * time.Second
)

// Summarizer is the coordinator view the API reads.
//
// Production: *network.Coordinator.
// Testing: a stub returning canned summaries.
type Summarizer interface {
	Summary(ctx context.Context) (network.Summary, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context) (network.Summary, error)

func (f SummarizerFunc) Summary(ctx context.Context) (network.Summary, error) { return f(ctx) }

type Option func(*Server)

func WithClock(clock poolnet.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithTickInterval sets the interval /health expects ticks at.
func WithTickInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithHostInfo replaces the gopsutil host reader.
func WithHostInfo(p HostInfoFunc) Option {
	return func(s *Server) { s.hostInfo = p }
}

func WithUserAgent(ua string) Option {
	return func(s *Server) { s.userAgent = ua }
}

// Server answers /1/summary and /health. It also implements
// network.Ticker so the coordinator loop drives the health heartbeat.
type Server struct {
	source    Summarizer
	clock     poolnet.Clock
	interval  time.Duration
	hostInfo  HostInfoFunc
	userAgent string
	started   time.Time
	router    *gin.Engine
	log       *slog.Logger

	mu       sync.Mutex
	lastTick time.Time
}

// New builds the router over source.
func New(source Summarizer, opts ...Option) *Server {
	s := &Server{
		source:   source,
		clock:    poolnet.RealClock{},
		interval: network.DefaultTickInterval,
		hostInfo: ReadHostInfo,
		log:      slog.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.clock.Now()
	s.lastTick = s.started

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/1/summary", s.handleSummary)
	router.GET("/health", s.handleHealth)
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Tick records a heartbeat from the coordinator loop.
func (s *Server) Tick(now time.Time) {
	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve api: %w", err)
	}
	return nil
}

// SummaryResponse is the body of GET /1/summary.
type SummaryResponse struct {
	Version string `json:"version"`
	UA      string `json:"ua"`
	Uptime  int64  `json:"uptime"`
	network.Summary
	CPU *HostInfo `json:"cpu,omitempty"`
}

func (s *Server) handleSummary(c *gin.Context) {
	sum, err := s.source.Summary(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, network.ErrStopping) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp := SummaryResponse{
		Version: buildinfo.Version,
		UA:      s.userAgent,
		Uptime:  int64(s.clock.Now().Sub(s.started) / time.Second),
		Summary: sum,
	}
	if s.hostInfo != nil {
		host, err := s.hostInfo(c.Request.Context())
		if err != nil {
			s.log.Debug("read host info", "err", err)
		} else {
			resp.CPU = &host
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	last := s.lastTick
	s.mu.Unlock()

	age := s.clock.Now().Sub(last)
	if age > staleTicks*s.interval {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "stale",
			"last_tick": last.UTC().Format(time.RFC3339),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var _ network.Ticker = (*Server)(nil)

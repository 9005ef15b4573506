package server

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/kvstored/internal/aol"
	"github.com/dreamware/kvstored/internal/store"
)

// Options configures a Server. The zero value is valid except for Log,
// which defaults to zap.NewNop() when nil.
type Options struct {
	// Workers is the fixed size of the connection worker pool. Defaults to
	// runtime.NumCPU() if zero or negative.
	Workers int

	// StatsInterval controls how often the background stats reporter logs
	// aggregate store size and active connection count. Defaults to 30s.
	// A negative value disables the reporter.
	StatsInterval time.Duration

	Log *zap.Logger
}

// Server accepts TCP connections speaking kvstored's wire protocol and
// dispatches requests against a shared store and AOL writer.
type Server struct {
	store     *store.Map
	aolWriter *aol.Writer

	listenAddr string
	listener   net.Listener

	workers       int
	statsInterval time.Duration
	logger        *zap.Logger

	conns chan net.Conn

	stopping  atomic.Bool
	activeCon atomic.Int64

	workerWG  sync.WaitGroup
	acceptWG  sync.WaitGroup
	statsWG   sync.WaitGroup
	statsDone chan struct{}
}

// New constructs a Server for listenAddr but does not yet bind the socket
// or accept connections; call Start for that.
func New(listenAddr string, m *store.Map, w *aol.Writer, opts Options) *Server {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	statsInterval := opts.StatsInterval
	if statsInterval == 0 {
		statsInterval = 30 * time.Second
	}
	logger := opts.Log
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:         m,
		aolWriter:     w,
		listenAddr:    listenAddr,
		workers:       workers,
		statsInterval: statsInterval,
		logger:        logger,
		conns:         make(chan net.Conn),
		statsDone:     make(chan struct{}),
	}
}

// Addr returns the address the server is bound to. Only valid after Start
// returns successfully.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listening socket and launches the acceptor, the fixed
// worker pool, and (unless disabled) the background stats reporter. It
// returns once the listener is bound; accepting happens in a background
// goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.listenAddr, err)
	}
	s.listener = ln

	for i := 0; i < s.workers; i++ {
		s.workerWG.Add(1)
		go s.runWorker()
	}

	s.acceptWG.Add(1)
	go s.acceptLoop()

	if s.statsInterval > 0 {
		s.statsWG.Add(1)
		go s.runStatsReporter()
	}

	s.logger.Info("server started",
		zap.String("addr", ln.Addr().String()),
		zap.Int("workers", s.workers),
	)
	return nil
}

// acceptLoop blocks on Accept until the listener is closed by Stop, handing
// each accepted connection to the worker pool.
func (s *Server) acceptLoop() {
	defer s.acceptWG.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopping.Load() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Warn("accept failed", zap.Error(err))
			return
		}
		s.conns <- conn
	}
}

// runWorker owns one connection at a time for its entire lifetime
// (connection-per-worker, thread-per-task), returning to the pool only once
// that connection's pipeline terminates.
func (s *Server) runWorker() {
	defer s.workerWG.Done()
	for conn := range s.conns {
		s.activeCon.Add(1)
		s.handleConn(conn)
		s.activeCon.Add(-1)
	}
}

// Stop initiates graceful shutdown: the listening socket is closed (which
// unblocks Accept with an error the acceptor treats as a stop signal), the
// connection channel is closed once the acceptor has exited (so idle
// workers exit too), Stop waits for every in-flight connection to end
// (its peer closes it, or its pipeline stops on an error), and finally the
// AOL writer is flushed. Stop does not close open client connections
// itself.
func (s *Server) Stop() error {
	s.stopping.Store(true)
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("error closing listener", zap.Error(err))
		}
	}
	s.acceptWG.Wait()
	close(s.conns)
	s.workerWG.Wait()

	close(s.statsDone)
	s.statsWG.Wait()

	if err := s.aolWriter.Flush(); err != nil {
		return fmt.Errorf("server: final aol flush: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// runStatsReporter periodically logs aggregate store size and active
// connection count. Adapted from the ticker-plus-context.Done shutdown
// skeleton used to poll cluster node health; here there is nothing to poll
// across the network, so the tick body is purely local introspection.
func (s *Server) runStatsReporter() {
	defer s.statsWG.Done()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logger.Info("store stats",
				zap.Int("keys", s.store.Len()),
				zap.Int("shards", s.store.ShardCount()),
				zap.Int64("active_connections", s.activeCon.Load()),
			)
		case <-s.statsDone:
			return
		}
	}
}

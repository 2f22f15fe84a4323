package framed

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/metrics"
	"github.com/lairchat/server/internal/v1/transport/command"
)

// DefaultIdleTimeout is how long a connection may sit without a readable
// frame before the server initiates Closing.
const DefaultIdleTimeout = 5 * time.Minute

// Server accepts framed binary connections and runs one conn state machine
// per connection.
type Server struct {
	router      *command.Router
	idleTimeout time.Duration
	maxConns    int

	// RequireEncryption rejects client_hello frames without an ephemeral
	// key. Production deployments MUST leave this on; plaintext mode exists
	// for tests only.
	requireEncryption bool

	mu     sync.Mutex
	active int
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithIdleTimeout overrides the idle read timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithMaxConnections caps concurrently open connections (0 = unlimited).
func WithMaxConnections(n int) Option {
	return func(s *Server) { s.maxConns = n }
}

// WithPlaintextAllowed permits connections that never negotiate keys.
func WithPlaintextAllowed() Option {
	return func(s *Server) { s.requireEncryption = false }
}

// NewServer builds a Server around the shared command router.
func NewServer(router *command.Router, opts ...Option) *Server {
	s := &Server{
		router:            router,
		idleTimeout:       DefaultIdleTimeout,
		requireEncryption: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts connections from lis until ctx is cancelled. It closes the
// listener on cancellation and waits for in-flight connections to drain.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		netConn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			logging.Warn(ctx, "framed: accept failed", zap.Error(err))
			continue
		}

		if !s.admit() {
			logging.Warn(ctx, "framed: connection limit reached, rejecting",
				zap.String("remote", netConn.RemoteAddr().String()))
			_ = netConn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			s.handle(ctx, netConn)
		}()
	}
}

func (s *Server) admit() bool {
	if s.maxConns <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.maxConns {
		return false
	}
	s.active++
	return true
}

func (s *Server) release() {
	if s.maxConns <= 0 {
		return
	}
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

func (s *Server) handle(ctx context.Context, netConn net.Conn) {
	metrics.FramedConnections.Inc()
	defer metrics.FramedConnections.Dec()

	// A panic in one connection task must not take down the process.
	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "framed: connection task panicked", zap.Any("panic", r))
		}
	}()

	c := newConn(netConn, s.router, s.idleTimeout, s.requireEncryption)
	c.run(ctx)
}

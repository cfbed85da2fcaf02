package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// DefaultDrainTimeout bounds how long the server waits for producer
// connections to finish after the sentinel arrives.
const DefaultDrainTimeout = 5 * time.Second

// ServerOptions configures a Server.
type ServerOptions struct {
	// DrainTimeout bounds the wait for open connections after the sentinel.
	// Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration
	// Fallback receives drain and connection diagnostics.
	Fallback *logging.Fallback
	// OnConnections is called with the number of open producer connections
	// whenever it changes.
	OnConnections func(open int)
}

// Server is the listener side of the aggregation queue. Every producer
// connection is read on its own goroutine into a single FIFO. The sentinel is
// held back until every connection has been drained, so it is always the
// last item the listener receives.
type Server struct {
	ln   net.Listener
	fifo *FIFO
	opts ServerOptions

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	closing  bool
	wg       sync.WaitGroup
	nextID   atomic.Int64
	open     atomic.Int64
	accepted atomic.Int64

	acceptDone chan struct{}
	drainOnce  sync.Once
	drained    chan struct{}
	closeOnce  sync.Once
}

// NewServer creates a Server for an already listening socket.
func NewServer(ln net.Listener, opts ServerOptions) *Server {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	return &Server{
		ln:         ln,
		fifo:       NewFIFO(0),
		opts:       opts,
		conns:      make(map[net.Conn]struct{}),
		acceptDone: make(chan struct{}),
		drained:    make(chan struct{}),
	}
}

// Serve accepts producer connections until the listening socket is closed by
// a drain, Close, or ctx ending. It returns nil in those cases.
func (s *Server) Serve(ctx context.Context) error {
	defer close(s.acceptDone)

	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosing() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept on queue socket: %w", err)
		}

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Receive implements Receiver.
func (s *Server) Receive(ctx context.Context) (Item, error) {
	return s.fifo.Receive(ctx)
}

// Drained is closed once the sentinel has been enqueued.
func (s *Server) Drained() <-chan struct{} {
	return s.drained
}

// Accepted returns the number of producer connections accepted so far.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// Close stops accepting, closes every open connection and closes the FIFO.
// Items already queued remain receivable.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		if cerr := s.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		s.closeConns()
		s.wg.Wait()
		s.fifo.Close()
	})
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer func() { _ = conn.Close() }()

	source := fmt.Sprintf("conn-%d", s.nextID.Add(1))
	dec := record.NewDecoder(conn)
	for {
		f, err := dec.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			if errors.Is(err, ferrors.ErrMalformedRecord) {
				_ = s.fifo.Put(Item{Err: err, Source: source})
				continue
			}
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return
			}
			// The stream itself broke; nothing after this point is readable.
			_ = s.fifo.Put(Item{Err: fmt.Errorf("producer stream %s: %w", source, err), Source: source})
			return
		}

		if f.IsSentinel() {
			s.beginDrain()
			continue
		}
		_ = s.fifo.Put(itemFromFrame(f, source))
	}
}

// beginDrain runs once, on the first sentinel. Later sentinels are ignored.
func (s *Server) beginDrain() {
	s.drainOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		_ = s.ln.Close()
		go s.drain()
	})
}

func (s *Server) drain() {
	<-s.acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.opts.DrainTimeout):
		s.opts.Fallback.Reportf("queue: %d producer connection(s) still open after %s; closing them",
			s.open.Load(), s.opts.DrainTimeout)
		s.closeConns()
		<-done
	}

	_ = s.fifo.Put(Item{Sentinel: true, Source: "sentinel"})
	close(s.drained)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.accepted.Add(1)
	s.notify(s.open.Add(1))
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.notify(s.open.Add(-1))
}

func (s *Server) notify(open int64) {
	if s.opts.OnConnections != nil {
		s.opts.OnConnections(int(open))
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

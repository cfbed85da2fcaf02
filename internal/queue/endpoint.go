package queue

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// SocketName is the file name of the queue socket inside its directory.
const SocketName = "queue.sock"

// Endpoint is the coordinator-owned aggregation queue: a listening Unix
// domain socket. Ownership of the listening side moves to the listener,
// either as a file descriptor (another process) or as a net.Listener
// (same process).
type Endpoint struct {
	mu         sync.Mutex
	dir        string
	ownsDir    bool
	addr       string
	ln         *net.UnixListener
	handedOff  bool
	removeOnce sync.Once
}

// Create binds the queue socket. If dir is empty a private temporary
// directory is created and removed again by Close.
func Create(dir string) (*Endpoint, error) {
	ownsDir := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "logfunnel-")
		if err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
		dir = tmp
		ownsDir = true
	} else if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	addr := filepath.Join(dir, SocketName)
	_ = os.Remove(addr) // stale socket from an earlier run

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: addr, Net: "unix"})
	if err != nil {
		if ownsDir {
			_ = os.RemoveAll(dir)
		}
		return nil, fmt.Errorf("failed to bind queue socket %s: %w", addr, err)
	}
	// The socket path must outlive this descriptor once it is handed off.
	ln.SetUnlinkOnClose(false)

	return &Endpoint{
		dir:     dir,
		ownsDir: ownsDir,
		addr:    addr,
		ln:      ln,
	}, nil
}

// Addr returns the socket path producers dial.
func (e *Endpoint) Addr() string {
	return e.addr
}

// Handoff returns a duplicate of the listening descriptor for a child
// process and closes this process's copy, so only the child accepts.
func (e *Endpoint) Handoff() (*os.File, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handedOff || e.ln == nil {
		return nil, fmt.Errorf("queue endpoint %s already handed off", e.addr)
	}
	f, err := e.ln.File()
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate queue socket: %w", err)
	}
	_ = e.ln.Close()
	e.ln = nil
	e.handedOff = true
	return f, nil
}

// TakeListener transfers the listening socket to an in-process listener.
// The caller becomes responsible for closing it.
func (e *Endpoint) TakeListener() (net.Listener, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handedOff || e.ln == nil {
		return nil, fmt.Errorf("queue endpoint %s already handed off", e.addr)
	}
	ln := e.ln
	e.ln = nil
	e.handedOff = true
	return ln, nil
}

// Close releases the listening socket if it was never handed off and removes
// the socket file (and the directory, if Create made it).
func (e *Endpoint) Close() error {
	e.mu.Lock()
	ln := e.ln
	e.ln = nil
	e.mu.Unlock()

	var closeErr error
	if ln != nil {
		closeErr = ln.Close()
	}

	e.removeOnce.Do(func() {
		if e.ownsDir {
			_ = os.RemoveAll(e.dir)
		} else {
			_ = os.Remove(e.addr)
		}
	})
	return closeErr
}

// ListenerFromFile rebuilds a net.Listener from a descriptor passed by the
// coordinator. The file is closed; the returned listener owns a duplicate.
func ListenerFromFile(f *os.File) (net.Listener, error) {
	if f == nil {
		return nil, fmt.Errorf("no queue descriptor")
	}
	defer func() { _ = f.Close() }()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("failed to adopt queue descriptor: %w", err)
	}
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	return ln, nil
}

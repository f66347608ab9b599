package ws

import (
	"net"
	"sync"
)

// connPoller serves every connection from its own goroutine, for platforms
// without epoll. It never reads from a connection itself: each goroutine
// calls serve, which reads exactly one frame, until the connection is
// removed or the poller is closed.
type connPoller struct {
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	serve  func(net.Conn)
	done   chan struct{}
	closed bool
}

func newConnPoller(serve func(net.Conn)) *connPoller {
	return &connPoller{
		conns: make(map[net.Conn]struct{}),
		serve: serve,
		done:  make(chan struct{}),
	}
}

// Add starts the read loop for conn.
func (p *connPoller) Add(conn net.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return net.ErrClosed
	}
	p.conns[conn] = struct{}{}
	go p.loop(conn)
	return nil
}

func (p *connPoller) loop(conn net.Conn) {
	for p.watching(conn) {
		p.serve(conn)
	}
}

func (p *connPoller) watching(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[conn]
	return ok && !p.closed
}

// Remove stops the read loop for conn after its current read returns.
func (p *connPoller) Remove(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	return nil
}

// Wait blocks until the poller is closed: readiness is handled by the
// per-connection loops, so the server's event loop has nothing to do.
func (p *connPoller) Wait() ([]net.Conn, error) {
	<-p.done
	return nil, net.ErrClosed
}

// Close stops accepting connections and releases Wait. Loops still blocked
// in a read exit once their connection is closed.
func (p *connPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.conns = nil
	close(p.done)
	return nil
}

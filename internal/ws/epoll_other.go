//go:build !linux

package ws

import "net"

// Epoll is the goroutine-per-connection poller on platforms without epoll.
type Epoll = connPoller

// newPoller wires the poller's read loops straight to the server's frame
// reader.
func newPoller(s *Server) (*Epoll, error) {
	return newConnPoller(s.handleConn), nil
}

func isEINTR(error) bool { return false }

// socketFD has no meaning without epoll.
func socketFD(net.Conn) int { return -1 }

// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vishvananda/netns"
)

// SinkServer is a TCP server that discards what it receives and counts
// the bytes.
type SinkServer struct {
	Addr      string
	Namespace netns.NsHandle
	listener  net.Listener
	received  atomic.Uint64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// StartSinkServer listens on a free loopback port inside ns.
func StartSinkServer(ns netns.NsHandle) (*SinkServer, error) {
	var listener net.Listener
	err := RunInNamespace(ns, func() error {
		var listenErr error
		listener, listenErr = net.Listen("tcp", "127.0.0.1:0")
		return listenErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := &SinkServer{
		Addr:      listener.Addr().String(),
		Namespace: ns,
		listener:  listener,
		cancel:    cancel,
	}

	server.wg.Add(1)
	go func() {
		defer server.wg.Done()

		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			server.wg.Add(1)
			go func(c net.Conn) {
				defer server.wg.Done()
				defer c.Close()
				_, _ = io.Copy(byteCounter{&server.received}, c)
			}(conn)
		}
	}()

	return server, nil
}

type byteCounter struct {
	n *atomic.Uint64
}

func (b byteCounter) Write(p []byte) (int, error) {
	b.n.Add(uint64(len(p)))
	return len(p), nil
}

// Received returns the number of bytes read so far.
func (s *SinkServer) Received() uint64 {
	return s.received.Load()
}

// Stop stops the server and waits for open connections to finish.
func (s *SinkServer) Stop() {
	s.cancel()
	s.listener.Close()
	s.wg.Wait()
}

// BulkResult describes one bulk transfer
type BulkResult struct {
	Sent    uint64
	Elapsed time.Duration
}

// Rate returns the achieved rate in bytes per second.
func (r BulkResult) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Sent) / r.Elapsed.Seconds()
}

// SendBulk connects to addr from inside ns with a socket charged to cg and
// writes chunks for duration. A nil cg leaves the socket in the cgroup of
// the test process.
func SendBulk(ns netns.NsHandle, cg *TestCgroup, addr string, chunk int, duration time.Duration) (BulkResult, error) {
	var conn net.Conn
	dial := func() error {
		var dialErr error
		conn, dialErr = net.DialTimeout("tcp", addr, 2*time.Second)
		return dialErr
	}
	err := RunInNamespace(ns, func() error {
		if cg == nil {
			return dial()
		}
		return cg.Run(dial)
	})
	if err != nil {
		return BulkResult{}, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	buf := make([]byte, chunk)
	start := time.Now()
	deadline := start.Add(duration)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return BulkResult{}, err
	}

	var sent uint64
	for time.Now().Before(deadline) {
		n, err := conn.Write(buf)
		sent += uint64(n)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return BulkResult{Sent: sent, Elapsed: time.Since(start)}, fmt.Errorf("failed to send data: %w", err)
		}
	}

	return BulkResult{Sent: sent, Elapsed: time.Since(start)}, nil
}

// WaitForReceived polls the server until it has received at least n bytes.
func (s *SinkServer) WaitForReceived(n uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Received() >= n {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("received %d of %d bytes within %s", s.Received(), n, timeout)
}

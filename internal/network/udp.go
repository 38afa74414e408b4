// Package network carries the modem byte stream over UDP: a listener that
// feeds received datagrams to a sink, a forwarder that sends them, and pcap
// capture replay.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/raptorhab/internal/monitoring"
)

// UDPSocket is the subset of *net.UDPConn the listener needs.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory opens UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Stats counts datagrams seen by a listener or replay.
type Stats struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
}

func (s *Stats) add(n int) {
	s.packets.Add(1)
	s.bytes.Add(uint64(n))
}

func (s *Stats) Packets() uint64 { return s.packets.Load() }
func (s *Stats) Bytes() uint64   { return s.bytes.Load() }
func (s *Stats) Errors() uint64  { return s.errors.Load() }

// Log reports the counters through monitoring.Logf.
func (s *Stats) Log(prefix string) {
	monitoring.Logf("[%s] %d datagrams, %d bytes, %d read errors", prefix, s.Packets(), s.Bytes(), s.Errors())
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Address string
	// RcvBuf is the socket receive buffer size; 0 keeps the OS default.
	RcvBuf      int
	LogInterval time.Duration
	// Sink receives every datagram payload in arrival order. The slice is
	// only valid for the duration of the call.
	Sink    func([]byte)
	Factory UDPSocketFactory
}

// Listener receives modem bytes forwarded over UDP.
type Listener struct {
	cfg   ListenerConfig
	stats Stats
	addr  atomic.Pointer[net.UDPAddr]
	ready chan struct{}
}

// NewListener returns a listener for cfg.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Factory == nil {
		cfg.Factory = RealUDPSocketFactory{}
	}
	if cfg.Sink == nil {
		cfg.Sink = func([]byte) {}
	}
	return &Listener{cfg: cfg, ready: make(chan struct{})}
}

// Stats returns the listener counters.
func (l *Listener) Stats() *Stats { return &l.stats }

// Ready is closed once the socket is bound.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// LocalAddr returns the bound address, or nil before Ready.
func (l *Listener) LocalAddr() *net.UDPAddr { return l.addr.Load() }

// Start receives datagrams until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.Factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.cfg.RcvBuf, err)
		}
	}
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		l.addr.Store(ua)
	}
	close(l.ready)
	monitoring.Logf("UDP listener started on %s", conn.LocalAddr())

	ticker := time.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()

	// Modem frames are well under 1 KiB; a forwarder may batch several.
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			l.stats.Log("udp")
			return ctx.Err()
		case <-ticker.C:
			l.stats.Log("udp")
		default:
		}

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.stats.errors.Add(1)
			monitoring.Logf("UDP read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		l.stats.add(n)
		l.cfg.Sink(buf[:n])
	}
}

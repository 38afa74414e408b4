package network

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/raptorhab/internal/monitoring"
)

// Forwarder sends byte chunks to a UDP address, one datagram per chunk.
type Forwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	address     string
	logInterval time.Duration
	dropped     atomic.Uint64
}

// NewForwarder dials addr ("host:port").
func NewForwarder(addr string, logInterval time.Duration) (*Forwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &Forwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		address:     addr,
		logInterval: logInterval,
	}, nil
}

// Send writes chunk synchronously.
func (f *Forwarder) Send(chunk []byte) error {
	_, err := f.conn.Write(chunk)
	return err
}

// Start drains ForwardAsync's queue until ctx is done.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		var failed int
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case chunk := <-f.channel:
				if err := f.Send(chunk); err != nil {
					failed++
					lastError = err
				}
			case <-ticker.C:
				if failed > 0 && lastError != nil {
					monitoring.Logf("\033[93mDropped %d forwarded chunks due to errors (latest: %v)\033[0m", failed, lastError)
					failed = 0
					lastError = nil
				}
			}
		}
	}()
	monitoring.Logf("Forwarding modem bytes to %s", f.address)
}

// ForwardAsync queues a copy of chunk, dropping it when the queue is full.
func (f *Forwarder) ForwardAsync(chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case f.channel <- cp:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns how many chunks ForwardAsync discarded.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }

func (f *Forwarder) Close() error { return f.conn.Close() }

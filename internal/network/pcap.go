package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/raptorhab/internal/monitoring"
)

// ReplayConfig configures ReadPCAP.
type ReplayConfig struct {
	// Port keeps only UDP datagrams to or from this port; 0 keeps all.
	Port int
	// Speed paces delivery by capture timestamps: 1 is real time, 2 twice
	// as fast. 0 delivers as fast as the sink accepts.
	Speed float64
	Sink  func([]byte)
	Stats *Stats
}

// ReadPCAP replays the UDP payloads of a pcap capture into cfg.Sink, in
// capture order. It returns nil at end of file.
func ReadPCAP(ctx context.Context, r io.Reader, cfg ReplayConfig) error {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open pcap: %w", err)
	}
	if cfg.Stats == nil {
		cfg.Stats = &Stats{}
	}
	if cfg.Sink == nil {
		cfg.Sink = func([]byte) {}
	}

	var first, started time.Time
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("PCAP replay stopping due to context cancellation (processed %d packets)", count)
			return err
		}
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("PCAP replay complete: %d packets, %d payload bytes", cfg.Stats.Packets(), cfg.Stats.Bytes())
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read pcap packet %d: %w", count+1, err)
		}
		count++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.NoCopy)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.Port != 0 && int(udp.DstPort) != cfg.Port && int(udp.SrcPort) != cfg.Port {
			continue
		}

		if cfg.Speed > 0 {
			if first.IsZero() {
				first, started = ci.Timestamp, time.Now()
			}
			due := started.Add(time.Duration(float64(ci.Timestamp.Sub(first)) / cfg.Speed))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		cfg.Stats.add(len(udp.Payload))
		cfg.Sink(udp.Payload)
	}
}

// PCAPWriter records byte chunks as UDP datagrams in a pcap capture, so a
// simulated or forwarded stream can be replayed with ReadPCAP or inspected
// with standard tools.
type PCAPWriter struct {
	w   *pcapgo.Writer
	eth layers.Ethernet
	ip  layers.IPv4
	udp layers.UDP
	buf gopacket.SerializeBuffer
}

// NewPCAPWriter writes a pcap header to w. Datagrams are addressed from
// 127.0.0.1:port+1 to 127.0.0.1:port.
func NewPCAPWriter(w io.Writer, port int) (*PCAPWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	p := &PCAPWriter{
		w: pw,
		eth: layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip: layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(127, 0, 0, 1),
			DstIP:    net.IPv4(127, 0, 0, 1),
		},
		udp: layers.UDP{SrcPort: layers.UDPPort(port + 1), DstPort: layers.UDPPort(port)},
		buf: gopacket.NewSerializeBuffer(),
	}
	p.udp.SetNetworkLayerForChecksum(&p.ip)
	return p, nil
}

// Write records chunk as one datagram captured at ts.
func (p *PCAPWriter) Write(ts time.Time, chunk []byte) error {
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(p.buf, opts, &p.eth, &p.ip, &p.udp, gopacket.Payload(chunk)); err != nil {
		return fmt.Errorf("failed to encode datagram: %w", err)
	}
	data := p.buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	return p.w.WritePacket(ci, data)
}

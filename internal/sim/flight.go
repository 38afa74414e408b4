// Package sim synthesises a balloon flight as the modem would deliver it:
// telemetry, image and text packets wrapped in stuffed frames. It is used by
// the flight-sim tool and by tests that need a realistic byte stream.
package sim

import (
	"math"
	"time"

	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/protocol"
)

// Profile describes the flight to synthesise.
type Profile struct {
	Start          time.Time
	Latitude       float64
	Longitude      float64
	LaunchAltitude float64
	AscentRate     float64 // m/s
	BurstAltitude  float64
	DescentAtBurst float64 // m/s, positive
	DescentAtLand  float64
	WindSpeed      float64 // m/s, uniform at all altitudes
	WindFrom       float64 // degrees
	Interval       time.Duration
	RSSI           float64
	SNR            float64
	// ImageEvery sends an image after every n telemetry packets; 0 disables
	// images.
	ImageEvery int
	ImageSize  int
	// LandedPackets is how many telemetry packets to send after touchdown.
	LandedPackets int
}

// DefaultProfile returns a short flight: 5 m/s ascent to 3000 m under a
// 10 m/s westerly.
func DefaultProfile() Profile {
	return Profile{
		Start:          time.Date(2026, 6, 21, 9, 0, 0, 0, time.UTC),
		Latitude:       52.2053,
		Longitude:      0.1218,
		LaunchAltitude: 50,
		AscentRate:     5,
		BurstAltitude:  3000,
		DescentAtBurst: 12,
		DescentAtLand:  5,
		WindSpeed:      10,
		WindFrom:       270,
		Interval:       time.Second,
		RSSI:           -92.5,
		SNR:            7.25,
		ImageEvery:     0,
		ImageSize:      1500,
		LandedPackets:  5,
	}
}

// Tick is one simulated interval.
type Tick struct {
	Time      time.Time
	Telemetry protocol.Telemetry
	Burst     bool
	Landed    bool
	// Packets are the encoded packets for this interval, telemetry first.
	Packets [][]byte
}

// Flight steps through a Profile.
type Flight struct {
	p         Profile
	seq       uint16
	elapsed   time.Duration
	lat, lon  float64
	alt       float64
	burst     bool
	landed    int
	ticks     int
	imageID   uint16
	lastSpeed float64
	heading   float64
}

// NewFlight returns a flight on the launch pad.
func NewFlight(p Profile) *Flight {
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	return &Flight{p: p, lat: p.Latitude, lon: p.Longitude, alt: p.LaunchAltitude}
}

func (f *Flight) nextSeq() uint16 {
	s := f.seq
	f.seq++
	return s
}

func (f *Flight) descentRate() float64 {
	frac := min(1, max(0, f.alt/f.p.BurstAltitude))
	return f.p.DescentAtLand + frac*(f.p.DescentAtBurst-f.p.DescentAtLand)
}

// Next advances one interval. It reports false once the flight has landed
// and sent its LandedPackets.
func (f *Flight) Next() (Tick, bool) {
	if f.landed > f.p.LandedPackets {
		return Tick{}, false
	}
	if f.ticks > 0 {
		f.advance(f.p.Interval.Seconds())
	}
	f.ticks++
	now := f.p.Start.Add(f.elapsed)

	t := protocol.Telemetry{
		Latitude:   f.lat,
		Longitude:  f.lon,
		Altitude:   f.alt,
		Speed:      f.lastSpeed,
		Heading:    f.heading,
		Satellites: 9,
		FixType:    protocol.Fix3D,
		GPSTime:    uint32(now.Unix()),
		BatteryMV:  uint16(4100 - min(f.elapsed.Minutes(), 600)),
		CPUTemp:    35 - f.alt/1000*2,
		RadioTemp:  30 - f.alt/1000*2,
		ImageID:    f.imageID,
		RSSI:       -80,
	}
	tick := Tick{Time: now, Telemetry: t, Burst: f.burst, Landed: f.landed > 0}
	tick.Packets = append(tick.Packets, protocol.EncodePacket(protocol.TypeTelemetry, f.nextSeq(), 0, t.Encode()))

	if f.p.ImageEvery > 0 && f.ticks%f.p.ImageEvery == 0 {
		tick.Packets = append(tick.Packets, f.imagePackets(f.imageID, TestImage(f.imageID, f.p.ImageSize))...)
		f.imageID++
	}
	if f.landed > 0 {
		f.landed++
	}
	return tick, true
}

func (f *Flight) advance(dt float64) {
	f.elapsed += f.p.Interval
	if f.landed > 0 {
		f.lastSpeed = 0
		return
	}
	switch {
	case !f.burst:
		f.alt += f.p.AscentRate * dt
		if f.alt >= f.p.BurstAltitude {
			f.alt = f.p.BurstAltitude
			f.burst = true
		}
	default:
		f.alt -= f.descentRate() * dt
		if f.alt <= f.p.LaunchAltitude {
			f.alt = f.p.LaunchAltitude
			f.landed = 1
		}
	}
	lat, lon := predict.Drift(f.lat, f.lon, f.p.WindSpeed, f.p.WindFrom, dt)
	if f.landed == 0 {
		f.heading = predict.Bearing(f.lat, f.lon, lat, lon)
		f.lastSpeed = predict.Haversine(f.lat, f.lon, lat, lon) / dt
		f.lat, f.lon = lat, lon
	}
}

// imagePackets encodes data as a meta packet followed by its symbols.
func (f *Flight) imagePackets(id uint16, data []byte) [][]byte {
	meta, symbols := SplitImage(id, data)
	out := [][]byte{protocol.EncodePacket(protocol.TypeImageMeta, f.nextSeq(), 0, meta.Encode())}
	for _, s := range symbols {
		out = append(out, protocol.EncodePacket(protocol.TypeImageData, f.nextSeq(), 0, s.Encode()))
	}
	return out
}

// Text encodes a text packet with the flight's next sequence number.
func (f *Flight) Text(msg string) []byte {
	return protocol.EncodePacket(protocol.TypeText, f.nextSeq(), 0, []byte(msg))
}

// SplitImage cuts data into fixed-size source symbols and builds the
// matching metadata.
func SplitImage(id uint16, data []byte) (protocol.ImageMeta, []protocol.ImageData) {
	size := protocol.DefaultSymbolSize
	k := int(math.Ceil(float64(len(data)) / float64(size)))
	meta := protocol.ImageMeta{
		ImageID:          id,
		TotalSize:        uint32(len(data)),
		Width:            320,
		Height:           240,
		NumSourceSymbols: uint16(k),
		SymbolSize:       uint16(size),
		CRC32:            protocol.Checksum(data),
	}
	symbols := make([]protocol.ImageData, k)
	for i := range symbols {
		sym := make([]byte, size)
		copy(sym, data[i*size:min(len(data), (i+1)*size)])
		symbols[i] = protocol.ImageData{ImageID: id, SymbolID: uint32(i), ESI: uint32(i), Symbol: sym}
	}
	return meta, symbols
}

// TestImage returns deterministic pseudo-image bytes.
func TestImage(id uint16, n int) []byte {
	b := make([]byte, n)
	x := uint32(id)*2654435761 + 1
	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}
	return b
}

// Frame wraps packet the way the modem does.
func (f *Flight) Frame(packet []byte) []byte {
	b, _ := protocol.EncodeFrame(f.p.RSSI, f.p.SNR, packet)
	return b
}

// Encode frames every packet of t into one byte stream.
func (f *Flight) Encode(t Tick) []byte {
	var out []byte
	for _, p := range t.Packets {
		out = append(out, f.Frame(p)...)
	}
	return out
}

// Run steps the whole flight and returns the complete byte stream.
func (f *Flight) Run() ([]Tick, []byte) {
	var ticks []Tick
	var stream []byte
	for {
		t, ok := f.Next()
		if !ok {
			return ticks, stream
		}
		ticks = append(ticks, t)
		stream = append(stream, f.Encode(t)...)
	}
}

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Byte-stuffing constants used by the modem on the serial link.
const (
	FrameDelimiter byte = 0x7E
	FrameEscape    byte = 0x7D

	escapedDelimiter byte = 0x5E
	escapedEscape    byte = 0x5D
)

const (
	// frameHeaderSize is lenHi, lenLo, rssiInt, rssiFrac, snrInt, snrFrac.
	frameHeaderSize = 6
	// frameOverhead is the header plus the trailing XOR checksum.
	frameOverhead = frameHeaderSize + 1
	// maxFrameSize bounds the accumulation buffer so a lost delimiter
	// cannot grow it without limit.
	maxFrameSize = 2048
)

// Frame is a checksummed unit recovered from the modem byte stream.
type Frame struct {
	RSSI   float64
	SNR    float64
	Packet []byte
}

// FrameStats counts extractor outcomes since the last Reset.
type FrameStats struct {
	Frames           uint64 `json:"frames"`
	TooShort         uint64 `json:"too_short"`
	ChecksumMismatch uint64 `json:"checksum_mismatch"`
	LengthMismatch   uint64 `json:"length_mismatch"`
	BadEscapes       uint64 `json:"bad_escapes"`
	Overflows        uint64 `json:"overflows"`
}

// FrameExtractor turns a raw byte stream, delivered in arbitrary chunks,
// into validated frames. It never fails: malformed frames are counted and
// dropped, and extraction carries on with the next delimiter.
type FrameExtractor struct {
	buf     []byte
	inFrame bool
	escaped bool
	stats   FrameStats

	// OnError, when set, is called for every dropped frame.
	OnError func(error)
}

// NewFrameExtractor returns an extractor waiting for its first delimiter.
func NewFrameExtractor() *FrameExtractor {
	return &FrameExtractor{buf: make([]byte, 0, 512)}
}

// Extract consumes chunk and returns every frame completed by it.
func (f *FrameExtractor) Extract(chunk []byte) []Frame {
	var frames []Frame
	for _, b := range chunk {
		switch {
		case b == FrameDelimiter:
			if f.inFrame && len(f.buf) > 0 {
				if fr, err := parseFrame(f.buf); err != nil {
					f.reject(err)
				} else {
					f.stats.Frames++
					frames = append(frames, fr)
				}
			}
			f.buf = f.buf[:0]
			f.escaped = false
			f.inFrame = true

		case !f.inFrame:
			// noise between frames

		case f.escaped:
			f.escaped = false
			switch b {
			case escapedDelimiter:
				f.append(FrameDelimiter)
			case escapedEscape:
				f.append(FrameEscape)
			default:
				// Keep the escape byte literally and treat b as ordinary data.
				f.stats.BadEscapes++
				f.append(FrameEscape)
				if b == FrameEscape {
					f.escaped = true
				} else {
					f.append(b)
				}
			}

		case b == FrameEscape:
			f.escaped = true

		default:
			f.append(b)
		}
	}
	return frames
}

func (f *FrameExtractor) append(b byte) {
	if len(f.buf) >= maxFrameSize {
		f.stats.Overflows++
		f.buf = f.buf[:0]
		f.inFrame = false
		f.escaped = false
		return
	}
	f.buf = append(f.buf, b)
}

func (f *FrameExtractor) reject(err error) {
	switch {
	case errors.Is(err, ErrFrameTooShort):
		f.stats.TooShort++
	case errors.Is(err, ErrFrameLength):
		f.stats.LengthMismatch++
	case errors.Is(err, ErrFrameChecksum):
		f.stats.ChecksumMismatch++
	}
	if f.OnError != nil {
		f.OnError(err)
	}
}

// Stats returns a copy of the extractor counters.
func (f *FrameExtractor) Stats() FrameStats {
	return f.stats
}

// Reset drops any partial frame and clears the counters.
func (f *FrameExtractor) Reset() {
	f.buf = f.buf[:0]
	f.inFrame = false
	f.escaped = false
	f.stats = FrameStats{}
}

// parseFrame validates an unstuffed frame body:
// [lenHi][lenLo][rssiInt][rssiFrac][snrInt][snrFrac][packet...][xor].
func parseFrame(raw []byte) (Frame, error) {
	if len(raw) < frameOverhead {
		return Frame{}, &FrameError{Kind: ErrFrameTooShort, Detail: fmt.Sprintf("%d bytes", len(raw))}
	}
	declared := int(binary.BigEndian.Uint16(raw[0:2]))
	actual := len(raw) - frameOverhead
	if declared != actual {
		return Frame{}, &FrameError{Kind: ErrFrameLength, Detail: fmt.Sprintf("declared %d, got %d", declared, actual)}
	}
	end := len(raw) - 1
	if got, want := raw[end], xorChecksum(raw[:end]); got != want {
		return Frame{}, &FrameError{Kind: ErrFrameChecksum, Detail: fmt.Sprintf("rx %02X, calc %02X", got, want)}
	}

	packet := make([]byte, actual)
	copy(packet, raw[frameHeaderSize:end])
	return Frame{
		RSSI:   fixedSigned(raw[2], raw[3]),
		SNR:    fixedSigned(raw[4], raw[5]),
		Packet: packet,
	}, nil
}

// fixedSigned rebuilds a value the modem split into a truncated signed
// integer part and an unsigned hundredths magnitude.
func fixedSigned(intPart, frac byte) float64 {
	i := float64(int8(intPart))
	f := float64(frac) / 100.0
	if i < 0 {
		return i - f
	}
	return i + f
}

// splitFixed is the inverse of fixedSigned.
func splitFixed(v float64) (byte, byte) {
	i := math.Trunc(v)
	i = math.Max(math.MinInt8, math.Min(math.MaxInt8, i))
	frac := math.Round(math.Abs(v-i) * 100)
	if frac > 99 {
		frac = 99
	}
	return byte(int8(i)), byte(frac)
}

// Stuff applies the modem byte stuffing to body. Delimiters are not added.
func Stuff(body []byte) []byte {
	out := make([]byte, 0, len(body)+len(body)/8+2)
	for _, b := range body {
		switch b {
		case FrameDelimiter:
			out = append(out, FrameEscape, escapedDelimiter)
		case FrameEscape:
			out = append(out, FrameEscape, escapedEscape)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Unstuff reverses Stuff. An escape followed by anything other than a
// stuffing complement is kept literally, matching the extractor.
func Unstuff(stuffed []byte) []byte {
	out := make([]byte, 0, len(stuffed))
	for i := 0; i < len(stuffed); i++ {
		b := stuffed[i]
		if b == FrameEscape && i+1 < len(stuffed) {
			switch stuffed[i+1] {
			case escapedDelimiter:
				out = append(out, FrameDelimiter)
				i++
				continue
			case escapedEscape:
				out = append(out, FrameEscape)
				i++
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// EncodeFrame builds the delimited, stuffed wire frame the modem would emit
// for packet received at the given signal quality.
func EncodeFrame(rssi, snr float64, packet []byte) ([]byte, error) {
	if len(packet) > math.MaxUint16 {
		return nil, fmt.Errorf("packet too large for frame: %d bytes", len(packet))
	}
	body := make([]byte, frameHeaderSize, frameOverhead+len(packet))
	binary.BigEndian.PutUint16(body[0:2], uint16(len(packet)))
	body[2], body[3] = splitFixed(rssi)
	body[4], body[5] = splitFixed(snr)
	body = append(body, packet...)
	body = append(body, xorChecksum(body))

	out := make([]byte, 0, len(body)+len(body)/8+2)
	out = append(out, FrameDelimiter)
	out = append(out, Stuff(body)...)
	out = append(out, FrameDelimiter)
	return out, nil
}

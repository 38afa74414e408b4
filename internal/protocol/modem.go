package protocol

import (
	"fmt"
	"strings"
)

// ModemSettings are the radio parameters pushed to the receive modem.
type ModemSettings struct {
	FrequencyMHz float64 `json:"frequency_mhz" yaml:"frequency_mhz"`
	BitrateKbps  float64 `json:"bitrate_kbps" yaml:"bitrate_kbps"`
	DeviationKHz float64 `json:"deviation_khz" yaml:"deviation_khz"`
	BandwidthKHz float64 `json:"bandwidth_khz" yaml:"bandwidth_khz"`
	PreambleBits int     `json:"preamble_bits" yaml:"preamble_bits"`
}

// DefaultModemSettings matches the airborne radio defaults.
func DefaultModemSettings() ModemSettings {
	return ModemSettings{
		FrequencyMHz: 915.0,
		BitrateKbps:  96.0,
		DeviationKHz: 50.0,
		BandwidthKHz: 467.0,
		PreambleBits: 32,
	}
}

// Command renders the modem configuration line, without the newline.
func (m ModemSettings) Command() string {
	return fmt.Sprintf("CFG:%.1f,%.1f,%.1f,%.1f,%d",
		m.FrequencyMHz, m.BitrateKbps, m.DeviationKHz, m.BandwidthKHz, m.PreambleBits)
}

// ModemStatusKind classifies a text line emitted by the modem.
type ModemStatusKind string

const (
	ModemConfigOK    ModemStatusKind = "config_ok"
	ModemConfigError ModemStatusKind = "config_error"
	ModemInfo        ModemStatusKind = "info"
)

// ModemStatus is a text line recovered from the mixed byte stream.
type ModemStatus struct {
	Kind ModemStatusKind `json:"kind"`
	Line string          `json:"line"`
}

var modemPrefixes = []struct {
	prefix string
	kind   ModemStatusKind
}{
	{"CFG_OK:", ModemConfigOK},
	{"CFG_ACK:", ModemConfigOK},
	{"CFG_ERR:", ModemConfigError},
	{"STATUS:", ModemInfo},
	{"INFO:", ModemInfo},
}

const (
	maxModemLine = 512
	// maxStuffedFrame is the longest a frame can be on the wire once every
	// body byte has been escaped.
	maxStuffedFrame = 2 * maxFrameSize
)

// LineScanner picks modem status lines out of the raw byte stream. Binary
// frames are interleaved with the text, so bytes between a pair of frame
// delimiters are skipped and a line is only reported when it contains one
// of the known prefixes. A frame interior longer than any valid frame means
// a delimiter was lost, and the scanner falls back to reading text.
type LineScanner struct {
	buf     []byte
	inFrame bool
	framed  int
}

// Scan consumes chunk and returns any status lines it completed.
func (l *LineScanner) Scan(chunk []byte) []ModemStatus {
	var out []ModemStatus
	for _, b := range chunk {
		switch {
		case b == FrameDelimiter:
			l.inFrame = !l.inFrame
			l.framed = 0
		case l.inFrame:
			l.framed++
			if l.framed > maxStuffedFrame {
				l.inFrame = false
				l.framed = 0
			}
		case b == '\n':
			if st, ok := parseModemLine(l.buf); ok {
				out = append(out, st)
			}
			l.buf = l.buf[:0]
		default:
			l.buf = append(l.buf, b)
			if len(l.buf) > maxModemLine {
				l.buf = append(l.buf[:0], l.buf[len(l.buf)-maxModemLine:]...)
			}
		}
	}
	return out
}

// Reset discards any partial line and forgets frame alignment.
func (l *LineScanner) Reset() {
	l.buf = l.buf[:0]
	l.inFrame = false
	l.framed = 0
}

func parseModemLine(b []byte) (ModemStatus, bool) {
	line := string(b)
	best := -1
	var kind ModemStatusKind
	for _, p := range modemPrefixes {
		if i := strings.LastIndex(line, p.prefix); i > best {
			best = i
			kind = p.kind
		}
	}
	if best < 0 {
		return ModemStatus{}, false
	}
	text := strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7E {
			return -1
		}
		return r
	}, line[best:]))
	return ModemStatus{Kind: kind, Line: text}, true
}

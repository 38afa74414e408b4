package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
	"unicode/utf8"
)

// Payload sizes on the wire.
const (
	TelemetryPayloadSize  = 36
	ImageMetaPayloadSize  = 22
	ImageDataHeaderSize   = 2 + 4 + 4 // imageId, symbolId, ESI
	ImageDataPayloadSize  = ImageDataHeaderSize + DefaultSymbolSize
	CommandAckPayloadSize = 4

	// DefaultSymbolSize is the nominal fountain symbol length.
	DefaultSymbolSize = 200
)

// FixType is the GPS fix quality reported by the payload.
type FixType uint8

const (
	FixNone FixType = 0
	Fix2D   FixType = 1
	Fix3D   FixType = 2
)

func (f FixType) String() string {
	switch f {
	case FixNone:
		return "none"
	case Fix2D:
		return "2d"
	case Fix3D:
		return "3d"
	default:
		return "invalid"
	}
}

// Telemetry is the 36-byte fixed-point telemetry record.
type Telemetry struct {
	Latitude      float64 // degrees
	Longitude     float64 // degrees
	Altitude      float64 // metres
	Speed         float64 // m/s
	Heading       float64 // degrees
	Satellites    uint8
	FixType       FixType
	GPSTime       uint32 // unix seconds
	BatteryMV     uint16
	CPUTemp       float64 // °C
	RadioTemp     float64 // °C
	ImageID       uint16
	ImageProgress uint8 // percent
	RSSI          int8  // dBm, last uplink seen by the payload
}

func (*Telemetry) PacketType() PacketType { return TypeTelemetry }

// Time returns the GPS timestamp, or the zero time when the payload has not
// had a fix yet.
func (t *Telemetry) Time() time.Time {
	if t.GPSTime == 0 {
		return time.Time{}
	}
	return time.Unix(int64(t.GPSTime), 0).UTC()
}

// DecodeTelemetry parses a telemetry payload.
func DecodeTelemetry(b []byte) (*Telemetry, error) {
	if len(b) < TelemetryPayloadSize {
		return nil, &PayloadError{Kind: ErrPayloadTooShort, Type: TypeTelemetry, Got: len(b), Want: TelemetryPayloadSize}
	}
	be := binary.BigEndian
	return &Telemetry{
		Latitude:      float64(int32(be.Uint32(b[0:4]))) / 1e7,
		Longitude:     float64(int32(be.Uint32(b[4:8]))) / 1e7,
		Altitude:      float64(be.Uint32(b[8:12])) / 1000,
		Speed:         float64(be.Uint16(b[12:14])) / 100,
		Heading:       float64(be.Uint16(b[14:16])) / 100,
		Satellites:    b[16],
		FixType:       FixType(b[17]),
		GPSTime:       be.Uint32(b[18:22]),
		BatteryMV:     be.Uint16(b[22:24]),
		CPUTemp:       float64(int16(be.Uint16(b[24:26]))) / 100,
		RadioTemp:     float64(int16(be.Uint16(b[26:28]))) / 100,
		ImageID:       be.Uint16(b[28:30]),
		ImageProgress: b[30],
		RSSI:          int8(b[31]),
		// b[32:36] reserved
	}, nil
}

// Encode serialises t into the 36-byte wire layout. Values outside a
// field's range saturate.
func (t *Telemetry) Encode() []byte {
	b := make([]byte, TelemetryPayloadSize)
	be := binary.BigEndian
	be.PutUint32(b[0:4], uint32(int32(clamp(math.Round(t.Latitude*1e7), math.MinInt32, math.MaxInt32))))
	be.PutUint32(b[4:8], uint32(int32(clamp(math.Round(t.Longitude*1e7), math.MinInt32, math.MaxInt32))))
	be.PutUint32(b[8:12], uint32(clamp(math.Round(t.Altitude*1000), 0, math.MaxUint32)))
	be.PutUint16(b[12:14], uint16(clamp(math.Round(t.Speed*100), 0, math.MaxUint16)))
	be.PutUint16(b[14:16], uint16(clamp(math.Round(t.Heading*100), 0, math.MaxUint16)))
	b[16] = t.Satellites
	b[17] = byte(t.FixType)
	be.PutUint32(b[18:22], t.GPSTime)
	be.PutUint16(b[22:24], t.BatteryMV)
	be.PutUint16(b[24:26], uint16(int16(clamp(math.Round(t.CPUTemp*100), math.MinInt16, math.MaxInt16))))
	be.PutUint16(b[26:28], uint16(int16(clamp(math.Round(t.RadioTemp*100), math.MinInt16, math.MaxInt16))))
	be.PutUint16(b[28:30], t.ImageID)
	b[30] = t.ImageProgress
	b[31] = byte(t.RSSI)
	return b
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ImageMeta describes an image being sent as fountain symbols.
type ImageMeta struct {
	ImageID          uint16
	TotalSize        uint32
	Width            uint16
	Height           uint16
	NumSourceSymbols uint16
	SymbolSize       uint16
	CRC32            uint32
}

func (*ImageMeta) PacketType() PacketType { return TypeImageMeta }

// DecodeImageMeta parses a 22-byte image metadata payload.
func DecodeImageMeta(b []byte) (*ImageMeta, error) {
	if len(b) < ImageMetaPayloadSize {
		return nil, &PayloadError{Kind: ErrPayloadTooShort, Type: TypeImageMeta, Got: len(b), Want: ImageMetaPayloadSize}
	}
	be := binary.BigEndian
	return &ImageMeta{
		ImageID:          be.Uint16(b[0:2]),
		TotalSize:        be.Uint32(b[2:6]),
		Width:            be.Uint16(b[6:8]),
		Height:           be.Uint16(b[8:10]),
		NumSourceSymbols: be.Uint16(b[10:12]),
		SymbolSize:       be.Uint16(b[12:14]),
		CRC32:            be.Uint32(b[14:18]),
	}, nil
}

// Encode serialises m into the 22-byte wire layout.
func (m *ImageMeta) Encode() []byte {
	b := make([]byte, ImageMetaPayloadSize)
	be := binary.BigEndian
	be.PutUint16(b[0:2], m.ImageID)
	be.PutUint32(b[2:6], m.TotalSize)
	be.PutUint16(b[6:8], m.Width)
	be.PutUint16(b[8:10], m.Height)
	be.PutUint16(b[10:12], m.NumSourceSymbols)
	be.PutUint16(b[12:14], m.SymbolSize)
	be.PutUint32(b[14:18], m.CRC32)
	return b
}

// ImageData carries one symbol of an image.
type ImageData struct {
	ImageID  uint16
	SymbolID uint32
	ESI      uint32 // encoding symbol index
	Symbol   []byte
}

func (*ImageData) PacketType() PacketType { return TypeImageData }

// DecodeImageData parses an image symbol payload. The symbol bytes are
// copied so the result does not alias the frame buffer.
func DecodeImageData(b []byte) (*ImageData, error) {
	if len(b) < ImageDataHeaderSize {
		return nil, &PayloadError{Kind: ErrPayloadTooShort, Type: TypeImageData, Got: len(b), Want: ImageDataHeaderSize}
	}
	be := binary.BigEndian
	symbol := make([]byte, len(b)-ImageDataHeaderSize)
	copy(symbol, b[ImageDataHeaderSize:])
	return &ImageData{
		ImageID:  be.Uint16(b[0:2]),
		SymbolID: be.Uint32(b[2:6]),
		ESI:      be.Uint32(b[6:10]),
		Symbol:   symbol,
	}, nil
}

// Encode serialises d. Symbols shorter than DefaultSymbolSize are zero
// padded so the packet keeps its fixed size.
func (d *ImageData) Encode() []byte {
	size := ImageDataHeaderSize + max(len(d.Symbol), DefaultSymbolSize)
	b := make([]byte, size)
	be := binary.BigEndian
	be.PutUint16(b[0:2], d.ImageID)
	be.PutUint32(b[2:6], d.SymbolID)
	be.PutUint32(b[6:10], d.ESI)
	copy(b[ImageDataHeaderSize:], d.Symbol)
	return b
}

// Text is a free-form message from the payload.
type Text struct {
	Message string
}

func (*Text) PacketType() PacketType { return TypeText }

// DecodeText reads a NUL-terminated (or unterminated) UTF-8 message.
func DecodeText(b []byte) (*Text, error) {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if !utf8.Valid(b) {
		return nil, &PayloadError{Kind: ErrInvalidEncoding, Type: TypeText}
	}
	return &Text{Message: string(b)}, nil
}

// CommandAck acknowledges a ground to air command.
type CommandAck struct {
	AckedType PacketType
	AckedSeq  uint16
	Status    uint8 // 0 = success
}

func (*CommandAck) PacketType() PacketType { return TypeCommandAck }

// OK reports whether the command succeeded.
func (a *CommandAck) OK() bool { return a.Status == 0 }

// DecodeCommandAck parses a 4-byte acknowledgement.
func DecodeCommandAck(b []byte) (*CommandAck, error) {
	if len(b) < CommandAckPayloadSize {
		return nil, &PayloadError{Kind: ErrPayloadTooShort, Type: TypeCommandAck, Got: len(b), Want: CommandAckPayloadSize}
	}
	return &CommandAck{
		AckedType: PacketType(b[0]),
		AckedSeq:  binary.BigEndian.Uint16(b[1:3]),
		Status:    b[3],
	}, nil
}

// Raw holds packets this decoder carries opaquely: ground to air commands
// and unknown type codes.
type Raw struct {
	Code uint8
	Data []byte
}

func (r *Raw) PacketType() PacketType {
	t := PacketType(r.Code)
	if t.Known() {
		return t
	}
	return TypeUnknown
}

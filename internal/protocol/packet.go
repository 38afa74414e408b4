package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// SyncMarker prefixes every packet ("RAPT").
var SyncMarker = [4]byte{0x52, 0x41, 0x50, 0x54}

const (
	// HeaderSize is sync(4) + type(1) + sequence(2) + flags(1).
	HeaderSize = 8
	// CRCSize is the big-endian CRC-32 trailer.
	CRCSize = 4
	// MaxPayloadSize is the largest variable-length body that fits a
	// single radio packet.
	MaxPayloadSize = 243
)

// PacketType identifies the payload layout carried by a packet.
type PacketType uint8

const (
	TypeTelemetry  PacketType = 0x00
	TypeImageMeta  PacketType = 0x01
	TypeImageData  PacketType = 0x02
	TypeText       PacketType = 0x03
	TypeCommandAck PacketType = 0x10

	// Ground to air. Carried opaquely by this decoder.
	TypeCmdPing     PacketType = 0x80
	TypeCmdSetParam PacketType = 0x81
	TypeCmdCapture  PacketType = 0x82
	TypeCmdReboot   PacketType = 0x83

	TypeUnknown PacketType = 0xFF
)

var packetTypeNames = map[PacketType]string{
	TypeTelemetry:   "telemetry",
	TypeImageMeta:   "image_meta",
	TypeImageData:   "image_data",
	TypeText:        "text",
	TypeCommandAck:  "command_ack",
	TypeCmdPing:     "cmd_ping",
	TypeCmdSetParam: "cmd_set_param",
	TypeCmdCapture:  "cmd_capture",
	TypeCmdReboot:   "cmd_reboot",
	TypeUnknown:     "unknown",
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(0x%02X)", uint8(t))
}

// Known reports whether t is one of the defined packet types.
func (t PacketType) Known() bool {
	_, ok := packetTypeNames[t]
	return ok && t != TypeUnknown
}

// payloadSize returns the exact payload size for fixed-layout types, or
// (max, false) for variable-length types.
func payloadSize(t PacketType) (int, bool) {
	switch t {
	case TypeTelemetry:
		return TelemetryPayloadSize, true
	case TypeImageMeta:
		return ImageMetaPayloadSize, true
	case TypeImageData:
		return ImageDataPayloadSize, true
	case TypeCommandAck:
		return CommandAckPayloadSize, true
	default:
		return MaxPayloadSize, false
	}
}

// Flags is the packet header bitset.
type Flags uint8

const (
	FlagUrgent     Flags = 0x01
	FlagRetransmit Flags = 0x02
	FlagLastPacket Flags = 0x04
	FlagCompressed Flags = 0x08
)

// Has reports whether every bit in mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

func (f Flags) String() string {
	var parts []string
	for _, fl := range []struct {
		bit  Flags
		name string
	}{
		{FlagUrgent, "urgent"},
		{FlagRetransmit, "retransmit"},
		{FlagLastPacket, "last"},
		{FlagCompressed, "compressed"},
	} {
		if f.Has(fl.bit) {
			parts = append(parts, fl.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Body is the decoded, strongly typed payload of a packet. The concrete
// type is one of *Telemetry, *ImageMeta, *ImageData, *Text, *CommandAck or
// *Raw.
type Body interface {
	PacketType() PacketType
}

// Packet is a validated protocol unit.
type Packet struct {
	Type     PacketType
	Code     uint8 // type byte as received; differs from Type for unknown codes
	Sequence uint16
	Flags    Flags
	Payload  []byte
	Body     Body
}

// DecodePacket validates b (sync marker, declared length, CRC-32) and
// decodes its payload into the matching Body variant. Rejections are
// returned as *PacketError or *PayloadError.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize+CRCSize {
		return Packet{}, &PacketError{Kind: ErrBadLength, Type: TypeUnknown, Detail: fmt.Sprintf("%d bytes", len(b))}
	}
	if [4]byte(b[0:4]) != SyncMarker {
		return Packet{}, &PacketError{Kind: ErrBadSync, Type: TypeUnknown, Detail: fmt.Sprintf("% X", b[0:4])}
	}

	code := b[4]
	typ := PacketType(code)
	if !typ.Known() {
		typ = TypeUnknown
	}
	payloadLen := len(b) - HeaderSize - CRCSize
	if size, fixed := payloadSize(typ); fixed && payloadLen != size {
		return Packet{}, &PacketError{Kind: ErrBadLength, Type: typ, Detail: fmt.Sprintf("payload %d, want %d", payloadLen, size)}
	} else if !fixed && payloadLen > size {
		return Packet{}, &PacketError{Kind: ErrBadLength, Type: typ, Detail: fmt.Sprintf("payload %d exceeds %d", payloadLen, size)}
	}

	crcAt := len(b) - CRCSize
	if got, want := binary.BigEndian.Uint32(b[crcAt:]), Checksum(b[:crcAt]); got != want {
		return Packet{}, &PacketError{Kind: ErrCRCMismatch, Type: typ, Detail: fmt.Sprintf("rx %08X, calc %08X", got, want)}
	}

	p := Packet{
		Type:     typ,
		Code:     code,
		Sequence: binary.BigEndian.Uint16(b[5:7]),
		Flags:    Flags(b[7]),
		Payload:  b[HeaderSize:crcAt],
	}
	body, err := decodeBody(typ, code, p.Payload)
	if err != nil {
		return p, err
	}
	p.Body = body
	return p, nil
}

func decodeBody(typ PacketType, code uint8, payload []byte) (Body, error) {
	switch typ {
	case TypeTelemetry:
		return DecodeTelemetry(payload)
	case TypeImageMeta:
		return DecodeImageMeta(payload)
	case TypeImageData:
		return DecodeImageData(payload)
	case TypeText:
		return DecodeText(payload)
	case TypeCommandAck:
		return DecodeCommandAck(payload)
	default:
		raw := &Raw{Code: code, Data: make([]byte, len(payload))}
		copy(raw.Data, payload)
		return raw, nil
	}
}

// EncodePacket frames payload with the header and CRC trailer. It is the
// inverse of DecodePacket and is used by the flight simulator.
func EncodePacket(typ PacketType, seq uint16, flags Flags, payload []byte) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(payload)+CRCSize)
	copy(out[0:4], SyncMarker[:])
	out[4] = byte(typ)
	binary.BigEndian.PutUint16(out[5:7], seq)
	out[7] = byte(flags)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, Checksum(out))
}

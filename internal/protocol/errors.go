package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for each rejection class. Typed errors below wrap them so
// callers can match with errors.Is and still inspect the detail.
var (
	ErrFrameTooShort   = errors.New("frame too short")
	ErrFrameChecksum   = errors.New("frame checksum mismatch")
	ErrFrameLength     = errors.New("frame length mismatch")
	ErrBadSync         = errors.New("bad sync marker")
	ErrBadLength       = errors.New("bad packet length")
	ErrCRCMismatch     = errors.New("packet crc mismatch")
	ErrPayloadTooShort = errors.New("payload too short")
	ErrInvalidEncoding = errors.New("invalid text encoding")
)

// FrameError reports a frame dropped by the extractor.
type FrameError struct {
	Kind   error
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
}

func (e *FrameError) Unwrap() error { return e.Kind }

// PacketError reports a packet rejected by DecodePacket.
type PacketError struct {
	Kind   error
	Type   PacketType
	Detail string
}

func (e *PacketError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s packet: %v", e.Type, e.Kind)
	}
	return fmt.Sprintf("%s packet: %v: %s", e.Type, e.Kind, e.Detail)
}

func (e *PacketError) Unwrap() error { return e.Kind }

// PayloadError reports a payload that passed CRC but could not be decoded.
type PayloadError struct {
	Kind error
	Type PacketType
	Got  int
	Want int
}

func (e *PayloadError) Error() string {
	if e.Want > 0 {
		return fmt.Sprintf("%s payload: %v (%d < %d bytes)", e.Type, e.Kind, e.Got, e.Want)
	}
	return fmt.Sprintf("%s payload: %v", e.Type, e.Kind)
}

func (e *PayloadError) Unwrap() error { return e.Kind }

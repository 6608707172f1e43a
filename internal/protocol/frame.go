// Package protocol implements the SpeedWar wire format shared by the stream
// and datagram transports.
//
// A frame is a 2-byte little-endian signed type tag followed by a
// type-specific payload. There is no length field: a frame ends where the
// physical unit (one datagram, one stream read) ends.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the width of the type tag.
const HeaderSize = 2

// ErrShortFrame is returned when a frame is too short to hold a field.
var ErrShortFrame = errors.New("short frame")

// Stream frame types. The numbering space is shared with the datagram
// transport but the meaning of a tag depends on the transport it arrived on.
const (
	StreamDisconnect   int16 = -1
	StreamRegister     int16 = 0
	StreamPlayerJoined int16 = 1
	StreamChat         int16 = 2
	StreamStatus       int16 = 3
	StreamRoom         int16 = 4
)

// Datagram frame types.
const (
	DatagramBind     int16 = 0
	DatagramPosition int16 = 1
)

// Encode prepends the type tag to payload.
//
// Postcondition: len(result) == HeaderSize+len(payload).
func Encode(t int16, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf, uint16(t))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Type returns the type tag of frame.
func Type(frame []byte) (int16, error) {
	return Int16At(frame, 0)
}

// Int16At decodes a little-endian int16 at off.
func Int16At(frame []byte, off int) (int16, error) {
	if off < 0 || len(frame) < off+2 {
		return 0, fmt.Errorf("int16 at offset %d of %d-byte frame: %w", off, len(frame), ErrShortFrame)
	}
	return int16(binary.LittleEndian.Uint16(frame[off:])), nil
}

// PutInt16 appends v to buf in little-endian order.
func PutInt16(buf []byte, v int16) []byte {
	return binary.LittleEndian.AppendUint16(buf, uint16(v))
}

// Float32sAt decodes n consecutive little-endian float32 values starting at off.
func Float32sAt(frame []byte, off, n int) ([]float32, error) {
	if off < 0 || n < 0 || len(frame) < off+4*n {
		return nil, fmt.Errorf("%d float32 at offset %d of %d-byte frame: %w", n, off, len(frame), ErrShortFrame)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(frame[off+4*i:]))
	}
	return out, nil
}

// PutFloat32s appends vs to buf in little-endian order.
func PutFloat32s(buf []byte, vs ...float32) []byte {
	for _, v := range vs {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

// EncodeText encodes s as single-byte ASCII. Runes outside the ASCII range
// are replaced with '?'.
func EncodeText(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 127 {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}

// DecodeText decodes single-byte ASCII. Bytes above 127 decode as '?'.
func DecodeText(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c > 127 {
			c = '?'
		}
		out[i] = c
	}
	return string(out)
}

package encoding

import (
	"bytes"
	"errors"
)

// MagicSize is the length of the protocol marker that prefixes every frame
const MagicSize = 4

// Magic identifies rerelay frames on the wire and records in stored streams
var Magic = [MagicSize]byte{'R', 'R', '0', '0'}

// ErrBadMagic is returned when a frame does not start with Magic
var ErrBadMagic = errors.New("frame does not start with protocol marker")

// EncodeFrame prepends the protocol marker to a serialized event.
// The result is a fresh buffer; event is not retained.
func EncodeFrame(event []byte) []byte {
	frame := make([]byte, MagicSize+len(event))
	copy(frame, Magic[:])
	copy(frame[MagicSize:], event)
	return frame
}

// DecodeFrame verifies the protocol marker and returns the event body.
// The body aliases frame.
func DecodeFrame(frame []byte) ([]byte, error) {
	if !HasMagic(frame) {
		return nil, ErrBadMagic
	}
	return frame[MagicSize:], nil
}

// HasMagic reports whether b starts with the protocol marker
func HasMagic(b []byte) bool {
	return len(b) >= MagicSize && bytes.Equal(b[:MagicSize], Magic[:])
}

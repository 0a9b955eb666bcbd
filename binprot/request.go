package binprot

import (
	"encoding/binary"
)

// BuildRequest returns a complete request frame.
//
// The header is filled with the request magic, the opcode, key and extra
// lengths and the total body length; data type, reserved, opaque and CAS are
// zero. The opaque is stamped by the connection right before the frame is
// written (see SetOpaque).
//
// Any of key, value and extra may be empty. The caller guarantees
// len(key) <= 0xffff and len(extra) <= MaxExtraLength.
func BuildRequest(op OpCode, key string, value, extra []byte) []byte {
	bodyLen := len(extra) + len(key) + len(value)
	frame := make([]byte, HeaderLen+bodyLen)

	frame[offMagic] = MagicRequest
	frame[offOpCode] = byte(op)
	binary.BigEndian.PutUint16(frame[offKeyLen:], uint16(len(key)))
	frame[offExtraLen] = uint8(len(extra))
	binary.BigEndian.PutUint32(frame[offBodyLen:], uint32(bodyLen))

	pos := HeaderLen
	pos += copy(frame[pos:], extra)
	pos += copy(frame[pos:], key)
	copy(frame[pos:], value)

	return frame
}

// NewAuthRequest builds the SASL PLAIN authentication frame:
// key is the mechanism name, value is "\x00<user>\x00<password>".
func NewAuthRequest(user, password string) []byte {
	payload := make([]byte, 0, len(user)+len(password)+2)
	payload = append(payload, 0)
	payload = append(payload, user...)
	payload = append(payload, 0)
	payload = append(payload, password...)
	return BuildRequest(OpSASLAuth, SASLMechanismPlain, payload, nil)
}

// SetOpaque stamps the correlation id into a frame.
func SetOpaque(frame []byte, id uint32) {
	binary.BigEndian.PutUint32(frame[offOpaque:], id)
}

// Opaque reads the correlation id of a frame.
func Opaque(frame []byte) uint32 {
	return binary.BigEndian.Uint32(frame[offOpaque:])
}

// frameLen returns the total frame size announced by a header.
// The header must hold at least minHeaderLen bytes.
func frameLen(header []byte) int {
	return int(binary.BigEndian.Uint32(header[offBodyLen:])) + HeaderLen
}

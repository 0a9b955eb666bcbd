package binprot

import (
	"encoding/binary"
	"strconv"
)

// Response is a parsed response frame.
// Extra, Key and Value alias the frame passed to ParseResponse.
type Response struct {
	OpCode OpCode
	Status Status
	Opaque uint32

	// Extra is nil when the response carries no extras.
	Extra []byte
	Key   string

	// Value holds the item data on success and the error message otherwise.
	Value []byte
}

// ParseResponse splits a complete response frame into its fields.
func ParseResponse(frame []byte) (*Response, error) {
	if len(frame) < HeaderLen {
		return nil, &FramingError{Kind: FramingTruncated, Detail: "short header: " + strconv.Itoa(len(frame)) + " bytes"}
	}

	keyLen := int(binary.BigEndian.Uint16(frame[offKeyLen:]))
	extraLen := int(frame[offExtraLen])
	total := frameLen(frame)

	if total != len(frame) {
		return nil, &FramingError{Kind: FramingTruncated, Detail: "frame is " + strconv.Itoa(len(frame)) + " bytes, header says " + strconv.Itoa(total)}
	}
	if HeaderLen+extraLen+keyLen > total {
		return nil, &FramingError{Kind: FramingTruncated, Detail: "extra and key exceed body length"}
	}

	resp := &Response{
		OpCode: OpCode(frame[offOpCode]),
		Status: Status(binary.BigEndian.Uint16(frame[offStatus:])),
		Opaque: binary.BigEndian.Uint32(frame[offOpaque:]),
	}

	pos := HeaderLen
	if extraLen > 0 {
		resp.Extra = frame[pos : pos+extraLen]
		pos += extraLen
	}
	resp.Key = string(frame[pos : pos+keyLen])
	pos += keyLen
	resp.Value = frame[pos:]

	return resp, nil
}

// IsSuccess returns true for StatusOK.
func (r *Response) IsSuccess() bool {
	return r.Status == StatusOK
}

// IsMiss returns true if the key was not found.
// Not an error for get and delete.
func (r *Response) IsMiss() bool {
	return r.Status == StatusKeyNotFound
}

// Err converts a non-zero status into a *StatusError.
func (r *Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &StatusError{Op: r.OpCode, Status: r.Status, Message: string(r.Value)}
}

// BuildResponse returns a response frame. Used by test servers.
func BuildResponse(op OpCode, status Status, opaque uint32, key string, value, extra []byte) []byte {
	frame := BuildRequest(op, key, value, extra)
	frame[offMagic] = MagicResponse
	binary.BigEndian.PutUint16(frame[offStatus:], uint16(status))
	SetOpaque(frame, opaque)
	return frame
}

// Package binprot implements the memcached binary protocol framing used by
// bincache: building request frames, reassembling response frames from a
// byte stream, and matching responses to the requests that produced them.
//
// The package does no I/O. A connection owns one Framer (fed from its reader)
// and one Inflight queue (filled by its writers).
//
// # Frames
//
// Every frame is a 24-byte big-endian header followed by extra, key and value
// bytes:
//
//	offset size field
//	0      1    magic (0x80 request, 0x81 response)
//	1      1    opcode
//	2      2    key length
//	4      1    extra length
//	5      1    data type (0)
//	6      2    status (responses) / reserved
//	8      4    body length = extra + key + value
//	12     4    opaque, echoed by the server
//	16     8    CAS (0)
//
// BuildRequest produces a request frame; the opaque is stamped at send time:
//
//	frame := binprot.BuildRequest(binprot.OpGet, "mykey", nil, nil)
//	binprot.SetOpaque(frame, id)
//	results := inflight.Push(id)
//	conn.Write(frame)
//
// The reader feeds whatever the transport returns:
//
//	err := framer.Feed(chunk, func(frame []byte) {
//	    inflight.Resolve(frame)
//	})
//	if binprot.IsFatal(err) {
//	    inflight.FailAll(err)
//	}
//
// # Errors
//
// All error types implement ShouldCloseConnection. FramingError (except the
// coalesced diagnostic), ConnectionError and AuthError leave the connection
// unusable. StatusError and SequenceError only fail the request they are
// delivered to.
package binprot

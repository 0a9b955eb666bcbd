package binprot

import (
	"bytes"
	"fmt"
)

// DefaultMaxFrameLen bounds the frames a zero Framer accepts. The server
// caps items far below it.
const DefaultMaxFrameLen = 64 << 20

// Framer reassembles response frames from a byte stream that may be split
// or coalesced arbitrarily by the transport.
//
// Frames handed to emit are owned by the receiver: the framer never reuses
// or aliases them, and never aliases the chunks passed to Feed.
//
// A Framer is not safe for concurrent use; each connection's reader owns one.
type Framer struct {
	// MaxFrameLen is the largest frame accepted, header included.
	// Zero means DefaultMaxFrameLen.
	MaxFrameLen int

	// buf holds the bytes of the frame in progress.
	buf []byte
	// pending is the number of bytes still missing from buf.
	// Zero while the frame length is not known yet.
	pending int
}

// Feed consumes one chunk and calls emit for every frame it completes,
// in stream order.
//
// A fatal *FramingError (bad magic, frame too large) stops processing and leaves the stream
// unusable. When a chunk both completes the frame in progress and starts a
// new one, all data is processed and a non-fatal FramingCoalesced error is
// returned as a diagnostic.
func (f *Framer) Feed(chunk []byte, emit func(frame []byte)) error {
	var diag error

	for len(chunk) > 0 {
		// Start of a new frame
		if len(f.buf) == 0 {
			if chunk[0] != MagicResponse {
				f.Reset()
				return &FramingError{Kind: FramingBadMagic, Detail: fmt.Sprintf("got 0x%02x", chunk[0])}
			}

			if len(chunk) < minHeaderLen {
				f.buf = append(make([]byte, 0, HeaderLen), chunk...)
				return diag
			}

			total := frameLen(chunk)
			if err := f.checkLen(total); err != nil {
				return err
			}
			switch {
			case len(chunk) == total:
				emit(bytes.Clone(chunk))
				return diag
			case len(chunk) < total:
				f.buf = make([]byte, len(chunk), total)
				copy(f.buf, chunk)
				f.pending = total - len(chunk)
				return diag
			default:
				emit(bytes.Clone(chunk[:total]))
				chunk = chunk[total:]
			}
			continue
		}

		// Header split across chunks: complete the length field first
		if f.pending == 0 {
			need := minHeaderLen - len(f.buf)
			if len(chunk) < need {
				f.buf = append(f.buf, chunk...)
				return diag
			}
			f.buf = append(f.buf, chunk[:need]...)
			chunk = chunk[need:]

			total := frameLen(f.buf)
			if err := f.checkLen(total); err != nil {
				return err
			}
			grown := make([]byte, len(f.buf), total)
			copy(grown, f.buf)
			f.buf = grown
			f.pending = total - len(f.buf)
			continue
		}

		// Frame in progress
		switch {
		case len(chunk) < f.pending:
			f.buf = append(f.buf, chunk...)
			f.pending -= len(chunk)
			return diag
		case len(chunk) == f.pending:
			frame := append(f.buf, chunk...)
			f.buf, f.pending = nil, 0
			emit(frame)
			return diag
		default:
			frame := append(f.buf, chunk[:f.pending]...)
			chunk = chunk[f.pending:]
			f.buf, f.pending = nil, 0
			emit(frame)
			diag = &FramingError{Kind: FramingCoalesced, Detail: fmt.Sprintf("%d bytes of the next frame", len(chunk))}
		}
	}

	return diag
}

// checkLen rejects an announced frame length before anything is allocated
// for it. It resets the framer on failure.
func (f *Framer) checkLen(total int) error {
	limit := f.MaxFrameLen
	if limit <= 0 {
		limit = DefaultMaxFrameLen
	}
	if total <= limit {
		return nil
	}
	f.Reset()
	return &FramingError{Kind: FramingTooLarge, Detail: fmt.Sprintf("%d bytes, limit %d", total, limit)}
}

// Buffered returns the number of bytes held for the frame in progress.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.buf, f.pending = nil, 0
}

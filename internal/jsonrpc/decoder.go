package jsonrpc

import (
	"bytes"
	"fmt"
)

// DefaultMaxLineSize bounds a single buffered line (16 MiB).
const DefaultMaxLineSize = 16 << 20

// LineDecoder splits an incoming byte stream into newline-terminated lines.
//
// Bytes after the last newline are carried over to the next Feed call, so a
// message split across arbitrary read boundaries is reassembled intact.
// LineDecoder is not safe for concurrent use; one reader goroutine owns it.
type LineDecoder struct {
	buf     []byte
	maxLine int
}

// NewLineDecoder creates a decoder. maxLine <= 0 uses DefaultMaxLineSize.
func NewLineDecoder(maxLine int) *LineDecoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	return &LineDecoder{maxLine: maxLine}
}

// Feed appends p to the carry-over buffer and returns every complete line,
// without the trailing "\n" or "\r\n". Blank lines are dropped.
//
// Returns an error if the pending partial line grows beyond the limit;
// the buffer is discarded in that case so decoding can resynchronize on the
// next newline.
func (d *LineDecoder) Feed(p []byte) ([][]byte, error) {
	d.buf = append(d.buf, p...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(d.buf[:idx], []byte("\r"))
		if len(bytes.TrimSpace(line)) > 0 {
			// Copy: d.buf is reused for the tail
			lines = append(lines, append([]byte(nil), line...))
		}
		d.buf = d.buf[idx+1:]
	}

	if len(d.buf) > d.maxLine {
		size := len(d.buf)
		d.buf = nil
		return lines, fmt.Errorf("line exceeds %d bytes (buffered %d)", d.maxLine, size)
	}

	// Compact so the backing array does not grow without bound
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return lines, nil
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (d *LineDecoder) Pending() int {
	return len(d.buf)
}

// Flush returns the unterminated tail (if any) and resets the decoder.
// Called at end of stream: a peer may write its last message without a newline.
func (d *LineDecoder) Flush() []byte {
	tail := bytes.TrimSpace(d.buf)
	d.buf = nil
	if len(tail) == 0 {
		return nil
	}
	return append([]byte(nil), tail...)
}

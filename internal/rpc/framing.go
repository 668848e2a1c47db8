package rpc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

// FrameReader reads newline-delimited messages off an underlying stream,
// enforcing a maximum message size. One Read call returns the bytes of
// exactly one line with its trailing newline (and any trailing '\r')
// stripped; a blank (whitespace-only) line is returned as a zero-length
// slice so callers can distinguish "skip this" from EOF/error.
type FrameReader struct {
	br      *bufio.Reader
	maxSize int64
}

// NewFrameReader wraps r with a buffered reader bounded by maxSize bytes
// per message.
func NewFrameReader(r io.Reader, maxSize int64) *FrameReader {
	return &FrameReader{br: bufio.NewReaderSize(r, 4096), maxSize: maxSize}
}

// ReadMessage returns the next line's payload, or an error. io.EOF is
// returned verbatim when the peer closes cleanly between messages.
// ErrOversized is returned (non-fatal to the caller's choice, but the
// specification treats it as connection-terminal) when no newline arrives
// within maxSize bytes.
func (f *FrameReader) ReadMessage() ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := f.br.ReadSlice('\n')
		buf.Write(chunk)

		// Count content only, excluding the terminator, so a line of
		// exactly maxSize content bytes plus '\n' still fits.
		contentLen := int64(buf.Len())
		if err == nil {
			contentLen--
		}
		if contentLen > f.maxSize {
			_, _ = io.CopyN(io.Discard, f.br, f.maxSize)
			return nil, ErrOversized
		}

		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue // ReadSlice hit its internal buffer boundary, not a real line end
		}
		if err == io.EOF {
			if buf.Len() == 0 {
				return nil, io.EOF
			}
			// Trailing partial line with no newline: treat as the final
			// message, matching the "longest prefix ending in newline"
			// rule loosely — a stream that closes without a trailing
			// newline still delivers its last line.
			break
		}
		return nil, fmt.Errorf("rpc: read message: %w", err)
	}

	line := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))

	if len(bytesTrimSpace(line)) == 0 {
		return []byte{}, nil
	}
	if !utf8.Valid(line) {
		return nil, fmt.Errorf("rpc: invalid UTF-8 in message")
	}
	return append([]byte(nil), line...), nil
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// FrameWriter serializes one message per Write call as a single contiguous
// buffer, so the application layer never splits a message across partial
// sends (the OS may still fragment at the transport layer, which is fine).
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteMessage appends a newline to payload and writes it in one call.
func (f *FrameWriter) WriteMessage(payload []byte) error {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := f.w.Write(buf)
	if err != nil {
		return fmt.Errorf("rpc: write message: %w", err)
	}
	return nil
}

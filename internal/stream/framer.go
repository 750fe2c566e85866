// Package stream turns a chunked NDJSON body into decoded events and drives
// them into a ledger.
package stream

import (
	"bytes"
	"strings"
)

// LineFramer splits a byte stream into newline-terminated records. A record
// split across chunks is held back until its newline (or Flush) arrives.
type LineFramer struct {
	buf []byte
}

// Feed appends chunk and returns every record it completed, trimmed, with
// blank records dropped.
func (f *LineFramer) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	// The retained buffer holds no newline, so only chunk needs scanning.
	idx := bytes.LastIndexByte(chunk, '\n')
	held := len(f.buf)
	f.buf = append(f.buf, chunk...)
	if idx < 0 {
		return nil
	}
	last := held + idx

	var lines []string
	for _, record := range bytes.Split(f.buf[:last], []byte{'\n'}) {
		if line := strings.TrimSpace(string(record)); line != "" {
			lines = append(lines, line)
		}
	}

	rest := f.buf[last+1:]
	f.buf = append(f.buf[:0:0], rest...)
	return lines
}

// Flush returns the trailing partial record, if any, and empties the buffer.
func (f *LineFramer) Flush() []string {
	line := strings.TrimSpace(string(f.buf))
	f.buf = nil
	if line == "" {
		return nil
	}
	return []string{line}
}

// Buffered reports how many bytes are held back waiting for a newline.
func (f *LineFramer) Buffered() int {
	return len(f.buf)
}

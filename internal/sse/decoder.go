// Package sse decodes Server-Sent-Events framing from upstream provider
// responses into discrete records.
package sse

import (
	"bufio"
	"io"
	"strings"
)

const (
	// initialBufSize is the starting scanner buffer (64KB)
	initialBufSize = 64 * 1024
	// maxFrameSize caps a single SSE frame (8MB, matches large tool payloads)
	maxFrameSize = 8 * 1024 * 1024
)

// Record is one decoded SSE record. Event is empty when the upstream
// sends bare "data:" lines without an "event:" field.
type Record struct {
	Event string
	Data  []byte
}

// Decoder reads SSE records from a raw byte stream. Partial lines that
// span chunk boundaries are buffered by the underlying scanner and only
// surfaced once a full line terminator is seen; a non-terminated remainder
// at stream close is delivered as a final line.
//
// A Decoder is single-use: create one per upstream response.
type Decoder struct {
	scanner *bufio.Scanner
	event   string
	done    bool
}

// NewDecoder wraps an upstream response body.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufSize), maxFrameSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next record. It returns io.EOF when the stream ends,
// including on receipt of the literal "[DONE]" payload, which terminates
// the stream gracefully; nothing after [DONE] is ever emitted.
func (d *Decoder) Next() (Record, error) {
	if d.done {
		return Record{}, io.EOF
	}

	for d.scanner.Scan() {
		line := d.scanner.Text()

		switch {
		case line == "":
			// Blank line ends the current frame; the event name does
			// not carry over to the next frame.
			d.event = ""
		case strings.HasPrefix(line, "event: "):
			d.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "event:"):
			d.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data: "), strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ")
			if data == "[DONE]" {
				d.done = true
				return Record{}, io.EOF
			}
			return Record{Event: d.event, Data: []byte(data)}, nil
		default:
			// Comment lines (":keepalive") and unknown fields are skipped.
		}
	}

	d.done = true
	if err := d.scanner.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

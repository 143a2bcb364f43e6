package sse

import (
	"io"
	"strings"
	"testing"
)

// chunkedReader yields the input split at a fixed offset, to exercise
// partial lines across read boundaries.
type chunkedReader struct {
	chunks [][]byte
	pos    int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.chunks) {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[c.pos])
	if n < len(c.chunks[c.pos]) {
		c.chunks[c.pos] = c.chunks[c.pos][n:]
	} else {
		c.pos++
	}
	return n, nil
}

func decodeAll(t *testing.T, r io.Reader) []Record {
	t.Helper()
	d := NewDecoder(r)
	var records []Record
	for {
		rec, err := d.Next()
		if err == io.EOF {
			return records
		}
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		records = append(records, rec)
	}
}

const sampleStream = "event: message_start\n" +
	"data: {\"type\":\"start\",\"messageId\":\"m1\"}\n\n" +
	"data: {\"type\":\"text-delta\",\"text\":\"hel\"}\n\n" +
	": keepalive\n" +
	"data: {\"type\":\"text-delta\",\"text\":\"lo\"}\n\n" +
	"data: {\"type\":\"finish\",\"finishReason\":\"stop\"}\n\n"

func TestDecoderChunkBoundaryInvariant(t *testing.T) {
	want := decodeAll(t, strings.NewReader(sampleStream))
	if len(want) != 4 {
		t.Fatalf("expected 4 records from unsplit stream, got %d", len(want))
	}

	// Split at every possible byte offset; the decoded sequence must be
	// identical to decoding the unsplit stream.
	for i := 1; i < len(sampleStream); i++ {
		r := &chunkedReader{chunks: [][]byte{
			[]byte(sampleStream[:i]),
			[]byte(sampleStream[i:]),
		}}
		got := decodeAll(t, r)
		if len(got) != len(want) {
			t.Fatalf("split at %d: got %d records, want %d", i, len(got), len(want))
		}
		for j := range got {
			if string(got[j].Data) != string(want[j].Data) || got[j].Event != want[j].Event {
				t.Fatalf("split at %d: record %d mismatch: got %+v want %+v", i, j, got[j], want[j])
			}
		}
	}
}

func TestDecoderStopsAtDone(t *testing.T) {
	stream := "data: {\"a\":1}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"b\":2}\n\n"
	records := decodeAll(t, strings.NewReader(stream))
	if len(records) != 1 {
		t.Fatalf("expected 1 record before [DONE], got %d", len(records))
	}
	if string(records[0].Data) != `{"a":1}` {
		t.Errorf("unexpected record: %s", records[0].Data)
	}
}

func TestDecoderEventNameScopedToFrame(t *testing.T) {
	stream := "event: delta\ndata: {\"a\":1}\n\n" +
		"data: {\"b\":2}\n\n"
	records := decodeAll(t, strings.NewReader(stream))
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Event != "delta" {
		t.Errorf("expected event 'delta', got %q", records[0].Event)
	}
	if records[1].Event != "" {
		t.Errorf("event name leaked into next frame: %q", records[1].Event)
	}
}

func TestDecoderFinalUnterminatedLine(t *testing.T) {
	// Stream closed without a trailing newline still yields the last record.
	stream := "data: {\"a\":1}\n\ndata: {\"b\":2}"
	records := decodeAll(t, strings.NewReader(stream))
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if string(records[1].Data) != `{"b":2}` {
		t.Errorf("unexpected final record: %s", records[1].Data)
	}
}

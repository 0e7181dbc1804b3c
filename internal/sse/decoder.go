// Package sse decodes the event stream emitted by OpenAI-compatible chat
// completion endpoints into incremental text deltas.
//
// The transport delivers bytes in arbitrarily sized chunks: a logical
// "data: {...}" frame can be split anywhere, including in the middle of a
// multi-byte UTF-8 sequence or mid-way through the JSON payload. The
// Decoder therefore keeps a carry-over buffer between Feed calls and only
// consumes a line once it can be parsed whole. A line whose JSON fails to
// parse is pushed back onto the buffer and retried when more bytes arrive,
// so a frame split exactly at a chunk boundary is never lost.
//
// A Decoder is request-scoped. It is not safe for concurrent use and must
// never be shared across requests.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	dataPrefix    = "data: "
	doneSentinel  = "[DONE]"
	commentMarker = ':'
)

// chatFrame is the provider frame shape; only the incremental text path
// choices[0].delta.content is extracted.
type chatFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder incrementally parses a chat completion byte stream into text
// deltas. The zero value is ready to use.
type Decoder struct {
	buf  []byte
	done bool
}

// Done reports whether the [DONE] sentinel has been seen. Once done, Feed
// ignores all further input.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends a newly arrived chunk and returns every delta that can be
// completely decoded from the buffered bytes, in arrival order.
//
// The buffer is held as raw bytes: '\n' cannot occur inside a multi-byte
// UTF-8 sequence, so a rune split across chunks simply stays buffered until
// its line completes.
func (d *Decoder) Feed(p []byte) []string {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var deltas []string
	for {
		nl := bytes.IndexByte(d.buf, '\n')
		if nl < 0 {
			// No complete line; the remainder waits for the next chunk.
			break
		}

		line := string(d.buf[:nl])
		d.buf = d.buf[nl+1:]

		line = strings.TrimSuffix(line, "\r")
		if line == "" || line[0] == commentMarker {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := strings.TrimSpace(line[len(dataPrefix):])
		if payload == doneSentinel {
			d.done = true
			d.buf = nil
			break
		}

		var frame chatFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			// The frame was truncated at a read boundary. Push the line
			// back (with its newline) and retry once more bytes arrive.
			// Dropping it here would silently lose text.
			d.buf = append([]byte(line+"\n"), d.buf...)
			break
		}

		if len(frame.Choices) > 0 {
			if text := frame.Choices[0].Delta.Content; text != "" {
				deltas = append(deltas, text)
			}
		}
	}

	return deltas
}

// Pending returns the number of bytes held in the carry-over buffer. At
// end-of-stream a non-zero value means an unterminated trailing partial
// frame, which is discarded rather than surfaced; callers may log it.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

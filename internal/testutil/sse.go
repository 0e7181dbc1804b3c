package testutil

import (
	"encoding/json"
	"fmt"
)

// ChatFrame encodes one completion frame carrying the given delta text,
// in the gateway's wire format, terminated by the SSE blank line.
func ChatFrame(text string) string {
	payload, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": text}},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("BUG: encoding chat frame: %v", err))
	}
	return "data: " + string(payload) + "\n\n"
}

// ChatStream encodes a full completion stream: one frame per delta,
// followed by the [DONE] sentinel.
func ChatStream(deltas ...string) string {
	var s string
	for _, d := range deltas {
		s += ChatFrame(d)
	}
	return s + DoneFrame()
}

// DoneFrame returns the stream termination sentinel frame.
func DoneFrame() string {
	return "data: [DONE]\n\n"
}

// SplitAt splits b into chunks of the given sizes; any remainder becomes a
// final chunk. Used to replay a stream with adversarial chunk boundaries.
func SplitAt(b []byte, sizes ...int) [][]byte {
	var chunks [][]byte
	for _, n := range sizes {
		if n > len(b) {
			n = len(b)
		}
		if n <= 0 {
			continue
		}
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	if len(b) > 0 {
		chunks = append(chunks, b)
	}
	return chunks
}

// ChunkEvery splits b into chunks of at most n bytes.
func ChunkEvery(b []byte, n int) [][]byte {
	if n < 1 {
		n = 1
	}
	var chunks [][]byte
	for len(b) > n {
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	if len(b) > 0 {
		chunks = append(chunks, b)
	}
	return chunks
}

package rag

import (
	"fmt"
	"strings"

	"github.com/medicore/medicore/internal/chatlog"
	"github.com/medicore/medicore/internal/corpus"
	"github.com/medicore/medicore/internal/llm"
)

// systemPreamble is the fixed medical-disclaimer instruction that opens
// every assembled prompt.
const systemPreamble = "You are a medical assistant. Provide medical guidance based on the context below, " +
	"but remind the user this is not medical advice and they should consult a doctor."

// noContextFallback is emitted verbatim when no document cleared the
// similarity threshold. An empty retrieval is a normal outcome, not an error.
const noContextFallback = "No specific medical information found."

// BuildPrompt assembles the completion request messages.
//
// Ordering is load-bearing: the system instruction is always message index
// 0, the capped history follows in chronological order, and the new user
// turn is always last.
func BuildPrompt(matches []corpus.Match, history []chatlog.Turn, userMessage string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: systemPreamble + "\n\nContext:\n" + formatContext(matches),
	})

	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}

	messages = append(messages, llm.Message{Role: "user", Content: userMessage})
	return messages
}

// formatContext renders one block per matched document, blocks joined by a
// blank line, in match order.
func formatContext(matches []corpus.Match) string {
	if len(matches) == 0 {
		return noContextFallback
	}

	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, fmt.Sprintf("Document: %s (Category: %s)\n%s",
			m.Document.Title, m.Document.Category, m.Document.Content))
	}
	return strings.Join(blocks, "\n\n")
}

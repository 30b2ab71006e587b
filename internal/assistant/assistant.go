// ABOUTME: Generator interface, request types and prompt assembly
// ABOUTME: Shared by every provider so prompts look the same regardless of model

package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/support-gateway/internal/store"
)

// HistoryTurns is how many prior messages are sent to the model.
const HistoryTurns = 12

// DefaultInstructions is used when no system prompt is configured.
const DefaultInstructions = "You are a friendly customer support assistant. " +
	"Answer using the knowledge provided below. " +
	"If the knowledge does not cover the question, say you are not sure and that a teammate will follow up. " +
	"Keep answers short and do not invent policies, prices or dates."

// ErrEmptyReply is returned by providers that produced no text.
var ErrEmptyReply = errors.New("assistant returned no text")

// Request is everything a provider needs to answer one visitor message.
type Request struct {
	OrgID     string
	SessionID string
	Knowledge []*store.KnowledgeEntry
	History   []*store.Message
	Message   string
}

// Generator produces an assistant reply. Implementations must honour ctx
// cancellation.
type Generator interface {
	GenerateReply(ctx context.Context, req *Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req *Request) (string, error)

// GenerateReply calls f.
func (f GeneratorFunc) GenerateReply(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

// Turn is one prior message in provider-neutral form.
type Turn struct {
	Role    store.Role
	Content string
}

// Turns converts stored history into model turns, keeping the last
// HistoryTurns non-empty messages. A trailing copy of the new message is
// dropped since providers send it separately.
func Turns(history []*store.Message, latest string) []Turn {
	turns := make([]Turn, 0, len(history))
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Content: content})
	}

	latest = strings.TrimSpace(latest)
	if n := len(turns); n > 0 && turns[n-1].Role == store.RoleUser && turns[n-1].Content == latest {
		turns = turns[:n-1]
	}
	if len(turns) > HistoryTurns {
		turns = turns[len(turns)-HistoryTurns:]
	}
	return turns
}

// KnowledgeContext renders entries as numbered sources for the system prompt.
func KnowledgeContext(entries []*store.KnowledgeEntry) string {
	if len(entries) == 0 {
		return "No curated knowledge entries were found for this organization."
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Source %d:\nTitle: %s\nContent:\n%s", i+1, e.Title, strings.TrimSpace(e.Content))
	}
	return b.String()
}

// SystemPrompt joins the base instructions with the knowledge context.
func SystemPrompt(instructions string, entries []*store.KnowledgeEntry) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		instructions = DefaultInstructions
	}
	return instructions + "\n\n" + KnowledgeContext(entries)
}

package prompt

import "strings"

// Turn is a single role-tagged entry in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// System preamble and first-turn instruction for context-grounded chat models.
const (
	System = "System: This is a chat between a user and an artificial intelligence assistant. The assistant gives helpful, detailed, and polite answers to the user's questions based on the context. The assistant should also indicate when the answer cannot be found in the context."

	Instruction = "Please give a full and complete answer for the question."
)

// Format flattens a conversation and optional retrieval context into one
// prompt. The instruction is prepended to the first user turn's content, in
// place. Turns must be formatted exactly once per request: formatting an
// already-formatted slice prefixes the instruction a second time.
func Format(turns []Turn, context string) string {
	for i := range turns {
		if turns[i].Role == RoleUser {
			turns[i].Content = Instruction + " " + turns[i].Content
			break
		}
	}

	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if t.Role == RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(t.Content)
	}
	b.WriteString("\n\nAssistant:")

	return System + "\n\n" + context + "\n\n" + b.String()
}

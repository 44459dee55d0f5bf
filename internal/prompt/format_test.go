package prompt

import (
	"strings"
	"testing"
)

func TestFormatInjectsInstructionIntoFirstUserTurn(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "What is 2+2?"},
	}
	got := Format(turns, "")

	want := "User: " + Instruction + " What is 2+2?"
	if !strings.Contains(got, want) {
		t.Fatalf("formatted prompt missing instructed first turn:\n%s", got)
	}
	if strings.Count(got, Instruction) != 1 {
		t.Fatalf("instruction should appear exactly once:\n%s", got)
	}
	if !strings.HasSuffix(got, "\n\nAssistant:") {
		t.Fatalf("prompt must end with assistant cue:\n%s", got)
	}
	if !strings.HasPrefix(got, System) {
		t.Fatalf("prompt must start with system preamble:\n%s", got)
	}
}

func TestFormatSkipsAssistantTurnsWhenInjecting(t *testing.T) {
	turns := []Turn{
		{Role: RoleAssistant, Content: "Hello!"},
		{Role: RoleUser, Content: "Hi"},
		{Role: RoleUser, Content: "Second question"},
	}
	Format(turns, "ctx")

	if turns[0].Content != "Hello!" {
		t.Fatalf("assistant turn mutated: %q", turns[0].Content)
	}
	if !strings.HasPrefix(turns[1].Content, Instruction) {
		t.Fatalf("first user turn missing instruction: %q", turns[1].Content)
	}
	if strings.HasPrefix(turns[2].Content, Instruction) {
		t.Fatalf("instruction applied past the first user turn: %q", turns[2].Content)
	}
}

func TestFormatTranscriptOrderAndContext(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}
	got := Format(turns, "some context")

	want := System + "\n\nsome context\n\n" +
		"User: " + Instruction + " a\n\nAssistant: b\n\nUser: c\n\nAssistant:"
	if got != want {
		t.Fatalf("unexpected prompt:\n got: %q\nwant: %q", got, want)
	}
}

// Formatting mutates the turns, so formatting the same slice twice
// double-prefixes the instruction. Callers format each request once.
func TestFormatTwiceDoublePrefixes(t *testing.T) {
	turns := []Turn{{Role: RoleUser, Content: "q"}}
	Format(turns, "")
	got := Format(turns, "")
	if strings.Count(got, Instruction) != 2 {
		t.Fatalf("expected documented double-prefix hazard, got:\n%s", got)
	}
}

func TestFormatEmptyTurns(t *testing.T) {
	got := Format(nil, "")
	if !strings.HasSuffix(got, "\n\nAssistant:") {
		t.Fatalf("degenerate prompt must still end with assistant cue: %q", got)
	}
}

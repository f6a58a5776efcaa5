package summarize

import (
	"testing"

	"github.com/ternarybob/arbor"
)

func TestClaudeSummarizer_ConfiguredPromptIsDefault(t *testing.T) {
	s, err := NewClaudeSummarizer(ClaudeOptions{
		APIKey:        "test-key",
		DefaultPrompt: "Summarize for release notes.",
	}, arbor.NewLogger())
	if err != nil {
		t.Fatal(err)
	}

	if got := s.systemPrompt(""); got != "Summarize for release notes." {
		t.Errorf("configured prompt not used as default, got %q", got)
	}
	if got := s.systemPrompt("per-job prompt"); got != "per-job prompt" {
		t.Errorf("per-job prompt must win over the default, got %q", got)
	}
}

func TestClaudeSummarizer_BuiltinPromptFallback(t *testing.T) {
	s, err := NewClaudeSummarizer(ClaudeOptions{APIKey: "test-key"}, arbor.NewLogger())
	if err != nil {
		t.Fatal(err)
	}

	if got := s.systemPrompt(""); got != builtinSystemPrompt {
		t.Errorf("expected builtin prompt fallback, got %q", got)
	}
}

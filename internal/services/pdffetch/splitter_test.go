package pdffetch

import (
	"strings"
	"testing"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(500, 20)

	chunks := s.Split("a short paragraph")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "a short paragraph" {
		t.Errorf("short text should pass through unchanged")
	}
}

func TestSplit_EmptyText(t *testing.T) {
	s := NewSplitter(500, 20)

	if chunks := s.Split("   \n  "); chunks != nil {
		t.Errorf("expected nil for whitespace-only text, got %v", chunks)
	}
}

func TestSplit_RespectsChunkSize(t *testing.T) {
	s := NewSplitter(100, 10)

	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("some words here and there. ")
	}

	chunks := s.Split(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d exceeds size limit: %d chars", i, len(c))
		}
		if c == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	s := NewSplitter(50, 0)

	text := "first paragraph of text here\n\nsecond paragraph of text here"
	chunks := s.Split(text)

	if len(chunks) != 2 {
		t.Fatalf("expected split at paragraph boundary, got %d chunks: %v", len(chunks), chunks)
	}
	if chunks[0] != "first paragraph of text here" {
		t.Errorf("unexpected first chunk: %q", chunks[0])
	}
	if chunks[1] != "second paragraph of text here" {
		t.Errorf("unexpected second chunk: %q", chunks[1])
	}
}

func TestSplit_HardSplitUnbrokenText(t *testing.T) {
	s := NewSplitter(100, 20)

	text := strings.Repeat("x", 350)
	chunks := s.Split(text)

	if len(chunks) < 4 {
		t.Fatalf("expected at least 4 chunks for 350 chars at step 80, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d exceeds size limit: %d", i, len(c))
		}
	}

	// Consecutive chunks share the overlap region
	if !strings.HasPrefix(chunks[1], strings.Repeat("x", 20)) {
		t.Errorf("expected overlap at chunk start")
	}

	var total int
	for _, c := range chunks {
		total += len(c)
	}
	if total < 350 {
		t.Errorf("content lost in splitting: %d < 350", total)
	}
}

func TestSplit_OverlapCarriedAcrossMerges(t *testing.T) {
	s := NewSplitter(40, 10)

	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	chunks := s.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1]
		if len(tail) > 10 {
			tail = tail[len(tail)-10:]
		}
		if !strings.Contains(chunks[i], strings.TrimSpace(tail)) {
			t.Errorf("chunk %d does not carry overlap from previous chunk", i)
		}
	}
}

func TestNewSplitter_ClampsInvalidValues(t *testing.T) {
	s := NewSplitter(0, -5)
	if s.chunkSize != 500 {
		t.Errorf("expected default chunk size, got %d", s.chunkSize)
	}
	if s.chunkOverlap != 0 {
		t.Errorf("expected overlap clamped to 0, got %d", s.chunkOverlap)
	}

	s = NewSplitter(100, 200)
	if s.chunkOverlap >= s.chunkSize {
		t.Errorf("overlap must stay below chunk size")
	}
}

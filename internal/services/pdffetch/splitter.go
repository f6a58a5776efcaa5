package pdffetch

import "strings"

// Splitter breaks text into overlapping chunks, preferring to split at
// paragraph and word boundaries before falling back to hard cuts.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter creates a splitter with the given size and overlap in
// characters. Overlap is clamped below size.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 4
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   []string{"\n\n", "\n", " ", ""},
	}
}

// Split returns the chunks of text. Every chunk is at most chunkSize
// characters; consecutive chunks share chunkOverlap characters where a
// natural boundary allows it.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	pieces := s.splitRecursive(text, 0)

	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitRecursive splits text on the separator at depth, recursing into
// fragments still over the size limit, then merges adjacent small
// fragments back up to chunkSize with overlap.
func (s *Splitter) splitRecursive(text string, depth int) []string {
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	if depth >= len(s.separators) {
		return s.hardSplit(text)
	}

	sep := s.separators[depth]
	if sep == "" {
		return s.hardSplit(text)
	}

	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return s.splitRecursive(text, depth+1)
	}

	var fragments []string
	for _, part := range parts {
		if len(part) > s.chunkSize {
			fragments = append(fragments, s.splitRecursive(part, depth+1)...)
		} else if part != "" {
			fragments = append(fragments, part)
		}
	}

	return s.merge(fragments, sep)
}

// merge greedily packs fragments into chunks up to chunkSize, carrying
// the configured overlap from the end of each emitted chunk into the
// next one.
func (s *Splitter) merge(fragments []string, sep string) []string {
	var chunks []string
	var current strings.Builder

	for _, frag := range fragments {
		need := len(frag)
		if current.Len() > 0 {
			need += len(sep)
		}

		if current.Len()+need > s.chunkSize && current.Len() > 0 {
			chunk := current.String()
			chunks = append(chunks, chunk)

			current.Reset()
			if s.chunkOverlap > 0 && len(chunk) > s.chunkOverlap {
				current.WriteString(chunk[len(chunk)-s.chunkOverlap:])
			}
		}

		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(frag)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// hardSplit cuts text at fixed offsets with overlap. Last resort when
// no separator fits.
func (s *Splitter) hardSplit(text string) []string {
	var chunks []string
	step := s.chunkSize - s.chunkOverlap
	if step <= 0 {
		step = s.chunkSize
	}
	for start := 0; start < len(text); start += step {
		end := start + s.chunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}

package ingest

import "strings"

// chunkSeparators are tried in order: paragraph break, line break, sentence
// break, word break, then a hard character split as the last resort.
var chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits text into overlapping chunks.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker. Size must exceed overlap; the defaults are
// 1000 and 200.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split breaks text into chunks of at most Size characters, overlapping by
// Overlap, preferring to break at natural boundaries. Empty chunks are
// dropped.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	pieces := c.split(text, chunkSeparators)
	return c.merge(pieces)
}

// split recursively divides text at the coarsest separator that produces
// pieces no larger than Size.
func (c *Chunker) split(text string, separators []string) []string {
	if len(text) <= c.Size {
		return []string{text}
	}

	sep := separators[len(separators)-1]
	rest := separators
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var parts []string
	if sep == "" {
		for start := 0; start < len(text); start += c.Size {
			end := start + c.Size
			if end > len(text) {
				end = len(text)
			}
			parts = append(parts, text[start:end])
		}
		return parts
	}

	for _, piece := range strings.SplitAfter(text, sep) {
		if piece == "" {
			continue
		}
		if len(piece) > c.Size {
			parts = append(parts, c.split(piece, rest)...)
		} else {
			parts = append(parts, piece)
		}
	}
	return parts
}

// merge packs pieces into chunks close to Size and applies the overlap by
// carrying the tail of each emitted chunk into the next.
func (c *Chunker) merge(pieces []string) []string {
	var (
		chunks  []string
		current strings.Builder
		// appended is false while current holds nothing but the overlap
		// carried from the last emitted chunk.
		appended bool
	)
	flush := func() {
		chunk := strings.TrimSpace(current.String())
		current.Reset()
		appended = false
		if chunk == "" {
			return
		}
		chunks = append(chunks, chunk)
		if c.Overlap > 0 && len(chunk) > c.Overlap {
			current.WriteString(chunk[len(chunk)-c.Overlap:])
		}
	}

	for _, piece := range pieces {
		if current.Len()+len(piece) > c.Size && current.Len() > 0 {
			flush()
		}
		current.WriteString(piece)
		appended = true
	}
	// A pure-overlap tail is a duplicate; anything with fresh content is kept
	// even when repetitive text makes it a suffix of the previous chunk.
	if appended {
		if chunk := strings.TrimSpace(current.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// ABOUTME: Paragraph-aware text chunking with overlap for retrieval context
// ABOUTME: Deterministic for a given input and parameters

package retrieve

import (
	"strings"
)

// Chunker splits text into overlapping segments that prefer paragraph
// boundaries. A paragraph exceeding the target size is further split on
// whitespace near the limit; a token longer than the limit itself is cut
// mid-token as a last resort.
type Chunker struct {
	Size    int // target maximum chunk length in bytes
	Overlap int // number of trailing bytes carried into the next chunk
}

// Split produces the ordered chunk sequence for text. Empty input yields nil.
func (c Chunker) Split(text string) []string {
	size := c.Size
	if size <= 0 {
		return nil
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	// Pieces are capped below the chunk size so that an overlap seed plus the
	// paragraph separator plus one piece never pushes a chunk past the limit.
	pieceLimit := size - overlap
	if overlap > 0 {
		pieceLimit -= 2
	}
	if pieceLimit <= 0 {
		overlap = 0
		pieceLimit = size
	}

	var pieces []string
	for _, para := range splitParagraphs(text) {
		pieces = append(pieces, splitLongParagraph(para, pieceLimit)...)
	}
	if len(pieces) == 0 {
		return nil
	}

	var chunks []string
	var cur strings.Builder

	for _, piece := range pieces {
		if cur.Len() > 0 && cur.Len()+2+len(piece) > size {
			chunks = append(chunks, cur.String())
			tail := overlapTail(cur.String(), overlap)
			cur.Reset()
			if tail != "" {
				cur.WriteString(tail)
			}
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(piece)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}

	return chunks
}

// splitParagraphs splits on blank lines and drops empty paragraphs.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitLongParagraph cuts a paragraph into pieces of at most limit bytes,
// breaking on whitespace near the limit. Only an unbroken token longer than
// the limit forces a mid-token cut.
func splitLongParagraph(para string, limit int) []string {
	if len(para) <= limit {
		return []string{para}
	}

	var pieces []string
	rest := para
	for len(rest) > limit {
		cut := strings.LastIndexByte(rest[:limit+1], ' ')
		if cut <= 0 {
			// No whitespace inside the window: unbroken token, hard cut.
			cut = limit
		}
		pieces = append(pieces, strings.TrimSpace(rest[:cut]))
		rest = strings.TrimSpace(rest[cut:])
	}
	if rest != "" {
		pieces = append(pieces, rest)
	}
	return pieces
}

// overlapTail returns the last n bytes of prev, advanced to a word boundary
// so the next chunk never starts mid-word.
func overlapTail(prev string, n int) string {
	if n <= 0 || len(prev) == 0 {
		return ""
	}
	if len(prev) <= n {
		return prev
	}

	tail := prev[len(prev)-n:]
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}

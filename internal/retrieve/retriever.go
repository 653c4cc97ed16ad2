// ABOUTME: Context retriever - selects relevant cached chunks under a character budget
// ABOUTME: Absence of context is a normal outcome, never an error

package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Chunk is a bounded segment of crawled site text, regenerated wholesale on
// each crawl.
type Chunk struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
}

// Document is an already-fetched crawl page handed to the Indexer.
type Document struct {
	SourceURL string
	Title     string
	Text      string
}

// ChunkStore is the derived cache holding each project's current chunk
// generation. Implementations treat malformed entries as cache misses.
type ChunkStore interface {
	GetChunks(ctx context.Context, projectID string) ([]Chunk, error)
	PutChunks(ctx context.Context, projectID string, chunks []Chunk) error
}

// SemanticSearcher is an optional external ranking strategy. When it is
// absent or fails, the retriever falls back to keyword scoring.
type SemanticSearcher interface {
	Search(ctx context.Context, projectID, query string, limit int) ([]Chunk, error)
}

// Retriever assembles a bounded grounding string for automated replies.
type Retriever struct {
	chunks   ChunkStore
	semantic SemanticSearcher // nil when not configured
	topK     int
	maxChars int
	logger   *slog.Logger
}

// NewRetriever creates a retriever over the given chunk store. semantic may
// be nil.
func NewRetriever(chunks ChunkStore, semantic SemanticSearcher, topK, maxChars int, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		chunks:   chunks,
		semantic: semantic,
		topK:     topK,
		maxChars: maxChars,
		logger:   logger.With("component", "retriever"),
	}
}

// Context returns the assembled grounding text for a query and whether any
// context was found. An empty or unreachable cache yields ("", false) — a
// missing cache is a normal condition here, not an error.
func (r *Retriever) Context(ctx context.Context, projectID, query string) (string, bool) {
	chunks, err := r.chunks.GetChunks(ctx, projectID)
	if err != nil {
		r.logger.Warn("chunk cache unavailable, proceeding without context",
			"project_id", projectID,
			"error", err)
		return "", false
	}
	if len(chunks) == 0 {
		return "", false
	}

	selected := r.rank(ctx, projectID, query, chunks)
	if len(selected) == 0 {
		return "", false
	}

	text := assemble(selected, r.maxChars)
	if text == "" {
		return "", false
	}
	return text, true
}

// rank orders chunks by relevance and returns at most topK of them.
// Preference order: semantic search when configured and healthy, keyword
// overlap otherwise, crawl order as the final fallback.
func (r *Retriever) rank(ctx context.Context, projectID, query string, chunks []Chunk) []Chunk {
	if r.semantic != nil {
		results, err := r.semantic.Search(ctx, projectID, query, r.topK)
		if err == nil && len(results) > 0 {
			return capChunks(results, r.topK)
		}
		if err != nil {
			r.logger.Warn("semantic search failed, falling back to keyword ranking",
				"project_id", projectID,
				"error", err)
		}
	}

	terms := Terms(query)
	if len(terms) == 0 {
		return capChunks(chunks, r.topK)
	}

	type scored struct {
		chunk Chunk
		score float64
	}
	var matched []scored
	for _, c := range chunks {
		if s := scoreTerms(terms, c.Text); s > 0 {
			matched = append(matched, scored{chunk: c, score: s})
		}
	}
	if len(matched) == 0 {
		// Nothing matches the query terms; crawl order beats nothing.
		return capChunks(chunks, r.topK)
	}

	// Stable sort so ties keep crawl order.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].score > matched[j].score
	})

	selected := make([]Chunk, 0, min(len(matched), r.topK))
	for _, s := range matched {
		if len(selected) == r.topK {
			break
		}
		selected = append(selected, s.chunk)
	}
	return selected
}

func capChunks(chunks []Chunk, limit int) []Chunk {
	if limit > 0 && len(chunks) > limit {
		return chunks[:limit]
	}
	return chunks
}

// assemble concatenates chunk texts, each prefixed with title and source,
// cutting at the character budget.
func assemble(chunks []Chunk, budget int) string {
	var b strings.Builder
	for _, c := range chunks {
		if b.Len() >= budget {
			break
		}

		block := fmt.Sprintf("## %s (%s)\n%s\n\n", c.Title, c.SourceURL, c.Text)
		remaining := budget - b.Len()
		if len(block) > remaining {
			block = block[:remaining]
		}
		b.WriteString(block)
	}
	return strings.TrimSpace(b.String())
}

// Indexer rebuilds a project's chunk cache from freshly crawled documents.
// Each index run replaces the previous generation wholesale.
type Indexer struct {
	chunks  ChunkStore
	chunker Chunker
	logger  *slog.Logger
}

// NewIndexer creates an indexer that chunks with the given parameters.
func NewIndexer(chunks ChunkStore, chunker Chunker, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		chunks:  chunks,
		chunker: chunker,
		logger:  logger.With("component", "indexer"),
	}
}

// Index chunks the documents and stores the new generation, returning the
// number of chunks written.
func (i *Indexer) Index(ctx context.Context, projectID string, docs []Document) (int, error) {
	start := time.Now()

	var chunks []Chunk
	for _, doc := range docs {
		for _, text := range i.chunker.Split(doc.Text) {
			chunks = append(chunks, Chunk{
				ID:        uuid.New().String(),
				SourceURL: doc.SourceURL,
				Title:     doc.Title,
				Text:      text,
			})
		}
	}

	if err := i.chunks.PutChunks(ctx, projectID, chunks); err != nil {
		return 0, fmt.Errorf("storing chunks: %w", err)
	}

	i.logger.Info("indexed project documents",
		"project_id", projectID,
		"documents", len(docs),
		"chunks", len(chunks),
		"elapsed", time.Since(start))
	return len(chunks), nil
}

package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/praxislabs/praxis/pkg/clock"
	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/executor"
)

// RetrievedDocument is one knowledge chunk surfaced for a query.
type RetrievedDocument struct {
	ID         string
	Content    string
	Source     string
	Collection string
	Score      float32
	Metadata   map[string]any
}

// Scorer is a short LM call used for candidate reranking. It receives a
// prompt and returns the raw completion text.
type Scorer func(ctx context.Context, prompt string) (string, error)

// Retriever searches the configured vector collections and assembles the
// knowledge context for a turn. It implements executor.KnowledgeRetriever.
type Retriever struct {
	store    VectorStore
	embedder Embedder

	// scorer enables LM reranking; nil falls back to similarity order.
	scorer Scorer

	topK       int
	candidates int
	clk        clock.Clock
	logger     *slog.Logger
}

var _ executor.KnowledgeRetriever = (*Retriever)(nil)

// RetrieverOptions tune the retriever beyond its required collaborators.
type RetrieverOptions struct {
	Scorer     Scorer
	TopK       int
	Candidates int
	Clock      clock.Clock
	Logger     *slog.Logger
}

// NewRetriever builds a retriever over the store and embedder.
func NewRetriever(store VectorStore, embedder Embedder, opts RetrieverOptions) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Candidates < opts.TopK {
		opts.Candidates = opts.TopK * 3
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Retriever{
		store:      store,
		embedder:   embedder,
		scorer:     opts.Scorer,
		topK:       opts.TopK,
		candidates: opts.Candidates,
		clk:        opts.Clock,
		logger:     opts.Logger,
	}, nil
}

// Retrieve searches every collection, reranks when the candidate set exceeds
// topK, and returns the assembled knowledge block. Events for the retrieval
// lifecycle are emitted on sink in execution order.
func (r *Retriever) Retrieve(ctx context.Context, collections []string, query string, sink events.Sink) (*executor.Knowledge, error) {
	if sink == nil {
		sink = events.NopSink{}
	}
	started := r.clk.Now()
	sink.Emit(ctx, events.New(events.KnowledgeRetrievalStart, map[string]any{
		"collections": collections,
	}))
	sink.Emit(ctx, events.StatusIndicatorEvent("context", "busy"))
	defer sink.Emit(ctx, events.StatusIndicatorEvent("context", "idle"))

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	queryVector := vectors[0]

	var docs []RetrievedDocument
	for _, collection := range collections {
		results, err := r.store.Search(ctx, collection, queryVector, r.candidates)
		if err != nil {
			// A missing collection must not sink the others.
			r.logger.Warn("collection search failed", "collection", collection, "error", err)
			continue
		}
		for _, res := range results {
			docs = append(docs, toDocument(res, collection))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })

	if len(docs) > r.topK {
		docs = r.rerank(ctx, query, docs, sink)
	}

	knowledge := r.assemble(docs, collections)
	sink.Emit(ctx, events.New(events.KnowledgeRetrievalComplete, map[string]any{
		"collections":    collections,
		"document_count": knowledge.DocumentCount,
		"duration_ms":    r.clk.Now().Sub(started).Milliseconds(),
		"chunks":         len(docs),
	}))
	return knowledge, nil
}

// rerank narrows the candidate set to topK. With a scorer it asks the LM to
// rank candidates by relevance; without one (or on any scorer defect) the
// similarity order stands.
func (r *Retriever) rerank(ctx context.Context, query string, docs []RetrievedDocument, sink events.Sink) []RetrievedDocument {
	started := r.clk.Now()
	sink.Emit(ctx, events.New(events.KnowledgeRerankingStart, map[string]any{
		"candidate_count": len(docs),
	}))
	defer func() {
		sink.Emit(ctx, events.New(events.KnowledgeRerankingComplete, map[string]any{
			"document_count": r.topK,
			"duration_ms":    r.clk.Now().Sub(started).Milliseconds(),
		}))
	}()

	if r.scorer == nil {
		return docs[:r.topK]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rank these snippets by relevance to the question. Respond with a JSON array of the %d most relevant snippet numbers, best first.\n\nQuestion: %s\n\n", r.topK, query)
	for i, doc := range docs {
		fmt.Fprintf(&b, "Snippet %d:\n%s\n\n", i+1, snippet(doc.Content, 500))
	}

	raw, err := r.scorer(ctx, b.String())
	if err != nil {
		r.logger.Warn("reranking call failed, keeping similarity order", "error", err)
		return docs[:r.topK]
	}

	ranked := parseRanking(raw, len(docs))
	if len(ranked) == 0 {
		return docs[:r.topK]
	}
	out := make([]RetrievedDocument, 0, r.topK)
	for _, idx := range ranked {
		out = append(out, docs[idx])
		if len(out) == r.topK {
			break
		}
	}
	// The LM may rank fewer than topK; pad from the similarity order.
	seen := make(map[int]bool, len(ranked))
	for _, idx := range ranked {
		seen[idx] = true
	}
	for i := 0; len(out) < r.topK && i < len(docs); i++ {
		if !seen[i] {
			out = append(out, docs[i])
		}
	}
	return out
}

// parseRanking extracts 1-based snippet numbers from the scorer output and
// returns them as 0-based indices, dropping duplicates and out-of-range ones.
func parseRanking(raw string, n int) []int {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}
	var numbers []int
	if err := json.Unmarshal([]byte(raw[start:end+1]), &numbers); err != nil {
		return nil
	}
	var out []int
	seen := map[int]bool{}
	for _, num := range numbers {
		idx := num - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

func (r *Retriever) assemble(docs []RetrievedDocument, collections []string) *executor.Knowledge {
	knowledge := &executor.Knowledge{DocumentCount: len(docs)}
	if len(collections) > 0 {
		knowledge.SourceCollection = collections[0]
	}
	if len(docs) == 0 {
		return knowledge
	}

	var b strings.Builder
	for _, doc := range docs {
		if doc.Source != "" {
			fmt.Fprintf(&b, "[%s]\n", doc.Source)
		}
		b.WriteString(doc.Content)
		b.WriteString("\n\n")
		knowledge.Sources = append(knowledge.Sources, map[string]any{
			"source":     doc.Source,
			"collection": doc.Collection,
			"score":      doc.Score,
		})
	}
	knowledge.Context = strings.TrimSpace(b.String())
	return knowledge
}

func toDocument(res Result, collection string) RetrievedDocument {
	doc := RetrievedDocument{
		ID:         res.ID,
		Score:      res.Score,
		Collection: collection,
		Metadata:   res.Metadata,
	}
	if content, ok := res.Metadata["content"].(string); ok {
		doc.Content = content
	} else {
		doc.Content = res.Content
	}
	if source, ok := res.Metadata["source"].(string); ok {
		doc.Source = source
	}
	return doc
}

func snippet(text string, max int) string {
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}

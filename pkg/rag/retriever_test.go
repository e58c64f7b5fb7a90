package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/events"
)

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Model() string { return "fake-embed" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeStore struct {
	byCollection map[string][]Result
}

func (f *fakeStore) Name() string { return "fake" }

func (f *fakeStore) Search(_ context.Context, collection string, _ []float32, topK int) ([]Result, error) {
	results, ok := f.byCollection[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (f *fakeStore) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, _ map[string]any) ([]Result, error) {
	return f.Search(ctx, collection, vector, topK)
}

func (f *fakeStore) Upsert(context.Context, string, string, []float32, map[string]any) error {
	return nil
}
func (f *fakeStore) Delete(context.Context, string, string) error           { return nil }
func (f *fakeStore) CreateCollection(context.Context, string, int) error    { return nil }
func (f *fakeStore) DeleteCollection(context.Context, string) error         { return nil }
func (f *fakeStore) Close() error                                           { return nil }

func doc(id string, score float32, content string) Result {
	return Result{
		ID:    id,
		Score: score,
		Metadata: map[string]any{
			"content": content,
			"source":  "doc-" + id,
		},
	}
}

func TestRetrieveAssemblesContext(t *testing.T) {
	store := &fakeStore{byCollection: map[string][]Result{
		"kb": {doc("1", 0.9, "alpha"), doc("2", 0.7, "beta")},
	}}
	r, err := NewRetriever(store, &fakeEmbedder{}, RetrieverOptions{TopK: 5})
	require.NoError(t, err)

	rec := events.NewRecorder()
	knowledge, err := r.Retrieve(context.Background(), []string{"kb"}, "what is alpha", rec)
	require.NoError(t, err)

	assert.Equal(t, 2, knowledge.DocumentCount)
	assert.Equal(t, "kb", knowledge.SourceCollection)
	assert.Contains(t, knowledge.Context, "alpha")
	assert.Contains(t, knowledge.Context, "[doc-1]")
	require.Len(t, knowledge.Sources, 2)
	assert.Equal(t, "doc-1", knowledge.Sources[0]["source"])

	names := eventNames(rec.Events())
	assert.Equal(t, events.KnowledgeRetrievalStart, names[0])
	assert.Contains(t, names, events.KnowledgeRetrievalComplete)
	// Two documents under topK: no reranking pass.
	assert.NotContains(t, names, events.KnowledgeRerankingStart)
}

func TestRetrieveMissingCollectionDegrades(t *testing.T) {
	store := &fakeStore{byCollection: map[string][]Result{
		"kb": {doc("1", 0.9, "alpha")},
	}}
	r, err := NewRetriever(store, &fakeEmbedder{}, RetrieverOptions{})
	require.NoError(t, err)

	knowledge, err := r.Retrieve(context.Background(), []string{"missing", "kb"}, "q", events.NopSink{})
	require.NoError(t, err)
	assert.Equal(t, 1, knowledge.DocumentCount)
}

func TestRerankUsesScorerRanking(t *testing.T) {
	var results []Result
	for i := 0; i < 6; i++ {
		results = append(results, doc(fmt.Sprintf("%d", i+1), float32(1)-float32(i)/10, fmt.Sprintf("chunk %d", i+1)))
	}
	store := &fakeStore{byCollection: map[string][]Result{"kb": results}}

	scorer := func(context.Context, string) (string, error) {
		return `[6, 5]`, nil
	}
	r, err := NewRetriever(store, &fakeEmbedder{}, RetrieverOptions{TopK: 2, Candidates: 10, Scorer: scorer})
	require.NoError(t, err)

	rec := events.NewRecorder()
	knowledge, err := r.Retrieve(context.Background(), []string{"kb"}, "q", rec)
	require.NoError(t, err)

	assert.Equal(t, 2, knowledge.DocumentCount)
	assert.Equal(t, "doc-6", knowledge.Sources[0]["source"])
	assert.Equal(t, "doc-5", knowledge.Sources[1]["source"])

	names := eventNames(rec.Events())
	assert.Contains(t, names, events.KnowledgeRerankingStart)
	assert.Contains(t, names, events.KnowledgeRerankingComplete)
}

func TestRerankFallsBackOnBadScorerOutput(t *testing.T) {
	var results []Result
	for i := 0; i < 4; i++ {
		results = append(results, doc(fmt.Sprintf("%d", i+1), float32(1)-float32(i)/10, "c"))
	}
	store := &fakeStore{byCollection: map[string][]Result{"kb": results}}
	scorer := func(context.Context, string) (string, error) {
		return "not json at all", nil
	}
	r, err := NewRetriever(store, &fakeEmbedder{}, RetrieverOptions{TopK: 2, Scorer: scorer})
	require.NoError(t, err)

	knowledge, err := r.Retrieve(context.Background(), []string{"kb"}, "q", events.NopSink{})
	require.NoError(t, err)

	// Similarity order survives a useless ranking.
	assert.Equal(t, "doc-1", knowledge.Sources[0]["source"])
	assert.Equal(t, "doc-2", knowledge.Sources[1]["source"])
}

func TestParseRanking(t *testing.T) {
	assert.Equal(t, []int{2, 0}, parseRanking("the best are [3, 1] overall", 5))
	assert.Equal(t, []int{1}, parseRanking("[2, 2, 99]", 3))
	assert.Nil(t, parseRanking("no brackets", 3))
}

func eventNames(evs []events.Event) []events.Name {
	out := make([]events.Name, len(evs))
	for i, ev := range evs {
		out[i] = ev.Event
	}
	return out
}

// Package rag retrieves knowledge context for a turn: it embeds the user
// query, searches the profile's vector collections, optionally reranks the
// candidates with a short LM call, and assembles the context block the
// executor folds into planning and synthesis prompts.
package rag

import (
	"context"
	"fmt"

	"github.com/praxislabs/praxis/pkg/config"
)

// Result is one raw hit from a vector store search.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// VectorStore is the storage backend for embedded document chunks. Vectors
// are always pre-computed by an Embedder; stores never embed themselves.
type VectorStore interface {
	Name() string

	// Upsert writes a chunk with its vector. The chunk text rides in
	// metadata under the "content" key.
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error

	// Search returns the topK most similar chunks by cosine similarity.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter restricts Search to chunks whose metadata matches
	// every filter entry.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	Delete(ctx context.Context, collection, id string) error
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error
	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

// NewStore builds the configured vector store backend.
func NewStore(cfg config.RetrievalConfig) (VectorStore, error) {
	switch cfg.VectorStore {
	case "", "chromem":
		return NewChromemStore(ChromemConfig{PersistPath: cfg.Path})
	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
			UseTLS: cfg.UseTLS,
		})
	default:
		return nil, fmt.Errorf("unknown vector_store %q (valid: chromem, qdrant)", cfg.VectorStore)
	}
}

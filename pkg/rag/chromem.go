package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig configures the embedded vector store.
type ChromemConfig struct {
	// PersistPath enables file persistence. Empty keeps vectors in memory.
	PersistPath string

	// Compress gzips the persisted file.
	Compress bool
}

// ChromemStore is the embedded, zero-dependency backend. Vectors live in
// memory with optional gob persistence; search is cosine similarity.
// Single-process only.
type ChromemStore struct {
	db          *chromem.DB
	persistPath string
	compress    bool

	mu          sync.RWMutex
	collections map[string]*chromem.Collection

	embeddingFunc chromem.EmbeddingFunc
}

// NewChromemStore opens (or creates) the embedded store.
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		dbPath := vectorFilePath(cfg.PersistPath, cfg.Compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("failed to load vector database, starting empty", "path", dbPath, "error", err)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	// Vectors arrive pre-computed; the embedding function must never run.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
	}

	return &ChromemStore{
		db:            db,
		persistPath:   cfg.PersistPath,
		compress:      cfg.Compress,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identityEmbed,
	}, nil
}

func (s *ChromemStore) Name() string { return "chromem" }

func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	// chromem metadata is string-typed.
	strMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMetadata[k] = fmt.Sprint(v)
	}
	content := ""
	if c, ok := metadata["content"].(string); ok {
		content = c
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  strMetadata,
		Embedding: vector,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after upsert", "error", err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return s.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (s *ChromemStore) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem errors when asked for more results than documents exist.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for k, v := range filter {
			where[k] = fmt.Sprint(v)
		}
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		out = append(out, Result{
			ID:       r.ID,
			Score:    r.Similarity,
			Content:  r.Content,
			Metadata: metadata,
		})
	}
	return out, nil
}

func (s *ChromemStore) Delete(ctx context.Context, collection, id string) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after delete", "error", err)
	}
	return nil
}

// CreateCollection is implicit in chromem; getting the collection creates it.
func (s *ChromemStore) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	_, err := s.getCollection(collection)
	return err
}

func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(s.collections, collection)

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after collection delete", "error", err)
	}
	return nil
}

func (s *ChromemStore) Close() error {
	return s.persist()
}

func (s *ChromemStore) persist() error {
	if s.persistPath == "" {
		return nil
	}
	dbPath := vectorFilePath(s.persistPath, s.compress)
	//nolint:staticcheck // Export is deprecated but matches NewPersistentDB's format.
	if err := s.db.Export(dbPath, s.compress, ""); err != nil {
		return fmt.Errorf("failed to persist vector database: %w", err)
	}
	return nil
}

func vectorFilePath(dir string, compress bool) string {
	path := filepath.Join(dir, "vectors.gob")
	if compress {
		path += ".gz"
	}
	return path
}

var _ VectorStore = (*ChromemStore)(nil)

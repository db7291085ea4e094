// Package storage indexes transcript segments for semantic search.
// Three backends are available: an in-memory term-frequency store
// (default), pgvector on PostgreSQL, and Milvus. The remote backends
// embed text through the configured embeddings endpoint.
package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"podscribe/config"
	"podscribe/core"
)

// SegmentStore indexes the transcript segments of a session and serves
// similarity queries over them.
type SegmentStore interface {
	Upsert(ctx context.Context, sessionID string, segments []core.Segment) (int, error)
	Search(ctx context.Context, sessionID, query string, topK int) ([]core.Hit, error)
}

// NewSegmentStore selects the backend from the STORE environment
// variable (memory|pgvector|milvus). A backend that cannot be reached
// degrades to the memory store with a warning instead of failing
// startup; search is supporting infrastructure, not part of the
// analysis run contract.
func NewSegmentStore(ctx context.Context, cfg *config.Config, warn func(format string, args ...any)) SegmentStore {
	kind := strings.ToLower(strings.TrimSpace(os.Getenv("STORE")))
	switch kind {
	case "pgvector":
		s, err := newPgVectorStore(ctx, cfg)
		if err != nil {
			warn("pgvector store unavailable (%v), falling back to memory store", err)
			return NewMemorySegmentStore()
		}
		return s
	case "milvus":
		s, err := newMilvusStore(ctx, cfg)
		if err != nil {
			warn("milvus store unavailable (%v), falling back to memory store", err)
			return NewMemorySegmentStore()
		}
		return s
	default:
		return NewMemorySegmentStore()
	}
}

// ---------------- Memory implementation ----------------

type memoryDoc struct {
	start, end float64
	text       string
	embed      map[string]float64 // term -> weight
}

type MemorySegmentStore struct {
	mu   sync.RWMutex
	docs map[string][]memoryDoc // sessionID -> docs
}

func NewMemorySegmentStore() *MemorySegmentStore {
	return &MemorySegmentStore{docs: make(map[string][]memoryDoc)}
}

func (s *MemorySegmentStore) Upsert(ctx context.Context, sessionID string, segments []core.Segment) (int, error) {
	docs := make([]memoryDoc, 0, len(segments))
	for _, seg := range segments {
		docs = append(docs, memoryDoc{start: seg.Start, end: seg.End, text: seg.Text, embed: embedTerms(seg.Text)})
	}
	s.mu.Lock()
	s.docs[sessionID] = docs
	s.mu.Unlock()
	return len(docs), nil
}

func (s *MemorySegmentStore) Search(ctx context.Context, sessionID, query string, topK int) ([]core.Hit, error) {
	s.mu.RLock()
	docs := s.docs[sessionID]
	s.mu.RUnlock()

	qv := embedTerms(query)
	type scored struct {
		i     int
		score float64
	}
	scores := make([]scored, 0, len(docs))
	for i, d := range docs {
		scores = append(scores, scored{i, cosine(qv, d.embed)})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK <= 0 || topK > len(scores) {
		topK = min(len(scores), 5)
	}
	hits := make([]core.Hit, 0, topK)
	for _, sc := range scores[:topK] {
		d := docs[sc.i]
		hits = append(hits, core.Hit{Score: sc.score, Start: d.start, End: d.end, Text: d.text})
	}
	return hits, nil
}

func embedTerms(text string) map[string]float64 {
	vec := make(map[string]float64)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]")
		if tok == "" {
			continue
		}
		vec[tok]++
	}
	return vec
}

func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for k, va := range a {
		na += va * va
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ---------------- shared embedding client ----------------

type embedder struct {
	cli   *openai.Client
	model string
}

func newEmbedder(cfg *config.Config) (*embedder, error) {
	if !cfg.HasValidAPI() {
		return nil, fmt.Errorf("API configuration required for embeddings")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	return &embedder{cli: openai.NewClientWithConfig(clientConfig), model: cfg.EmbeddingModel}, nil
}

func (e *embedder) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

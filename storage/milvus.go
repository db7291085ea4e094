package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"podscribe/config"
	"podscribe/core"
)

// MilvusSegmentStore keeps segment embeddings in a Milvus collection
// with an HNSW cosine index.
type MilvusSegmentStore struct {
	mc   client.Client
	coll string
	dim  int
	emb  *embedder
}

func newMilvusStore(ctx context.Context, cfg *config.Config) (*MilvusSegmentStore, error) {
	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		addr = "localhost:19530"
	}
	coll := os.Getenv("MILVUS_COLLECTION")
	if coll == "" {
		coll = "transcript_segments"
	}

	mc, err := client.NewClient(ctx, client.Config{
		Address:  addr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusSegmentStore{mc: mc, coll: coll, dim: embeddingDim, emb: emb}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusSegmentStore) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("session_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(128))
		schema.WithField(entity.NewField().WithName("start").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("content").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusSegmentStore) Upsert(ctx context.Context, sessionID string, segments []core.Segment) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}

	sessionIDs := make([]string, 0, len(segments))
	starts := make([]float64, 0, len(segments))
	ends := make([]float64, 0, len(segments))
	contents := make([]string, 0, len(segments))
	vectors := make([][]float32, 0, len(segments))

	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		v, err := s.emb.embed(ctx, strings.ToLower(seg.Text))
		if err != nil {
			return 0, err
		}
		sessionIDs = append(sessionIDs, sessionID)
		starts = append(starts, seg.Start)
		ends = append(ends, seg.End)
		contents = append(contents, seg.Text)
		vectors = append(vectors, v)
	}
	if len(vectors) == 0 {
		return 0, nil
	}

	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("session_id", sessionIDs),
		entity.NewColumnDouble("start", starts),
		entity.NewColumnDouble("end", ends),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return 0, fmt.Errorf("insert segments: %w", err)
	}
	return len(vectors), nil
}

func (s *MilvusSegmentStore) Search(ctx context.Context, sessionID, query string, topK int) ([]core.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	v, err := s.emb.embed(ctx, strings.ToLower(query))
	if err != nil {
		return nil, err
	}

	sp, _ := entity.NewIndexHNSWSearchParam(74)
	filter := fmt.Sprintf("session_id == \"%s\"", strings.ReplaceAll(sessionID, "\"", "\\\""))
	res, err := s.mc.Search(ctx, s.coll, []string{}, filter,
		[]string{"start", "end", "content"},
		[]entity.Vector{entity.FloatVector(v)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("search segments: %w", err)
	}

	var hits []core.Hit
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			var h core.Hit
			if c, ok := cols["start"].(*entity.ColumnDouble); ok {
				if data := c.Data(); i < len(data) {
					h.Start = data[i]
				}
			}
			if c, ok := cols["end"].(*entity.ColumnDouble); ok {
				if data := c.Data(); i < len(data) {
					h.End = data[i]
				}
			}
			if c, ok := cols["content"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					h.Text = data[i]
				}
			}
			h.Score = float64(r.Scores[i])
			hits = append(hits, h)
		}
	}
	return hits, nil
}

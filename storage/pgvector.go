package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"podscribe/config"
	"podscribe/core"
)

const embeddingDim = 1536

// PgVectorStore keeps segment embeddings in PostgreSQL with the
// pgvector extension.
type PgVectorStore struct {
	conn *pgx.Conn
	emb  *embedder
}

func newPgVectorStore(ctx context.Context, cfg *config.Config) (*PgVectorStore, error) {
	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgVectorStore{conn: conn, emb: emb}
	if err := s.ensureTable(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) ensureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS transcript_segments (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			start_sec DOUBLE PRECISION NOT NULL,
			end_sec DOUBLE PRECISION NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d)
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_transcript_segments_session ON transcript_segments (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_segments_embedding ON transcript_segments
			USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			// The hnsw index needs pgvector >= 0.5; keep working without it.
			if strings.Contains(stmt, "hnsw") {
				continue
			}
			return fmt.Errorf("ensure table: %w", err)
		}
	}
	return nil
}

// Upsert replaces the indexed segments for a session. A new analysis of
// the same session always supersedes the old index.
func (s *PgVectorStore) Upsert(ctx context.Context, sessionID string, segments []core.Segment) (int, error) {
	if _, err := s.conn.Exec(ctx, `DELETE FROM transcript_segments WHERE session_id = $1`, sessionID); err != nil {
		return 0, fmt.Errorf("clear session segments: %w", err)
	}

	count := 0
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		vec, err := s.emb.embed(ctx, strings.ToLower(seg.Text))
		if err != nil {
			return count, err
		}
		_, err = s.conn.Exec(ctx,
			`INSERT INTO transcript_segments (session_id, start_sec, end_sec, content, embedding)
			 VALUES ($1, $2, $3, $4, $5)`,
			sessionID, seg.Start, seg.End, seg.Text, pgvector.NewVector(vec))
		if err != nil {
			return count, fmt.Errorf("insert segment: %w", err)
		}
		count++
	}
	return count, nil
}

func (s *PgVectorStore) Search(ctx context.Context, sessionID, query string, topK int) ([]core.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := s.emb.embed(ctx, strings.ToLower(query))
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx,
		`SELECT start_sec, end_sec, content, 1 - (embedding <=> $2) AS score
		 FROM transcript_segments
		 WHERE session_id = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		sessionID, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("search segments: %w", err)
	}
	defer rows.Close()

	var hits []core.Hit
	for rows.Next() {
		var h core.Hit
		if err := rows.Scan(&h.Start, &h.End, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PgVectorStore) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

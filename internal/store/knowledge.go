package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// KnowledgeChunk is one passage of an agent's knowledge base.
type KnowledgeChunk struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Position  int       `json:"position"`
	Content   string    `json:"content"`
	Rank      float64   `json:"rank,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReplaceKnowledge swaps an agent's knowledge base for chunks in one transaction.
func (s *Store) ReplaceKnowledge(ctx context.Context, agentID string, chunks []string) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM knowledge_chunks WHERE agent_id = $1`, agentID); err != nil {
		return 0, fmt.Errorf("clear knowledge: %w", err)
	}

	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		rows[i] = []any{agentID, i, c}
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"knowledge_chunks"},
		[]string{"agent_id", "position", "content"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("insert knowledge: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(n), nil
}

// SearchKnowledge returns the agent's chunks best matching query by full-text rank.
func (s *Store) SearchKnowledge(ctx context.Context, agentID, query string, limit int) ([]KnowledgeChunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, position, content,
		       ts_rank(search_vector, plainto_tsquery('english', $2))::float8 AS rank,
		       created_at
		FROM knowledge_chunks
		WHERE agent_id = $1 AND search_vector @@ plainto_tsquery('english', $2)
		ORDER BY rank DESC, position ASC
		LIMIT $3
	`, agentID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []KnowledgeChunk
	for rows.Next() {
		var c KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.AgentID, &c.Position, &c.Content, &c.Rank, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Package knowledge keeps a per-agent text knowledge base and answers
// questions from it.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/pactumai/pactum/internal/llm"
	"github.com/pactumai/pactum/internal/store"
)

const (
	ChunkWords   = 600
	ChunkOverlap = 100
	TopK         = 4
)

var (
	ErrNotFound      = errors.New("agent not found")
	ErrBadRequest    = errors.New("bad request")
	ErrNotConfigured = errors.New("knowledge answers are not configured")
)

// Chunk splits text into windows of size words, each sharing overlap words
// with the previous one. The last window ends at the final word.
func Chunk(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = ChunkWords
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for i := 0; i < len(words); i += size - overlap {
		end := min(i+size, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

type Store interface {
	GetAgent(ctx context.Context, userID, id string) (*store.Agent, error)
	ReplaceKnowledge(ctx context.Context, agentID string, chunks []string) (int, error)
	SearchKnowledge(ctx context.Context, agentID, query string, limit int) ([]store.KnowledgeChunk, error)
}

type Service struct {
	store  Store
	llm    llm.Client
	logger *log.Logger
}

// NewService creates a Service. A nil client disables Ask.
func NewService(st Store, client llm.Client, logger *log.Logger) *Service {
	return &Service{store: st, llm: client, logger: logger}
}

// Ingest replaces the agent's knowledge base with text and returns the number of chunks.
func (s *Service) Ingest(ctx context.Context, userID, agentID, text string) (int, error) {
	if err := s.ownAgent(ctx, userID, agentID); err != nil {
		return 0, err
	}
	chunks := Chunk(text, ChunkWords, ChunkOverlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: text is required", ErrBadRequest)
	}
	n, err := s.store.ReplaceKnowledge(ctx, agentID, chunks)
	if err != nil {
		return 0, fmt.Errorf("store knowledge: %w", err)
	}
	s.logger.Printf("knowledge: indexed %d chunks for agent %s", n, agentID)
	return n, nil
}

// Ask answers question from the agent's best matching chunks only.
func (s *Service) Ask(ctx context.Context, userID, agentID, question string) (string, error) {
	if s.llm == nil {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: question is required", ErrBadRequest)
	}
	if err := s.ownAgent(ctx, userID, agentID); err != nil {
		return "", err
	}

	chunks, err := s.store.SearchKnowledge(ctx, agentID, question, TopK)
	if err != nil {
		return "", fmt.Errorf("search knowledge: %w", err)
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Content)
	}
	passages := strings.Join(parts, "\n\n")
	if strings.TrimSpace(passages) == "" {
		return llm.NoKnowledgeAnswer, nil
	}

	answer, err := s.llm.Complete(ctx, []llm.Message{
		{Role: "user", Content: llm.KnowledgePrompt(passages, question)},
	})
	if errors.Is(err, llm.ErrNotConfigured) {
		return "", ErrNotConfigured
	}
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	return answer, nil
}

func (s *Service) ownAgent(ctx context.Context, userID, agentID string) error {
	if _, err := s.store.GetAgent(ctx, userID, agentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

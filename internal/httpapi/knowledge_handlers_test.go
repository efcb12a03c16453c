package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pactumai/pactum/internal/knowledge"
	"github.com/pactumai/pactum/internal/llm"
	"github.com/pactumai/pactum/internal/store"
)

type memKnowledgeStore struct {
	chunks map[string][]string
}

func (m *memKnowledgeStore) GetAgent(_ context.Context, userID, id string) (*store.Agent, error) {
	if userID != "u1" || id != "a1" {
		return nil, store.ErrNotFound
	}
	return &store.Agent{ID: id, UserID: userID}, nil
}

func (m *memKnowledgeStore) ReplaceKnowledge(_ context.Context, agentID string, chunks []string) (int, error) {
	m.chunks[agentID] = chunks
	return len(chunks), nil
}

func (m *memKnowledgeStore) SearchKnowledge(_ context.Context, agentID, query string, limit int) ([]store.KnowledgeChunk, error) {
	var out []store.KnowledgeChunk
	for i, c := range m.chunks[agentID] {
		if strings.Contains(strings.ToLower(c), strings.ToLower(query)) && len(out) < limit {
			out = append(out, store.KnowledgeChunk{AgentID: agentID, Position: i, Content: c})
		}
	}
	return out, nil
}

type llmFunc func(ctx context.Context, msgs []llm.Message) (string, error)

func (f llmFunc) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	return f(ctx, msgs)
}

func knowledgeRequest(r *Router, h func(*Router) http.HandlerFunc, agentID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/agents/"+agentID+"/knowledge", strings.NewReader(body))
	req.SetPathValue("id", agentID)
	rec := httptest.NewRecorder()
	h(r)(rec, withUser(req, "u1"))
	return rec
}

func ingest(r *Router) http.HandlerFunc { return r.handleIngestKnowledge }
func ask(r *Router) http.HandlerFunc    { return r.handleAskKnowledge }

func TestKnowledgeHandlers(t *testing.T) {
	st := &memKnowledgeStore{chunks: map[string][]string{}}
	var prompt string
	client := llmFunc(func(_ context.Context, msgs []llm.Message) (string, error) {
		prompt = msgs[len(msgs)-1].Content
		return "Index funds.", nil
	})
	r := &Router{logger: discardLogger(), knowledge: knowledge.NewService(st, client, discardLogger())}

	rec := knowledgeRequest(r, ingest, "a1", `{"text": "Our advisors recommend index funds for beginners."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d: %s", rec.Code, rec.Body.String())
	}
	var ingested map[string]int
	_ = json.NewDecoder(rec.Body).Decode(&ingested)
	if ingested["chunks"] != 1 {
		t.Errorf("chunks = %d, want 1", ingested["chunks"])
	}

	rec = knowledgeRequest(r, ask, "a1", `{"question": "index funds"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ask status = %d: %s", rec.Code, rec.Body.String())
	}
	var answer map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&answer)
	if answer["answer"] != "Index funds." {
		t.Errorf("answer = %q", answer["answer"])
	}
	if !strings.Contains(prompt, "recommend index funds") || !strings.Contains(prompt, "Question: index funds") {
		t.Errorf("prompt = %q, want context and question", prompt)
	}

	rec = knowledgeRequest(r, ask, "a1", `{"question": "crypto"}`)
	_ = json.NewDecoder(rec.Body).Decode(&answer)
	if answer["answer"] != llm.NoKnowledgeAnswer {
		t.Errorf("answer without context = %q, want the fixed fallback", answer["answer"])
	}

	errorCases := []struct {
		name    string
		h       func(*Router) http.HandlerFunc
		agentID string
		body    string
		want    int
	}{
		{"ingest bad json", ingest, "a1", `{`, http.StatusBadRequest},
		{"ingest empty text", ingest, "a1", `{"text": "  "}`, http.StatusBadRequest},
		{"ingest unknown agent", ingest, "a2", `{"text": "hello"}`, http.StatusNotFound},
		{"ask empty question", ask, "a1", `{"question": ""}`, http.StatusBadRequest},
		{"ask unknown agent", ask, "a2", `{"question": "hi"}`, http.StatusNotFound},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			if rec := knowledgeRequest(r, tt.h, tt.agentID, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestKnowledgeAskFailures(t *testing.T) {
	st := &memKnowledgeStore{chunks: map[string][]string{"a1": {"budget basics"}}}

	t.Run("no model configured", func(t *testing.T) {
		r := &Router{logger: discardLogger(), knowledge: knowledge.NewService(st, nil, discardLogger())}
		if rec := knowledgeRequest(r, ask, "a1", `{"question": "budget"}`); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("model error", func(t *testing.T) {
		failing := llmFunc(func(context.Context, []llm.Message) (string, error) {
			return "", errors.New("upstream 500")
		})
		r := &Router{logger: discardLogger(), knowledge: knowledge.NewService(st, failing, discardLogger())}
		if rec := knowledgeRequest(r, ask, "a1", `{"question": "budget"}`); rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
		}
	})
}

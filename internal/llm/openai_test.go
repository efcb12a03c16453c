package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewOpenAIClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		client := NewOpenAIClient(OpenAIConfig{
			APIKey: "test-key",
		})

		if client.model != "gpt-4o-mini" {
			t.Errorf("model = %q, want %q", client.model, "gpt-4o-mini")
		}
		if client.systemPrompt != KnowledgeSystemPrompt {
			t.Error("systemPrompt should default to KnowledgeSystemPrompt")
		}
		if client.url != openaiAPIURL {
			t.Errorf("url = %q, want %q", client.url, openaiAPIURL)
		}
	})

	t.Run("custom model", func(t *testing.T) {
		client := NewOpenAIClient(OpenAIConfig{
			APIKey: "test-key",
			Model:  "gpt-4o",
		})

		if client.model != "gpt-4o" {
			t.Errorf("model = %q, want %q", client.model, "gpt-4o")
		}
	})
}

func TestKnowledgeSystemPrompt(t *testing.T) {
	if !strings.Contains(KnowledgeSystemPrompt, NoKnowledgeAnswer) {
		t.Error("KnowledgeSystemPrompt should contain the fixed no-answer reply")
	}
	if !strings.Contains(KnowledgeSystemPrompt, "ONLY") {
		t.Error("KnowledgeSystemPrompt should restrict answers to the context")
	}

	p := KnowledgePrompt("Rent is 900 EUR.", "What is my rent?")
	if !strings.HasPrefix(p, "Context:\nRent is 900 EUR.") || !strings.HasSuffix(p, "Question: What is my rent?") {
		t.Errorf("KnowledgePrompt() = %q", p)
	}
}

func TestComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Your rent is 900 EUR.\n"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", URL: srv.URL})
	answer, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "rent?"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if answer != "Your rent is 900 EUR." {
		t.Errorf("answer = %q", answer)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "rent?" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", got.Model)
	}
}

func TestCompleteErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		client := NewOpenAIClient(OpenAIConfig{})
		if _, err := client.Complete(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("error = %v, want ErrNotConfigured", err)
		}
	})

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"api error", http.StatusTooManyRequests, `{"error":"rate limited"}`, "429"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"bad json", http.StatusOK, `{`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewOpenAIClient(OpenAIConfig{APIKey: "k", URL: srv.URL})
			_, err := client.Complete(context.Background(), nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestClientInterface(t *testing.T) {
	var _ Client = (*OpenAIClient)(nil)
}

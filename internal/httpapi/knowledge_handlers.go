package httpapi

import (
	"errors"
	"net/http"

	"github.com/pactumai/pactum/internal/knowledge"
)

const maxKnowledgeBytes = 2 << 20

// handleIngestKnowledge replaces an agent's knowledge base.
func (r *Router) handleIngestKnowledge(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, maxKnowledgeBytes)
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, req, &body) {
		return
	}

	n, err := r.knowledge.Ingest(req.Context(), user.ID, req.PathValue("id"), body.Text)
	if err != nil {
		r.knowledgeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"chunks": n})
}

// handleAskKnowledge answers a question from an agent's knowledge base.
func (r *Router) handleAskKnowledge(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Question string `json:"question"`
	}
	if !decodeBody(w, req, &body) {
		return
	}

	answer, err := r.knowledge.Ask(req.Context(), user.ID, req.PathValue("id"), body.Question)
	if err != nil {
		r.knowledgeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (r *Router) knowledgeFailure(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, knowledge.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, knowledge.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "knowledge answering is not configured")
	default:
		r.logger.Printf("knowledge: %s %s: %v", req.Method, req.URL.Path, err)
		captureError(req, err, "knowledge request failed")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
	}
}

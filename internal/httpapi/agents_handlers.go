package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pactumai/pactum/internal/store"
)

const maxNameLength = 200

// handleListAgents returns a page of the user's agents.
func (r *Router) handleListAgents(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	page := pageFromQuery(req)
	agents, total, err := r.store.ListAgents(req.Context(), user.ID, strings.TrimSpace(req.URL.Query().Get("search")), page)
	if err != nil {
		r.storeFailure(w, req, err, "agents")
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(agents, total, page))
}

// handleCreateAgent creates an agent.
func (r *Router) handleCreateAgent(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Name         string `json:"name"`
		Instructions string `json:"instructions"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || len(body.Name) > maxNameLength {
		http.Error(w, `{"error": "name is required"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Instructions) == "" {
		http.Error(w, `{"error": "instructions are required"}`, http.StatusBadRequest)
		return
	}

	agent, err := r.store.CreateAgent(req.Context(), user.ID, body.Name, body.Instructions)
	if err != nil {
		r.storeFailure(w, req, err, "agent")
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// handleGetAgent returns one agent.
func (r *Router) handleGetAgent(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	agent, err := r.store.GetAgent(req.Context(), user.ID, req.PathValue("id"))
	if err != nil {
		r.storeFailure(w, req, err, "agent")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// handleUpdateAgent updates an agent's name or instructions.
func (r *Router) handleUpdateAgent(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body store.AgentUpdate
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" || len(name) > maxNameLength {
			http.Error(w, `{"error": "name must not be empty"}`, http.StatusBadRequest)
			return
		}
		body.Name = &name
	}
	if body.Instructions != nil && strings.TrimSpace(*body.Instructions) == "" {
		http.Error(w, `{"error": "instructions must not be empty"}`, http.StatusBadRequest)
		return
	}

	agent, err := r.store.UpdateAgent(req.Context(), user.ID, req.PathValue("id"), body)
	if err != nil {
		r.storeFailure(w, req, err, "agent")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// handleDeleteAgent deletes an agent and its meetings.
func (r *Router) handleDeleteAgent(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if err := r.store.DeleteAgent(req.Context(), user.ID, req.PathValue("id")); err != nil {
		r.storeFailure(w, req, err, "agent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

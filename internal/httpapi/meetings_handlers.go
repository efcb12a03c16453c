package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pactumai/pactum/internal/store"
)

// handleListMeetings returns a page of the user's meetings.
func (r *Router) handleListMeetings(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	q := req.URL.Query()
	filter := store.MeetingFilter{
		Search:  strings.TrimSpace(q.Get("search")),
		Status:  q.Get("status"),
		AgentID: q.Get("agentId"),
		Page:    pageFromQuery(req),
	}
	if filter.Status != "" && !store.ValidMeetingStatus(filter.Status) {
		http.Error(w, `{"error": "invalid status"}`, http.StatusBadRequest)
		return
	}

	meetings, total, err := r.store.ListMeetings(req.Context(), user.ID, filter)
	if err != nil {
		r.storeFailure(w, req, err, "meetings")
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(meetings, total, filter.Page))
}

// handleCreateMeeting schedules a meeting with one of the user's agents.
func (r *Router) handleCreateMeeting(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Name    string `json:"name"`
		AgentID string `json:"agentId"`
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
	if body.AgentID == "" {
		http.Error(w, `{"error": "agentId is required"}`, http.StatusBadRequest)
		return
	}

	meeting, err := r.store.CreateMeeting(req.Context(), user.ID, body.Name, body.AgentID)
	if err != nil {
		r.storeFailure(w, req, err, "agent")
		return
	}
	writeJSON(w, http.StatusCreated, meeting)
}

// handleGetMeeting returns one meeting.
func (r *Router) handleGetMeeting(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	meeting, err := r.store.GetMeeting(req.Context(), user.ID, req.PathValue("id"))
	if err != nil {
		r.storeFailure(w, req, err, "meeting")
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

// handleUpdateMeeting applies a partial meeting update.
func (r *Router) handleUpdateMeeting(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body store.MeetingUpdate
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
	if body.Status != nil && !store.ValidMeetingStatus(*body.Status) {
		http.Error(w, `{"error": "invalid status"}`, http.StatusBadRequest)
		return
	}

	meeting, err := r.store.UpdateMeeting(req.Context(), user.ID, req.PathValue("id"), body)
	if err != nil {
		r.storeFailure(w, req, err, "meeting")
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

// handleDeleteMeeting deletes a meeting, hanging up its call if one is live.
func (r *Router) handleDeleteMeeting(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	id := req.PathValue("id")
	if err := r.store.DeleteMeeting(req.Context(), user.ID, id); err != nil {
		r.storeFailure(w, req, err, "meeting")
		return
	}
	if r.sessions != nil {
		r.sessions.Remove(id)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleListMeetingEvents returns the meeting's audit trail.
func (r *Router) handleListMeetingEvents(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	events, err := r.store.ListMeetingEvents(req.Context(), user.ID, req.PathValue("id"), 500)
	if err != nil {
		r.storeFailure(w, req, err, "meeting")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pactumai/pactum/internal/callsession"
)

// sessionFor returns the caller's session for the meeting in the path.
// It writes the error response and returns nil when there is none.
func (r *Router) sessionFor(w http.ResponseWriter, req *http.Request) *LiveSession {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return nil
	}
	if r.sessions == nil {
		http.Error(w, `{"error": "calls are not configured"}`, http.StatusServiceUnavailable)
		return nil
	}
	sess, ok := r.sessions.Get(req.PathValue("id"))
	if !ok || sess.UserID != user.ID {
		http.Error(w, `{"error": "no call session for this meeting"}`, http.StatusNotFound)
		return nil
	}
	return sess
}

// handleCallStart connects the meeting's agent.
func (r *Router) handleCallStart(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if r.sessions == nil {
		http.Error(w, `{"error": "calls are not configured"}`, http.StatusServiceUnavailable)
		return
	}

	meeting, err := r.store.GetMeeting(req.Context(), user.ID, req.PathValue("id"))
	if err != nil {
		r.storeFailure(w, req, err, "meeting")
		return
	}

	sess, err := r.sessions.Acquire(callsession.Metadata{
		MeetingID:   meeting.ID,
		MeetingName: meeting.Name,
		AgentID:     meeting.AgentID,
		AgentName:   meeting.AgentName,
		UserID:      user.ID,
		UserName:    user.Name,
	})
	switch {
	case errors.Is(err, ErrDraining), errors.Is(err, ErrTooManyCalls):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		r.logger.Printf("call: failed to create session for meeting %s: %v", meeting.ID, err)
		http.Error(w, `{"error": "failed to create call session"}`, http.StatusInternalServerError)
		return
	}

	if err := sess.Controller.Start(req.Context()); err != nil {
		r.callFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Controller.Snapshot())
}

// handleCallEnd hangs up.
func (r *Router) handleCallEnd(w http.ResponseWriter, req *http.Request) {
	sess := r.sessionFor(w, req)
	if sess == nil {
		return
	}
	if err := sess.Controller.End(); err != nil {
		r.callFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller.Snapshot())
}

// handleCallMute sets the mute state; an empty body toggles it.
func (r *Router) handleCallMute(w http.ResponseWriter, req *http.Request) {
	sess := r.sessionFor(w, req)
	if sess == nil {
		return
	}

	var body struct {
		Muted *bool `json:"muted"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Muted == nil {
		sess.Controller.ToggleMute()
	} else {
		sess.Controller.SetMuted(*body.Muted)
	}
	writeJSON(w, http.StatusOK, sess.Controller.Snapshot())
}

// handleCallRestart clears an ended call so a new one can start.
func (r *Router) handleCallRestart(w http.ResponseWriter, req *http.Request) {
	sess := r.sessionFor(w, req)
	if sess == nil {
		return
	}
	if err := sess.Controller.Restart(); err != nil {
		r.callFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller.Snapshot())
}

// handleCallSnapshot returns the live call state, or an idle snapshot when
// the meeting has no session.
func (r *Router) handleCallSnapshot(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	id := req.PathValue("id")
	if r.sessions != nil {
		if sess, ok := r.sessions.Get(id); ok && sess.UserID == user.ID {
			writeJSON(w, http.StatusOK, sess.Controller.Snapshot())
			return
		}
	}

	if _, err := r.store.GetMeeting(req.Context(), user.ID, id); err != nil {
		r.storeFailure(w, req, err, "meeting")
		return
	}
	writeJSON(w, http.StatusOK, callsession.Snapshot{
		MeetingID: id,
		State:     callsession.StateIdle,
		Lines:     []callsession.Line{},
	})
}

func (r *Router) callFailure(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, callsession.ErrInvalidState), errors.Is(err, callsession.ErrNoActiveCall):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, callsession.ErrTransport):
		writeError(w, http.StatusBadGateway, "could not connect to the voice provider")
	default:
		r.logger.Printf("call: %s %s: %v", req.Method, req.URL.Path, err)
		captureError(req, err, "call command failed")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
	}
}

package httpapi

import (
	"net/http"
	"strings"
)

type pushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// handlePushRegister registers a device for summary and insight notifications.
func (r *Router) handlePushRegister(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body pushTokenRequest
	if !decodeBody(w, req, &body) {
		return
	}
	body.Token = strings.TrimSpace(body.Token)
	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return
	}
	if body.Platform == "" {
		body.Platform = "ios"
	}
	if body.Platform != "ios" {
		http.Error(w, `{"error": "platform must be 'ios'"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.RegisterPushToken(req.Context(), user.ID, body.Token, body.Platform); err != nil {
		r.storeFailure(w, req, err, "push token")
		return
	}

	r.logger.Printf("push: registered %s device for user %s", body.Platform, user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushUnregister removes one of the caller's device tokens.
func (r *Router) handlePushUnregister(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body pushTokenRequest
	if !decodeBody(w, req, &body) {
		return
	}
	body.Token = strings.TrimSpace(body.Token)
	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.UnregisterPushToken(req.Context(), user.ID, body.Token); err != nil {
		r.storeFailure(w, req, err, "push token")
		return
	}

	r.logger.Printf("push: unregistered device for user %s", user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pactumai/pactum/internal/financial"
	"github.com/pactumai/pactum/internal/insight"
	"github.com/pactumai/pactum/internal/store"
)

// decodeBody decodes a JSON request body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

// ============================================================================
// Profile
// ============================================================================

func (r *Router) handleGetProfile(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	p, err := r.store.GetFinancialProfile(req.Context(), user.ID)
	if err != nil {
		r.storeFailure(w, req, err, "financial profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (r *Router) handlePutProfile(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		RiskTolerance string `json:"riskTolerance"`
		MonthlyBudget string `json:"monthlyBudget"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	if !store.ValidRiskTolerance(body.RiskTolerance) {
		writeError(w, http.StatusBadRequest, "riskTolerance must be low, medium or high")
		return
	}
	if !store.ValidAmount(body.MonthlyBudget) {
		writeError(w, http.StatusBadRequest, "monthlyBudget "+store.ErrInvalidAmount.Error())
		return
	}

	p, err := r.store.UpsertFinancialProfile(req.Context(), user.ID, body.RiskTolerance, body.MonthlyBudget)
	if err != nil {
		r.storeFailure(w, req, err, "financial profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ============================================================================
// Goals
// ============================================================================

func (r *Router) handleListGoals(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	goals, err := r.store.ListGoals(req.Context(), user.ID)
	if err != nil {
		r.storeFailure(w, req, err, "goals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": goals})
}

func (r *Router) handleCreateGoal(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Title         string     `json:"title"`
		TargetAmount  string     `json:"targetAmount"`
		CurrentAmount string     `json:"currentAmount"`
		Deadline      *time.Time `json:"deadline"`
		Status        string     `json:"status"`
		MeetingID     *string    `json:"meetingId"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	body.Title = strings.TrimSpace(body.Title)
	if body.Title == "" || len(body.Title) > maxNameLength {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if body.Status != "" && !store.ValidGoalStatus(body.Status) {
		writeError(w, http.StatusBadRequest, "invalid goal status")
		return
	}

	g, err := r.store.CreateGoal(req.Context(), store.FinancialGoal{
		UserID:        user.ID,
		MeetingID:     body.MeetingID,
		Title:         body.Title,
		TargetAmount:  body.TargetAmount,
		CurrentAmount: body.CurrentAmount,
		Deadline:      body.Deadline,
		Status:        body.Status,
	})
	if errors.Is(err, store.ErrInvalidAmount) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		r.storeFailure(w, req, err, "meeting")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (r *Router) handleUpdateGoal(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var u store.GoalUpdate
	if !decodeBody(w, req, &u) {
		return
	}
	if u.Title != nil {
		t := strings.TrimSpace(*u.Title)
		if t == "" || len(t) > maxNameLength {
			writeError(w, http.StatusBadRequest, "title must not be empty")
			return
		}
		u.Title = &t
	}
	if u.Status != nil && !store.ValidGoalStatus(*u.Status) {
		writeError(w, http.StatusBadRequest, "invalid goal status")
		return
	}

	g, err := r.store.UpdateGoal(req.Context(), user.ID, req.PathValue("id"), u)
	if errors.Is(err, store.ErrInvalidAmount) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		r.storeFailure(w, req, err, "goal")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (r *Router) handleDeleteGoal(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if err := r.store.DeleteGoal(req.Context(), user.ID, req.PathValue("id")); err != nil {
		r.storeFailure(w, req, err, "goal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Insights
// ============================================================================

// handleGenerateInsight runs keyword extraction over a meeting transcript.
func (r *Router) handleGenerateInsight(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		MeetingID  string  `json:"meetingId"`
		Transcript *string `json:"transcript"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	if body.MeetingID == "" {
		writeError(w, http.StatusBadRequest, "meetingId is required")
		return
	}

	fi, err := r.financial.GenerateInsight(req.Context(), user.ID, body.MeetingID, body.Transcript)
	if err != nil {
		r.financialFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, fi)
}

// handleGetInsight returns the newest insight of a meeting.
func (r *Router) handleGetInsight(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	meetingID := req.URL.Query().Get("meetingId")
	if meetingID == "" {
		writeError(w, http.StatusBadRequest, "meetingId is required")
		return
	}

	fi, err := r.financial.LatestInsight(req.Context(), user.ID, meetingID)
	if err != nil {
		r.financialFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, fi)
}

func (r *Router) handleInsightHistory(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	meetingID := req.URL.Query().Get("meetingId")
	if meetingID == "" {
		writeError(w, http.StatusBadRequest, "meetingId is required")
		return
	}

	items, err := r.financial.ListInsights(req.Context(), user.ID, meetingID)
	if err != nil {
		r.financialFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type taxonomyTopic struct {
	ID       string   `json:"id"`
	Keywords []string `json:"keywords"`
}

func (r *Router) handleTaxonomy(w http.ResponseWriter, _ *http.Request) {
	tax := insight.Taxonomy()
	topics := make([]taxonomyTopic, len(tax))
	for i, t := range tax {
		topics[i] = taxonomyTopic{ID: t.ID, Keywords: t.Keywords}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func (r *Router) financialFailure(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, financial.ErrNotFound):
		writeError(w, http.StatusNotFound, "insight or meeting not found")
	case errors.Is(err, financial.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, financial.ErrUnprocessable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		r.logger.Printf("financial: %s %s: %v", req.Method, req.URL.Path, err)
		captureError(req, err, "financial request failed")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/pactumai/pactum/internal/eventlog"
	"github.com/pactumai/pactum/internal/financial"
	"github.com/pactumai/pactum/internal/knowledge"
	"github.com/pactumai/pactum/internal/store"
)

type RouterConfig struct {
	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Browser origins allowed to open the live call stream; empty allows any.
	AllowedOrigins []string
}

// Services are the collaborators the router dispatches to.
type Services struct {
	EventLog  *eventlog.Logger
	Financial *financial.Service
	Knowledge *knowledge.Service
	Sessions  *SessionRegistry
}

type Router struct {
	cfg       RouterConfig
	logger    *log.Logger
	store     *store.Store
	eventLog  *eventlog.Logger
	financial *financial.Service
	knowledge *knowledge.Service
	sessions  *SessionRegistry
	mux       *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, svc Services) http.Handler {
	r := &Router{
		cfg:       cfg,
		logger:    logger,
		store:     s,
		eventLog:  svc.EventLog,
		financial: svc.Financial,
		knowledge: svc.Knowledge,
		sessions:  svc.Sessions,
		mux:       http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Auth endpoints; sign-in itself happens in the identity service
	r.mux.HandleFunc("POST /api/auth/refresh", r.handleRefreshToken)
	r.mux.HandleFunc("POST /api/auth/logout", r.withAuth(r.handleLogout))
	r.mux.HandleFunc("GET /api/me", r.withAuth(r.handleGetMe))

	// Agents
	r.mux.HandleFunc("GET /api/agents", r.withAuth(r.handleListAgents))
	r.mux.HandleFunc("POST /api/agents", r.withAuth(r.handleCreateAgent))
	r.mux.HandleFunc("GET /api/agents/{id}", r.withAuth(r.handleGetAgent))
	r.mux.HandleFunc("PATCH /api/agents/{id}", r.withAuth(r.handleUpdateAgent))
	r.mux.HandleFunc("DELETE /api/agents/{id}", r.withAuth(r.handleDeleteAgent))

	// Agent knowledge base
	r.mux.HandleFunc("POST /api/agents/{id}/knowledge", r.withAuth(r.handleIngestKnowledge))
	r.mux.HandleFunc("POST /api/agents/{id}/ask", r.withAuth(r.handleAskKnowledge))

	// Meetings
	r.mux.HandleFunc("GET /api/meetings", r.withAuth(r.handleListMeetings))
	r.mux.HandleFunc("POST /api/meetings", r.withAuth(r.handleCreateMeeting))
	r.mux.HandleFunc("GET /api/meetings/{id}", r.withAuth(r.handleGetMeeting))
	r.mux.HandleFunc("PATCH /api/meetings/{id}", r.withAuth(r.handleUpdateMeeting))
	r.mux.HandleFunc("DELETE /api/meetings/{id}", r.withAuth(r.handleDeleteMeeting))
	r.mux.HandleFunc("GET /api/meetings/{id}/events", r.withAuth(r.handleListMeetingEvents))

	// Live call
	r.mux.HandleFunc("GET /api/meetings/{id}/call", r.withAuth(r.handleCallSnapshot))
	r.mux.HandleFunc("POST /api/meetings/{id}/call/start", r.withAuth(r.handleCallStart))
	r.mux.HandleFunc("POST /api/meetings/{id}/call/end", r.withAuth(r.handleCallEnd))
	r.mux.HandleFunc("POST /api/meetings/{id}/call/mute", r.withAuth(r.handleCallMute))
	r.mux.HandleFunc("POST /api/meetings/{id}/call/restart", r.withAuth(r.handleCallRestart))
	r.mux.HandleFunc("GET /api/meetings/{id}/call/ws", r.withAuth(r.handleCallWS))

	// Financial
	r.mux.HandleFunc("GET /api/financial/profile", r.withAuth(r.handleGetProfile))
	r.mux.HandleFunc("PUT /api/financial/profile", r.withAuth(r.handlePutProfile))
	r.mux.HandleFunc("GET /api/financial/goals", r.withAuth(r.handleListGoals))
	r.mux.HandleFunc("POST /api/financial/goals", r.withAuth(r.handleCreateGoal))
	r.mux.HandleFunc("PATCH /api/financial/goals/{id}", r.withAuth(r.handleUpdateGoal))
	r.mux.HandleFunc("DELETE /api/financial/goals/{id}", r.withAuth(r.handleDeleteGoal))
	r.mux.HandleFunc("POST /api/financial/insights", r.withAuth(r.handleGenerateInsight))
	r.mux.HandleFunc("GET /api/financial/insights", r.withAuth(r.handleGetInsight))
	r.mux.HandleFunc("GET /api/financial/insights/history", r.withAuth(r.handleInsightHistory))
	r.mux.HandleFunc("GET /api/financial/taxonomy", r.withAuth(r.handleTaxonomy))

	// Push notifications
	r.mux.HandleFunc("POST /api/push/tokens", r.withAuth(r.handlePushRegister))
	r.mux.HandleFunc("DELETE /api/push/tokens", r.withAuth(r.handlePushUnregister))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz fails while live calls are being drained for shutdown.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions != nil && r.sessions.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeFailure answers a store error: 404 for ErrNotFound, 500 otherwise.
func (r *Router) storeFailure(w http.ResponseWriter, req *http.Request, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	r.logger.Printf("api: %s %s: %v", req.Method, req.URL.Path, err)
	captureError(req, err, what)
	http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
}

// pageFromQuery reads page and pageSize query parameters.
func pageFromQuery(req *http.Request) store.Page {
	q := req.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))
	return store.Page{Page: page, PageSize: size}.Normalize()
}

type pageResponse[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

func newPageResponse[T any](items []T, total int, p store.Page) pageResponse[T] {
	return pageResponse[T]{
		Items:      items,
		Total:      total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages(total),
	}
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context.
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

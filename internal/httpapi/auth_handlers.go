package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pactumai/pactum/internal/store"
)

// Context key for user data.
type contextKey string

const userContextKey contextKey = "user"

// JWTClaims represents the claims in the JWT token.
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// AuthUser represents the authenticated user in request context.
type AuthUser struct {
	ID    string
	Name  string
	Email string
}

// hashToken creates a SHA256 hash of the token for storage.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// bearerToken returns the request's token. Browsers cannot set headers on a
// WebSocket handshake, so upgrade requests may pass access_token instead.
func bearerToken(req *http.Request) (string, error) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		if t := req.URL.Query().Get("access_token"); t != "" && strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
			return t, nil
		}
		return "", errors.New("missing authorization header")
	}

	// Expect "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization format")
	}
	return parts[1], nil
}

func (r *Router) parseToken(tokenString string, opts ...jwt.ParserOption) (*jwt.Token, error) {
	return jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	}, opts...)
}

// withAuth is middleware that requires valid JWT authentication.
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tokenString, err := bearerToken(req)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		token, err := r.parseToken(tokenString)
		if err != nil || !token.Valid {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok || claims.UserID == "" {
			http.Error(w, `{"error": "invalid token claims"}`, http.StatusUnauthorized)
			return
		}

		// Check if session is valid (not revoked)
		valid, err := r.store.IsSessionValid(req.Context(), hashToken(tokenString))
		if err != nil || !valid {
			http.Error(w, `{"error": "session expired or revoked"}`, http.StatusUnauthorized)
			return
		}

		user := &AuthUser{
			ID:    claims.UserID,
			Name:  claims.Name,
			Email: claims.Email,
		}
		ctx := context.WithValue(req.Context(), userContextKey, user)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// getAuthUser extracts the authenticated user from context.
func getAuthUser(ctx context.Context) *AuthUser {
	user, _ := ctx.Value(userContextKey).(*AuthUser)
	return user
}

// generateJWT creates a new JWT token for a user.
func (r *Router) generateJWT(user *store.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(r.cfg.JWTExpiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// handleRefreshToken issues a new JWT token.
func (r *Router) handleRefreshToken(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Token == "" {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	// Allow expired tokens (we're refreshing) but reject other errors
	token, err := r.parseToken(body.Token, jwt.WithExpirationRequired())
	if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
		return
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || claims.UserID == "" {
		http.Error(w, `{"error": "invalid token claims"}`, http.StatusUnauthorized)
		return
	}

	// Check if old session is still valid (not revoked)
	oldTokenHash := hashToken(body.Token)
	valid, err := r.store.IsSessionValid(req.Context(), oldTokenHash)
	if err != nil || !valid {
		http.Error(w, `{"error": "session revoked"}`, http.StatusUnauthorized)
		return
	}

	user, err := r.store.GetUserByID(req.Context(), claims.UserID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusUnauthorized)
		return
	}

	newToken, expiresAt, err := r.generateJWT(user)
	if err != nil {
		http.Error(w, `{"error": "failed to create session"}`, http.StatusInternalServerError)
		return
	}

	// Revoke old session and create new one
	_ = r.store.RevokeSession(req.Context(), oldTokenHash)
	if err := r.store.CreateSession(req.Context(), user.ID, hashToken(newToken), expiresAt); err != nil {
		r.logger.Printf("auth: failed to store session: %v", err)
		http.Error(w, `{"error": "failed to create session"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      newToken,
		"expires_at": expiresAt.Format(time.RFC3339),
		"user":       user,
	})
}

// handleLogout revokes the current session.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if tokenString, err := bearerToken(req); err == nil {
		_ = r.store.RevokeSession(req.Context(), hashToken(tokenString))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetMe returns the current user's data.
func (r *Router) handleGetMe(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	user, err := r.store.GetUserByID(req.Context(), authUser.ID)
	if err != nil {
		r.storeFailure(w, req, err, "user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a row does not exist or is not owned by the caller.
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// notFound maps pgx.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page selects one page of a list query.
type Page struct {
	Page     int
	PageSize int
}

// Normalize clamps the page to valid bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Page) limitOffset() (int, int) {
	p = p.Normalize()
	return p.PageSize, (p.Page - 1) * p.PageSize
}

// TotalPages returns the number of pages for total rows.
func (p Page) TotalPages(total int) int {
	p = p.Normalize()
	if total == 0 {
		return 0
	}
	return (total + p.PageSize - 1) / p.PageSize
}

// User is an authenticated account. Accounts are created by the sign-in service.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserSession represents a JWT session for logout/invalidation
type UserSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"token_hash"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ============================================================================
// User operations
// ============================================================================

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// ============================================================================
// Session operations
// ============================================================================

// CreateSession creates a new user session.
func (s *Store) CreateSession(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, tokenHash, expiresAt)
	return err
}

// RevokeSession revokes a session by token hash.
func (s *Store) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE user_sessions SET revoked_at = NOW() WHERE token_hash = $1
	`, tokenHash)
	return err
}

// IsSessionValid checks if a session is valid (not revoked and not expired).
func (s *Store) IsSessionValid(ctx context.Context, tokenHash string) (bool, error) {
	var valid bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_sessions
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
		)
	`, tokenHash).Scan(&valid)
	return valid, err
}

// ============================================================================
// Agent operations
// ============================================================================

// Agent is a configured voice assistant owned by a user.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	UserID       string    `json:"user_id"`
	Instructions string    `json:"instructions"`
	MeetingCount int       `json:"meeting_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AgentUpdate holds optional agent fields.
type AgentUpdate struct {
	Name         *string `json:"name,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
}

// CreateAgent inserts a new agent for userID.
func (s *Store) CreateAgent(ctx context.Context, userID, name, instructions string) (*Agent, error) {
	var a Agent
	err := s.db.QueryRow(ctx, `
		INSERT INTO agents (id, name, user_id, instructions)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, user_id, instructions, created_at, updated_at
	`, uuid.NewString(), name, userID, instructions).Scan(
		&a.ID, &a.Name, &a.UserID, &a.Instructions, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgent returns an agent owned by userID.
func (s *Store) GetAgent(ctx context.Context, userID, id string) (*Agent, error) {
	var a Agent
	err := s.db.QueryRow(ctx, `
		SELECT a.id, a.name, a.user_id, a.instructions,
		       (SELECT COUNT(*) FROM meetings m WHERE m.agent_id = a.id),
		       a.created_at, a.updated_at
		FROM agents a
		WHERE a.id = $1 AND a.user_id = $2
	`, id, userID).Scan(
		&a.ID, &a.Name, &a.UserID, &a.Instructions, &a.MeetingCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// ListAgents returns a page of agents owned by userID, optionally filtered by name.
func (s *Store) ListAgents(ctx context.Context, userID, search string, page Page) ([]Agent, int, error) {
	limit, offset := page.limitOffset()
	rows, err := s.db.Query(ctx, `
		SELECT a.id, a.name, a.user_id, a.instructions,
		       (SELECT COUNT(*) FROM meetings m WHERE m.agent_id = a.id),
		       a.created_at, a.updated_at,
		       COUNT(*) OVER()
		FROM agents a
		WHERE a.user_id = $1
		  AND ($2::text = '' OR a.name ILIKE '%' || $2::text || '%')
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $3 OFFSET $4
	`, userID, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	agents := []Agent{}
	total := 0
	for rows.Next() {
		var a Agent
		if err := rows.Scan(
			&a.ID, &a.Name, &a.UserID, &a.Instructions, &a.MeetingCount,
			&a.CreatedAt, &a.UpdatedAt, &total,
		); err != nil {
			return nil, 0, err
		}
		agents = append(agents, a)
	}
	return agents, total, rows.Err()
}

// UpdateAgent applies the non-nil fields of u.
func (s *Store) UpdateAgent(ctx context.Context, userID, id string, u AgentUpdate) (*Agent, error) {
	var a Agent
	err := s.db.QueryRow(ctx, `
		UPDATE agents
		SET name = COALESCE($3, name),
		    instructions = COALESCE($4, instructions),
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING id, name, user_id, instructions, created_at, updated_at
	`, id, userID, u.Name, u.Instructions).Scan(
		&a.ID, &a.Name, &a.UserID, &a.Instructions, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// DeleteAgent removes an agent and, by cascade, its meetings.
func (s *Store) DeleteAgent(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM agents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

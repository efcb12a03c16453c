package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pactumai/pactum/internal/insight"
)

var (
	ErrConfidenceOutOfRange = errors.New("confidence must be between 0 and 1")
	ErrInvalidAmount        = errors.New("amount must be a decimal with at most two fractional digits")
)

var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// ValidAmount reports whether s is a non-negative decimal with up to two fractional digits.
func ValidAmount(s string) bool {
	return amountPattern.MatchString(s)
}

// ValidRiskTolerance reports whether r is low, medium or high.
func ValidRiskTolerance(r string) bool {
	return r == "low" || r == "medium" || r == "high"
}

// Goal statuses.
const (
	GoalPending    = "pending"
	GoalInProgress = "in_progress"
	GoalCompleted  = "completed"
)

// ValidGoalStatus reports whether s is a known goal status.
func ValidGoalStatus(s string) bool {
	return s == GoalPending || s == GoalInProgress || s == GoalCompleted
}

// FormatConfidence renders a confidence score as the stored decimal string.
// Values outside [0,1] are rejected, never truncated.
func FormatConfidence(c float64) (string, error) {
	if c != c || c < 0 || c > 1 {
		return "", fmt.Errorf("%w: got %v", ErrConfidenceOutOfRange, c)
	}
	return strconv.FormatFloat(c, 'f', 4, 64), nil
}

// ============================================================================
// Financial profile operations
// ============================================================================

// FinancialProfile is a user's risk tolerance and monthly budget.
type FinancialProfile struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	RiskTolerance string    `json:"risk_tolerance"`
	MonthlyBudget string    `json:"monthly_budget"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GetFinancialProfile returns the user's profile.
func (s *Store) GetFinancialProfile(ctx context.Context, userID string) (*FinancialProfile, error) {
	var p FinancialProfile
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, risk_tolerance, monthly_budget::text, created_at, updated_at
		FROM financial_profiles
		WHERE user_id = $1
	`, userID).Scan(&p.ID, &p.UserID, &p.RiskTolerance, &p.MonthlyBudget, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// UpsertFinancialProfile creates or replaces the user's profile.
func (s *Store) UpsertFinancialProfile(ctx context.Context, userID, riskTolerance, monthlyBudget string) (*FinancialProfile, error) {
	if !ValidAmount(monthlyBudget) {
		return nil, ErrInvalidAmount
	}
	var p FinancialProfile
	err := s.db.QueryRow(ctx, `
		INSERT INTO financial_profiles (user_id, risk_tolerance, monthly_budget)
		VALUES ($1, $2, $3::text::numeric)
		ON CONFLICT (user_id) DO UPDATE SET
			risk_tolerance = EXCLUDED.risk_tolerance,
			monthly_budget = EXCLUDED.monthly_budget,
			updated_at = NOW()
		RETURNING id, user_id, risk_tolerance, monthly_budget::text, created_at, updated_at
	`, userID, riskTolerance, monthlyBudget).Scan(
		&p.ID, &p.UserID, &p.RiskTolerance, &p.MonthlyBudget, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ============================================================================
// Financial goal operations
// ============================================================================

// FinancialGoal is a savings or spending target.
type FinancialGoal struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	MeetingID     *string    `json:"meeting_id,omitempty"`
	Title         string     `json:"title"`
	TargetAmount  string     `json:"target_amount"`
	CurrentAmount string     `json:"current_amount"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// GoalUpdate holds optional goal fields.
type GoalUpdate struct {
	Title         *string    `json:"title,omitempty"`
	TargetAmount  *string    `json:"targetAmount,omitempty"`
	CurrentAmount *string    `json:"currentAmount,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Status        *string    `json:"status,omitempty"`
}

const goalColumns = `id, user_id, meeting_id, title, target_amount::text, current_amount::text, deadline, status, created_at, updated_at`

func scanGoal(row rowScanner) (*FinancialGoal, error) {
	var g FinancialGoal
	if err := row.Scan(
		&g.ID, &g.UserID, &g.MeetingID, &g.Title, &g.TargetAmount, &g.CurrentAmount,
		&g.Deadline, &g.Status, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGoals returns the user's goals, newest first.
func (s *Store) ListGoals(ctx context.Context, userID string) ([]FinancialGoal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+goalColumns+`
		FROM financial_goals
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	goals := []FinancialGoal{}
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

// CreateGoal inserts a goal. An empty CurrentAmount defaults to 0 and an empty
// Status to pending. A meeting reference must belong to the same user.
func (s *Store) CreateGoal(ctx context.Context, g FinancialGoal) (*FinancialGoal, error) {
	if g.CurrentAmount == "" {
		g.CurrentAmount = "0"
	}
	if g.Status == "" {
		g.Status = GoalPending
	}
	if !ValidAmount(g.TargetAmount) || !ValidAmount(g.CurrentAmount) {
		return nil, ErrInvalidAmount
	}
	if g.MeetingID != nil {
		if _, err := s.GetMeeting(ctx, g.UserID, *g.MeetingID); err != nil {
			return nil, err
		}
	}
	return scanGoal(s.db.QueryRow(ctx, `
		INSERT INTO financial_goals (user_id, meeting_id, title, target_amount, current_amount, deadline, status)
		VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6, $7)
		RETURNING `+goalColumns,
		g.UserID, g.MeetingID, g.Title, g.TargetAmount, g.CurrentAmount, g.Deadline, g.Status,
	))
}

// UpdateGoal applies the non-nil fields of u.
func (s *Store) UpdateGoal(ctx context.Context, userID, id string, u GoalUpdate) (*FinancialGoal, error) {
	if (u.TargetAmount != nil && !ValidAmount(*u.TargetAmount)) ||
		(u.CurrentAmount != nil && !ValidAmount(*u.CurrentAmount)) {
		return nil, ErrInvalidAmount
	}
	g, err := scanGoal(s.db.QueryRow(ctx, `
		UPDATE financial_goals
		SET title = COALESCE($3, title),
		    target_amount = COALESCE($4::text::numeric, target_amount),
		    current_amount = COALESCE($5::text::numeric, current_amount),
		    deadline = COALESCE($6, deadline),
		    status = COALESCE($7, status),
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+goalColumns,
		id, userID, u.Title, u.TargetAmount, u.CurrentAmount, u.Deadline, u.Status,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return g, nil
}

// DeleteGoal removes a goal owned by userID.
func (s *Store) DeleteGoal(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM financial_goals WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Financial insight operations
// ============================================================================

// FinancialInsight is the stored result of one extraction run.
type FinancialInsight struct {
	ID             string       `json:"id"`
	MeetingID      string       `json:"meeting_id"`
	UserID         string       `json:"user_id"`
	Topics         []string     `json:"topics"`
	Hits           insight.Hits `json:"hits"`
	Confidence     string       `json:"confidence"`
	Source         string       `json:"source"`
	Checksum       string       `json:"checksum"`
	AttestationUID *string      `json:"attestation_uid,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewInsightRecord builds an unsaved record from an extraction result.
func NewInsightRecord(userID, meetingID string, res insight.Result, checksum string) (FinancialInsight, error) {
	conf, err := FormatConfidence(res.Confidence)
	if err != nil {
		return FinancialInsight{}, err
	}
	return FinancialInsight{
		MeetingID:  meetingID,
		UserID:     userID,
		Topics:     res.Topics,
		Hits:       res.Hits,
		Confidence: conf,
		Source:     res.Source,
		Checksum:   checksum,
	}, nil
}

const insightColumns = `id, meeting_id, user_id, topics, hits, confidence::text, source, checksum, attestation_uid, created_at, updated_at`

func scanInsight(row rowScanner) (*FinancialInsight, error) {
	var fi FinancialInsight
	var topics, hits []byte
	if err := row.Scan(
		&fi.ID, &fi.MeetingID, &fi.UserID, &topics, &hits, &fi.Confidence,
		&fi.Source, &fi.Checksum, &fi.AttestationUID, &fi.CreatedAt, &fi.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(topics, &fi.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	if err := json.Unmarshal(hits, &fi.Hits); err != nil {
		return nil, fmt.Errorf("decode hits: %w", err)
	}
	return &fi, nil
}

// InsertInsight stores a new insight record. Each call appends; earlier runs are kept.
func (s *Store) InsertInsight(ctx context.Context, fi FinancialInsight) (*FinancialInsight, error) {
	conf, err := strconv.ParseFloat(fi.Confidence, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrConfidenceOutOfRange, fi.Confidence)
	}
	if fi.Confidence, err = FormatConfidence(conf); err != nil {
		return nil, err
	}
	if fi.Topics == nil {
		fi.Topics = []string{}
	}
	topics, err := json.Marshal(fi.Topics)
	if err != nil {
		return nil, err
	}
	hits, err := json.Marshal(fi.Hits)
	if err != nil {
		return nil, err
	}
	return scanInsight(s.db.QueryRow(ctx, `
		INSERT INTO financial_insights (meeting_id, user_id, topics, hits, confidence, source, checksum)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7)
		RETURNING `+insightColumns,
		fi.MeetingID, fi.UserID, topics, hits, fi.Confidence, fi.Source, fi.Checksum,
	))
}

// SetInsightAttestation records the attestation UID on an insight.
func (s *Store) SetInsightAttestation(ctx context.Context, insightID, uid string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE financial_insights
		SET attestation_uid = $2, updated_at = NOW()
		WHERE id = $1
	`, insightID, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetLatestInsight returns the newest insight for a meeting owned by userID.
func (s *Store) GetLatestInsight(ctx context.Context, userID, meetingID string) (*FinancialInsight, error) {
	fi, err := scanInsight(s.db.QueryRow(ctx, `
		SELECT `+insightColumns+`
		FROM financial_insights
		WHERE meeting_id = $1 AND user_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, meetingID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return fi, nil
}

// ListInsights returns every insight run for a meeting, newest first.
func (s *Store) ListInsights(ctx context.Context, userID, meetingID string) ([]FinancialInsight, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+insightColumns+`
		FROM financial_insights
		WHERE meeting_id = $1 AND user_id = $2
		ORDER BY created_at DESC, id DESC
	`, meetingID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	insights := []FinancialInsight{}
	for rows.Next() {
		fi, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, *fi)
	}
	return insights, rows.Err()
}

// ============================================================================
// Attestation operations
// ============================================================================

// Attestation is the on-chain record backing an insight.
type Attestation struct {
	ID                 string    `json:"id"`
	UID                string    `json:"uid"`
	MeetingID          string    `json:"meeting_id"`
	FinancialInsightID string    `json:"financial_insight_id"`
	Type               string    `json:"type"`
	Network            string    `json:"network"`
	Recipient          string    `json:"recipient"`
	Revocable          bool      `json:"revocable"`
	TxHash             *string   `json:"tx_hash,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// InsertAttestation stores an attestation. Type and Network default when empty.
func (s *Store) InsertAttestation(ctx context.Context, a Attestation) (*Attestation, error) {
	if a.Type == "" {
		a.Type = "financial_insight"
	}
	if a.Network == "" {
		a.Network = "sepolia"
	}
	var out Attestation
	err := s.db.QueryRow(ctx, `
		INSERT INTO attestations (uid, meeting_id, financial_insight_id, type, network, recipient, revocable, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, uid, meeting_id, financial_insight_id, type, network, recipient, revocable, tx_hash, created_at
	`, a.UID, a.MeetingID, a.FinancialInsightID, a.Type, a.Network, a.Recipient, a.Revocable, a.TxHash).Scan(
		&out.ID, &out.UID, &out.MeetingID, &out.FinancialInsightID, &out.Type, &out.Network,
		&out.Recipient, &out.Revocable, &out.TxHash, &out.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

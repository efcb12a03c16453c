package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Meeting statuses.
const (
	MeetingUpcoming   = "upcoming"
	MeetingActive     = "active"
	MeetingCompleted  = "completed"
	MeetingProcessing = "processing"
	MeetingCancelled  = "cancelled"
)

// ValidMeetingStatus reports whether status is a known meeting status.
func ValidMeetingStatus(status string) bool {
	switch status {
	case MeetingUpcoming, MeetingActive, MeetingCompleted, MeetingProcessing, MeetingCancelled:
		return true
	}
	return false
}

// Meeting is a scheduled or finished voice session with an agent.
type Meeting struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	UserID          string     `json:"user_id"`
	AgentID         string     `json:"agent_id"`
	AgentName       string     `json:"agent_name"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	TranscriptURL   *string    `json:"transcript_url,omitempty"`
	RecordingURL    *string    `json:"recording_url,omitempty"`
	Summary         *string    `json:"summary,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// MeetingFilter narrows ListMeetings.
type MeetingFilter struct {
	Search  string
	Status  string
	AgentID string
	Page    Page
}

// MeetingUpdate holds optional meeting fields.
type MeetingUpdate struct {
	Name          *string `json:"name,omitempty"`
	AgentID       *string `json:"agentId,omitempty"`
	Status        *string `json:"status,omitempty"`
	Summary       *string `json:"summary,omitempty"`
	TranscriptURL *string `json:"transcriptUrl,omitempty"`
	RecordingURL  *string `json:"recordingUrl,omitempty"`
}

const meetingColumns = `
	m.id, m.name, m.user_id, m.agent_id, a.name, m.status,
	m.started_at, m.ended_at, m.transcript_url, m.recording_url, m.summary,
	EXTRACT(EPOCH FROM (m.ended_at - m.started_at))::float8,
	m.created_at, m.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner, extra ...any) (*Meeting, error) {
	var m Meeting
	dest := []any{
		&m.ID, &m.Name, &m.UserID, &m.AgentID, &m.AgentName, &m.Status,
		&m.StartedAt, &m.EndedAt, &m.TranscriptURL, &m.RecordingURL, &m.Summary,
		&m.DurationSeconds, &m.CreatedAt, &m.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMeeting inserts an upcoming meeting. The agent must belong to userID.
func (s *Store) CreateMeeting(ctx context.Context, userID, name, agentID string) (*Meeting, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO meetings (id, name, user_id, agent_id)
		SELECT $1, $2, $3, a.id FROM agents a WHERE a.id = $4 AND a.user_id = $3
		RETURNING id
	`, uuid.NewString(), name, userID, agentID).Scan(&id)
	if err != nil {
		return nil, notFound(err)
	}
	return s.GetMeeting(ctx, userID, id)
}

// GetMeeting returns a meeting owned by userID.
func (s *Store) GetMeeting(ctx context.Context, userID, id string) (*Meeting, error) {
	m, err := scanMeeting(s.db.QueryRow(ctx, `
		SELECT `+meetingColumns+`
		FROM meetings m
		JOIN agents a ON a.id = m.agent_id
		WHERE m.id = $1 AND m.user_id = $2
	`, id, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// ListMeetings returns a page of meetings owned by userID, newest first.
func (s *Store) ListMeetings(ctx context.Context, userID string, f MeetingFilter) ([]Meeting, int, error) {
	limit, offset := f.Page.limitOffset()
	rows, err := s.db.Query(ctx, `
		SELECT `+meetingColumns+`, COUNT(*) OVER()
		FROM meetings m
		JOIN agents a ON a.id = m.agent_id
		WHERE m.user_id = $1
		  AND ($2::text = '' OR m.name ILIKE '%' || $2::text || '%')
		  AND ($3::text = '' OR m.status = $3::text)
		  AND ($4::text = '' OR m.agent_id = $4::text)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $5 OFFSET $6
	`, userID, f.Search, f.Status, f.AgentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	meetings := []Meeting{}
	total := 0
	for rows.Next() {
		m, err := scanMeeting(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		meetings = append(meetings, *m)
	}
	return meetings, total, rows.Err()
}

// UpdateMeeting applies the non-nil fields of u. A new agent must belong to userID.
func (s *Store) UpdateMeeting(ctx context.Context, userID, id string, u MeetingUpdate) (*Meeting, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE meetings m
		SET name = COALESCE($3, m.name),
		    agent_id = COALESCE($4, m.agent_id),
		    status = COALESCE($5, m.status),
		    summary = COALESCE($6, m.summary),
		    transcript_url = COALESCE($7, m.transcript_url),
		    recording_url = COALESCE($8, m.recording_url),
		    updated_at = NOW()
		WHERE m.id = $1 AND m.user_id = $2
		  AND ($4::text IS NULL OR EXISTS (
		      SELECT 1 FROM agents a WHERE a.id = $4::text AND a.user_id = $2))
	`, id, userID, u.Name, u.AgentID, u.Status, u.Summary, u.TranscriptURL, u.RecordingURL)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetMeeting(ctx, userID, id)
}

// DeleteMeeting removes a meeting owned by userID.
func (s *Store) DeleteMeeting(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM meetings WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMeetingActive records that a call connected.
func (s *Store) MarkMeetingActive(ctx context.Context, meetingID string, startedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE meetings
		SET status = 'active', started_at = $2, updated_at = NOW()
		WHERE id = $1
	`, meetingID, startedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteMeeting stores the transcript summary of a finished call.
func (s *Store) CompleteMeeting(ctx context.Context, meetingID string, endedAt time.Time, summary string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE meetings
		SET status = 'completed', ended_at = $2, summary = $3, updated_at = NOW()
		WHERE id = $1
	`, meetingID, endedAt, summary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StaleMeeting is an active meeting that has not been updated in a while.
type StaleMeeting struct {
	ID        string
	UserID    string
	StartedAt *time.Time
}

// ListStaleActiveMeetings returns active meetings started before cutoff.
func (s *Store) ListStaleActiveMeetings(ctx context.Context, cutoff time.Time, limit int) ([]StaleMeeting, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, started_at
		FROM meetings
		WHERE status = 'active' AND COALESCE(started_at, updated_at) < $1
		ORDER BY started_at ASC NULLS FIRST
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meetings []StaleMeeting
	for rows.Next() {
		var m StaleMeeting
		if err := rows.Scan(&m.ID, &m.UserID, &m.StartedAt); err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// CancelActiveMeeting marks a still-active meeting cancelled. It reports false
// if the meeting changed state in the meantime.
func (s *Store) CancelActiveMeeting(ctx context.Context, meetingID string, endedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE meetings
		SET status = 'cancelled', ended_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, meetingID, endedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

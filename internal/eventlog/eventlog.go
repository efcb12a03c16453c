package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of meeting event
type EventType string

const (
	EventCallConnecting     EventType = "call_connecting"
	EventCallStarted        EventType = "call_started"
	EventTranscriptLine     EventType = "transcript_line"
	EventCallMuted          EventType = "call_muted"
	EventCallEnded          EventType = "call_ended"
	EventCallHangup         EventType = "call_hangup"
	EventTransportError     EventType = "transport_error"
	EventPersistenceFailed  EventType = "persistence_failed"
	EventInsightGenerated   EventType = "insight_generated"
	EventAttestationSkipped EventType = "attestation_skipped"
	EventAttestationFailed  EventType = "attestation_failed"
	EventAttestationDone    EventType = "attestation_recorded"
	EventMeetingSwept       EventType = "meeting_swept"
)

// Logger writes meeting events to the database
type Logger struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db, timeout: 2 * time.Second}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, meetingID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || meetingID == "" {
		return nil
	}

	dataJSON, err := json.Marshal(data)
	if err != nil || data == nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO meeting_events (meeting_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, meetingID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(meetingID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || meetingID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		_ = l.Log(ctx, meetingID, eventType, data)
	}()
}

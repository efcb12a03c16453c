package store

import (
	"context"
	"encoding/json"
	"time"
)

// MeetingEvent represents a logged event for a meeting
type MeetingEvent struct {
	ID        string          `json:"id"`
	MeetingID string          `json:"meeting_id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListMeetingEvents retrieves events for a meeting owned by userID, oldest first.
func (s *Store) ListMeetingEvents(ctx context.Context, userID, meetingID string, limit int) ([]MeetingEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT e.id, e.meeting_id, e.event_type, e.event_data, e.created_at
		FROM meeting_events e
		JOIN meetings m ON m.id = e.meeting_id
		WHERE e.meeting_id = $1 AND m.user_id = $2
		ORDER BY e.created_at ASC
		LIMIT $3
	`, meetingID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []MeetingEvent{}
	for rows.Next() {
		var e MeetingEvent
		var eventData []byte
		if err := rows.Scan(&e.ID, &e.MeetingID, &e.EventType, &eventData, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventData = json.RawMessage(eventData)
		events = append(events, e)
	}
	return events, rows.Err()
}

package callsession

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidState = errors.New("call session: invalid state for this action")
	ErrNoActiveCall = errors.New("call session: no active call")
	ErrTransport    = errors.New("call session: transport error")
)

// State is the lifecycle state of a call session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
)

// Speaker identifies who said a transcript line.
type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerUser  Speaker = "user"
)

// Line is one finalized transcript segment.
type Line struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// String renders the line the way it is stored in the meeting summary.
func (l Line) String() string {
	if l.Speaker == SpeakerAgent {
		return "Agent: " + l.Text
	}
	return "You: " + l.Text
}

// JoinLines builds the meeting summary from transcript lines.
func JoinLines(lines []Line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	return strings.Join(parts, "\n")
}

// EventType discriminates transport events.
type EventType string

const (
	EventCallStart   EventType = "call-start"
	EventCallEnd     EventType = "call-end"
	EventSpeechStart EventType = "speech-start"
	EventSpeechEnd   EventType = "speech-end"
	EventMessage     EventType = "message"
	EventVolumeLevel EventType = "volume-level"
	EventError       EventType = "error"
)

// TranscriptKind tags a transcript fragment as streaming or finalized.
type TranscriptKind string

const (
	TranscriptPartial TranscriptKind = "partial"
	TranscriptFinal   TranscriptKind = "final"
)

// Transcript is the payload of a transcript message.
type Transcript struct {
	Speaker Speaker
	Kind    TranscriptKind
	Text    string
}

// Event is delivered by the transport. Only the field matching Type is set.
type Event struct {
	Type       EventType
	Transcript *Transcript
	Volume     float64
	Err        error
}

// Metadata is sent to the voice provider when a call connects.
type Metadata struct {
	MeetingID   string `json:"meetingId"`
	MeetingName string `json:"meetingName"`
	AgentID     string `json:"agentId"`
	AgentName   string `json:"agentName"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
}

// Transport is the voice-call connection owned by a Controller.
// The same transport is reused across restarts.
type Transport interface {
	Connect(ctx context.Context, assistantID string, md Metadata) error
	Disconnect() error
	SetMuted(muted bool) error
	Events() <-chan Event
}

// MeetingStore persists call lifecycle changes on the meeting record.
type MeetingStore interface {
	MarkMeetingActive(ctx context.Context, meetingID string, startedAt time.Time) error
	CompleteMeeting(ctx context.Context, meetingID string, endedAt time.Time, summary string) error
}

// Snapshot is a point-in-time copy of session state.
type Snapshot struct {
	MeetingID     string  `json:"meetingId"`
	State         State   `json:"state"`
	Lines         []Line  `json:"lines"`
	Muted         bool    `json:"muted"`
	VolumeLevel   float64 `json:"volumeLevel"`
	AgentSpeaking bool    `json:"agentSpeaking"`
}

// Update is pushed to subscribers whenever the session changes.
type Update struct {
	Snapshot Snapshot `json:"snapshot"`
	Line     *Line    `json:"line,omitempty"`
	Notice   string   `json:"notice,omitempty"`
}

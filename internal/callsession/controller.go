// Package callsession drives a single voice call from connect to hangup.
//
// A Controller is an explicit state machine (idle, connecting, active, ended).
// Transport events and user commands are serialized on one lock and applied
// one at a time in arrival order. Meeting persistence runs on a per-session
// ordered queue so the live call never waits on the database.
package callsession

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/pactumai/pactum/internal/eventlog"
)

// EventRecorder writes the meeting audit trail.
type EventRecorder interface {
	LogAsync(meetingID string, eventType eventlog.EventType, data map[string]any)
}

// Config configures one Controller.
type Config struct {
	AssistantID    string
	Metadata       Metadata
	PersistTimeout time.Duration

	// Recorder is optional.
	Recorder EventRecorder
	// OnSummarySaved runs on the persistence queue after the summary is stored.
	OnSummarySaved func(meetingID string)
}

// Controller owns the transport and the in-memory state of one call.
type Controller struct {
	transport Transport
	store     MeetingStore
	logger    *log.Logger
	cfg       Config
	now       func() time.Time
	persist   *persistQueue

	mu       sync.Mutex
	state    State
	lines    []Line
	muted    bool
	volume   float64
	speaking bool
	subs     map[int]chan Update
	nextSub  int
	closed   bool

	// attempt identifies the current Start; End while connecting bumps it.
	attempt       int
	cancelConnect context.CancelFunc

	closeOnce sync.Once
}

// New creates an idle Controller. Call Run to start consuming transport events.
func New(transport Transport, store MeetingStore, logger *log.Logger, cfg Config) *Controller {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Controller{
		transport: transport,
		store:     store,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		persist:   newPersistQueue(cfg.PersistTimeout),
		state:     StateIdle,
		subs:      make(map[int]chan Update),
	}
}

// MeetingID returns the meeting this controller is bound to.
func (c *Controller) MeetingID() string {
	return c.cfg.Metadata.MeetingID
}

// Run applies transport events until ctx is done or the event channel closes.
func (c *Controller) Run(ctx context.Context) {
	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ev)
		}
	}
}

// Start moves an idle session to connecting and opens the transport.
// A connect failure returns the session to idle. If End runs while the
// transport is still connecting, the dial is cancelled, a connection that
// completes anyway is torn down, and Start returns ErrInvalidState.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, state)
	}
	c.state = StateConnecting
	c.lines = nil
	c.volume = 0
	c.speaking = false
	c.attempt++
	attempt := c.attempt
	connectCtx, cancel := context.WithCancel(ctx)
	c.cancelConnect = cancel
	c.publishLocked(nil, "")
	c.mu.Unlock()
	defer cancel()

	c.record(eventlog.EventCallConnecting, map[string]any{"agent_id": c.cfg.Metadata.AgentID})

	err := c.transport.Connect(connectCtx, c.cfg.AssistantID, c.cfg.Metadata)

	c.mu.Lock()
	cancelled := c.attempt != attempt
	if !cancelled {
		c.cancelConnect = nil
		if err != nil && c.state == StateConnecting {
			c.state = StateIdle
			c.publishLocked(nil, "")
		}
	}
	c.mu.Unlock()

	if cancelled {
		if err == nil {
			if derr := c.transport.Disconnect(); derr != nil {
				c.logger.Printf("callsession: disconnect after cancelled connect failed for meeting %s: %v", c.MeetingID(), derr)
			}
		}
		c.logger.Printf("callsession: call for meeting %s ended while connecting", c.MeetingID())
		return fmt.Errorf("%w: call ended while connecting", ErrInvalidState)
	}
	if err != nil {
		c.logger.Printf("callsession: connect failed for meeting %s: %v", c.MeetingID(), err)
		c.record(eventlog.EventTransportError, map[string]any{"stage": "connect", "error": err.Error()})
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// End hangs up. Ending an already ended call is a no-op.
func (c *Controller) End() error {
	var cancelConnect context.CancelFunc
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return ErrNoActiveCall
	case StateEnded:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.state = StateIdle
		c.attempt++
		cancelConnect = c.cancelConnect
		c.cancelConnect = nil
		c.publishLocked(nil, "")
		c.mu.Unlock()
	case StateActive:
		c.endLocked("hangup")
		c.mu.Unlock()
	}

	c.record(eventlog.EventCallHangup, nil)
	if cancelConnect != nil {
		// Start disconnects once the in-flight Connect returns.
		cancelConnect()
		return nil
	}
	if err := c.transport.Disconnect(); err != nil {
		c.logger.Printf("callsession: disconnect failed for meeting %s: %v", c.MeetingID(), err)
	}
	return nil
}

// Restart returns an ended session to idle with an empty transcript.
// The persisted summary of the previous call is left untouched.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEnded {
		return fmt.Errorf("%w: cannot restart from %s", ErrInvalidState, c.state)
	}
	c.state = StateIdle
	c.lines = nil
	c.muted = false
	c.volume = 0
	c.speaking = false
	c.publishLocked(nil, "")
	return nil
}

// SetMuted updates local mute state and forwards it to the transport.
// A transport rejection is logged and the local state is kept.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.publishLocked(nil, "")
	c.mu.Unlock()

	if err := c.transport.SetMuted(muted); err != nil {
		c.logger.Printf("callsession: set muted=%v failed for meeting %s: %v", muted, c.MeetingID(), err)
	}
	c.record(eventlog.EventCallMuted, map[string]any{"muted": muted})
}

// ToggleMute flips the mute state and returns the new value.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	next := !c.muted
	c.mu.Unlock()
	c.SetMuted(next)
	return next
}

// HandleEvent applies one transport event.
func (c *Controller) HandleEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case EventCallStart:
		if c.state != StateConnecting {
			c.logger.Printf("callsession: ignoring call-start in state %s for meeting %s", c.state, c.MeetingID())
			return
		}
		c.state = StateActive
		startedAt := c.now()
		meetingID := c.MeetingID()
		c.persist.push(func(ctx context.Context) {
			if err := c.store.MarkMeetingActive(ctx, meetingID, startedAt); err != nil {
				c.persistFailed("mark active", err)
			}
		})
		c.record(eventlog.EventCallStarted, map[string]any{"started_at": startedAt})
		c.publishLocked(nil, "")

	case EventCallEnd:
		switch c.state {
		case StateActive:
			c.endLocked("remote")
		case StateConnecting:
			c.state = StateIdle
			c.publishLocked(nil, "")
		}

	case EventMessage:
		t := ev.Transcript
		if t == nil || c.state != StateActive || t.Kind != TranscriptFinal {
			return
		}
		text := strings.TrimSpace(t.Text)
		if text == "" {
			return
		}
		line := Line{Speaker: t.Speaker, Text: text}
		c.lines = append(c.lines, line)
		c.record(eventlog.EventTranscriptLine, map[string]any{"speaker": string(line.Speaker), "text": line.Text})
		c.publishLocked(&line, "")

	case EventVolumeLevel:
		v := ev.Volume
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		c.volume = v
		c.publishLocked(nil, "")

	case EventSpeechStart, EventSpeechEnd:
		c.speaking = ev.Type == EventSpeechStart
		c.publishLocked(nil, "")

	case EventError:
		if c.state != StateConnecting && c.state != StateActive {
			return
		}
		msg := "unknown transport error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		c.logger.Printf("callsession: transport error in state %s for meeting %s: %s", c.state, c.MeetingID(), msg)
		c.state = StateIdle
		c.record(eventlog.EventTransportError, map[string]any{"stage": "call", "error": msg})
		c.publishLocked(nil, "")
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel of updates, primed with the current snapshot.
// Slow subscribers miss updates rather than stalling the session.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 64)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- Update{Snapshot: c.snapshotLocked()}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Close flushes pending persistence and closes all subscriptions.
// It does not disconnect the transport.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.persist.close()

		c.mu.Lock()
		c.closed = true
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
	})
}

func (c *Controller) endLocked(reason string) {
	c.state = StateEnded
	c.speaking = false
	c.volume = 0

	lines := append([]Line(nil), c.lines...)
	summary := JoinLines(lines)
	endedAt := c.now()
	meetingID := c.MeetingID()

	c.persist.push(func(ctx context.Context) {
		if err := c.store.CompleteMeeting(ctx, meetingID, endedAt, summary); err != nil {
			c.persistFailed("save summary", err)
			return
		}
		if c.cfg.OnSummarySaved != nil {
			c.cfg.OnSummarySaved(meetingID)
		}
	})
	c.record(eventlog.EventCallEnded, map[string]any{"reason": reason, "lines": len(lines)})
	c.publishLocked(nil, "")
}

// persistFailed runs on the persistence queue, never under c.mu.
func (c *Controller) persistFailed(op string, err error) {
	c.logger.Printf("callsession: %s failed for meeting %s: %v", op, c.MeetingID(), err)
	sentry.CaptureException(fmt.Errorf("callsession %s for meeting %s: %w", op, c.MeetingID(), err))
	c.record(eventlog.EventPersistenceFailed, map[string]any{"op": op, "error": err.Error()})

	c.mu.Lock()
	c.publishLocked(nil, "Could not "+op+": "+err.Error())
	c.mu.Unlock()
}

func (c *Controller) record(eventType eventlog.EventType, data map[string]any) {
	if c.cfg.Recorder == nil {
		return
	}
	c.cfg.Recorder.LogAsync(c.MeetingID(), eventType, data)
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		MeetingID:     c.MeetingID(),
		State:         c.state,
		Lines:         append([]Line{}, c.lines...),
		Muted:         c.muted,
		VolumeLevel:   c.volume,
		AgentSpeaking: c.speaking,
	}
}

func (c *Controller) publishLocked(line *Line, notice string) {
	if len(c.subs) == 0 {
		return
	}
	upd := Update{Snapshot: c.snapshotLocked(), Line: line, Notice: notice}
	for _, ch := range c.subs {
		select {
		case ch <- upd:
		default:
		}
	}
}

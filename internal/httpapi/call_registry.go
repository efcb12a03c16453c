package httpapi

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/pactumai/pactum/internal/callsession"
)

var (
	ErrDraining     = errors.New("server is shutting down")
	ErrTooManyCalls = errors.New("too many live calls")
)

// CallTransport is a call transport the registry owns and closes.
type CallTransport interface {
	callsession.Transport
	Close() error
}

// SessionConfig configures the sessions created by a SessionRegistry.
type SessionConfig struct {
	AssistantID  string
	MaxLive      int
	IdleTTL      time.Duration
	NewTransport func() CallTransport
	Store        callsession.MeetingStore
	Recorder     callsession.EventRecorder
	// OnSummarySaved is called after a call's transcript is stored.
	OnSummarySaved func(md callsession.Metadata)
}

// LiveSession is one meeting's controller and its transport.
type LiveSession struct {
	Controller *callsession.Controller
	UserID     string

	transport CallTransport
	cancel    context.CancelFunc
	done      chan struct{}
	lastUsed  time.Time
}

func (s *LiveSession) live() bool {
	st := s.Controller.State()
	return st == callsession.StateConnecting || st == callsession.StateActive
}

func (s *LiveSession) shutdown() {
	s.Controller.Close()
	_ = s.transport.Close()
	s.cancel()
	<-s.done
}

// SessionRegistry tracks call sessions by meeting ID and supports graceful draining.
// When draining is enabled, new sessions are rejected while live calls are
// hung up and their persistence flushed.
//
// The mu mutex makes the draining check and the insert atomic in Acquire, so
// no session can slip in after StartDraining returns.
type SessionRegistry struct {
	cfg    SessionConfig
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	draining bool
	sessions map[string]*LiveSession
}

// NewSessionRegistry creates a new SessionRegistry.
func NewSessionRegistry(cfg SessionConfig, logger *log.Logger) *SessionRegistry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	return &SessionRegistry{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*LiveSession),
	}
}

// Acquire returns the meeting's session, creating it if needed. At most one
// session exists per meeting.
func (sr *SessionRegistry) Acquire(md callsession.Metadata) (*LiveSession, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return nil, ErrDraining
	}

	sr.pruneLocked()
	if s, ok := sr.sessions[md.MeetingID]; ok {
		s.lastUsed = sr.now()
		return s, nil
	}
	if sr.cfg.MaxLive > 0 && sr.liveCountLocked() >= sr.cfg.MaxLive {
		return nil, ErrTooManyCalls
	}

	transport := sr.cfg.NewTransport()
	s := &LiveSession{
		UserID:    md.UserID,
		transport: transport,
		done:      make(chan struct{}),
		lastUsed:  sr.now(),
	}
	onSaved := sr.cfg.OnSummarySaved
	s.Controller = callsession.New(transport, sr.cfg.Store, sr.logger, callsession.Config{
		AssistantID: sr.cfg.AssistantID,
		Metadata:    md,
		Recorder:    sr.cfg.Recorder,
		OnSummarySaved: func(string) {
			if onSaved != nil {
				onSaved(md)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		s.Controller.Run(ctx)
	}()

	sr.sessions[md.MeetingID] = s
	sr.logger.Printf("sessions: created session for meeting %s", md.MeetingID)
	return s, nil
}

// Get returns the session of a meeting if one exists.
func (sr *SessionRegistry) Get(meetingID string) (*LiveSession, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	s, ok := sr.sessions[meetingID]
	if ok {
		s.lastUsed = sr.now()
	}
	return s, ok
}

// Remove shuts down and forgets a meeting's session, hanging up a live call.
func (sr *SessionRegistry) Remove(meetingID string) {
	sr.mu.Lock()
	s, ok := sr.sessions[meetingID]
	delete(sr.sessions, meetingID)
	sr.mu.Unlock()
	if !ok {
		return
	}
	if s.live() {
		_ = s.Controller.End()
	}
	s.shutdown()
}

// IsLive reports whether a meeting has a connecting or active call.
func (sr *SessionRegistry) IsLive(meetingID string) bool {
	sr.mu.Lock()
	s, ok := sr.sessions[meetingID]
	sr.mu.Unlock()
	return ok && s.live()
}

// ActiveCount returns the number of connecting or active calls.
func (sr *SessionRegistry) ActiveCount() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.liveCountLocked()
}

func (sr *SessionRegistry) liveCountLocked() int {
	n := 0
	for _, s := range sr.sessions {
		if s.live() {
			n++
		}
	}
	return n
}

// pruneLocked drops sessions that have not been live or used for IdleTTL.
func (sr *SessionRegistry) pruneLocked() {
	cutoff := sr.now().Add(-sr.cfg.IdleTTL)
	for id, s := range sr.sessions {
		if s.live() || s.lastUsed.After(cutoff) {
			continue
		}
		delete(sr.sessions, id)
		go s.shutdown()
	}
}

// StartDraining sets the draining flag so that future Acquire calls fail.
func (sr *SessionRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (sr *SessionRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

// Shutdown drains the registry: live calls are ended and every session's
// pending persistence is flushed before it returns or ctx expires.
func (sr *SessionRegistry) Shutdown(ctx context.Context) error {
	sr.mu.Lock()
	sr.draining = true
	sessions := make([]*LiveSession, 0, len(sr.sessions))
	for id, s := range sr.sessions {
		sessions = append(sessions, s)
		delete(sr.sessions, id)
	}
	sr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func(s *LiveSession) {
				defer wg.Done()
				if s.live() {
					sr.logger.Printf("sessions: ending live call for meeting %s", s.Controller.MeetingID())
					_ = s.Controller.End()
				}
				s.shutdown()
			}(s)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

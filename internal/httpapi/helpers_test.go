package httpapi

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pactumai/pactum/internal/callsession"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// withUser attaches an authenticated user the way withAuth does.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := context.WithValue(req.Context(), userContextKey, &AuthUser{ID: userID, Name: "Test User"})
	return req.WithContext(ctx)
}

type fakeTransport struct {
	events     chan callsession.Event
	connectErr error

	mu          sync.Mutex
	connects    int
	disconnects int
	muted       []bool
	closeOnce   sync.Once
	closed      bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan callsession.Event, 16)}
}

func (f *fakeTransport) Connect(context.Context, string, callsession.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) SetMuted(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = append(f.muted, muted)
	return nil
}

func (f *fakeTransport) Events() <-chan callsession.Event { return f.events }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

func (f *fakeTransport) stats() (connects, disconnects int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.closed
}

type fakeMeetingStore struct {
	summaries chan string
}

func newFakeMeetingStore() *fakeMeetingStore {
	return &fakeMeetingStore{summaries: make(chan string, 8)}
}

func (f *fakeMeetingStore) MarkMeetingActive(context.Context, string, time.Time) error { return nil }

func (f *fakeMeetingStore) CompleteMeeting(_ context.Context, _ string, _ time.Time, summary string) error {
	f.summaries <- summary
	return nil
}

// testRegistry builds a registry whose sessions use fake transports.
type testRegistry struct {
	*SessionRegistry
	store *fakeMeetingStore

	mu         sync.Mutex
	transports []*fakeTransport
}

func newTestRegistry(t *testing.T, cfg SessionConfig) *testRegistry {
	t.Helper()
	tr := &testRegistry{store: newFakeMeetingStore()}
	cfg.Store = tr.store
	cfg.NewTransport = func() CallTransport {
		ft := newFakeTransport()
		tr.mu.Lock()
		tr.transports = append(tr.transports, ft)
		tr.mu.Unlock()
		return ft
	}
	tr.SessionRegistry = NewSessionRegistry(cfg, discardLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tr.Shutdown(ctx)
	})
	return tr
}

func (tr *testRegistry) transport(i int) *fakeTransport {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.transports[i]
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startActiveCall acquires a session for meetingID and drives it to active.
func startActiveCall(t *testing.T, tr *testRegistry, meetingID, userID string) *LiveSession {
	t.Helper()
	sess, err := tr.Acquire(callsession.Metadata{MeetingID: meetingID, UserID: userID})
	if err != nil {
		t.Fatalf("Acquire(%s) error = %v", meetingID, err)
	}
	if err := sess.Controller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sess.transport.(*fakeTransport).events <- callsession.Event{Type: callsession.EventCallStart}
	waitFor(t, "active state", func() bool { return sess.Controller.State() == callsession.StateActive })
	return sess
}

func say(sess *LiveSession, speaker callsession.Speaker, text string) {
	sess.transport.(*fakeTransport).events <- callsession.Event{
		Type:       callsession.EventMessage,
		Transcript: &callsession.Transcript{Speaker: speaker, Kind: callsession.TranscriptFinal, Text: text},
	}
}

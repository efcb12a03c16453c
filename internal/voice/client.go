// Package voice is the WebSocket control connection to the managed voice provider.
//
// The provider runs speech recognition, the assistant and speech synthesis; this
// client starts and stops calls, toggles mute and relays call events.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pactumai/pactum/internal/callsession"
)

var (
	ErrNotConnected  = errors.New("voice: not connected")
	ErrNotConfigured = errors.New("voice: provider URL not configured")
)

// Config holds configuration for the voice client.
type Config struct {
	APIKey string
	URL    string
}

// Client implements callsession.Transport. One Client serves every call
// of a session; each Connect opens a fresh socket.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *log.Logger

	events    chan callsession.Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu         sync.Mutex
	conn       *websocket.Conn
	connDone   chan struct{}
	callID     string
	webCallURL string
}

// providerMessage is one inbound frame from the provider.
type providerMessage struct {
	Type       string  `json:"type"`
	Volume     float64 `json:"volume"`
	Error      string  `json:"error"`
	WebCallURL string  `json:"webCallUrl"`
	Message    *struct {
		Type           string `json:"type"`
		Role           string `json:"role"`
		TranscriptType string `json:"transcriptType"`
		Transcript     string `json:"transcript"`
	} `json:"message"`
}

type startMessage struct {
	Type        string               `json:"type"`
	CallID      string               `json:"callId"`
	AssistantID string               `json:"assistantId"`
	Metadata    callsession.Metadata `json:"metadata"`
}

type controlMessage struct {
	Type    string `json:"type"`
	Control string `json:"control"`
}

// NewClient creates a disconnected voice client.
func NewClient(cfg Config, logger *log.Logger) *Client {
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger,
		events: make(chan callsession.Event, 256),
		done:   make(chan struct{}),
	}
}

// Connect dials the provider and asks it to start a call with the assistant.
func (c *Client) Connect(ctx context.Context, assistantID string, md callsession.Metadata) error {
	select {
	case <-c.done:
		return fmt.Errorf("voice: client is closed")
	default:
	}
	if c.cfg.URL == "" {
		return ErrNotConfigured
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to voice provider (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to voice provider: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to connect to voice provider: %w", err)
	}

	callID := uuid.NewString()
	start := startMessage{
		Type:        "start",
		CallID:      callID,
		AssistantID: assistantID,
		Metadata:    md,
	}
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to start call: %w", err)
	}

	c.mu.Lock()
	previous := c.conn
	previousDone := c.connDone
	connDone := make(chan struct{})
	c.conn = conn
	c.connDone = connDone
	c.callID = callID
	c.webCallURL = ""
	c.mu.Unlock()

	if previous != nil {
		close(previousDone)
		_ = previous.Close()
	}

	c.wg.Add(1)
	go c.readLoop(conn, connDone)
	return nil
}

// Disconnect asks the provider to end the call and closes the socket.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.WriteJSON(controlMessage{Type: "control", Control: "end-call"})
	close(c.connDone)
	err := c.conn.Close()
	c.conn = nil
	c.connDone = nil
	return err
}

// SetMuted mutes or unmutes the user's microphone on the provider side.
func (c *Client) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	control := "unmute"
	if muted {
		control = "mute"
	}
	return c.conn.WriteJSON(controlMessage{Type: "control", Control: control})
}

// Events returns the channel of call events. It is closed by Close.
func (c *Client) Events() <-chan callsession.Event {
	return c.events
}

// CallID returns the correlation id of the current or last call.
func (c *Client) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// WebCallURL returns the audio room URL announced by the provider, if any.
func (c *Client) WebCallURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webCallURL
}

// Close tears down the client and closes the events channel.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		if c.conn != nil {
			close(c.connDone)
			err = c.conn.Close()
			c.conn = nil
			c.connDone = nil
		}
		c.mu.Unlock()

		c.wg.Wait()
		close(c.events)
	})
	return err
}

// readLoop relays provider frames for one socket until it closes.
func (c *Client) readLoop(conn *websocket.Conn, connDone chan struct{}) {
	defer c.wg.Done()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-connDone:
				return
			case <-c.done:
				return
			default:
			}
			c.emit(connDone, callsession.Event{
				Type: callsession.EventError,
				Err:  fmt.Errorf("read error: %w", err),
			})
			return
		}

		var m providerMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			c.logger.Printf("voice: failed to parse message: %v", err)
			continue
		}

		ev, ok := c.translate(m)
		if !ok {
			continue
		}
		if !c.emit(connDone, ev) {
			return
		}
	}
}

func (c *Client) translate(m providerMessage) (callsession.Event, bool) {
	switch m.Type {
	case "call-created":
		c.mu.Lock()
		c.webCallURL = m.WebCallURL
		c.mu.Unlock()
		return callsession.Event{}, false
	case "call-start":
		return callsession.Event{Type: callsession.EventCallStart}, true
	case "call-end":
		return callsession.Event{Type: callsession.EventCallEnd}, true
	case "speech-start":
		return callsession.Event{Type: callsession.EventSpeechStart}, true
	case "speech-end":
		return callsession.Event{Type: callsession.EventSpeechEnd}, true
	case "volume-level":
		return callsession.Event{Type: callsession.EventVolumeLevel, Volume: m.Volume}, true
	case "error":
		msg := m.Error
		if msg == "" {
			msg = "provider error"
		}
		return callsession.Event{Type: callsession.EventError, Err: errors.New(msg)}, true
	case "message":
		if m.Message == nil || m.Message.Type != "transcript" {
			return callsession.Event{}, false
		}
		speaker := callsession.SpeakerUser
		if m.Message.Role == "assistant" {
			speaker = callsession.SpeakerAgent
		}
		kind := callsession.TranscriptPartial
		if m.Message.TranscriptType == "final" {
			kind = callsession.TranscriptFinal
		}
		return callsession.Event{
			Type: callsession.EventMessage,
			Transcript: &callsession.Transcript{
				Speaker: speaker,
				Kind:    kind,
				Text:    m.Message.Transcript,
			},
		}, true
	}
	return callsession.Event{}, false
}

func (c *Client) emit(connDone chan struct{}, ev callsession.Event) bool {
	select {
	case <-c.done:
		return false
	case <-connDone:
		c.emitAfterClose(ev)
		return false
	default:
	}

	select {
	case <-c.done:
		return false
	case <-connDone:
		c.emitAfterClose(ev)
		return false
	case c.events <- ev:
		return true
	}
}

// emitAfterClose delivers a call-end that raced a local hangup and drops
// everything else from a connection that is no longer current.
func (c *Client) emitAfterClose(ev callsession.Event) {
	if ev.Type != callsession.EventCallEnd {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

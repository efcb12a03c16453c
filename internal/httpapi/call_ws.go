package httpapi

import (
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// callCommand is a control message sent by the browser over the stream.
type callCommand struct {
	Type string `json:"type"` // "mute", "unmute", "toggle-mute", "end"
}

func (r *Router) upgrader() *websocket.Upgrader {
	allowed := r.cfg.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(req *http.Request) bool {
			origin := req.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return slices.Contains(allowed, u.Scheme+"://"+u.Host)
		},
	}
}

// handleCallWS streams session updates to the browser and accepts call
// commands from it.
func (r *Router) handleCallWS(w http.ResponseWriter, req *http.Request) {
	sess := r.sessionFor(w, req)
	if sess == nil {
		return
	}

	conn, err := r.upgrader().Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("call ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := sess.Controller.Subscribe()
	defer unsubscribe()

	meetingID := sess.Controller.MeetingID()
	r.logger.Printf("call ws: browser attached to meeting %s", meetingID)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			var cmd callCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			switch cmd.Type {
			case "mute":
				sess.Controller.SetMuted(true)
			case "unmute":
				sess.Controller.SetMuted(false)
			case "toggle-mute":
				sess.Controller.ToggleMute()
			case "end":
				_ = sess.Controller.End()
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case upd, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := conn.WriteJSON(upd); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			r.logger.Printf("call ws: browser detached from meeting %s", meetingID)
			return
		}
	}
}

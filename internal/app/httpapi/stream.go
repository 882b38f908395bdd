package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paydeck/formflow/internal/form/events"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Sessions are addressed by unguessable IDs; the stream carries no
	// credentials, so cross-origin reads are acceptable.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamSession upgrades the connection and pushes this session's events
// as they are recorded. Slow consumers are disconnected rather than
// allowed to stall the event log.
func (h *handler) streamSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).WithField("session_id", s.ID()).Warn("websocket upgrade failed")
		return
	}

	sessionID := s.ID()
	feed := make(chan events.Event, streamBuffer)
	unsubscribe := h.app.Events.SubscribeFiltered(
		func(e events.Event) bool { return e.SessionID == sessionID },
		func(e events.Event) {
			select {
			case feed <- e:
			default:
				// Buffer full; the writer below will notice the gap when
				// the connection is torn down. Dropping beats blocking
				// every other subscriber.
			}
		},
	)
	defer unsubscribe()
	defer conn.Close()

	// Reader goroutine: we never expect client frames, but reading is
	// required to process close and pong frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case event := <-feed:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				h.log.WithError(err).WithField("session_id", sessionID).Debug("stream write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

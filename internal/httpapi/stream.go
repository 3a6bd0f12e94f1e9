package httpapi

import (
	"context"
	"net/http"
	"time"

	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/events"
	"telehealth-platform/internal/presence"
	"telehealth-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamBuffer    = 32
	writeTimeout    = 10 * time.Second
	pingInterval    = 30 * time.Second
	pongTimeout     = 60 * time.Second
	maxInboundBytes = 512
)

// Stream serves the per-session websocket: one full snapshot (session state
// plus who is online), then every delta in order. Delivery is at-least-once;
// a client that reads too slowly is disconnected and must resubscribe for a
// fresh snapshot.
type Stream struct {
	Sessions *consult.Service
	Tracker  *presence.Tracker
	Bus      *events.Bus

	upgrader websocket.Upgrader
}

func NewStream(sessions *consult.Service, tracker *presence.Tracker, bus *events.Bus) *Stream {
	return &Stream{
		Sessions: sessions,
		Tracker:  tracker,
		Bus:      bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin policy is enforced at the edge proxy.
				return true
			},
		},
	}
}

// Subscribe upgrades the request and streams session events until the client
// disconnects or falls behind.
func (s *Stream) Subscribe(c *gin.Context) {
	sess, _, ok := participantSession(c, s.Sessions)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	sub, err := s.Bus.Subscribe(sess.ID, streamBuffer, func() ([]events.Message, error) {
		// Runs under the bus lock: this snapshot and the deltas that follow
		// form one gapless sequence.
		cur, err := s.Sessions.Get(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		msgs := []events.Message{{Kind: events.KindSession, Session: &cur}}
		online, err := s.Tracker.Online(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		for _, userID := range online {
			msgs = append(msgs, events.Message{Kind: events.KindPresence, Presence: &presence.Event{
				SessionID: sess.ID,
				UserID:    userID,
				Status:    presence.StatusOnline,
				At:        now,
			}})
		}
		return msgs, nil
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Cancel()
		logger.From(ctx).Error("websocket upgrade failed", "session_id", sess.ID, "err", err)
		return
	}

	go s.readPump(ws, sub)
	s.writePump(ctx, ws, sub, sess.ID)
}

// readPump discards inbound frames; its job is to notice the close handshake
// and pong replies.
func (s *Stream) readPump(ws *websocket.Conn, sub *events.Subscription) {
	defer sub.Cancel()

	ws.SetReadLimit(maxInboundBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) writePump(ctx context.Context, ws *websocket.Conn, sub *events.Subscription, sessionID string) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.Cancel()
		_ = ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				// Dropped as a slow consumer (or cancelled). Tell the client
				// to reconnect for a fresh snapshot.
				_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe"),
					time.Now().Add(writeTimeout))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
